package matching

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"

	apperrors "reconciliation-engine/internal/common/errors"
)

// Rule compares one field of a source A record with one field of a source B record.
type Rule struct {
	Field     string       `json:"field" yaml:"field"`
	FieldB    string       `json:"field_b,omitempty" yaml:"field_b,omitempty"`
	Type      RuleType     `json:"rule_type" yaml:"rule_type"`
	Variant   FuzzyVariant `json:"algorithm,omitempty" yaml:"algorithm,omitempty"`
	Weight    float64      `json:"weight" yaml:"weight"`
	Threshold float64      `json:"threshold" yaml:"threshold"`
}

// TargetField is the source B field; it defaults to Field.
func (r Rule) TargetField() string {
	if r.FieldB != "" {
		return r.FieldB
	}
	return r.Field
}

func (r Rule) Algorithm() Algorithm {
	if r.Type == Fuzzy {
		return FuzzyAlgorithm(r.Variant, r.Threshold)
	}
	return Algorithm{Type: r.Type, ConfidenceThreshold: r.Threshold}
}

// RuleSet is an ordered list of rules producing one composite confidence per record pair.
type RuleSet []Rule

// Score is the outcome of evaluating a candidate pair.
type Score struct {
	Confidence   float64
	MatchType    RuleType
	Similarities []float64
}

// Validate checks the rule set before a job is accepted.
func (rs RuleSet) Validate() error {
	if len(rs) == 0 {
		return apperrors.NewValidationError("rule set is empty", "at least one matching rule is required")
	}

	var problems []string
	var totalWeight float64
	for i, r := range rs {
		if strings.TrimSpace(r.Field) == "" {
			problems = append(problems, fmt.Sprintf("rule %d: field is required", i))
		}
		if !r.Algorithm().Known() {
			problems = append(problems, fmt.Sprintf("rule %d: unknown algorithm %s/%s", i, r.Type, r.Variant))
		}
		if r.Weight < 0 {
			problems = append(problems, fmt.Sprintf("rule %d: weight must not be negative", i))
		}
		if r.Threshold < 0 || r.Threshold > 1 {
			problems = append(problems, fmt.Sprintf("rule %d: threshold must be within [0,1]", i))
		}
		totalWeight += r.Weight
	}
	if totalWeight <= 0 {
		problems = append(problems, "rule weights must sum to a positive number")
	}

	if len(problems) > 0 {
		return apperrors.NewValidationError("invalid rule set", strings.Join(problems, "; "))
	}
	return nil
}

// Evaluate scores the pair (a, b). The pair is a candidate only when every rule meets its own
// threshold. Weights are normalized here, so {2,2} and {0.5,0.5} behave the same.
func (rs RuleSet) Evaluate(a, b map[string]string) (Score, bool) {
	if len(rs) == 0 {
		return Score{}, false
	}

	sims := make([]float64, len(rs))
	var weighted, totalWeight float64
	lowest := 2.0
	lowestType := Exact

	for i, r := range rs {
		s := r.Algorithm().Similarity(a[r.Field], b[r.TargetField()])
		if s < r.Threshold {
			return Score{}, false
		}
		sims[i] = s
		weighted += r.Weight * s
		totalWeight += r.Weight
		if s < lowest {
			lowest = s
			lowestType = r.Type
		}
	}
	if totalWeight <= 0 {
		return Score{}, false
	}

	confidence := clamp01(weighted / totalWeight)
	matchType := lowestType
	if confidence >= 1 {
		matchType = Exact
	}
	return Score{Confidence: confidence, MatchType: matchType, Similarities: sims}, true
}

// IndexRule returns the first rule of the given type that can reject a pair, used to pick a
// blocking key. A rule with threshold 0 passes every pair, so it never blocks.
func (rs RuleSet) IndexRule(t RuleType) (Rule, bool) {
	for _, r := range rs {
		if r.Type == t && r.Threshold > 0 {
			return r, true
		}
	}
	return Rule{}, false
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

// Value stores the rule set as JSONB.
func (rs RuleSet) Value() (driver.Value, error) {
	if rs == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(rs)
}

func (rs *RuleSet) Scan(src interface{}) error {
	var data []byte
	switch v := src.(type) {
	case nil:
		*rs = nil
		return nil
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("matching: cannot scan %T into RuleSet", src)
	}
	return json.Unmarshal(data, rs)
}
