// internal/cli/rules.go
package cli

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"reconciliation-engine/internal/models"
	"reconciliation-engine/internal/reconciliation/matching"
)

// RuleFile is the on-disk form of a rule set, YAML or JSON.
type RuleFile struct {
	Name                string           `yaml:"name"`
	RuleSet             matching.RuleSet `yaml:"rule_set"`
	ConfidenceThreshold *float64         `yaml:"confidence_threshold,omitempty"`
}

func readRuleFile(path string) (*RuleFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules: %w", err)
	}
	var rf RuleFile
	if err := yaml.Unmarshal(data, &rf); err != nil {
		return nil, fmt.Errorf("parse rules %s: %w", path, err)
	}
	return &rf, nil
}

// readRecords loads a list of {id, fields} records. JSON input parses as YAML.
func readRecords(path string) ([]models.Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read records: %w", err)
	}
	var raw []struct {
		ID     string            `yaml:"id"`
		Fields map[string]string `yaml:"fields"`
	}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse records %s: %w", path, err)
	}
	out := make([]models.Record, len(raw))
	for i, r := range raw {
		if r.ID == "" {
			return nil, fmt.Errorf("%s: record %d has no id", path, i)
		}
		out[i] = models.Record{ID: r.ID, Fields: r.Fields}
	}
	return out, nil
}
