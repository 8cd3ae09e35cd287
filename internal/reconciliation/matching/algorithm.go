// Package matching scores pairs of field values and pairs of records.
package matching

import "strings"

// RuleType is the family of a matching algorithm. It doubles as the match type recorded on a result.
type RuleType string

const (
	Exact    RuleType = "exact"
	Contains RuleType = "contains"
	Fuzzy    RuleType = "fuzzy"
)

// FuzzyVariant selects the string metric used by a Fuzzy algorithm.
type FuzzyVariant string

const (
	Levenshtein FuzzyVariant = "levenshtein"
	JaroWinkler FuzzyVariant = "jaro_winkler"
	Jaccard     FuzzyVariant = "jaccard"
	Cosine      FuzzyVariant = "cosine"
	Soundex     FuzzyVariant = "soundex"
)

// ContainsScore is the fixed score of a substring hit. It is not a continuous measure.
const ContainsScore = 0.8

// Algorithm is the closed set Exact | Contains | Fuzzy{Variant}.
// ConfidenceThreshold is advisory: Similarity never looks at it.
type Algorithm struct {
	Type                RuleType
	Variant             FuzzyVariant
	ConfidenceThreshold float64
}

func ExactAlgorithm() Algorithm    { return Algorithm{Type: Exact} }
func ContainsAlgorithm() Algorithm { return Algorithm{Type: Contains} }

func FuzzyAlgorithm(variant FuzzyVariant, threshold float64) Algorithm {
	if variant == "" {
		variant = Levenshtein
	}
	return Algorithm{Type: Fuzzy, Variant: variant, ConfidenceThreshold: threshold}
}

// Similarity returns a score in [0,1]. Unknown types score 0.
func (a Algorithm) Similarity(x, y string) float64 {
	switch a.Type {
	case Exact:
		return SimilarityExact(x, y)
	case Contains:
		return SimilarityContains(x, y)
	case Fuzzy:
		switch a.Variant {
		case "", Levenshtein:
			return SimilarityLevenshtein(x, y)
		case JaroWinkler:
			return SimilarityJaroWinkler(x, y)
		case Jaccard:
			return SimilarityJaccard(x, y)
		case Cosine:
			return SimilarityCosine(x, y)
		case Soundex:
			return SimilaritySoundex(x, y)
		}
	}
	return 0
}

// Passes reports whether score clears the algorithm's advisory threshold.
func (a Algorithm) Passes(score float64) bool {
	return score >= a.ConfidenceThreshold
}

// Known reports whether the algorithm is one the dispatcher understands.
func (a Algorithm) Known() bool {
	switch a.Type {
	case Exact, Contains:
		return true
	case Fuzzy:
		switch a.Variant {
		case "", Levenshtein, JaroWinkler, Jaccard, Cosine, Soundex:
			return true
		}
	}
	return false
}

func SimilarityExact(x, y string) float64 {
	if strings.EqualFold(x, y) {
		return 1
	}
	return 0
}

// SimilarityContains checks containment in both directions on normalized values.
func SimilarityContains(x, y string) float64 {
	nx, ny := Normalize(x), Normalize(y)
	if strings.Contains(nx, ny) || strings.Contains(ny, nx) {
		return ContainsScore
	}
	return 0
}

// Normalize lowercases and trims a value for comparison and indexing.
func Normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
