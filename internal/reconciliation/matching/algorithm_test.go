package matching

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

var sampleValues = []string{
	"", "a", "hello", "Hello World", "kitten", "sitting", "ACME Corp.", "acme corporation",
	"  padded  ", "Straße", "日本語テキスト", "INV-2024-0001", "inv-2024-0010",
}

func TestLevenshteinDistance(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"kitten", "sitting", 3},
		{"", "", 0},
		{"hello", "hello", 0},
		{"", "abc", 3},
		{"abc", "", 3},
		{"flaw", "lawn", 2},
		{"日本", "日本語", 1},
	}

	for _, tt := range tests {
		t.Run(tt.a+"_"+tt.b, func(t *testing.T) {
			assert.Equal(t, tt.want, LevenshteinDistance(tt.a, tt.b))
			assert.Equal(t, tt.want, LevenshteinDistance(tt.b, tt.a))
		})
	}
}

func TestSimilarityExact_CaseInsensitive(t *testing.T) {
	for _, v := range sampleValues {
		assert.Equal(t, 1.0, SimilarityExact(v, strings.ToUpper(v)), v)
	}
	assert.Equal(t, 0.0, SimilarityExact("hello", "hello!"))
}

func TestSimilarityContains(t *testing.T) {
	assert.Equal(t, 0.8, SimilarityContains("hello world", "hello"))
	assert.Equal(t, 0.8, SimilarityContains("hello", "hello world"))
	assert.Equal(t, 0.8, SimilarityContains("ACME Corp", "  acme "))
	assert.Equal(t, 0.0, SimilarityContains("hello", "world"))
}

func TestSimilarityLevenshtein_Bounds(t *testing.T) {
	for _, a := range sampleValues {
		assert.Equal(t, 1.0, SimilarityLevenshtein(a, a), a)
		for _, b := range sampleValues {
			s := SimilarityLevenshtein(a, b)
			assert.GreaterOrEqual(t, s, 0.0)
			assert.LessOrEqual(t, s, 1.0)
		}
	}

	assert.Equal(t, 0.0, SimilarityLevenshtein("", "abc"))
	assert.InDelta(t, 1-3.0/7.0, SimilarityLevenshtein("kitten", "sitting"), 1e-9)
}

func TestAlgorithm_Dispatch(t *testing.T) {
	tests := []struct {
		name string
		alg  Algorithm
		a, b string
		want float64
	}{
		{"exact", ExactAlgorithm(), "ABC", "abc", 1},
		{"contains", ContainsAlgorithm(), "abc", "xxabcxx", 0.8},
		{"fuzzy default variant", FuzzyAlgorithm("", 0.9), "kitten", "kitten", 1},
		{"jaro winkler", FuzzyAlgorithm(JaroWinkler, 0), "MARTHA", "MARHTA", 0.9611},
		{"jaccard empty strings", FuzzyAlgorithm(Jaccard, 0), "", "", 1},
		{"jaccard", FuzzyAlgorithm(Jaccard, 0), "abc", "abd", 0.5},
		{"cosine", FuzzyAlgorithm(Cosine, 0), "red apple", "red apple", 1},
		{"cosine disjoint", FuzzyAlgorithm(Cosine, 0), "red apple", "green pear", 0},
		{"soundex", FuzzyAlgorithm(Soundex, 0), "Robert", "Rupert", 1},
		{"unknown", Algorithm{Type: "regex"}, "a", "a", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, tt.alg.Similarity(tt.a, tt.b), 1e-4)
		})
	}
}

func TestAlgorithm_ThresholdIsInformational(t *testing.T) {
	strict := FuzzyAlgorithm(Levenshtein, 0.99)
	lenient := FuzzyAlgorithm(Levenshtein, 0.1)

	s1 := strict.Similarity("kitten", "sitting")
	s2 := lenient.Similarity("kitten", "sitting")
	assert.Equal(t, s1, s2)
	assert.False(t, strict.Passes(s1))
	assert.True(t, lenient.Passes(s2))
}

func TestSoundexCode(t *testing.T) {
	assert.Equal(t, "R163", SoundexCode("Robert"))
	assert.Equal(t, "A261", SoundexCode("Ashcraft"))
	assert.Equal(t, "L000", SoundexCode("Lee"))
	assert.Equal(t, "", SoundexCode("123"))
}
