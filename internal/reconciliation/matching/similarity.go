package matching

import (
	"math"
	"strings"
	"unicode"
)

// LevenshteinDistance is the unit-cost edit distance between a and b, counted in runes.
func LevenshteinDistance(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	if len(ra) == 0 {
		return len(rb)
	}
	if len(rb) == 0 {
		return len(ra)
	}

	dp := make([][]int, len(ra)+1)
	for i := range dp {
		dp[i] = make([]int, len(rb)+1)
		dp[i][0] = i
	}
	for j := 0; j <= len(rb); j++ {
		dp[0][j] = j
	}

	for i := 1; i <= len(ra); i++ {
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			dp[i][j] = min(dp[i-1][j]+1, dp[i][j-1]+1, dp[i-1][j-1]+cost)
		}
	}
	return dp[len(ra)][len(rb)]
}

// SimilarityLevenshtein is 1 - distance/max(len). Two empty strings are identical.
func SimilarityLevenshtein(a, b string) float64 {
	maxLen := max(len([]rune(a)), len([]rune(b)))
	if maxLen == 0 {
		return 1
	}
	return 1 - float64(LevenshteinDistance(a, b))/float64(maxLen)
}

func SimilarityJaroWinkler(a, b string) float64 {
	jaro := jaroSimilarity([]rune(a), []rune(b))
	prefix := commonPrefix([]rune(a), []rune(b), 4)
	return jaro + 0.1*float64(prefix)*(1-jaro)
}

func jaroSimilarity(a, b []rune) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	if len(a) == 0 || len(b) == 0 {
		return 0
	}

	window := max(len(a), len(b))/2 - 1
	if window < 0 {
		window = 0
	}
	aMatched := make([]bool, len(a))
	bMatched := make([]bool, len(b))

	matches := 0
	for i := range a {
		start := max(0, i-window)
		end := min(i+window+1, len(b))
		for j := start; j < end; j++ {
			if bMatched[j] || a[i] != b[j] {
				continue
			}
			aMatched[i], bMatched[j] = true, true
			matches++
			break
		}
	}
	if matches == 0 {
		return 0
	}

	transpositions, k := 0, 0
	for i := range a {
		if !aMatched[i] {
			continue
		}
		for !bMatched[k] {
			k++
		}
		if a[i] != b[k] {
			transpositions++
		}
		k++
	}

	m := float64(matches)
	return (m/float64(len(a)) + m/float64(len(b)) + (m-float64(transpositions)/2)/m) / 3
}

func commonPrefix(a, b []rune, limit int) int {
	n := min(len(a), len(b), limit)
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			return i
		}
	}
	return n
}

// SimilarityJaccard compares the character sets of a and b.
func SimilarityJaccard(a, b string) float64 {
	setA := make(map[rune]struct{})
	for _, r := range a {
		setA[r] = struct{}{}
	}
	setB := make(map[rune]struct{})
	for _, r := range b {
		setB[r] = struct{}{}
	}

	intersection := 0
	for r := range setA {
		if _, ok := setB[r]; ok {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	if union == 0 {
		return 1
	}
	return float64(intersection) / float64(union)
}

// SimilarityCosine compares whitespace-separated word counts.
func SimilarityCosine(a, b string) float64 {
	countsA := wordCounts(a)
	countsB := wordCounts(b)

	var dot, normA, normB float64
	for w, ca := range countsA {
		dot += ca * countsB[w]
		normA += ca * ca
	}
	for _, cb := range countsB {
		normB += cb * cb
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return math.Min(1, dot/(math.Sqrt(normA)*math.Sqrt(normB)))
}

func wordCounts(s string) map[string]float64 {
	counts := make(map[string]float64)
	for _, w := range strings.Fields(s) {
		counts[w]++
	}
	return counts
}

// SimilaritySoundex is 1 when both values share a Soundex code.
func SimilaritySoundex(a, b string) float64 {
	if SoundexCode(a) == SoundexCode(b) {
		return 1
	}
	return 0
}

// SoundexCode returns the four character American Soundex code, or "" for input without letters.
func SoundexCode(s string) string {
	var letters []rune
	for _, r := range strings.ToUpper(s) {
		if unicode.IsLetter(r) {
			letters = append(letters, r)
		}
	}
	if len(letters) == 0 {
		return ""
	}

	code := []rune{letters[0]}
	prev := soundexDigit(letters[0])
	for _, r := range letters[1:] {
		d := soundexDigit(r)
		if d != '0' && d != prev {
			code = append(code, d)
			prev = d
		}
		if len(code) == 4 {
			break
		}
	}
	for len(code) < 4 {
		code = append(code, '0')
	}
	return string(code)
}

func soundexDigit(r rune) rune {
	switch r {
	case 'B', 'F', 'P', 'V':
		return '1'
	case 'C', 'G', 'J', 'K', 'Q', 'S', 'X', 'Z':
		return '2'
	case 'D', 'T':
		return '3'
	case 'L':
		return '4'
	case 'M', 'N':
		return '5'
	case 'R':
		return '6'
	}
	return '0'
}
