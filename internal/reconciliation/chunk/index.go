// internal/reconciliation/chunk/index.go
package chunk

import (
	"sort"
	"strings"

	"reconciliation-engine/internal/models"
	"reconciliation-engine/internal/reconciliation/matching"
)

type blocking int

const (
	blockWindow blocking = iota
	blockExact
	blockTokens
)

// candidateIndex narrows the source B records worth scoring against one source A record.
type candidateIndex struct {
	mode    blocking
	rule    matching.Rule
	records []models.Record
	keys    map[string][]int
}

func newCandidateIndex(rules matching.RuleSet, records []models.Record) *candidateIndex {
	idx := &candidateIndex{mode: blockWindow, records: records}
	if r, ok := rules.IndexRule(matching.Exact); ok {
		idx.mode, idx.rule = blockExact, r
	} else if r, ok := rules.IndexRule(matching.Contains); ok {
		idx.mode, idx.rule = blockTokens, r
	} else {
		return idx
	}

	idx.keys = make(map[string][]int)
	field := idx.rule.TargetField()
	for i, rec := range records {
		for _, k := range idx.keysFor(rec.Fields[field]) {
			idx.keys[k] = append(idx.keys[k], i)
		}
	}
	return idx
}

// keysFor returns the lookup keys of a value: the normalized value itself, plus its tokens in token mode.
func (idx *candidateIndex) keysFor(value string) []string {
	norm := matching.Normalize(value)
	if idx.mode != blockTokens {
		return []string{norm}
	}
	keys := []string{norm}
	seen := map[string]bool{norm: true}
	for _, tok := range strings.Fields(norm) {
		if !seen[tok] {
			seen[tok] = true
			keys = append(keys, tok)
		}
	}
	return keys
}

// candidates returns indexes into the source B slice, ascending and without duplicates.
// offset and size describe the source A window, which fuzzy and contains lookups also scan.
func (idx *candidateIndex) candidates(a models.Record, offset, size int) []int {
	set := make(map[int]struct{})

	if idx.mode != blockWindow {
		for _, k := range idx.keysFor(a.Fields[idx.rule.Field]) {
			for _, i := range idx.keys[k] {
				set[i] = struct{}{}
			}
		}
	}
	if idx.mode != blockExact {
		end := offset + size
		if end > len(idx.records) {
			end = len(idx.records)
		}
		for i := offset; i < end; i++ {
			set[i] = struct{}{}
		}
	}

	out := make([]int, 0, len(set))
	for i := range set {
		out = append(out, i)
	}
	sort.Ints(out)
	return out
}
