package core

import "strings"

// Keyword is a weighted term extracted from conversation text. Word identity
// is case-insensitive; Weight accumulates by summation when keyword sets are
// merged.
type Keyword struct {
	Word   string  `json:"word"`
	Weight float64 `json:"weight"`
}

// MergeKeywords folds src into dst summing weights of case-insensitively
// equal words. dst maps the lowercased word to its accumulated keyword; the
// first-seen casing of a word is retained for presentation.
func MergeKeywords(dst map[string]Keyword, src []Keyword) {
	for _, kw := range src {
		key := strings.ToLower(kw.Word)
		if existing, ok := dst[key]; ok {
			existing.Weight += kw.Weight
			dst[key] = existing
			continue
		}
		dst[key] = kw
	}
}

// DeduplicateKeywords collapses case-insensitive duplicates keeping the
// maximum weight per distinct word. Order follows first appearance, as does
// the retained casing.
func DeduplicateKeywords(keywords []Keyword) []Keyword {
	index := make(map[string]int, len(keywords))
	result := make([]Keyword, 0, len(keywords))
	for _, kw := range keywords {
		key := strings.ToLower(kw.Word)
		if i, ok := index[key]; ok {
			if kw.Weight > result[i].Weight {
				result[i].Weight = kw.Weight
			}
			continue
		}
		index[key] = len(result)
		result = append(result, kw)
	}
	return result
}
