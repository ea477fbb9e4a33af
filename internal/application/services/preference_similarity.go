package services

import "strings"

// SimilarityStrategy decides whether two preference tags are duplicates
type SimilarityStrategy interface {
	AreSimilar(a, b string) bool
}

// SubstringSimilarity treats tags as duplicates when, ignoring case and
// whitespace, they are equal or one contains the other. It over-merges tags
// that share a substring ("red" and "bored") and misses synonyms ("wooden" and "oak").
type SubstringSimilarity struct{}

// AreSimilar implements SimilarityStrategy
func (SubstringSimilarity) AreSimilar(a, b string) bool {
	na, nb := compactTag(a), compactTag(b)
	if na == "" || nb == "" {
		return false
	}
	return na == nb || strings.Contains(na, nb) || strings.Contains(nb, na)
}

func compactTag(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), "")
}
