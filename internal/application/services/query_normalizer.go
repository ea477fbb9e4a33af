package services

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strconv"
	"strings"

	"github.com/zatekoja/voiceshop/backend/internal/domain/entities"
)

const resultCacheKeyPrefix = "search:results:"

// NormalizeText lower-cases, trims and collapses internal whitespace
func NormalizeText(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// CacheKey canonicalizes query text plus the active filters into a stable key
// within one user's keyspace. List-valued filters are normalized and sorted so
// their order never matters.
func CacheKey(userID, text string, params entities.SearchParams) string {
	var b strings.Builder
	b.WriteString("q=")
	b.WriteString(NormalizeText(text))
	b.WriteString("|c=")
	b.WriteString(NormalizeText(params.Category))
	b.WriteString("|min=")
	b.WriteString(formatBound(params.MinPrice))
	b.WriteString("|max=")
	b.WriteString(formatBound(params.MaxPrice))
	b.WriteString("|f=")
	b.WriteString(strings.Join(normalizedSet(params.Features), ","))
	b.WriteString("|s=")
	b.WriteString(NormalizeText(params.Size))
	b.WriteString("|p=")
	b.WriteString(strings.Join(normalizedSet(params.PreferenceTerms), ","))

	sum := sha256.Sum256([]byte(b.String()))
	return resultCacheKeyPrefix + userID + ":" + hex.EncodeToString(sum[:])
}

func formatBound(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', 2, 64)
}

func normalizedSet(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		n := NormalizeText(v)
		if n == "" {
			continue
		}
		if _, dup := seen[n]; dup {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
