package services

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/zatekoja/voiceshop/backend/internal/domain/entities"
)

var (
	priceRangePattern = regexp.MustCompile(`(?i)(?:between\s+)?([$€£₦¥]?\s*\d[\d,]*(?:\.\d+)?)\s*(?:-|to|and)\s*([$€£₦¥]?\s*\d[\d,]*(?:\.\d+)?)`)
	priceOps          = []struct {
		op      entities.ComparisonOp
		phrases []string
	}{
		{entities.OpLessEqual, []string{"up to", "at most", "no more than", "max", "maximum"}},
		{entities.OpLessThan, []string{"under", "below", "less than", "cheaper than", "within"}},
		{entities.OpGreaterEqual, []string{"at least", "minimum", "min", "from"}},
		{entities.OpGreaterThan, []string{"over", "above", "more than", "greater than"}},
		{entities.OpEqual, []string{"around", "about", "exactly"}},
	}
)

// ParsePriceTag derives a typed value from a price phrase such as "under $200".
// It returns nil when the tag carries no amount.
func ParsePriceTag(tag, defaultCurrency string) *entities.PreferenceValue {
	unit := currencyFromSymbol(tag)
	if unit == "" {
		unit = defaultCurrency
	}
	lower := strings.ToLower(tag)

	if m := priceRangePattern.FindStringSubmatch(lower); m != nil {
		lo, okLo := parseAmount(m[1])
		hi, okHi := parseAmount(m[2])
		if okLo && okHi {
			if lo > hi {
				lo, hi = hi, lo
			}
			return &entities.PreferenceValue{Kind: entities.ValueKindRange, Min: &lo, Max: &hi, Unit: unit}
		}
	}

	amount, ok := parseAmount(tag)
	if !ok {
		return nil
	}
	op := entities.OpEqual
	for _, candidate := range priceOps {
		if containsAnyWord(lower, candidate.phrases) {
			op = candidate.op
			break
		}
	}
	return &entities.PreferenceValue{Kind: entities.ValueKindNumeric, Op: op, Amount: &amount, Unit: unit}
}

func parseAmount(s string) (float64, bool) {
	m := numberPattern.FindString(s)
	if m == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(strings.ReplaceAll(m, ",", ""), 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func containsAnyWord(s string, phrases []string) bool {
	padded := " " + strings.Join(strings.Fields(s), " ") + " "
	for _, p := range phrases {
		if strings.Contains(padded, " "+p+" ") {
			return true
		}
	}
	return false
}
