package services

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/zatekoja/voiceshop/backend/internal/domain/entities"
)

var numberPattern = regexp.MustCompile(`\d[\d,]*(?:\.\d+)?`)

// pricePattern also accepts space-grouped thousands ("1 299,99").
var pricePattern = regexp.MustCompile(`\d{1,3}(?:[ \x{00A0}\x{202F}]\d{3})+(?:[.,]\d+)?|\d[\d.,]*`)

const untitledListing = "Untitled listing"

// ResultNormalizer maps raw listings to numbered products
type ResultNormalizer struct {
	maxResults      int
	defaultCurrency string
	newID           func() string
}

// NewResultNormalizer creates a normalizer capped at maxResults products
func NewResultNormalizer(maxResults int, defaultCurrency string) *ResultNormalizer {
	if defaultCurrency == "" {
		defaultCurrency = "USD"
	}
	return &ResultNormalizer{
		maxResults:      maxResults,
		defaultCurrency: defaultCurrency,
		newID:           uuid.NewString,
	}
}

// Normalize numbers listings 1..N in arrival order. Listings with missing or
// unparsable fields are kept; an unparsable price becomes zero and is flagged.
func (n *ResultNormalizer) Normalize(searchID string, listings []entities.RawListing, now time.Time) []*entities.Product {
	if n.maxResults > 0 && len(listings) > n.maxResults {
		listings = listings[:n.maxResults]
	}

	products := make([]*entities.Product, 0, len(listings))
	for i, l := range listings {
		minor, ok := n.priceMinor(l)
		title := strings.TrimSpace(l.Title)
		if title == "" {
			title = untitledListing
		}
		products = append(products, &entities.Product{
			ID:              n.newID(),
			SearchRequestID: searchID,
			SequenceNumber:  i + 1,
			Title:           title,
			PriceMinor:      minor,
			Currency:        n.currency(l),
			PriceUnparsed:   !ok,
			ImageURL:        l.ImageURL,
			Source:          l.Source,
			URL:             l.URL,
			Features:        append([]string(nil), l.Features...),
			Rating:          l.Rating,
			ReviewCount:     l.ReviewCount,
			CreatedAt:       now,
		})
	}
	return products
}

func (n *ResultNormalizer) priceMinor(l entities.RawListing) (int64, bool) {
	if l.PriceValue != nil {
		v := *l.PriceValue
		if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return 0, false
		}
		return int64(math.Round(v * 100)), true
	}
	return ParsePriceMinor(l.Price)
}

func (n *ResultNormalizer) currency(l entities.RawListing) string {
	if c := strings.ToUpper(strings.TrimSpace(l.Currency)); len(c) == 3 {
		return c
	}
	if c := currencyFromSymbol(l.Price); c != "" {
		return c
	}
	return n.defaultCurrency
}

// ParsePriceMinor extracts the first amount from a price string and returns it
// in minor units. "$1,299.99" and "€1.299,99" both yield 129999.
func ParsePriceMinor(s string) (int64, bool) {
	m := pricePattern.FindString(s)
	if m == "" {
		return 0, false
	}
	m = strings.Map(func(r rune) rune {
		if r == ' ' || r == '\u00A0' || r == '\u202F' {
			return -1
		}
		return r
	}, m)
	m = strings.TrimRight(m, ".,")

	v, err := strconv.ParseFloat(canonicalDecimal(m), 64)
	if err != nil {
		return 0, false
	}
	return int64(math.Round(v * 100)), true
}

// canonicalDecimal rewrites a digit run with "." and "," separators into a
// plain decimal. With both present the right-most is the decimal mark. A lone
// separator followed by exactly three digits, or repeated, groups thousands.
func canonicalDecimal(m string) string {
	dot, comma := strings.LastIndex(m, "."), strings.LastIndex(m, ",")
	switch {
	case dot >= 0 && comma >= 0:
		if dot > comma {
			return strings.ReplaceAll(m, ",", "")
		}
		return strings.Replace(strings.ReplaceAll(m, ".", ""), ",", ".", 1)
	case dot < 0 && comma < 0:
		return m
	}

	sep, idx := ".", dot
	if comma >= 0 {
		sep, idx = ",", comma
	}
	grouped := strings.Count(m, sep) > 1 || (len(m)-idx-1 == 3 && m[:idx] != "0")
	if grouped {
		return strings.ReplaceAll(m, sep, "")
	}
	return strings.Replace(m, sep, ".", 1)
}

func currencyFromSymbol(s string) string {
	switch {
	case strings.Contains(s, "€"):
		return "EUR"
	case strings.Contains(s, "£"):
		return "GBP"
	case strings.Contains(s, "₦"):
		return "NGN"
	case strings.Contains(s, "¥"):
		return "JPY"
	case strings.Contains(s, "$"):
		return "USD"
	}
	return ""
}

// cloneProductsForSearch copies cached products into a new search, keeping
// product ids and sequence numbers
func cloneProductsForSearch(searchID string, products []*entities.Product) []*entities.Product {
	out := make([]*entities.Product, 0, len(products))
	for _, p := range products {
		if p == nil {
			continue
		}
		cp := *p
		cp.SearchRequestID = searchID
		cp.Features = append([]string(nil), p.Features...)
		out = append(out, &cp)
	}
	return out
}
