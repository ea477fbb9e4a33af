package services

import (
	"math"
	"strings"

	"github.com/zatekoja/voiceshop/backend/internal/domain/entities"
)

const sizePreferencePriority = 8

// RefinementApplier composes a refinement with its parent's parameters
type RefinementApplier struct {
	defaultPercent float64
}

// NewRefinementApplier creates an applier; price moves without a target use defaultPercent
func NewRefinementApplier(defaultPercent float64) *RefinementApplier {
	return &RefinementApplier{defaultPercent: defaultPercent}
}

// Apply returns the derived parameters plus any preference candidates implied
// by the refinement. The parent parameters are never modified.
func (a *RefinementApplier) Apply(parent entities.SearchParams, ref entities.Refinement, observed []*entities.Product) (entities.SearchParams, []entities.PreferenceCandidate) {
	next := parent.Clone()
	next.PreferenceTerms = nil
	var implied []entities.PreferenceCandidate

	switch ref.Type {
	case entities.RefinementPriceLower:
		base, ok := priceBase(parent.MaxPrice, observed, minObservedPrice)
		if ok {
			v := roundCents(base * (1 - a.percent(ref)/100))
			next.MaxPrice = &v
			if next.MinPrice != nil && *next.MinPrice > v {
				next.MinPrice = nil
			}
		}
	case entities.RefinementPriceHigher:
		base, ok := priceBase(parent.MinPrice, observed, maxObservedPrice)
		if ok {
			v := roundCents(base * (1 + a.percent(ref)/100))
			next.MinPrice = &v
			if next.MaxPrice != nil && *next.MaxPrice <= v {
				next.MaxPrice = nil
			}
		}
	case entities.RefinementAddFeature:
		next.Features = appendUnique(next.Features, ref.Value)
	case entities.RefinementRemoveFeature:
		next.Features = removeFold(next.Features, ref.Value)
	case entities.RefinementChangeSize:
		value := strings.TrimSpace(ref.Value)
		if value == "" {
			break
		}
		if parent.Size != "" {
			next.Size = value
			break
		}
		implied = append(implied, entities.PreferenceCandidate{
			Category:   entities.PreferenceCategorySize,
			Tag:        value,
			Priority:   sizePreferencePriority,
			Value:      sizeValue(value),
			Provenance: entities.ProvenanceVoice,
		})
	case entities.RefinementCustom:
		value := strings.TrimSpace(ref.Value)
		if value != "" && !strings.Contains(NormalizeText(next.Query), NormalizeText(value)) {
			next.Query = strings.TrimSpace(next.Query + " " + value)
		}
	}
	return next, implied
}

func (a *RefinementApplier) percent(ref entities.Refinement) float64 {
	if ref.TargetPercentage != nil {
		return *ref.TargetPercentage
	}
	return a.defaultPercent
}

// priceBase uses the explicit bound when set, otherwise the observed displayed price
func priceBase(bound *float64, observed []*entities.Product, pick func([]*entities.Product) (float64, bool)) (float64, bool) {
	if bound != nil && *bound > 0 {
		return *bound, true
	}
	return pick(observed)
}

func minObservedPrice(products []*entities.Product) (float64, bool) {
	found := false
	var lowest float64
	for _, p := range products {
		if p.PriceUnparsed || p.PriceMinor <= 0 {
			continue
		}
		if v := p.DisplayPrice(); !found || v < lowest {
			lowest, found = v, true
		}
	}
	return lowest, found
}

func maxObservedPrice(products []*entities.Product) (float64, bool) {
	found := false
	var highest float64
	for _, p := range products {
		if p.PriceUnparsed || p.PriceMinor <= 0 {
			continue
		}
		if v := p.DisplayPrice(); !found || v > highest {
			highest, found = v, true
		}
	}
	return highest, found
}

func roundCents(v float64) float64 {
	return math.Round(v*100) / 100
}

func removeFold(list []string, value string) []string {
	value = strings.TrimSpace(value)
	out := list[:0]
	for _, item := range list {
		if !strings.EqualFold(item, value) {
			out = append(out, item)
		}
	}
	return out
}

// sizeValue types a size phrase: "10" becomes numeric, "8 to 10" a range, anything else text
func sizeValue(value string) *entities.PreferenceValue {
	if v := ParsePriceTag(value, ""); v != nil && currencyFromSymbol(value) == "" {
		if v.Kind == entities.ValueKindRange || v.Op == entities.OpEqual {
			return v
		}
	}
	return &entities.PreferenceValue{Kind: entities.ValueKindText, Text: value}
}
