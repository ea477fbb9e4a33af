package entities

import "time"

// RefinementType is the closed set of refinement kinds
type RefinementType string

const (
	RefinementPriceLower    RefinementType = "price_lower"
	RefinementPriceHigher   RefinementType = "price_higher"
	RefinementAddFeature    RefinementType = "add_feature"
	RefinementRemoveFeature RefinementType = "remove_feature"
	RefinementChangeSize    RefinementType = "change_size"
	RefinementCustom        RefinementType = "custom"
)

// ParseRefinementType returns the type when s names a known refinement
func ParseRefinementType(s string) (RefinementType, bool) {
	switch t := RefinementType(s); t {
	case RefinementPriceLower, RefinementPriceHigher, RefinementAddFeature,
		RefinementRemoveFeature, RefinementChangeSize, RefinementCustom:
		return t, true
	}
	return "", false
}

// Refinement is a detected parameter delta against a displayed search
type Refinement struct {
	Type             RefinementType        `json:"type"`
	Value            string                `json:"value,omitempty"`
	TargetPercentage *float64              `json:"target_percentage,omitempty"`
	Tags             []PreferenceCandidate `json:"tags,omitempty"`
}

// RefinementRecord links a parent search to the search its refinement produced
type RefinementRecord struct {
	ID             string         `json:"id" db:"id"`
	UserID         string         `json:"user_id" db:"user_id"`
	ParentSearchID string         `json:"parent_search_id" db:"parent_search_id"`
	ChildSearchID  string         `json:"child_search_id" db:"child_search_id"`
	Type           RefinementType `json:"type" db:"refinement_type"`
	Utterance      string         `json:"utterance" db:"utterance"`
	Tags           []string       `json:"tags,omitempty" db:"tags"`
	CreatedAt      time.Time      `json:"created_at" db:"created_at"`
}
