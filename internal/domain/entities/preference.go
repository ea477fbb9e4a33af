package entities

import (
	"strings"
	"time"
)

// PreferenceCategory is the closed set of preference categories
type PreferenceCategory string

const (
	PreferenceCategoryMaterial PreferenceCategory = "material"
	PreferenceCategoryPrice    PreferenceCategory = "price"
	PreferenceCategorySize     PreferenceCategory = "size"
	PreferenceCategoryFeature  PreferenceCategory = "feature"
	PreferenceCategoryColor    PreferenceCategory = "color"
	PreferenceCategoryStyle    PreferenceCategory = "style"
	PreferenceCategoryOther    PreferenceCategory = "other"
)

// PreferenceCategories lists every valid category
var PreferenceCategories = []PreferenceCategory{
	PreferenceCategoryMaterial,
	PreferenceCategoryPrice,
	PreferenceCategorySize,
	PreferenceCategoryFeature,
	PreferenceCategoryColor,
	PreferenceCategoryStyle,
	PreferenceCategoryOther,
}

// ParsePreferenceCategory maps free text onto the closed set
func ParsePreferenceCategory(s string) (PreferenceCategory, bool) {
	c := PreferenceCategory(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range PreferenceCategories {
		if c == known {
			return c, true
		}
	}
	return "", false
}

// Provenance records how a preference was created
type Provenance string

const (
	ProvenanceVoice  Provenance = "voice"
	ProvenanceManual Provenance = "manual"
)

// ValueKind is the type of a normalized preference value
type ValueKind string

const (
	ValueKindText    ValueKind = "text"
	ValueKindNumeric ValueKind = "numeric"
	ValueKindRange   ValueKind = "range"
)

// ComparisonOp is the operator of a numeric preference value
type ComparisonOp string

const (
	OpLessThan     ComparisonOp = "lt"
	OpLessEqual    ComparisonOp = "lte"
	OpGreaterThan  ComparisonOp = "gt"
	OpGreaterEqual ComparisonOp = "gte"
	OpEqual        ComparisonOp = "eq"
)

// PreferenceValue is the typed, normalized value of a preference
type PreferenceValue struct {
	Kind   ValueKind    `json:"kind"`
	Text   string       `json:"text,omitempty"`
	Op     ComparisonOp `json:"op,omitempty"`
	Amount *float64     `json:"amount,omitempty"`
	Min    *float64     `json:"min,omitempty"`
	Max    *float64     `json:"max,omitempty"`
	Unit   string       `json:"unit,omitempty"`
}

// Preference is one durable user-scoped tag
type Preference struct {
	ID         string             `json:"id" db:"id"`
	UserID     string             `json:"user_id" db:"user_id"`
	Category   PreferenceCategory `json:"category" db:"category"`
	Tag        string             `json:"tag" db:"tag"`
	Value      *PreferenceValue   `json:"value,omitempty" db:"value"`
	Priority   int                `json:"priority" db:"priority"`
	Provenance Provenance         `json:"provenance" db:"provenance"`
	CreatedAt  time.Time          `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time          `json:"updated_at" db:"updated_at"`
	ExpiresAt  time.Time          `json:"expires_at" db:"expires_at"`
	UseCount   int                `json:"use_count" db:"use_count"`
}

// IsActive reports whether the preference has not expired at now
func (p *Preference) IsActive(now time.Time) bool {
	return now.Before(p.ExpiresAt)
}

// PreferenceCandidate is an extracted, not yet merged preference
type PreferenceCandidate struct {
	Category   PreferenceCategory `json:"category" validate:"required,oneof=material price size feature color style other"`
	Tag        string             `json:"tag" validate:"required,max=120"`
	Priority   int                `json:"priority" validate:"gte=1,lte=10"`
	Value      *PreferenceValue   `json:"value,omitempty"`
	Provenance Provenance         `json:"provenance"`
}
