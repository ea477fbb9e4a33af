package entities

import (
	"errors"
	"time"
)

// SearchStatus is the lifecycle state of a SearchRequest
type SearchStatus string

const (
	SearchStatusPending    SearchStatus = "pending"
	SearchStatusExtracting SearchStatus = "extracting"
	SearchStatusSearching  SearchStatus = "searching"
	SearchStatusCompleted  SearchStatus = "completed"
	SearchStatusFailed     SearchStatus = "failed"
)

// ResultSource records where a completed search got its products from
type ResultSource string

const (
	ResultSourceProvider ResultSource = "provider"
	ResultSourceCache    ResultSource = "cache"
	ResultSourceFallback ResultSource = "fallback"
	ResultSourceNone     ResultSource = "none"
)

// ErrParamsFrozen is returned when parameters are changed after the search step began
var ErrParamsFrozen = errors.New("search parameters are immutable once searching")

// SearchParams are the structured parameters of one search
type SearchParams struct {
	Query           string   `json:"query" validate:"required"`
	Category        string   `json:"category,omitempty"`
	MinPrice        *float64 `json:"min_price,omitempty" validate:"omitempty,gte=0"`
	MaxPrice        *float64 `json:"max_price,omitempty" validate:"omitempty,gte=0"`
	Features        []string `json:"features,omitempty"`
	Size            string   `json:"size,omitempty"`
	PreferenceTerms []string `json:"preference_terms,omitempty"`
}

// Clone returns a deep copy so derived searches never share slices or bounds with their parent
func (p SearchParams) Clone() SearchParams {
	out := p
	if p.MinPrice != nil {
		v := *p.MinPrice
		out.MinPrice = &v
	}
	if p.MaxPrice != nil {
		v := *p.MaxPrice
		out.MaxPrice = &v
	}
	out.Features = append([]string(nil), p.Features...)
	out.PreferenceTerms = append([]string(nil), p.PreferenceTerms...)
	return out
}

// SearchRequest identifies one orchestrated search
type SearchRequest struct {
	ID             string       `json:"id" db:"id"`
	UserID         string       `json:"user_id" db:"user_id"`
	Utterance      string       `json:"utterance" db:"utterance"`
	Params         SearchParams `json:"params" db:"params"`
	Status         SearchStatus `json:"status" db:"status"`
	CacheKey       string       `json:"cache_key,omitempty" db:"cache_key"`
	ResultSource   ResultSource `json:"result_source,omitempty" db:"result_source"`
	Degraded       bool         `json:"degraded" db:"degraded"`
	ErrorReason    *string      `json:"error_reason,omitempty" db:"error_reason"`
	ParentSearchID *string      `json:"parent_search_id,omitempty" db:"parent_search_id"`
	CreatedAt      time.Time    `json:"created_at" db:"created_at"`
	CompletedAt    *time.Time   `json:"completed_at,omitempty" db:"completed_at"`
}

// ParamsFrozen reports whether the parameters can no longer change
func (s *SearchRequest) ParamsFrozen() bool {
	switch s.Status {
	case SearchStatusSearching, SearchStatusCompleted, SearchStatusFailed:
		return true
	}
	return false
}

// SetParams replaces the parameters while the request is still being extracted
func (s *SearchRequest) SetParams(p SearchParams) error {
	if s.ParamsFrozen() {
		return ErrParamsFrozen
	}
	s.Params = p
	return nil
}

// Complete marks the request completed
func (s *SearchRequest) Complete(source ResultSource, degraded bool, reason string, at time.Time) {
	s.Status = SearchStatusCompleted
	s.ResultSource = source
	s.Degraded = degraded
	if reason != "" {
		s.ErrorReason = &reason
	}
	s.CompletedAt = &at
}

// Fail marks the request failed with a reason
func (s *SearchRequest) Fail(reason string, at time.Time) {
	s.Status = SearchStatusFailed
	s.ErrorReason = &reason
	s.CompletedAt = &at
}

// SearchResult is a SearchRequest together with its numbered products
type SearchResult struct {
	Search   *SearchRequest `json:"search"`
	Products []*Product     `json:"products"`
}
