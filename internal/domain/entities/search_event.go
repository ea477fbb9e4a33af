package entities

import "time"

// SearchEventType identifies a search lifecycle event
type SearchEventType string

const (
	SearchEventCompleted SearchEventType = "search.completed"
	SearchEventFailed    SearchEventType = "search.failed"
	SearchEventRefined   SearchEventType = "search.refined"
)

// SearchEvent is published when a search reaches a terminal state
type SearchEvent struct {
	ID             string          `json:"id"`
	Type           SearchEventType `json:"type"`
	UserID         string          `json:"user_id"`
	SearchID       string          `json:"search_id"`
	ParentSearchID *string         `json:"parent_search_id,omitempty"`
	Status         SearchStatus    `json:"status"`
	ProductCount   int             `json:"product_count"`
	Degraded       bool            `json:"degraded"`
	ResultSource   ResultSource    `json:"result_source,omitempty"`
	ErrorReason    *string         `json:"error_reason,omitempty"`
	Timestamp      time.Time       `json:"timestamp"`
}
