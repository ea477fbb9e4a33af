package entities

import "encoding/json"

// ToolName is the closed set of operations the language collaborator may select
type ToolName string

const (
	ToolSearchProducts   ToolName = "search_products"
	ToolRefineSearch     ToolName = "refine_search"
	ToolSavePreference   ToolName = "save_preference"
	ToolRemovePreference ToolName = "remove_preference"
)

// ParseToolName returns the tool when s names a known operation
func ParseToolName(s string) (ToolName, bool) {
	switch t := ToolName(s); t {
	case ToolSearchProducts, ToolRefineSearch, ToolSavePreference, ToolRemovePreference:
		return t, true
	}
	return "", false
}

// ToolCall is a tool invocation selected by the language collaborator
type ToolCall struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// UtteranceOutcome is the result of dispatching one utterance
type UtteranceOutcome struct {
	Intent            ToolName      `json:"intent"`
	Search            *SearchResult `json:"search,omitempty"`
	Preference        *Preference   `json:"preference,omitempty"`
	RemovedPreference string        `json:"removed_preference_id,omitempty"`
}
