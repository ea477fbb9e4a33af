package providers

import (
	"context"
	"encoding/json"

	"github.com/zatekoja/voiceshop/backend/internal/domain/entities"
)

// NLUTask names the kind of interpretation requested
type NLUTask string

const (
	NLUTaskExtractParams      NLUTask = "extract_params"
	NLUTaskExtractPreferences NLUTask = "extract_preferences"
	NLUTaskDetectRefinement   NLUTask = "detect_refinement"
	NLUTaskSelectTool         NLUTask = "select_tool"
)

// ToolSpec describes one callable operation offered to the collaborator
type ToolSpec struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// NLURequest is a request to the language-understanding collaborator
type NLURequest struct {
	Task      NLUTask
	Utterance string
	Context   string
	// OutputSchema is a JSON schema the structured response must follow.
	OutputSchema json.RawMessage
	Tools        []ToolSpec
}

// NLUResponse carries either structured fields or a tool invocation.
// Neither part is trusted: callers validate before use.
type NLUResponse struct {
	Fields   json.RawMessage
	ToolCall *entities.ToolCall
}

// LanguageProvider is the language-understanding collaborator
type LanguageProvider interface {
	Interpret(ctx context.Context, req NLURequest) (*NLUResponse, error)
}
