package services

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/zatekoja/voiceshop/backend/internal/domain/entities"
	"github.com/zatekoja/voiceshop/backend/internal/domain/providers"
	"github.com/zatekoja/voiceshop/backend/internal/infrastructure/observability"
	apperrors "github.com/zatekoja/voiceshop/backend/pkg/errors"
)

var searchParamsSchema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "query": {"type": "string", "description": "product being searched for, without price or feature words"},
    "category": {"type": "string"},
    "min_price": {"type": "number"},
    "max_price": {"type": "number"},
    "features": {"type": "array", "items": {"type": "string"}},
    "size": {"type": "string"}
  },
  "required": ["query"]
}`)

// ParameterExtractor turns an utterance into structured search parameters
type ParameterExtractor struct {
	nlu     providers.LanguageProvider
	metrics *observability.Metrics
}

// NewParameterExtractor creates a parameter extractor
func NewParameterExtractor(nlu providers.LanguageProvider, metrics *observability.Metrics) *ParameterExtractor {
	return &ParameterExtractor{nlu: nlu, metrics: metrics}
}

// Extract asks the language collaborator for parameters and validates them.
// Malformed optional fields are dropped; a missing query fails the request.
func (e *ParameterExtractor) Extract(ctx context.Context, utterance string, history []string) (entities.SearchParams, error) {
	start := time.Now()
	resp, err := e.nlu.Interpret(ctx, providers.NLURequest{
		Task:         providers.NLUTaskExtractParams,
		Utterance:    utterance,
		Context:      strings.Join(history, "\n"),
		OutputSchema: searchParamsSchema,
	})
	observability.RecordNLURequest(ctx, e.metrics, string(providers.NLUTaskExtractParams), time.Since(start), err)
	if err != nil {
		return entities.SearchParams{}, apperrors.NewExtractionFailure("parameter extraction failed", err)
	}
	if resp == nil {
		return entities.SearchParams{}, apperrors.NewExtractionFailure("empty extraction response", nil)
	}

	fields, ok := decodeNLUFields(resp.Fields)
	if !ok {
		return entities.SearchParams{}, apperrors.NewExtractionFailure("extraction response is not an object", nil)
	}
	params := sanitizeSearchParams(fields)

	if err := validate.Struct(params); err != nil {
		return entities.SearchParams{}, apperrors.NewExtractionFailure("no usable query in utterance", err)
	}
	return params, nil
}

func sanitizeSearchParams(f nluFields) entities.SearchParams {
	var params entities.SearchParams
	params.Query, _ = f.str("query")
	params.Category, _ = f.str("category")
	params.Size, _ = f.str("size")

	if v, ok := f.number("min_price"); ok {
		v = clampNonNegative(v)
		params.MinPrice = &v
	}
	if v, ok := f.number("max_price"); ok {
		v = clampNonNegative(v)
		params.MaxPrice = &v
	}
	if params.MinPrice != nil && params.MaxPrice != nil && *params.MinPrice > *params.MaxPrice {
		params.MinPrice, params.MaxPrice = params.MaxPrice, params.MinPrice
	}

	for _, feature := range f.strings("features") {
		params.Features = appendUnique(params.Features, feature)
	}
	return params
}

func clampNonNegative(v float64) float64 {
	if v < 0 {
		return 0
	}
	return v
}
