package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/zatekoja/voiceshop/backend/internal/domain/entities"
	"github.com/zatekoja/voiceshop/backend/internal/domain/providers"
	"github.com/zatekoja/voiceshop/backend/internal/infrastructure/observability"
	apperrors "github.com/zatekoja/voiceshop/backend/pkg/errors"
)

var refinementSchema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "is_refinement": {"type": "boolean"},
    "type": {"type": "string", "enum": ["price_lower", "price_higher", "add_feature", "remove_feature", "change_size", "custom"]},
    "value": {"type": "string"},
    "target_percentage": {"type": "number"},
    "tags": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "category": {"type": "string"},
          "tag": {"type": "string"},
          "priority": {"type": "integer"}
        }
      }
    }
  },
  "required": ["is_refinement"]
}`)

const describedProducts = 5

// RefinementDetector classifies a follow-up utterance against a displayed search
type RefinementDetector struct {
	nlu         providers.LanguageProvider
	preferences *PreferenceStore
	metrics     *observability.Metrics
}

// NewRefinementDetector creates a refinement detector. Implied tags are
// validated with the preference store's candidate rules.
func NewRefinementDetector(nlu providers.LanguageProvider, preferences *PreferenceStore, metrics *observability.Metrics) *RefinementDetector {
	return &RefinementDetector{nlu: nlu, preferences: preferences, metrics: metrics}
}

// Detect returns the refinement and true, or false when the utterance is not a refinement
func (d *RefinementDetector) Detect(ctx context.Context, utterance string, parent *entities.SearchRequest, products []*entities.Product) (*entities.Refinement, bool, error) {
	start := time.Now()
	resp, err := d.nlu.Interpret(ctx, providers.NLURequest{
		Task:         providers.NLUTaskDetectRefinement,
		Utterance:    utterance,
		Context:      describeSearch(parent, products),
		OutputSchema: refinementSchema,
	})
	observability.RecordNLURequest(ctx, d.metrics, string(providers.NLUTaskDetectRefinement), time.Since(start), err)
	if err != nil {
		return nil, false, apperrors.NewExtractionFailure("refinement detection failed", err)
	}
	if resp == nil {
		return nil, false, nil
	}
	fields, ok := decodeNLUFields(resp.Fields)
	if !ok {
		return nil, false, nil
	}
	if isRefinement, _ := fields.boolean("is_refinement"); !isRefinement {
		return nil, false, nil
	}

	rawType, _ := fields.str("type")
	refType, ok := entities.ParseRefinementType(rawType)
	if !ok {
		return nil, false, nil
	}

	ref := &entities.Refinement{Type: refType}
	ref.Value, _ = fields.str("value")
	if pct, ok := fields.number("target_percentage"); ok && validPercentage(refType, pct) {
		ref.TargetPercentage = &pct
	}
	if d.preferences != nil {
		ref.Tags = d.preferences.sanitizeCandidates(fields.objects("tags"), entities.ProvenanceVoice)
	}
	return ref, true, nil
}

func validPercentage(t entities.RefinementType, pct float64) bool {
	switch t {
	case entities.RefinementPriceLower:
		return pct > 0 && pct < 100
	case entities.RefinementPriceHigher:
		return pct > 0 && pct <= 1000
	}
	return false
}

// describeSearch renders the compact view of a displayed search sent as context
func describeSearch(search *entities.SearchRequest, products []*entities.Product) string {
	var b strings.Builder
	params, _ := json.Marshal(search.Params)
	fmt.Fprintf(&b, "current search parameters: %s\n", params)
	for i, p := range products {
		if i == describedProducts {
			break
		}
		fmt.Fprintf(&b, "%d. %s - %.2f %s\n", p.SequenceNumber, p.Title, p.DisplayPrice(), p.Currency)
	}
	return b.String()
}
