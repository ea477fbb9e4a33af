package services

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/zatekoja/voiceshop/backend/internal/domain/entities"
	"github.com/zatekoja/voiceshop/backend/internal/domain/providers"
	"github.com/zatekoja/voiceshop/backend/internal/domain/repositories"
	"github.com/zatekoja/voiceshop/backend/internal/infrastructure/observability"
	apperrors "github.com/zatekoja/voiceshop/backend/pkg/errors"
)

var preferenceSchema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "preferences": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "category": {"type": "string", "enum": ["material", "price", "size", "feature", "color", "style", "other"]},
          "tag": {"type": "string"},
          "priority": {"type": "integer", "minimum": 1, "maximum": 10},
          "value": {
            "type": "object",
            "properties": {
              "kind": {"type": "string", "enum": ["text", "numeric", "range"]},
              "text": {"type": "string"},
              "op": {"type": "string", "enum": ["lt", "lte", "gt", "gte", "eq"]},
              "amount": {"type": "number"},
              "min": {"type": "number"},
              "max": {"type": "number"},
              "unit": {"type": "string"}
            }
          }
        },
        "required": ["category", "tag", "priority"]
      }
    }
  },
  "required": ["preferences"]
}`)

const (
	preferenceLockTTL      = 10 * time.Second
	defaultManualPriority  = 5
	preferenceLockKeyStart = "preference:lock:"
)

// PreferenceSettings configures the preference store
type PreferenceSettings struct {
	MaxPerUser      int
	ExpiryWindow    time.Duration
	ConfidenceFloor int
	Currency        string
}

// MergeResult describes what merging one candidate did
type MergeResult struct {
	Preference *entities.Preference
	Merged     bool
	Evicted    *entities.Preference
}

// PreferenceStore extracts, merges, expires and serves user preferences
type PreferenceStore struct {
	repo       repositories.PreferenceRepository
	nlu        providers.LanguageProvider
	locker     providers.Locker
	similarity SimilarityStrategy
	settings   PreferenceSettings
	now        func() time.Time
	newID      func() string
	metrics    *observability.Metrics
}

// NewPreferenceStore creates a preference store using substring similarity
func NewPreferenceStore(
	repo repositories.PreferenceRepository,
	nlu providers.LanguageProvider,
	locker providers.Locker,
	settings PreferenceSettings,
	metrics *observability.Metrics,
) *PreferenceStore {
	return &PreferenceStore{
		repo:       repo,
		nlu:        nlu,
		locker:     locker,
		similarity: SubstringSimilarity{},
		settings:   settings,
		now:        time.Now,
		newID:      uuid.NewString,
		metrics:    metrics,
	}
}

// WithClock replaces the store clock
func (s *PreferenceStore) WithClock(now func() time.Time) *PreferenceStore {
	s.now = now
	return s
}

// WithSimilarity replaces the duplicate detection strategy
func (s *PreferenceStore) WithSimilarity(strategy SimilarityStrategy) *PreferenceStore {
	s.similarity = strategy
	return s
}

// Extract asks the language collaborator for preference candidates. Candidates
// outside the closed category set, without a tag, or below the confidence floor are dropped.
func (s *PreferenceStore) Extract(ctx context.Context, utterance string, history []string) ([]entities.PreferenceCandidate, error) {
	start := time.Now()
	resp, err := s.nlu.Interpret(ctx, providers.NLURequest{
		Task:         providers.NLUTaskExtractPreferences,
		Utterance:    utterance,
		Context:      strings.Join(history, "\n"),
		OutputSchema: preferenceSchema,
	})
	observability.RecordNLURequest(ctx, s.metrics, string(providers.NLUTaskExtractPreferences), time.Since(start), err)
	if err != nil {
		return nil, apperrors.NewExtractionFailure("preference extraction failed", err)
	}
	if resp == nil {
		return nil, nil
	}
	fields, ok := decodeNLUFields(resp.Fields)
	if !ok {
		return nil, nil
	}
	return s.sanitizeCandidates(fields.objects("preferences"), entities.ProvenanceVoice), nil
}

func (s *PreferenceStore) sanitizeCandidates(items []nluFields, provenance entities.Provenance) []entities.PreferenceCandidate {
	out := make([]entities.PreferenceCandidate, 0, len(items))
	for _, item := range items {
		if c, ok := s.sanitizeCandidate(item, provenance); ok {
			out = append(out, c)
		}
	}
	return out
}

func (s *PreferenceStore) sanitizeCandidate(f nluFields, provenance entities.Provenance) (entities.PreferenceCandidate, bool) {
	rawCategory, _ := f.str("category")
	category, ok := entities.ParsePreferenceCategory(rawCategory)
	if !ok {
		return entities.PreferenceCandidate{}, false
	}
	tag, _ := f.str("tag")
	priority, ok := f.integer("priority")
	if !ok {
		return entities.PreferenceCandidate{}, false
	}

	c := entities.PreferenceCandidate{
		Category:   category,
		Tag:        tag,
		Priority:   priority,
		Provenance: provenance,
	}
	if obj, ok := f.object("value"); ok {
		c.Value = sanitizePreferenceValue(obj)
	}
	if err := validate.Struct(c); err != nil {
		return entities.PreferenceCandidate{}, false
	}
	if c.Priority < s.settings.ConfidenceFloor {
		return entities.PreferenceCandidate{}, false
	}
	return s.withDerivedValue(c), true
}

// withDerivedValue fills the typed value of price tags the collaborator left untyped
func (s *PreferenceStore) withDerivedValue(c entities.PreferenceCandidate) entities.PreferenceCandidate {
	if c.Value == nil && c.Category == entities.PreferenceCategoryPrice {
		c.Value = ParsePriceTag(c.Tag, s.settings.Currency)
	}
	return c
}

func sanitizePreferenceValue(f nluFields) *entities.PreferenceValue {
	kind, _ := f.str("kind")
	v := &entities.PreferenceValue{Kind: entities.ValueKind(kind)}
	v.Unit, _ = f.str("unit")

	switch v.Kind {
	case entities.ValueKindText:
		text, ok := f.str("text")
		if !ok {
			return nil
		}
		v.Text = text
	case entities.ValueKindNumeric:
		op, _ := f.str("op")
		switch entities.ComparisonOp(op) {
		case entities.OpLessThan, entities.OpLessEqual, entities.OpGreaterThan, entities.OpGreaterEqual, entities.OpEqual:
			v.Op = entities.ComparisonOp(op)
		default:
			return nil
		}
		amount, ok := f.number("amount")
		if !ok || amount < 0 {
			return nil
		}
		v.Amount = &amount
	case entities.ValueKindRange:
		lo, okLo := f.number("min")
		hi, okHi := f.number("max")
		if !okLo || !okHi || lo < 0 || hi < lo {
			return nil
		}
		v.Min, v.Max = &lo, &hi
	default:
		return nil
	}
	return v
}

// Merge folds a candidate into the user's active preferences. A duplicate in
// the same category keeps the higher priority, refreshes expiry and counts a
// use; otherwise a new preference is inserted subject to the per-user cap.
func (s *PreferenceStore) Merge(ctx context.Context, userID string, c entities.PreferenceCandidate) (*MergeResult, error) {
	unlock, err := s.locker.Lock(ctx, preferenceLockKeyStart+userID, preferenceLockTTL)
	if err != nil {
		return nil, apperrors.NewInternalError("failed to lock preferences", err)
	}
	defer unlock()

	now := s.now()
	active, err := s.active(ctx, userID, nil, now)
	if err != nil {
		return nil, err
	}

	for _, existing := range active {
		if existing.Category != c.Category || !s.similarity.AreSimilar(existing.Tag, c.Tag) {
			continue
		}
		if c.Priority > existing.Priority {
			existing.Priority = c.Priority
		}
		if existing.Value == nil && c.Value != nil {
			existing.Value = c.Value
		}
		existing.ExpiresAt = now.Add(s.settings.ExpiryWindow)
		existing.UpdatedAt = now
		existing.UseCount++
		if err := s.repo.Update(ctx, existing); err != nil {
			return nil, err
		}
		observability.RecordPreferenceMerge(ctx, s.metrics, string(c.Category))
		return &MergeResult{Preference: existing, Merged: true}, nil
	}

	result := &MergeResult{}
	if len(active) >= s.settings.MaxPerUser {
		victim := pickEviction(active, c.Priority)
		if victim == nil {
			return nil, apperrors.NewQuotaExceeded("preference limit reached", s.settings.MaxPerUser)
		}
		if err := s.repo.Delete(ctx, userID, victim.ID); err != nil {
			return nil, err
		}
		observability.RecordPreferenceEviction(ctx, s.metrics)
		result.Evicted = victim
	}

	pref := &entities.Preference{
		ID:         s.newID(),
		UserID:     userID,
		Category:   c.Category,
		Tag:        c.Tag,
		Value:      c.Value,
		Priority:   c.Priority,
		Provenance: c.Provenance,
		CreatedAt:  now,
		UpdatedAt:  now,
		ExpiresAt:  now.Add(s.settings.ExpiryWindow),
		UseCount:   1,
	}
	if pref.Provenance == "" {
		pref.Provenance = entities.ProvenanceVoice
	}
	if err := s.repo.Create(ctx, pref); err != nil {
		return nil, err
	}
	result.Preference = pref
	return result, nil
}

// pickEviction returns the lowest priority, least used, oldest preference whose
// priority does not exceed the incoming one
func pickEviction(active []*entities.Preference, incomingPriority int) *entities.Preference {
	candidates := make([]*entities.Preference, 0, len(active))
	for _, p := range active {
		if p.Priority <= incomingPriority {
			candidates = append(candidates, p)
		}
	}
	if len(candidates) == 0 {
		return nil
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.Priority != b.Priority {
			return a.Priority < b.Priority
		}
		if a.UseCount != b.UseCount {
			return a.UseCount < b.UseCount
		}
		return a.CreatedAt.Before(b.CreatedAt)
	})
	return candidates[0]
}

// MergeAll merges every candidate; failures of individual candidates are joined
func (s *PreferenceStore) MergeAll(ctx context.Context, userID string, candidates []entities.PreferenceCandidate) ([]*entities.Preference, error) {
	var (
		out  []*entities.Preference
		errs []error
	)
	for _, c := range candidates {
		res, err := s.Merge(ctx, userID, c)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		out = append(out, res.Preference)
	}
	return out, errors.Join(errs...)
}

// ExtractAndMerge extracts candidates from an utterance and merges them
func (s *PreferenceStore) ExtractAndMerge(ctx context.Context, userID, utterance string, history []string) ([]*entities.Preference, error) {
	candidates, err := s.Extract(ctx, utterance, history)
	if err != nil {
		return nil, err
	}
	return s.MergeAll(ctx, userID, candidates)
}

// AddManual adds a preference the user stated explicitly
func (s *PreferenceStore) AddManual(ctx context.Context, userID, category, tag string, priority int) (*entities.Preference, error) {
	cat, ok := entities.ParsePreferenceCategory(category)
	if !ok {
		return nil, apperrors.NewValidationError("unknown preference category: " + category)
	}
	if priority == 0 {
		priority = defaultManualPriority
	}
	c := entities.PreferenceCandidate{
		Category:   cat,
		Tag:        strings.TrimSpace(tag),
		Priority:   priority,
		Provenance: entities.ProvenanceManual,
	}
	if err := validate.Struct(c); err != nil {
		return nil, apperrors.NewValidationError("invalid preference: " + err.Error())
	}
	res, err := s.Merge(ctx, userID, s.withDerivedValue(c))
	if err != nil {
		return nil, err
	}
	return res.Preference, nil
}

// List returns the user's active preferences, optionally for one category
func (s *PreferenceStore) List(ctx context.Context, userID string, category *entities.PreferenceCategory) ([]*entities.Preference, error) {
	return s.active(ctx, userID, category, s.now())
}

func (s *PreferenceStore) active(ctx context.Context, userID string, category *entities.PreferenceCategory, now time.Time) ([]*entities.Preference, error) {
	prefs, err := s.repo.ListByUser(ctx, userID, repositories.PreferenceFilter{Category: category, ActiveAt: &now})
	if err != nil {
		return nil, err
	}
	out := prefs[:0]
	for _, p := range prefs {
		if p.IsActive(now) {
			out = append(out, p)
		}
	}
	return out, nil
}

// Remove deletes a preference owned by the user
func (s *PreferenceStore) Remove(ctx context.Context, userID, id string) error {
	return s.repo.Delete(ctx, userID, id)
}

// RemoveByTag deletes the active preference whose tag matches
func (s *PreferenceStore) RemoveByTag(ctx context.Context, userID, tag string) (*entities.Preference, error) {
	prefs, err := s.List(ctx, userID, nil)
	if err != nil {
		return nil, err
	}
	for _, p := range prefs {
		if s.similarity.AreSimilar(p.Tag, tag) {
			if err := s.repo.Delete(ctx, userID, p.ID); err != nil {
				return nil, err
			}
			return p, nil
		}
	}
	return nil, apperrors.NewNotFoundError("no preference matches " + tag)
}

// MarkUsed slides the expiry of preferences applied to a search
func (s *PreferenceStore) MarkUsed(ctx context.Context, prefs []*entities.Preference) {
	now := s.now()
	for _, p := range prefs {
		p.ExpiresAt = now.Add(s.settings.ExpiryWindow)
		p.UpdatedAt = now
		p.UseCount++
		if err := s.repo.Update(ctx, p); err != nil {
			observability.LoggerFromContext(ctx).Warn().Err(err).Str("preference_id", p.ID).Msg("Failed to refresh preference")
		}
	}
}

// SweepExpired physically removes expired preferences
func (s *PreferenceStore) SweepExpired(ctx context.Context) (int64, error) {
	return s.repo.DeleteExpired(ctx, s.now())
}
