package services

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/zatekoja/voiceshop/backend/internal/domain/entities"
	"github.com/zatekoja/voiceshop/backend/internal/domain/providers"
	"github.com/zatekoja/voiceshop/backend/internal/domain/repositories"
	"github.com/zatekoja/voiceshop/backend/internal/infrastructure/observability"
	apperrors "github.com/zatekoja/voiceshop/backend/pkg/errors"
)

// RepeatPrompt is the user-facing reason of a search whose utterance could not be understood
const RepeatPrompt = "I didn't catch that, please repeat"

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

var personalizationCategories = map[entities.PreferenceCategory]bool{
	entities.PreferenceCategoryMaterial: true,
	entities.PreferenceCategoryColor:    true,
	entities.PreferenceCategoryStyle:    true,
	entities.PreferenceCategorySize:     true,
}

var utteranceTools = []providers.ToolSpec{
	{
		Name:        string(entities.ToolSearchProducts),
		Description: "Search for products the user describes.",
		Parameters:  json.RawMessage(`{"type":"object","properties":{"query":{"type":"string"}}}`),
	},
	{
		Name:        string(entities.ToolRefineSearch),
		Description: "Adjust the search currently on screen, e.g. cheaper, bigger, with or without a feature.",
		Parameters:  json.RawMessage(`{"type":"object","properties":{"instruction":{"type":"string"}}}`),
	},
	{
		Name:        string(entities.ToolSavePreference),
		Description: "Remember a shopping preference the user states explicitly.",
		Parameters: json.RawMessage(`{"type":"object","properties":{
			"category":{"type":"string","enum":["material","price","size","feature","color","style","other"]},
			"tag":{"type":"string"},
			"priority":{"type":"integer","minimum":1,"maximum":10}},"required":["category","tag"]}`),
	},
	{
		Name:        string(entities.ToolRemovePreference),
		Description: "Forget a previously saved preference, by id or by its tag text.",
		Parameters:  json.RawMessage(`{"type":"object","properties":{"preference_id":{"type":"string"},"tag":{"type":"string"}}}`),
	},
}

// SearchSettings tunes the orchestrator
type SearchSettings struct {
	HistoryTurns            int
	PersonalizationPriority int
	PersonalizationLimit    int
}

// SearchOrchestratorDeps collects the orchestrator's collaborators
type SearchOrchestratorDeps struct {
	Searches    repositories.SearchRequestRepository
	Products    repositories.ProductRepository
	Refinements repositories.RefinementRepository
	Extractor   *ParameterExtractor
	Executor    *SearchExecutor
	Normalizer  *ResultNormalizer
	Cache       *ResultCache
	Preferences *PreferenceStore
	Detector    *RefinementDetector
	Applier     *RefinementApplier
	Transcripts *TranscriptService
	Limiter     *RateLimiter
	Catalog     providers.ProductCatalog
	Events      providers.EventBus
	NLU         providers.LanguageProvider
	Metrics     *observability.Metrics
}

// SearchOrchestrator runs searches and refinements for one user at a time.
// Each call is independent; no state is shared between users.
type SearchOrchestrator struct {
	SearchOrchestratorDeps
	settings SearchSettings
	now      func() time.Time
	newID    func() string
}

// NewSearchOrchestrator creates an orchestrator
func NewSearchOrchestrator(deps SearchOrchestratorDeps, settings SearchSettings) *SearchOrchestrator {
	return &SearchOrchestrator{
		SearchOrchestratorDeps: deps,
		settings:               settings,
		now:                    time.Now,
		newID:                  uuid.NewString,
	}
}

// WithClock replaces the orchestrator clock
func (o *SearchOrchestrator) WithClock(now func() time.Time) *SearchOrchestrator {
	o.now = now
	return o
}

type sessionKey struct{}

// WithSessionID attaches the conversation session to ctx
func WithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, sessionKey{}, sessionID)
}

func sessionFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(sessionKey{}).(string); ok && id != "" {
		return id
	}
	return DefaultSessionID
}

// RunSearch turns an utterance into a completed SearchRequest with numbered products
func (o *SearchOrchestrator) RunSearch(ctx context.Context, userID, utterance string) (*entities.SearchResult, error) {
	if err := o.admit(ctx, userID, utterance); err != nil {
		return nil, err
	}
	history := o.history(ctx, userID)
	o.recordUtterance(ctx, userID, utterance)
	return o.runSearch(ctx, userID, utterance, history)
}

// RunRefinement derives a new SearchRequest from a displayed one. The parent
// and its products are never modified.
func (o *SearchOrchestrator) RunRefinement(ctx context.Context, userID, parentSearchID, utterance string) (*entities.SearchResult, error) {
	if err := o.admit(ctx, userID, utterance); err != nil {
		return nil, err
	}
	o.recordUtterance(ctx, userID, utterance)
	return o.runRefinement(ctx, userID, parentSearchID, utterance)
}

// HandleUtterance lets the language collaborator pick one operation from the
// closed tool set and runs it. A refinement needs an explicit active search id.
func (o *SearchOrchestrator) HandleUtterance(ctx context.Context, userID, utterance, activeSearchID string) (*entities.UtteranceOutcome, error) {
	if err := o.admit(ctx, userID, utterance); err != nil {
		return nil, err
	}
	history := o.history(ctx, userID)
	o.recordUtterance(ctx, userID, utterance)

	hint := strings.Join(history, "\n")
	if activeSearchID != "" {
		hint += "\na search is currently displayed"
	}

	start := time.Now()
	resp, err := o.NLU.Interpret(ctx, providers.NLURequest{
		Task:      providers.NLUTaskSelectTool,
		Utterance: utterance,
		Context:   hint,
		Tools:     utteranceTools,
	})
	observability.RecordNLURequest(ctx, o.Metrics, string(providers.NLUTaskSelectTool), time.Since(start), err)
	if err != nil {
		return nil, apperrors.NewExtractionFailure("intent selection failed", err)
	}

	tool := entities.ToolSearchProducts
	args := nluFields{}
	if resp != nil && resp.ToolCall != nil {
		name, ok := entities.ParseToolName(resp.ToolCall.Name)
		if !ok {
			return nil, apperrors.NewExtractionFailure("unknown operation "+resp.ToolCall.Name, nil)
		}
		tool = name
		if decoded, ok := decodeNLUFields(resp.ToolCall.Arguments); ok {
			args = decoded
		}
	}

	outcome := &entities.UtteranceOutcome{Intent: tool}
	switch tool {
	case entities.ToolRefineSearch:
		if activeSearchID == "" {
			outcome.Intent = entities.ToolSearchProducts
			break
		}
		result, err := o.runRefinement(ctx, userID, activeSearchID, utterance)
		if err != nil {
			return nil, err
		}
		outcome.Search = result
		return outcome, nil
	case entities.ToolSavePreference:
		category, _ := args.str("category")
		tag, ok := args.str("tag")
		if !ok {
			return nil, apperrors.NewExtractionFailure("preference tag missing", nil)
		}
		priority, _ := args.integer("priority")
		pref, err := o.Preferences.AddManual(ctx, userID, category, tag, priority)
		if err != nil {
			return nil, err
		}
		outcome.Preference = pref
		return outcome, nil
	case entities.ToolRemovePreference:
		if id, ok := args.str("preference_id"); ok {
			if err := o.Preferences.Remove(ctx, userID, id); err != nil {
				return nil, err
			}
			outcome.RemovedPreference = id
			return outcome, nil
		}
		tag, ok := args.str("tag")
		if !ok {
			return nil, apperrors.NewExtractionFailure("no preference named", nil)
		}
		removed, err := o.Preferences.RemoveByTag(ctx, userID, tag)
		if err != nil {
			return nil, err
		}
		outcome.RemovedPreference = removed.ID
		return outcome, nil
	}

	result, err := o.runSearch(ctx, userID, utterance, history)
	if err != nil {
		return nil, err
	}
	outcome.Search = result
	return outcome, nil
}

// GetSearch returns a search and its products
func (o *SearchOrchestrator) GetSearch(ctx context.Context, userID, searchID string) (*entities.SearchResult, error) {
	search, err := o.Searches.GetByID(ctx, userID, searchID)
	if err != nil {
		return nil, err
	}
	products, err := o.Products.ListBySearch(ctx, search.ID)
	if err != nil {
		return nil, err
	}
	return &entities.SearchResult{Search: search, Products: products}, nil
}

// ListSearches returns the user's searches newest first
func (o *SearchOrchestrator) ListSearches(ctx context.Context, userID string, limit int) ([]*entities.SearchRequest, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	return o.Searches.ListByUser(ctx, userID, limit)
}

// GetProduct resolves a voice reference such as "product 3"
func (o *SearchOrchestrator) GetProduct(ctx context.Context, userID, searchID string, sequence int) (*entities.Product, error) {
	if _, err := o.Searches.GetByID(ctx, userID, searchID); err != nil {
		return nil, err
	}
	return o.Products.GetBySequence(ctx, searchID, sequence)
}

func (o *SearchOrchestrator) admit(ctx context.Context, userID, utterance string) error {
	if strings.TrimSpace(utterance) == "" {
		return apperrors.NewValidationError("utterance is required")
	}
	return o.Limiter.Allow(ctx, userID)
}

func (o *SearchOrchestrator) history(ctx context.Context, userID string) []string {
	if o.Transcripts == nil {
		return nil
	}
	return o.Transcripts.HistoryLines(ctx, userID, o.settings.HistoryTurns)
}

func (o *SearchOrchestrator) recordUtterance(ctx context.Context, userID, utterance string) {
	if o.Transcripts == nil {
		return
	}
	if _, _, err := o.Transcripts.Record(ctx, userID, sessionFromContext(ctx), string(entities.SpeakerUser), utterance, nil); err != nil {
		observability.LoggerFromContext(ctx).Warn().Err(err).Str("user_id", userID).Msg("Failed to record utterance")
	}
}

func (o *SearchOrchestrator) runSearch(ctx context.Context, userID, utterance string, history []string) (*entities.SearchResult, error) {
	ctx, span := observability.StartSpan(ctx, "search.run")
	defer span.End()
	logger := observability.LoggerFromContext(ctx)

	search := &entities.SearchRequest{
		ID:        o.newID(),
		UserID:    userID,
		Utterance: utterance,
		Status:    entities.SearchStatusPending,
		CreatedAt: o.now(),
	}
	span.SetAttributes(attribute.String("search.id", search.ID))
	if err := o.Searches.Create(ctx, search); err != nil {
		return nil, err
	}
	search.Status = entities.SearchStatusExtracting
	if err := o.Searches.Update(ctx, search); err != nil {
		return nil, o.fail(ctx, search, err)
	}

	var (
		params entities.SearchParams
		g      errgroup.Group
	)
	g.Go(func() error {
		p, err := o.Extractor.Extract(ctx, utterance, history)
		if err != nil {
			return err
		}
		params = p
		return nil
	})
	g.Go(func() error {
		if _, err := o.Preferences.ExtractAndMerge(ctx, userID, utterance, history); err != nil {
			logger.Warn().Err(err).Str("user_id", userID).Str("search_id", search.ID).Msg("Preference extraction failed")
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		observability.RecordError(span, err)
		return nil, o.fail(ctx, search, err)
	}

	if err := search.SetParams(params); err != nil {
		return nil, o.fail(ctx, search, err)
	}

	result, err := o.execute(ctx, search)
	if err != nil {
		observability.RecordError(span, err)
		return nil, err
	}
	o.publish(ctx, search, len(result.Products), entities.SearchEventCompleted)
	return result, nil
}

func (o *SearchOrchestrator) runRefinement(ctx context.Context, userID, parentSearchID, utterance string) (*entities.SearchResult, error) {
	ctx, span := observability.StartSpan(ctx, "search.refine")
	defer span.End()
	logger := observability.LoggerFromContext(ctx)

	parent, err := o.Searches.GetByID(ctx, userID, parentSearchID)
	if err != nil {
		return nil, err
	}
	if parent.Status != entities.SearchStatusCompleted {
		return nil, apperrors.NewValidationError("only completed searches can be refined")
	}
	parentProducts, err := o.Products.ListBySearch(ctx, parent.ID)
	if err != nil {
		return nil, err
	}

	ref, isRefinement, err := o.Detector.Detect(ctx, utterance, parent, parentProducts)
	if err != nil {
		observability.RecordError(span, err)
		return nil, err
	}
	if !isRefinement {
		ref = &entities.Refinement{Type: entities.RefinementCustom, Value: utterance}
	}
	span.SetAttributes(
		attribute.String("search.parent_id", parent.ID),
		attribute.String("refinement.type", string(ref.Type)),
	)

	params, implied := o.Applier.Apply(parent.Params, *ref, parentProducts)
	parentID := parent.ID
	child := &entities.SearchRequest{
		ID:             o.newID(),
		UserID:         userID,
		Utterance:      utterance,
		Status:         entities.SearchStatusExtracting,
		ParentSearchID: &parentID,
		CreatedAt:      o.now(),
	}
	if err := child.SetParams(params); err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("search.id", child.ID))
	if err := o.Searches.Create(ctx, child); err != nil {
		return nil, err
	}

	candidates := append(append([]entities.PreferenceCandidate(nil), ref.Tags...), implied...)
	if len(candidates) > 0 {
		if _, err := o.Preferences.MergeAll(ctx, userID, candidates); err != nil {
			logger.Warn().Err(err).Str("user_id", userID).Str("search_id", child.ID).Msg("Failed to merge refinement preferences")
		}
	}

	result, err := o.execute(ctx, child)
	if err != nil {
		observability.RecordError(span, err)
		return nil, err
	}

	tags := make([]string, 0, len(candidates))
	for _, c := range candidates {
		tags = append(tags, c.Tag)
	}
	record := &entities.RefinementRecord{
		ID:             o.newID(),
		UserID:         userID,
		ParentSearchID: parent.ID,
		ChildSearchID:  child.ID,
		Type:           ref.Type,
		Utterance:      utterance,
		Tags:           tags,
		CreatedAt:      o.now(),
	}
	if err := o.Refinements.Create(ctx, record); err != nil {
		logger.Warn().Err(err).Str("search_id", child.ID).Msg("Failed to store refinement record")
	}

	o.publish(ctx, child, len(result.Products), entities.SearchEventRefined)
	return result, nil
}

// execute runs the search step for a request whose parameters are final
func (o *SearchOrchestrator) execute(ctx context.Context, search *entities.SearchRequest) (*entities.SearchResult, error) {
	logger := observability.LoggerFromContext(ctx)
	o.personalize(ctx, search)

	key := CacheKey(search.UserID, search.Params.Query, search.Params)
	search.CacheKey = key
	search.Status = entities.SearchStatusSearching
	if err := o.Searches.Update(ctx, search); err != nil {
		return nil, o.fail(ctx, search, err)
	}

	var (
		products []*entities.Product
		source   entities.ResultSource
		degraded bool
		reason   string
	)
	if entry, ok := o.Cache.Lookup(ctx, key); ok {
		products = cloneProductsForSearch(search.ID, entry.Products)
		source = entities.ResultSourceCache
		logger.Debug().Str("search_id", search.ID).Int64("hits", entry.HitCount).Msg("Serving search from cache")
	} else {
		res := o.Executor.Execute(ctx, search.Params)
		products = o.Normalizer.Normalize(search.ID, res.Listings, o.now())
		source, degraded, reason = res.Source, res.Degraded, res.Reason
		if degraded {
			logger.Warn().Str("user_id", search.UserID).Str("search_id", search.ID).
				Str("result_source", string(source)).Msg("Search served degraded results")
		}
		if source == entities.ResultSourceProvider && len(products) > 0 {
			if err := o.Cache.Store(ctx, key, products); err != nil {
				logger.Warn().Err(err).Str("search_id", search.ID).Msg("Failed to store search results in cache")
			}
			o.indexCatalog(ctx, products)
		}
	}

	if len(products) > 0 {
		if err := o.Products.CreateBatch(ctx, products); err != nil {
			return nil, o.fail(ctx, search, err)
		}
	}

	search.Complete(source, degraded, reason, o.now())
	if err := o.Searches.Update(ctx, search); err != nil {
		return nil, err
	}
	return &entities.SearchResult{Search: search, Products: products}, nil
}

// personalize applies high-priority preferences that the parameters do not
// already mention as extra query terms
func (o *SearchOrchestrator) personalize(ctx context.Context, search *entities.SearchRequest) {
	if o.Preferences == nil || o.settings.PersonalizationLimit <= 0 {
		return
	}
	prefs, err := o.Preferences.List(ctx, search.UserID, nil)
	if err != nil {
		observability.LoggerFromContext(ctx).Warn().Err(err).Str("user_id", search.UserID).Msg("Skipping personalization")
		return
	}

	applied := selectPersonalization(search.Params, prefs, o.settings.PersonalizationPriority, o.settings.PersonalizationLimit)
	if len(applied) == 0 {
		return
	}
	params := search.Params.Clone()
	for _, p := range applied {
		params.PreferenceTerms = appendUnique(params.PreferenceTerms, p.Tag)
	}
	if err := search.SetParams(params); err != nil {
		return
	}
	o.Preferences.MarkUsed(ctx, applied)
}

func selectPersonalization(params entities.SearchParams, prefs []*entities.Preference, minPriority, limit int) []*entities.Preference {
	mentioned := NormalizeText(strings.Join(append(append([]string{params.Query, params.Size}, params.Features...), params.PreferenceTerms...), " "))

	eligible := make([]*entities.Preference, 0, len(prefs))
	for _, p := range prefs {
		if !personalizationCategories[p.Category] || p.Priority < minPriority {
			continue
		}
		if strings.Contains(mentioned, NormalizeText(p.Tag)) {
			continue
		}
		eligible = append(eligible, p)
	}
	sort.SliceStable(eligible, func(i, j int) bool {
		if eligible[i].Priority != eligible[j].Priority {
			return eligible[i].Priority > eligible[j].Priority
		}
		return eligible[i].UseCount > eligible[j].UseCount
	})
	if len(eligible) > limit {
		eligible = eligible[:limit]
	}
	return eligible
}

func (o *SearchOrchestrator) indexCatalog(ctx context.Context, products []*entities.Product) {
	if o.Catalog == nil {
		return
	}
	if err := o.Catalog.Index(ctx, products); err != nil {
		observability.LoggerFromContext(ctx).Warn().Err(err).Msg("Failed to index products into catalog")
	}
}

// fail marks the search failed, publishes the failure and returns the cause
func (o *SearchOrchestrator) fail(ctx context.Context, search *entities.SearchRequest, cause error) error {
	reason := "search failed"
	if apperrors.IsType(cause, apperrors.ErrorTypeExtractionFailure) {
		reason = RepeatPrompt
	}
	search.Fail(reason, o.now())
	if err := o.Searches.Update(ctx, search); err != nil {
		observability.LoggerFromContext(ctx).Error().Err(err).Str("search_id", search.ID).Msg("Failed to mark search failed")
	}
	o.publish(ctx, search, 0, entities.SearchEventFailed)
	if _, ok := apperrors.As(cause); ok {
		return cause
	}
	return apperrors.NewInternalError("search failed", cause)
}

func (o *SearchOrchestrator) publish(ctx context.Context, search *entities.SearchRequest, count int, eventType entities.SearchEventType) {
	if o.Events == nil {
		return
	}
	event := &entities.SearchEvent{
		ID:             o.newID(),
		Type:           eventType,
		UserID:         search.UserID,
		SearchID:       search.ID,
		ParentSearchID: search.ParentSearchID,
		Status:         search.Status,
		ProductCount:   count,
		Degraded:       search.Degraded,
		ResultSource:   search.ResultSource,
		ErrorReason:    search.ErrorReason,
		Timestamp:      o.now(),
	}
	if err := o.Events.Publish(ctx, providers.GetSearchChannel(search.UserID), event); err != nil {
		observability.LoggerFromContext(ctx).Warn().Err(err).Str("search_id", search.ID).Msg("Failed to publish search event")
	}
}
