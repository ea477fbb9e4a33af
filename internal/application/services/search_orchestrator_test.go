package services_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/zatekoja/voiceshop/backend/internal/application/services"
	"github.com/zatekoja/voiceshop/backend/internal/domain/entities"
	"github.com/zatekoja/voiceshop/backend/internal/domain/providers"
	apperrors "github.com/zatekoja/voiceshop/backend/pkg/errors"
)

func (h *harness) expectWoodenDesk() {
	h.nlu.On("Interpret", mock.Anything, taskIs(providers.NLUTaskExtractParams)).
		Return(fields(`{"query":"desk","features":["wooden"],"max_price":200}`), nil)
	h.nlu.On("Interpret", mock.Anything, taskIs(providers.NLUTaskExtractPreferences)).
		Return(fields(`{"preferences":[
			{"category":"material","tag":"wooden","priority":8},
			{"category":"price","tag":"under $200","priority":7}]}`), nil)
}

func TestRunSearch_WoodenDeskScenario(t *testing.T) {
	h := newHarness(t)
	h.expectWoodenDesk()
	h.provider.On("Search", mock.Anything, mock.Anything).Return(deskListings(5), nil).Once()

	result, err := h.orch.RunSearch(context.Background(), testUser, "wooden desk under $200")
	require.NoError(t, err)

	search := result.Search
	assert.Equal(t, entities.SearchStatusCompleted, search.Status)
	assert.Equal(t, entities.ResultSourceProvider, search.ResultSource)
	assert.Equal(t, "desk", search.Params.Query)
	assert.Equal(t, []string{"wooden"}, search.Params.Features)
	require.NotNil(t, search.Params.MaxPrice)
	assert.Equal(t, 200.0, *search.Params.MaxPrice)

	require.Len(t, result.Products, 5)
	for i, p := range result.Products {
		assert.Equal(t, i+1, p.SequenceNumber)
		assert.Equal(t, search.ID, p.SearchRequestID)
	}

	prefs, err := h.store.List(context.Background(), testUser, nil)
	require.NoError(t, err)
	require.Len(t, prefs, 2)
	byCategory := map[entities.PreferenceCategory]*entities.Preference{}
	for _, p := range prefs {
		byCategory[p.Category] = p
	}
	assert.Equal(t, "wooden", byCategory[entities.PreferenceCategoryMaterial].Tag)
	price := byCategory[entities.PreferenceCategoryPrice]
	require.NotNil(t, price)
	assert.Equal(t, "under $200", price.Tag)
	require.NotNil(t, price.Value)
	assert.Equal(t, entities.OpLessThan, price.Value.Op)
	assert.Equal(t, 200.0, *price.Value.Amount)
	assert.Equal(t, "USD", price.Value.Unit)

	stored, err := h.products.ListBySearch(context.Background(), search.ID)
	require.NoError(t, err)
	assert.Len(t, stored, 5)
	assert.Len(t, h.catalog.indexed, 5)
	require.Len(t, h.events.events, 1)
	assert.Equal(t, entities.SearchEventCompleted, h.events.events[0].Type)
}

func TestRunSearch_CacheHitWithinTTL(t *testing.T) {
	h := newHarness(t)
	h.expectWoodenDesk()
	h.provider.On("Search", mock.Anything, mock.Anything).Return(deskListings(5), nil)
	ctx := context.Background()

	first, err := h.orch.RunSearch(ctx, testUser, "wooden desk under $200")
	require.NoError(t, err)

	h.clock.Advance(30 * time.Minute)
	second, err := h.orch.RunSearch(ctx, testUser, "wooden desk under $200")
	require.NoError(t, err)

	h.provider.AssertNumberOfCalls(t, "Search", 1)
	assert.NotEqual(t, first.Search.ID, second.Search.ID)
	assert.Equal(t, entities.ResultSourceCache, second.Search.ResultSource)
	assert.Equal(t, first.Search.CacheKey, second.Search.CacheKey)
	require.Len(t, second.Products, len(first.Products))
	for i := range first.Products {
		assert.Equal(t, first.Products[i].ID, second.Products[i].ID)
		assert.Equal(t, first.Products[i].SequenceNumber, second.Products[i].SequenceNumber)
		assert.Equal(t, second.Search.ID, second.Products[i].SearchRequestID)
	}
	assert.Equal(t, int64(1), h.resultCache.HitCount(ctx, first.Search.CacheKey))
}

func TestRunSearch_CacheNotSharedAcrossUsers(t *testing.T) {
	h := newHarness(t)
	h.expectWoodenDesk()
	h.provider.On("Search", mock.Anything, mock.Anything).Return(deskListings(5), nil)
	ctx := context.Background()

	alice, err := h.orch.RunSearch(ctx, "alice", "wooden desk under $200")
	require.NoError(t, err)
	bob, err := h.orch.RunSearch(ctx, "bob", "wooden desk under $200")
	require.NoError(t, err)

	h.provider.AssertNumberOfCalls(t, "Search", 2)
	assert.Equal(t, entities.ResultSourceProvider, bob.Search.ResultSource)
	assert.NotEqual(t, alice.Search.CacheKey, bob.Search.CacheKey)
	require.NotEmpty(t, bob.Products)
	assert.NotEqual(t, alice.Products[0].ID, bob.Products[0].ID)
}

func TestRunSearch_ReexecutesAfterTTL(t *testing.T) {
	h := newHarness(t)
	h.expectWoodenDesk()
	h.provider.On("Search", mock.Anything, mock.Anything).Return(deskListings(5), nil)
	ctx := context.Background()

	_, err := h.orch.RunSearch(ctx, testUser, "wooden desk under $200")
	require.NoError(t, err)

	h.clock.Advance(time.Hour + time.Second)
	again, err := h.orch.RunSearch(ctx, testUser, "wooden desk under $200")
	require.NoError(t, err)

	h.provider.AssertNumberOfCalls(t, "Search", 2)
	assert.Equal(t, entities.ResultSourceProvider, again.Search.ResultSource)
}

func TestRunSearch_ExtractionFailure(t *testing.T) {
	h := newHarness(t)
	h.nlu.On("Interpret", mock.Anything, taskIs(providers.NLUTaskExtractParams)).
		Return(fields(`{"query":"   ","max_price":"lots"}`), nil)
	h.nlu.On("Interpret", mock.Anything, taskIs(providers.NLUTaskExtractPreferences)).
		Return(fields(`{"preferences":[]}`), nil)

	_, err := h.orch.RunSearch(context.Background(), testUser, "uhh")
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeExtractionFailure))

	searches, _ := h.searches.ListByUser(context.Background(), testUser, 10)
	require.Len(t, searches, 1)
	assert.Equal(t, entities.SearchStatusFailed, searches[0].Status)
	require.NotNil(t, searches[0].ErrorReason)
	assert.Equal(t, services.RepeatPrompt, *searches[0].ErrorReason)
	h.provider.AssertNotCalled(t, "Search", mock.Anything, mock.Anything)
}

func TestRunSearch_ProviderUnavailableDegrades(t *testing.T) {
	h := newHarness(t)
	h.expectWoodenDesk()
	h.provider.On("Search", mock.Anything, mock.Anything).Return(nil, errors.New("upstream 503"))
	h.catalog.listings = deskListings(2)

	result, err := h.orch.RunSearch(context.Background(), testUser, "wooden desk under $200")
	require.NoError(t, err)

	h.provider.AssertNumberOfCalls(t, "Search", 2)
	assert.Equal(t, entities.SearchStatusCompleted, result.Search.Status)
	assert.True(t, result.Search.Degraded)
	assert.Equal(t, entities.ResultSourceFallback, result.Search.ResultSource)
	assert.Len(t, result.Products, 2)

	_, cached := h.resultCache.Lookup(context.Background(), result.Search.CacheKey)
	assert.False(t, cached, "degraded results must not be cached")
}

func TestRunRefinement_CheaperOptions(t *testing.T) {
	h := newHarness(t)
	h.expectWoodenDesk()
	h.provider.On("Search", mock.Anything, mock.Anything).Return(deskListings(5), nil)
	h.nlu.On("Interpret", mock.Anything, taskIs(providers.NLUTaskDetectRefinement)).
		Return(fields(`{"is_refinement":true,"type":"price_lower","target_percentage":20}`), nil)
	ctx := context.Background()

	parent, err := h.orch.RunSearch(ctx, testUser, "wooden desk under $200")
	require.NoError(t, err)
	parentProducts, _ := h.products.ListBySearch(ctx, parent.Search.ID)

	child, err := h.orch.RunRefinement(ctx, testUser, parent.Search.ID, "find cheaper options")
	require.NoError(t, err)

	assert.NotEqual(t, parent.Search.ID, child.Search.ID)
	require.NotNil(t, child.Search.ParentSearchID)
	assert.Equal(t, parent.Search.ID, *child.Search.ParentSearchID)
	require.NotNil(t, child.Search.Params.MaxPrice)
	assert.Equal(t, 160.0, *child.Search.Params.MaxPrice)
	assert.Equal(t, "desk", child.Search.Params.Query)

	storedParent, err := h.searches.GetByID(ctx, testUser, parent.Search.ID)
	require.NoError(t, err)
	assert.Equal(t, 200.0, *storedParent.Params.MaxPrice)
	after, _ := h.products.ListBySearch(ctx, parent.Search.ID)
	assert.Equal(t, parentProducts, after)

	require.Len(t, h.refinements.records, 1)
	assert.Equal(t, entities.RefinementPriceLower, h.refinements.records[0].Type)
	assert.Equal(t, child.Search.ID, h.refinements.records[0].ChildSearchID)
	assert.Equal(t, entities.SearchEventRefined, h.events.events[len(h.events.events)-1].Type)
}

func TestRunRefinement_NotARefinementBecomesCustom(t *testing.T) {
	h := newHarness(t)
	h.expectWoodenDesk()
	h.provider.On("Search", mock.Anything, mock.Anything).Return(deskListings(3), nil)
	h.nlu.On("Interpret", mock.Anything, taskIs(providers.NLUTaskDetectRefinement)).
		Return(fields(`{"is_refinement":false}`), nil)
	ctx := context.Background()

	parent, err := h.orch.RunSearch(ctx, testUser, "wooden desk under $200")
	require.NoError(t, err)

	child, err := h.orch.RunRefinement(ctx, testUser, parent.Search.ID, "with drawers")
	require.NoError(t, err)
	assert.Equal(t, "desk with drawers", child.Search.Params.Query)
	assert.Equal(t, entities.RefinementCustom, h.refinements.records[0].Type)
}

func TestRunRefinement_UnknownParentIsNotFound(t *testing.T) {
	h := newHarness(t)
	_, err := h.orch.RunRefinement(context.Background(), testUser, "missing", "cheaper")
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeNotFound))
}

func TestRunRefinement_OtherUsersSearchIsNotFound(t *testing.T) {
	h := newHarness(t)
	h.expectWoodenDesk()
	h.provider.On("Search", mock.Anything, mock.Anything).Return(deskListings(2), nil)
	ctx := context.Background()

	parent, err := h.orch.RunSearch(ctx, testUser, "wooden desk under $200")
	require.NoError(t, err)

	_, err = h.orch.RunRefinement(ctx, "someone-else", parent.Search.ID, "cheaper")
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeNotFound))
}

func TestHandleUtterance_RefineWithoutActiveSearchRunsSearch(t *testing.T) {
	h := newHarness(t)
	h.expectWoodenDesk()
	h.provider.On("Search", mock.Anything, mock.Anything).Return(deskListings(2), nil)
	h.nlu.On("Interpret", mock.Anything, taskIs(providers.NLUTaskSelectTool)).
		Return(toolCall("refine_search", `{"instruction":"cheaper"}`), nil)

	outcome, err := h.orch.HandleUtterance(context.Background(), testUser, "wooden desk under $200", "")
	require.NoError(t, err)
	assert.Equal(t, entities.ToolSearchProducts, outcome.Intent)
	require.NotNil(t, outcome.Search)
	assert.Nil(t, outcome.Search.Search.ParentSearchID)
}

func TestHandleUtterance_UnknownToolRejected(t *testing.T) {
	h := newHarness(t)
	h.nlu.On("Interpret", mock.Anything, taskIs(providers.NLUTaskSelectTool)).
		Return(toolCall("delete_account", `{}`), nil)

	_, err := h.orch.HandleUtterance(context.Background(), testUser, "delete everything", "")
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeExtractionFailure))
}

func TestHandleUtterance_SaveAndRemovePreference(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.nlu.On("Interpret", mock.Anything, taskIs(providers.NLUTaskSelectTool)).
		Return(toolCall("save_preference", `{"category":"color","tag":"navy blue","priority":9}`), nil).Once()

	saved, err := h.orch.HandleUtterance(ctx, testUser, "remember I like navy blue", "")
	require.NoError(t, err)
	require.NotNil(t, saved.Preference)
	assert.Equal(t, entities.ProvenanceManual, saved.Preference.Provenance)
	assert.Equal(t, 9, saved.Preference.Priority)

	h.nlu.On("Interpret", mock.Anything, taskIs(providers.NLUTaskSelectTool)).
		Return(toolCall("remove_preference", `{"tag":"Navy Blue"}`), nil).Once()
	removed, err := h.orch.HandleUtterance(ctx, testUser, "forget navy blue", "")
	require.NoError(t, err)
	assert.Equal(t, saved.Preference.ID, removed.RemovedPreference)
	assert.Equal(t, 0, h.prefs.count())
}

func TestRunSearch_RateLimited(t *testing.T) {
	h := newHarness(t)
	h.orch.Limiter = services.NewRateLimiter(h.cache, 1, time.Minute)
	h.expectWoodenDesk()
	h.provider.On("Search", mock.Anything, mock.Anything).Return(deskListings(1), nil)
	ctx := context.Background()

	_, err := h.orch.RunSearch(ctx, testUser, "wooden desk under $200")
	require.NoError(t, err)

	_, err = h.orch.RunSearch(ctx, testUser, "wooden desk under $200")
	appErr, ok := apperrors.As(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.ErrorTypeQuotaExceeded, appErr.Type)
	assert.Equal(t, 1, appErr.Limit)
}

func TestRunSearch_PersonalizationAddsHighPriorityPreferences(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.store.AddManual(ctx, testUser, "color", "black", 9)
	require.NoError(t, err)
	_, err = h.store.AddManual(ctx, testUser, "style", "rustic", 4)
	require.NoError(t, err)

	h.expectWoodenDesk()
	var sent providers.ProductQuery
	h.provider.On("Search", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { sent = args.Get(1).(providers.ProductQuery) }).
		Return(deskListings(2), nil)

	result, err := h.orch.RunSearch(ctx, testUser, "wooden desk under $200")
	require.NoError(t, err)

	assert.Equal(t, []string{"black"}, result.Search.Params.PreferenceTerms)
	assert.Contains(t, sent.Features, "black")
	assert.NotContains(t, sent.Features, "rustic")
}

func TestGetProduct_ResolvesVoiceReference(t *testing.T) {
	h := newHarness(t)
	h.expectWoodenDesk()
	listings := deskListings(3)
	listings[1].Price = "Contact for price"
	h.provider.On("Search", mock.Anything, mock.Anything).Return(listings, nil)
	ctx := context.Background()

	result, err := h.orch.RunSearch(ctx, testUser, "wooden desk under $200")
	require.NoError(t, err)

	p, err := h.orch.GetProduct(ctx, testUser, result.Search.ID, 3)
	require.NoError(t, err)
	assert.Equal(t, "Oak desk 3", p.Title)

	_, err = h.orch.GetProduct(ctx, testUser, result.Search.ID, 9)
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeNotFound))
}
