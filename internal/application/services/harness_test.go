package services_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/zatekoja/voiceshop/backend/internal/application/services"
	"github.com/zatekoja/voiceshop/backend/internal/domain/entities"
)

const testUser = "user-1"

type harness struct {
	nlu         *MockNLU
	provider    *MockProductSearch
	catalog     *memCatalog
	cache       *memCache
	events      *memEventBus
	searches    *memSearchRepo
	products    *memProductRepo
	prefs       *memPreferenceRepo
	refinements *memRefinementRepo
	transcripts *memTranscriptRepo
	clock       *fakeClock
	resultCache *services.ResultCache
	store       *services.PreferenceStore
	orch        *services.SearchOrchestrator
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		nlu:         &MockNLU{},
		provider:    &MockProductSearch{},
		catalog:     &memCatalog{},
		cache:       newMemCache(),
		events:      &memEventBus{},
		searches:    newMemSearchRepo(),
		products:    newMemProductRepo(),
		prefs:       newMemPreferenceRepo(),
		refinements: &memRefinementRepo{},
		transcripts: &memTranscriptRepo{},
		clock:       newFakeClock(),
	}

	h.resultCache = services.NewResultCache(h.cache, time.Hour, nil).WithClock(h.clock.Now)
	h.store = services.NewPreferenceStore(h.prefs, h.nlu, &memLocker{}, services.PreferenceSettings{
		MaxPerUser:      50,
		ExpiryWindow:    30 * 24 * time.Hour,
		ConfidenceFloor: 3,
		Currency:        "USD",
	}, nil).WithClock(h.clock.Now)

	h.orch = services.NewSearchOrchestrator(services.SearchOrchestratorDeps{
		Searches:    h.searches,
		Products:    h.products,
		Refinements: h.refinements,
		Extractor:   services.NewParameterExtractor(h.nlu, nil),
		Executor:    services.NewSearchExecutor(h.provider, h.catalog, 5, time.Millisecond, nil),
		Normalizer:  services.NewResultNormalizer(5, "USD"),
		Cache:       h.resultCache,
		Preferences: h.store,
		Detector:    services.NewRefinementDetector(h.nlu, h.store, nil),
		Applier:     services.NewRefinementApplier(20),
		Transcripts: services.NewTranscriptService(h.transcripts),
		Limiter:     services.NewRateLimiter(h.cache, 100, time.Minute),
		Catalog:     h.catalog,
		Events:      h.events,
		NLU:         h.nlu,
	}, services.SearchSettings{
		HistoryTurns:            6,
		PersonalizationPriority: 7,
		PersonalizationLimit:    3,
	}).WithClock(h.clock.Now)
	return h
}

func deskListings(n int) []entities.RawListing {
	out := make([]entities.RawListing, 0, n)
	for i := 1; i <= n; i++ {
		out = append(out, entities.RawListing{
			Title:  fmt.Sprintf("Oak desk %d", i),
			Price:  fmt.Sprintf("$%d.99", 100+i*10),
			Source: "shop.example",
			URL:    fmt.Sprintf("https://shop.example/desk/%d", i),
		})
	}
	return out
}

func ptr[T any](v T) *T {
	return &v
}
