package services_test

import (
	"context"
	"encoding/json"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/zatekoja/voiceshop/backend/internal/domain/entities"
	"github.com/zatekoja/voiceshop/backend/internal/domain/providers"
	"github.com/zatekoja/voiceshop/backend/internal/domain/repositories"
	apperrors "github.com/zatekoja/voiceshop/backend/pkg/errors"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// MockNLU is a testify mock of the language collaborator
type MockNLU struct {
	mock.Mock
}

func (m *MockNLU) Interpret(ctx context.Context, req providers.NLURequest) (*providers.NLUResponse, error) {
	args := m.Called(ctx, req)
	resp, _ := args.Get(0).(*providers.NLUResponse)
	return resp, args.Error(1)
}

func taskIs(task providers.NLUTask) interface{} {
	return mock.MatchedBy(func(req providers.NLURequest) bool { return req.Task == task })
}

func fields(js string) *providers.NLUResponse {
	return &providers.NLUResponse{Fields: json.RawMessage(js)}
}

func toolCall(name, args string) *providers.NLUResponse {
	return &providers.NLUResponse{ToolCall: &entities.ToolCall{Name: name, Arguments: json.RawMessage(args)}}
}

// MockProductSearch is a testify mock of the product-search collaborator
type MockProductSearch struct {
	mock.Mock
}

func (m *MockProductSearch) Name() string { return "mock" }

func (m *MockProductSearch) Search(ctx context.Context, q providers.ProductQuery) ([]entities.RawListing, error) {
	args := m.Called(ctx, q)
	listings, _ := args.Get(0).([]entities.RawListing)
	return listings, args.Error(1)
}

type memCatalog struct {
	mu       sync.Mutex
	indexed  []*entities.Product
	listings []entities.RawListing
	err      error
}

func (c *memCatalog) Index(ctx context.Context, products []*entities.Product) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.indexed = append(c.indexed, products...)
	return nil
}

func (c *memCatalog) Search(ctx context.Context, q providers.ProductQuery) ([]entities.RawListing, error) {
	return c.listings, c.err
}

type memCache struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemCache() *memCache {
	return &memCache{data: make(map[string][]byte)}
}

func (c *memCache) Get(ctx context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.data[key]
	if !ok {
		return nil, providers.ErrCacheMiss
	}
	return v, nil
}

func (c *memCache) Set(ctx context.Context, key string, value []byte, expirationSeconds int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = value
	return nil
}

func (c *memCache) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, key)
	return nil
}

func (c *memCache) Exists(ctx context.Context, key string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.data[key]
	return ok, nil
}

func (c *memCache) Increment(ctx context.Context, key string, expirationSeconds int) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n, _ := strconv.ParseInt(string(c.data[key]), 10, 64)
	n++
	c.data[key] = []byte(strconv.FormatInt(n, 10))
	return n, nil
}

type memLocker struct {
	mu sync.Mutex
}

func (l *memLocker) Lock(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	l.mu.Lock()
	return l.mu.Unlock, nil
}

type memEventBus struct {
	mu     sync.Mutex
	events []*entities.SearchEvent
}

func (b *memEventBus) Publish(ctx context.Context, channel string, event *entities.SearchEvent) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, event)
	return nil
}

func (b *memEventBus) Subscribe(ctx context.Context, channel string) (<-chan *entities.SearchEvent, error) {
	return make(chan *entities.SearchEvent), nil
}

func (b *memEventBus) Unsubscribe(ctx context.Context, channel string) error { return nil }
func (b *memEventBus) Close() error                                           { return nil }

type memSearchRepo struct {
	mu   sync.Mutex
	rows map[string]entities.SearchRequest
	seq  []string
}

func newMemSearchRepo() *memSearchRepo {
	return &memSearchRepo{rows: make(map[string]entities.SearchRequest)}
}

func (r *memSearchRepo) Create(ctx context.Context, s *entities.SearchRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *s
	cp.Params = s.Params.Clone()
	r.rows[s.ID] = cp
	r.seq = append(r.seq, s.ID)
	return nil
}

func (r *memSearchRepo) Update(ctx context.Context, s *entities.SearchRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rows[s.ID]; !ok {
		return apperrors.NewNotFoundError("search not found")
	}
	cp := *s
	cp.Params = s.Params.Clone()
	r.rows[s.ID] = cp
	return nil
}

func (r *memSearchRepo) GetByID(ctx context.Context, userID, id string) (*entities.SearchRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.rows[id]
	if !ok || s.UserID != userID {
		return nil, apperrors.NewNotFoundError("search not found")
	}
	s.Params = s.Params.Clone()
	return &s, nil
}

func (r *memSearchRepo) ListByUser(ctx context.Context, userID string, limit int) ([]*entities.SearchRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*entities.SearchRequest
	for i := len(r.seq) - 1; i >= 0 && len(out) < limit; i-- {
		s := r.rows[r.seq[i]]
		if s.UserID == userID {
			out = append(out, &s)
		}
	}
	return out, nil
}

type memProductRepo struct {
	mu   sync.Mutex
	rows map[string][]entities.Product
}

func newMemProductRepo() *memProductRepo {
	return &memProductRepo{rows: make(map[string][]entities.Product)}
}

func (r *memProductRepo) CreateBatch(ctx context.Context, products []*entities.Product) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range products {
		for _, existing := range r.rows[p.SearchRequestID] {
			if existing.SequenceNumber == p.SequenceNumber {
				return apperrors.NewConflictError("duplicate sequence number")
			}
		}
		r.rows[p.SearchRequestID] = append(r.rows[p.SearchRequestID], *p)
	}
	return nil
}

func (r *memProductRepo) ListBySearch(ctx context.Context, searchID string) ([]*entities.Product, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*entities.Product, 0, len(r.rows[searchID]))
	for _, p := range r.rows[searchID] {
		p := p
		out = append(out, &p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SequenceNumber < out[j].SequenceNumber })
	return out, nil
}

func (r *memProductRepo) ListBySearchIDs(ctx context.Context, ids []string) (map[string][]*entities.Product, error) {
	out := make(map[string][]*entities.Product, len(ids))
	for _, id := range ids {
		products, _ := r.ListBySearch(ctx, id)
		out[id] = products
	}
	return out, nil
}

func (r *memProductRepo) GetBySequence(ctx context.Context, searchID string, sequence int) (*entities.Product, error) {
	products, _ := r.ListBySearch(ctx, searchID)
	for _, p := range products {
		if p.SequenceNumber == sequence {
			return p, nil
		}
	}
	return nil, apperrors.NewNotFoundError("product not found")
}

func (r *memProductRepo) ListCreatedSince(ctx context.Context, since time.Time, limit, offset int) ([]*entities.Product, error) {
	r.mu.Lock()
	var all []*entities.Product
	for _, rows := range r.rows {
		for _, p := range rows {
			p := p
			if !p.CreatedAt.Before(since) {
				all = append(all, &p)
			}
		}
	}
	r.mu.Unlock()
	sort.Slice(all, func(i, j int) bool {
		if all[i].SearchRequestID != all[j].SearchRequestID {
			return all[i].SearchRequestID < all[j].SearchRequestID
		}
		return all[i].SequenceNumber < all[j].SequenceNumber
	})
	if offset >= len(all) {
		return nil, nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], nil
}

type memPreferenceRepo struct {
	mu   sync.Mutex
	rows map[string]entities.Preference
}

func newMemPreferenceRepo() *memPreferenceRepo {
	return &memPreferenceRepo{rows: make(map[string]entities.Preference)}
}

func (r *memPreferenceRepo) Create(ctx context.Context, p *entities.Preference) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows[p.ID] = *p
	return nil
}

func (r *memPreferenceRepo) Update(ctx context.Context, p *entities.Preference) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rows[p.ID]; !ok {
		return apperrors.NewNotFoundError("preference not found")
	}
	r.rows[p.ID] = *p
	return nil
}

func (r *memPreferenceRepo) GetByID(ctx context.Context, userID, id string) (*entities.Preference, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.rows[id]
	if !ok || p.UserID != userID {
		return nil, apperrors.NewNotFoundError("preference not found")
	}
	return &p, nil
}

func (r *memPreferenceRepo) ListByUser(ctx context.Context, userID string, filter repositories.PreferenceFilter) ([]*entities.Preference, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*entities.Preference
	for _, p := range r.rows {
		p := p
		if p.UserID != userID {
			continue
		}
		if filter.Category != nil && p.Category != *filter.Category {
			continue
		}
		if filter.ActiveAt != nil && !p.ExpiresAt.After(*filter.ActiveAt) {
			continue
		}
		out = append(out, &p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (r *memPreferenceRepo) Delete(ctx context.Context, userID, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.rows[id]
	if !ok || p.UserID != userID {
		return apperrors.NewNotFoundError("preference not found")
	}
	delete(r.rows, id)
	return nil
}

func (r *memPreferenceRepo) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, p := range r.rows {
		if !p.ExpiresAt.After(before) {
			delete(r.rows, id)
			n++
		}
	}
	return n, nil
}

func (r *memPreferenceRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rows)
}

type memRefinementRepo struct {
	mu      sync.Mutex
	records []entities.RefinementRecord
}

func (r *memRefinementRepo) Create(ctx context.Context, rec *entities.RefinementRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, *rec)
	return nil
}

func (r *memRefinementRepo) ListByParent(ctx context.Context, userID, parentID string) ([]*entities.RefinementRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*entities.RefinementRecord
	for _, rec := range r.records {
		rec := rec
		if rec.UserID == userID && rec.ParentSearchID == parentID {
			out = append(out, &rec)
		}
	}
	return out, nil
}

type memTranscriptRepo struct {
	mu      sync.Mutex
	entries []entities.TranscriptEntry
}

func (r *memTranscriptRepo) Create(ctx context.Context, e *entities.TranscriptEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, *e)
	return nil
}

func (r *memTranscriptRepo) FindByDedupKey(ctx context.Context, userID, sessionID, key string) (*entities.TranscriptEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.entries {
		e := e
		if e.UserID == userID && e.SessionID == sessionID && e.DedupKey == key {
			return &e, nil
		}
	}
	return nil, nil
}

func (r *memTranscriptRepo) ListRecent(ctx context.Context, userID string, limit int) ([]*entities.TranscriptEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*entities.TranscriptEntry
	for i := len(r.entries) - 1; i >= 0 && len(out) < limit; i-- {
		e := r.entries[i]
		if e.UserID == userID {
			out = append(out, &e)
		}
	}
	return out, nil
}
