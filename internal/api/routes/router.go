package routes

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/zatekoja/voiceshop/backend/internal/api/handlers"
	"github.com/zatekoja/voiceshop/backend/internal/api/loaders"
	"github.com/zatekoja/voiceshop/backend/internal/api/middleware"
	"github.com/zatekoja/voiceshop/backend/internal/domain/repositories"
	"github.com/zatekoja/voiceshop/backend/internal/infrastructure/observability"
)

// Router holds all route handlers
type Router struct {
	mux *http.ServeMux

	searchHandler     *handlers.SearchHandler
	preferenceHandler *handlers.PreferenceHandler
	transcriptHandler *handlers.TranscriptHandler
	sseHandler        *handlers.SSEHandler

	auth           *middleware.Authenticator
	products       repositories.ProductRepository
	allowedOrigins []string
	metrics        *observability.Metrics
	readiness      map[string]ReadinessCheck
}

// ReadinessCheck reports whether one backing service is reachable
type ReadinessCheck func(ctx context.Context) error

// RouterDeps collects what the router wires together
type RouterDeps struct {
	SearchHandler     *handlers.SearchHandler
	PreferenceHandler *handlers.PreferenceHandler
	TranscriptHandler *handlers.TranscriptHandler
	SSEHandler        *handlers.SSEHandler
	Auth              *middleware.Authenticator
	Products          repositories.ProductRepository
	AllowedOrigins    []string
	Metrics           *observability.Metrics
	Readiness         map[string]ReadinessCheck
}

// NewRouter creates a new router
func NewRouter(deps RouterDeps) *Router {
	return &Router{
		mux:               http.NewServeMux(),
		searchHandler:     deps.SearchHandler,
		preferenceHandler: deps.PreferenceHandler,
		transcriptHandler: deps.TranscriptHandler,
		sseHandler:        deps.SSEHandler,
		auth:              deps.Auth,
		products:          deps.Products,
		allowedOrigins:    deps.AllowedOrigins,
		metrics:           deps.Metrics,
		readiness:         deps.Readiness,
	}
}

// protected registers a route behind bearer authentication
func (r *Router) protected(pattern string, h http.HandlerFunc) {
	r.mux.Handle(pattern, r.auth.Middleware(h))
}

// withLoaders attaches request-scoped dataloaders after routing, so the mux
// still records the matched pattern on the outer request
func (r *Router) withLoaders(h http.HandlerFunc) http.HandlerFunc {
	if r.products == nil {
		return h
	}
	return loaders.Middleware(r.products)(h).ServeHTTP
}

// SetupRoutes configures all application routes. Handlers left nil are not
// mounted, which lets the SSE server reuse the router with only the stream.
func (r *Router) SetupRoutes() http.Handler {
	r.mux.HandleFunc("GET /health", func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("OK")); err != nil {
			return
		}
	})
	r.mux.HandleFunc("GET /health/ready", r.ready)

	if r.searchHandler != nil {
		r.protected("POST /api/searches", r.searchHandler.CreateSearch)
		r.protected("GET /api/searches", r.withLoaders(r.searchHandler.ListSearches))
		r.protected("GET /api/searches/{id}", r.searchHandler.GetSearch)
		r.protected("GET /api/searches/{id}/products/{number}", r.searchHandler.GetProduct)
		r.protected("POST /api/searches/{id}/refinements", r.searchHandler.RefineSearch)
		r.protected("POST /api/utterances", r.searchHandler.HandleUtterance)
	}

	if r.preferenceHandler != nil {
		r.protected("GET /api/preferences", r.preferenceHandler.ListPreferences)
		r.protected("POST /api/preferences", r.preferenceHandler.AddPreference)
		r.protected("DELETE /api/preferences/{id}", r.preferenceHandler.DeletePreference)
	}

	if r.transcriptHandler != nil {
		r.protected("POST /api/transcripts", r.transcriptHandler.RecordTranscript)
		r.protected("GET /api/transcripts", r.transcriptHandler.ListTranscripts)
	}

	if r.sseHandler != nil {
		r.protected("GET /api/stream/searches", r.sseHandler.StreamSearches)
	}

	// Apply middleware in reverse order (last middleware wraps first).
	// CORS stays outermost so error responses also carry its headers.
	var handler http.Handler = r.mux
	handler = middleware.RecoveryMiddleware(handler)
	handler = middleware.LoggingMiddleware(handler)
	handler = middleware.ObservabilityMiddleware(r.metrics)(handler)
	handler = middleware.CORSMiddleware(r.allowedOrigins)(handler)

	return handler
}

// ready runs every readiness check under one short deadline
func (r *Router) ready(w http.ResponseWriter, req *http.Request) {
	ctx, cancel := context.WithTimeout(req.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	checks := make(map[string]string, len(r.readiness))
	for name, check := range r.readiness {
		if err := check(ctx); err != nil {
			status = http.StatusServiceUnavailable
			checks[name] = err.Error()
			continue
		}
		checks[name] = "ok"
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"ready":  status == http.StatusOK,
		"checks": checks,
	})
}
