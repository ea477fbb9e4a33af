package routes

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zatekoja/voiceshop/backend/internal/api/handlers"
	"github.com/zatekoja/voiceshop/backend/internal/api/middleware"
	"github.com/zatekoja/voiceshop/backend/internal/domain/entities"
)

type stubPreferences struct{}

func (stubPreferences) List(ctx context.Context, userID string, category *entities.PreferenceCategory) ([]*entities.Preference, error) {
	return []*entities.Preference{{ID: "p-1", UserID: userID, Tag: "leather"}}, nil
}

func (stubPreferences) AddManual(ctx context.Context, userID, category, tag string, priority int) (*entities.Preference, error) {
	return &entities.Preference{ID: "p-2", UserID: userID, Tag: tag}, nil
}

func (stubPreferences) Remove(ctx context.Context, userID, id string) error { return nil }

func newTestRouter() http.Handler {
	return NewRouter(RouterDeps{
		PreferenceHandler: handlers.NewPreferenceHandler(stubPreferences{}),
		Auth:              middleware.NewAuthenticator("secret", ""),
		AllowedOrigins:    []string{"*"},
	}).SetupRoutes()
}

func bearer(t *testing.T, subject string) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString([]byte("secret"))
	require.NoError(t, err)
	return "Bearer " + token
}

func TestRouter_HealthIsPublic(t *testing.T) {
	w := httptest.NewRecorder()
	newTestRouter().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "OK", w.Body.String())
}

func TestRouter_APIRequiresToken(t *testing.T) {
	router := newTestRouter()

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/preferences", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/preferences", nil)
	req.Header.Set("Authorization", bearer(t, "user-7"))
	req.Header.Set("Origin", "https://shop.example")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"user_id":"user-7"`)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestRouter_UnmountedHandlersAre404(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/api/searches", nil)
	req.Header.Set("Authorization", bearer(t, "user-7"))
	w := httptest.NewRecorder()
	newTestRouter().ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRouter_ReadinessReportsFailingDependency(t *testing.T) {
	router := NewRouter(RouterDeps{
		Readiness: map[string]ReadinessCheck{
			"postgres": func(ctx context.Context) error { return nil },
			"redis":    func(ctx context.Context) error { return errors.New("connection refused") },
		},
	}).SetupRoutes()

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	var body struct {
		Ready  bool              `json:"ready"`
		Checks map[string]string `json:"checks"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.False(t, body.Ready)
	assert.Equal(t, "ok", body.Checks["postgres"])
	assert.Equal(t, "connection refused", body.Checks["redis"])
}
