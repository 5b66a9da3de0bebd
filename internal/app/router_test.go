package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	httpserver "github.com/fairyhunter13/ai-prompt-broker/internal/adapter/httpserver"
	"github.com/fairyhunter13/ai-prompt-broker/internal/broker"
	"github.com/fairyhunter13/ai-prompt-broker/internal/config"
)

func TestParseOrigins(t *testing.T) {
	t.Parallel()

	assert.Equal(t, []string{"*"}, ParseOrigins(""))
	assert.Equal(t, []string{"*"}, ParseOrigins("*"))
	assert.Equal(t, []string{"*"}, ParseOrigins(" , "))
	assert.Equal(t, []string{"https://a.example", "https://b.example"},
		ParseOrigins(" https://a.example, https://b.example "))
}

func testRouter(t *testing.T) (http.Handler, *broker.Broker) {
	t.Helper()
	mc := clock.NewMock()
	mc.Set(time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC))
	b := broker.New(broker.Options{Clock: mc})
	cfg := config.Config{AppEnv: "test", RateLimitPerMin: 90, CORSAllowOrigins: "*"}
	srv := httpserver.NewServer(cfg, b, func(context.Context) error { return nil })
	return BuildRouter(cfg, srv), b
}

func TestBuildRouter_OpsEndpoints(t *testing.T) {
	t.Parallel()
	h, _ := testRouter(t)

	for _, path := range []string{"/healthz", "/readyz", "/metrics"} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		require.Equal(t, http.StatusOK, rec.Code, path)
	}
}

func TestBuildRouter_RoutesWired(t *testing.T) {
	t.Parallel()
	h, b := testRouter(t)

	u, err := b.RegisterUser(context.Background(), "ann", "ann@example.com", "")
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	body := strings.NewReader(`{"api_key":"` + u.APIKey + `","prompt":"hi"}`)
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/generate/async", body))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/models", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/generate/prompt/unknown", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)

	// Security headers ride on every response.
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))
}
