// Package app wires the HTTP surface and the background loops of the
// brokering cluster.
package app

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	httpserver "github.com/fairyhunter13/ai-prompt-broker/internal/adapter/httpserver"
	"github.com/fairyhunter13/ai-prompt-broker/internal/adapter/observability"
	"github.com/fairyhunter13/ai-prompt-broker/internal/config"
)

// ParseOrigins splits a comma-separated origin list into a slice, trimming spaces.
// If the input is empty, returns ["*"].
func ParseOrigins(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return []string{"*"}
	}
	if s == "*" {
		return []string{"*"}
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return []string{"*"}
	}
	return out
}

// BuildRouter constructs the HTTP handler with all middlewares and routes.
// There is deliberately no global timeout middleware: synchronous submits
// hold their response until the prompt completes or expires.
func BuildRouter(cfg config.Config, srv *httpserver.Server) http.Handler {
	r := chi.NewRouter()
	// Security & instrumentation middleware
	r.Use(httpserver.Recoverer())
	r.Use(httpserver.RequestID())
	r.Use(httpserver.TraceMiddleware)
	r.Use(httpserver.AccessLog())
	r.Use(observability.HTTPMetricsMiddleware)

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   ParseOrigins(cfg.CORSAllowOrigins),
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// Rate limit mutating endpoints
	r.Group(func(wr chi.Router) {
		wr.Use(httprate.LimitByIP(cfg.RateLimitPerMin, 1*time.Minute))
		wr.Post("/register", srv.RegisterHandler())
		wr.Post("/generate/sync", srv.GenerateSyncHandler())
		wr.Post("/generate/async", srv.GenerateAsyncHandler())
		wr.Post("/generate/pop", srv.PopHandler())
		wr.Post("/generate/submit", srv.SubmitHandler())
	})

	// Read-only endpoints
	r.Get("/generate/prompt/{id}", srv.PromptStatusHandler())
	r.Get("/servers", srv.ServersHandler())
	r.Get("/servers/{id}", srv.ServerDetailHandler())
	r.Get("/models", srv.ModelsHandler())
	r.Get("/usage", srv.UsageHandler())
	r.Get("/contributions", srv.ContributionsHandler())
	r.Get("/stats", srv.StatsHandler())

	// Health and metrics
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) { promhttp.Handler().ServeHTTP(w, r) })
	r.Get("/readyz", srv.ReadyzHandler())

	return httpserver.SecurityHeaders(r)
}
