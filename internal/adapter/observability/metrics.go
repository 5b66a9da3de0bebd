package observability

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "method", "status"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"route", "method"},
	)

	PromptsSubmittedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "prompts_submitted_total",
			Help: "Total number of prompts admitted to the queue, by submission mode",
		},
		[]string{"mode"},
	)
	PromptsExpiredTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "prompts_expired_total",
			Help: "Total number of prompts expired by the sweeper",
		},
	)

	GenerationsDispatchedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "generations_dispatched_total",
			Help: "Total number of generation units handed to workers",
		},
	)
	GenerationsCompletedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "generations_completed_total",
			Help: "Total number of generation units completed by workers",
		},
	)
	PopSkipsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pop_skips_total",
			Help: "Prompts skipped during pop matching, by first failed check",
		},
		[]string{"reason"},
	)

	KudosAwardedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "kudos_awarded_total",
			Help: "Total kudos credited to contributing users",
		},
	)

	WaitingPrompts = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "waiting_prompts",
			Help: "Prompts currently queued with unserved units",
		},
	)
	ProcessingGenerations = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "processing_generations",
			Help: "Generation units currently held by workers",
		},
	)
	ActiveWorkers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "active_workers",
			Help: "Workers that checked in within the stale window",
		},
	)
)

func InitMetrics() {
	prometheus.MustRegister(HTTPRequestsTotal)
	prometheus.MustRegister(HTTPRequestDuration)
	prometheus.MustRegister(PromptsSubmittedTotal)
	prometheus.MustRegister(PromptsExpiredTotal)
	prometheus.MustRegister(GenerationsDispatchedTotal)
	prometheus.MustRegister(GenerationsCompletedTotal)
	prometheus.MustRegister(PopSkipsTotal)
	prometheus.MustRegister(KudosAwardedTotal)
	prometheus.MustRegister(WaitingPrompts)
	prometheus.MustRegister(ProcessingGenerations)
	prometheus.MustRegister(ActiveWorkers)
}

// HTTPMetricsMiddleware records Prometheus metrics for each request.
func HTTPMetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		dur := time.Since(start).Seconds()
		// Route pattern may be unavailable outside chi router; guard nil
		var route string
		if rc := chi.RouteContext(r.Context()); rc != nil {
			route = rc.RoutePattern()
		}
		if route == "" {
			// fallback when route pattern is unavailable
			route = r.URL.Path
		}
		method := r.Method
		status := ww.Status()
		HTTPRequestsTotal.WithLabelValues(route, method, http.StatusText(status)).Inc()
		HTTPRequestDuration.WithLabelValues(route, method).Observe(dur)
	})
}

func RecordPromptSubmitted(mode string) {
	PromptsSubmittedTotal.WithLabelValues(mode).Inc()
}

func RecordDispatch() {
	GenerationsDispatchedTotal.Inc()
}

// RecordPopSkips flattens the per-reason skip counts a pop reported.
func RecordPopSkips(skipped map[string]int) {
	for reason, n := range skipped {
		if n <= 0 {
			continue
		}
		PopSkipsTotal.WithLabelValues(reason).Add(float64(n))
	}
}

// RecordCompletion counts one finished unit and the kudos it produced.
func RecordCompletion(kudos int64) {
	GenerationsCompletedTotal.Inc()
	if kudos > 0 {
		KudosAwardedTotal.Add(float64(kudos))
	}
}

func RecordPromptsExpired(n int) {
	if n > 0 {
		PromptsExpiredTotal.Add(float64(n))
	}
}

// UpdateQueueGauges refreshes the point-in-time cluster gauges. The sweeper
// calls this on every pass with fresh aggregate counts.
func UpdateQueueGauges(waitingPrompts, processingUnits, activeWorkers int) {
	WaitingPrompts.Set(float64(waitingPrompts))
	ProcessingGenerations.Set(float64(processingUnits))
	ActiveWorkers.Set(float64(activeWorkers))
}
