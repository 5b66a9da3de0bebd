package observability

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestHTTPMetricsMiddleware_Basic(t *testing.T) {
	rec := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/x", nil)
	mw := HTTPMetricsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(204) }))
	mw.ServeHTTP(rec, r)
	if rec.Result().StatusCode != 204 {
		t.Fatalf("want 204")
	}
}

func TestQueueMetricsHelpers(t *testing.T) {
	InitMetrics()

	RecordPromptSubmitted("sync")
	RecordPromptSubmitted("async")
	RecordDispatch()
	RecordCompletion(12)
	RecordCompletion(0)
	RecordPromptsExpired(2)
	RecordPromptsExpired(0)
	RecordPopSkips(map[string]int{"models": 3, "max_length": 0})

	if got := testutil.ToFloat64(GenerationsDispatchedTotal); got != 1 {
		t.Fatalf("dispatched = %v, want 1", got)
	}
	if got := testutil.ToFloat64(GenerationsCompletedTotal); got != 2 {
		t.Fatalf("completed = %v, want 2", got)
	}
	if got := testutil.ToFloat64(KudosAwardedTotal); got != 12 {
		t.Fatalf("kudos = %v, want 12", got)
	}
	if got := testutil.ToFloat64(PromptsExpiredTotal); got != 2 {
		t.Fatalf("expired = %v, want 2", got)
	}
	if got := testutil.ToFloat64(PopSkipsTotal.WithLabelValues("models")); got != 3 {
		t.Fatalf("skips[models] = %v, want 3", got)
	}
	if got := testutil.ToFloat64(PopSkipsTotal.WithLabelValues("max_length")); got != 0 {
		t.Fatalf("skips[max_length] = %v, want 0", got)
	}
}

func TestUpdateQueueGauges(t *testing.T) {
	UpdateQueueGauges(4, 2, 7)
	if got := testutil.ToFloat64(WaitingPrompts); got != 4 {
		t.Fatalf("waiting = %v, want 4", got)
	}
	if got := testutil.ToFloat64(ProcessingGenerations); got != 2 {
		t.Fatalf("processing = %v, want 2", got)
	}
	if got := testutil.ToFloat64(ActiveWorkers); got != 7 {
		t.Fatalf("workers = %v, want 7", got)
	}
}
