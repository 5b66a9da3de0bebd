package observability

import (
	"context"
	"io"
	"log/slog"
	"testing"
)

func TestLoggerRoundTrip(t *testing.T) {
	t.Parallel()

	lg := slog.New(slog.NewJSONHandler(io.Discard, nil))
	base := context.Background()

	ctx := ContextWithLogger(base, lg)
	if ctx == base {
		t.Fatal("expected a derived context when attaching a logger")
	}
	if got := LoggerFromContext(ctx); got != lg {
		t.Fatalf("LoggerFromContext returned %v, want the attached logger", got)
	}
}

func TestLoggerFromContext_Fallbacks(t *testing.T) {
	t.Parallel()

	if got := LoggerFromContext(context.Background()); got == nil {
		t.Fatal("expected default logger for context without logger")
	}
	if got := LoggerFromContext(nil); got == nil { //nolint:staticcheck // nil context fallback is the point
		t.Fatal("expected default logger for nil context")
	}
}

func TestContextWithLogger_NilLogger(t *testing.T) {
	t.Parallel()

	base := context.Background()
	if got := ContextWithLogger(base, nil); got != base {
		t.Fatal("expected original context when logger is nil")
	}
}

func TestRequestIDRoundTrip(t *testing.T) {
	t.Parallel()

	base := context.Background()
	ctx := ContextWithRequestID(base, "req-123")
	if ctx == base {
		t.Fatal("expected a derived context when setting a request id")
	}
	if got := RequestIDFromContext(ctx); got != "req-123" {
		t.Fatalf("RequestIDFromContext() = %q, want %q", got, "req-123")
	}
}

func TestRequestIDFromContext_Missing(t *testing.T) {
	t.Parallel()

	if got := RequestIDFromContext(context.Background()); got != "" {
		t.Fatalf("expected empty request id, got %q", got)
	}
	if got := RequestIDFromContext(nil); got != "" { //nolint:staticcheck // nil context fallback is the point
		t.Fatalf("expected empty request id for nil context, got %q", got)
	}
}

func TestContextWithRequestID_Empty(t *testing.T) {
	t.Parallel()

	base := context.Background()
	if got := ContextWithRequestID(base, ""); got != base {
		t.Fatal("expected original context when request id is empty")
	}
}
