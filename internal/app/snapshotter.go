package app

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fairyhunter13/ai-prompt-broker/internal/broker"
	"github.com/fairyhunter13/ai-prompt-broker/internal/domain"
)

// Snapshotter writes the user registry to the snapshot store on an interval
// and once more on shutdown, so registrations and counters survive restarts.
type Snapshotter struct {
	broker   *broker.Broker
	store    domain.SnapshotStore
	interval time.Duration
}

// NewSnapshotter builds a snapshotter. A non-positive interval falls back
// to 10s.
func NewSnapshotter(b *broker.Broker, store domain.SnapshotStore, interval time.Duration) *Snapshotter {
	if b == nil || store == nil {
		return nil
	}
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &Snapshotter{broker: b, store: store, interval: interval}
}

// Run saves on every tick until ctx is done, then performs a final save so
// the last interval's registrations are not lost.
func (s *Snapshotter) Run(ctx context.Context) {
	if s == nil || s.broker == nil || s.store == nil {
		return
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			// The final save runs on a fresh context; the loop context is
			// already canceled.
			finalCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			s.saveOnce(finalCtx)
			cancel()
			slog.Info("snapshotter stopping")
			return
		case <-ticker.C:
			s.saveOnce(ctx)
		}
	}
}

func (s *Snapshotter) saveOnce(ctx context.Context) {
	tracer := otel.Tracer("broker.snapshotter")
	ctx, span := tracer.Start(ctx, "Snapshotter.saveOnce")
	defer span.End()

	users := s.broker.UsersSnapshot()
	span.SetAttributes(attribute.Int("snapshot.users", len(users)))
	if err := s.store.Save(ctx, users); err != nil {
		span.RecordError(err)
		slog.Error("snapshot save failed", slog.Any("error", err))
	}
}
