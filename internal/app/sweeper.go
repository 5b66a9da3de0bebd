package app

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fairyhunter13/ai-prompt-broker/internal/adapter/observability"
	"github.com/fairyhunter13/ai-prompt-broker/internal/broker"
)

// Sweeper periodically expires stale prompts, reaps completed ones past
// retention, and refreshes the cluster gauges.
type Sweeper struct {
	broker   *broker.Broker
	interval time.Duration
}

// NewSweeper builds a sweeper over the broker. A non-positive interval
// falls back to 30s.
func NewSweeper(b *broker.Broker, interval time.Duration) *Sweeper {
	if b == nil {
		return nil
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Sweeper{broker: b, interval: interval}
}

// Run sweeps once immediately and then on every tick until ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	if s == nil || s.broker == nil {
		return
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.sweepOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			slog.Info("sweeper stopping")
			return
		case <-ticker.C:
			s.sweepOnce(ctx)
		}
	}
}

func (s *Sweeper) sweepOnce(ctx context.Context) {
	tracer := otel.Tracer("broker.sweeper")
	ctx, span := tracer.Start(ctx, "Sweeper.sweepOnce")
	defer span.End()

	st := s.broker.Sweep(ctx)
	span.SetAttributes(
		attribute.Int("sweep.expired_prompts", st.ExpiredPrompts),
		attribute.Int("sweep.reaped_prompts", st.ReapedPrompts),
		attribute.Int("sweep.reaped_gens", st.ReapedGens),
	)
	observability.RecordPromptsExpired(st.ExpiredPrompts)

	cs := s.broker.ClusterStats()
	observability.UpdateQueueGauges(cs.QueuedPrompts, cs.ProcessingUnits, cs.ActiveWorkers)

	if st.ExpiredPrompts > 0 || st.ReapedPrompts > 0 || st.ReapedGens > 0 {
		slog.Info("sweep pass",
			slog.Int("expired_prompts", st.ExpiredPrompts),
			slog.Int("reaped_prompts", st.ReapedPrompts),
			slog.Int("reaped_gens", st.ReapedGens))
	}
}
