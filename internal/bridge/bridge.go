package bridge

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Bridge runs the poll loop for one model server. Every pass re-reads the
// server's capability snapshot, announces it through a pop, drives the
// generation, and submits the text. Failures never kill the loop: the
// model server and the cluster both come and go independently of this
// process, so the bridge pauses and tries again.
type Bridge struct {
	cfg     Config
	model   *ModelClient
	cluster *ClusterClient

	// retryPause follows a failed pass; busyPause separates generate
	// attempts while the model server answers 503.
	retryPause time.Duration
	busyPause  time.Duration
}

// New builds a bridge from a validated config.
func New(cfg Config) *Bridge {
	return &Bridge{
		cfg:        cfg,
		model:      NewModelClient(cfg.ModelURL),
		cluster:    NewClusterClient(cfg.ClusterURL),
		retryPause: 10 * time.Second,
		busyPause:  time.Second,
	}
}

// Run polls until ctx is canceled. It never returns an error for cluster or
// model-server trouble, only logs it and keeps going.
func (b *Bridge) Run(ctx context.Context) error {
	slog.Info("bridge starting",
		slog.String("name", b.cfg.Name),
		slog.String("model_url", b.cfg.ModelURL),
		slog.String("cluster_url", b.cfg.ClusterURL),
		slog.Duration("interval", b.cfg.Interval))

	for {
		pause := b.cfg.Interval
		if err := b.step(ctx); err != nil {
			if ctx.Err() != nil {
				slog.Info("bridge stopping")
				return nil
			}
			slog.Warn("bridge pass failed", slog.Any("error", err))
			pause = b.retryPause
		}
		select {
		case <-ctx.Done():
			slog.Info("bridge stopping")
			return nil
		case <-time.After(pause):
		}
	}
}

// step performs one full pass: capability refresh, pop, generate, submit.
func (b *Bridge) step(ctx context.Context) error {
	info, err := b.model.Info(ctx)
	if err != nil {
		return err
	}

	unit, skipped, err := b.cluster.Pop(ctx, PopRequest{
		APIKey:            b.cfg.APIKey,
		Name:              b.cfg.Name,
		Model:             info.Model,
		MaxLength:         info.MaxLength,
		MaxContentLength:  info.MaxContentLength,
		Softprompts:       info.Softprompts,
		PriorityUsernames: b.cfg.PriorityUsernames,
	})
	if err != nil {
		return err
	}
	if unit == nil {
		slog.Debug("no work available", slog.Any("skipped", skipped))
		return nil
	}

	text, err := b.generate(ctx, unit)
	if err != nil {
		return err
	}

	reward, err := b.cluster.Submit(ctx, b.cfg.APIKey, unit.ID, text)
	if errors.Is(err, ErrUnitStale) {
		slog.Warn("work unit went stale before submit", slog.String("id", unit.ID))
		return nil
	}
	if err != nil {
		return err
	}
	slog.Info("generation submitted",
		slog.String("id", unit.ID),
		slog.Int("reward", reward))
	return nil
}

// generate drives the model server until it produces text for the unit.
// A popped unit is this bridge's to finish; dropping it on a hiccup would
// strand the submitter until the prompt goes stale, so busy replies and
// transient errors both retry. If the prompt does expire meanwhile, the
// submit's stale answer cleans up.
func (b *Bridge) generate(ctx context.Context, unit *WorkUnit) (string, error) {
	for attempt := 1; ; attempt++ {
		text, err := b.model.Generate(ctx, unit.Payload)
		if err == nil {
			return text, nil
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}

		pause := b.retryPause
		if errors.Is(err, ErrBusy) {
			pause = b.busyPause
			slog.Info("model server busy, retrying",
				slog.String("id", unit.ID),
				slog.Int("attempt", attempt))
		} else {
			slog.Warn("generate failed, retrying",
				slog.String("id", unit.ID),
				slog.Int("attempt", attempt),
				slog.Any("error", err))
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(pause):
		}
	}
}
