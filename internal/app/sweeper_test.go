package app

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/ai-prompt-broker/internal/broker"
	"github.com/fairyhunter13/ai-prompt-broker/internal/domain"
)

func TestNewSweeper_NilBroker(t *testing.T) {
	t.Parallel()
	assert.Nil(t, NewSweeper(nil, time.Second))
}

func TestSweeper_ExpiresStalePrompts(t *testing.T) {
	t.Parallel()
	mc := clock.NewMock()
	mc.Set(time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC))
	b := broker.New(broker.Options{Clock: mc, PromptStaleAfter: time.Minute})

	u, err := b.RegisterUser(context.Background(), "ann", "ann@example.com", "")
	require.NoError(t, err)
	id, err := b.SubmitAsync(context.Background(), broker.SubmitRequest{
		APIKey: u.APIKey,
		Prompt: "tell me a story",
	})
	require.NoError(t, err)

	s := NewSweeper(b, time.Second)

	// Fresh prompt survives a pass.
	s.sweepOnce(context.Background())
	_, _, err = b.PromptStatus(id)
	require.NoError(t, err)

	mc.Add(2 * time.Minute)
	s.sweepOnce(context.Background())
	_, _, err = b.PromptStatus(id)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSweeper_RunStopsOnCancel(t *testing.T) {
	t.Parallel()
	b := broker.New(broker.Options{})
	s := NewSweeper(b, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("sweeper did not stop after cancel")
	}
}
