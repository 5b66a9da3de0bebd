package app

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/ai-prompt-broker/internal/adapter/snapshot"
	"github.com/fairyhunter13/ai-prompt-broker/internal/broker"
)

func TestNewSnapshotter_NilParts(t *testing.T) {
	t.Parallel()
	b := broker.New(broker.Options{})
	store := snapshot.New(t.TempDir())
	assert.Nil(t, NewSnapshotter(nil, store, time.Second))
	assert.Nil(t, NewSnapshotter(b, nil, time.Second))
	assert.NotNil(t, NewSnapshotter(b, store, time.Second))
}

func TestSnapshotter_SaveOnce(t *testing.T) {
	t.Parallel()
	b := broker.New(broker.Options{})
	store := snapshot.New(t.TempDir())
	_, err := b.RegisterUser(context.Background(), "ann", "ann@example.com", "")
	require.NoError(t, err)

	s := NewSnapshotter(b, store, time.Hour)
	s.saveOnce(context.Background())

	users, err := store.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, "ann", users[0].Username)
}

func TestSnapshotter_FinalSaveOnShutdown(t *testing.T) {
	t.Parallel()
	b := broker.New(broker.Options{})
	store := snapshot.New(t.TempDir())
	_, err := b.RegisterUser(context.Background(), "bob", "bob@example.com", "")
	require.NoError(t, err)

	// Interval far beyond the test lifetime, so the only save is the
	// shutdown one.
	s := NewSnapshotter(b, store, time.Hour)
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
		t.Fatal("snapshotter did not stop after cancel")
	}

	users, err := store.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, "bob", users[0].Username)
}
