package broker_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/ai-prompt-broker/internal/broker"
	"github.com/fairyhunter13/ai-prompt-broker/internal/domain"
)

func TestPop_NoWork(t *testing.T) {
	t.Parallel()
	b, _ := newTestBroker(t)
	w := registerUser(t, b, "wrk")

	res := popWork(t, b, w.APIKey, "rig-1", "test-model")
	assert.Nil(t, res.Unit)
	assert.Empty(t, res.Skipped)

	// The first poll materializes the worker.
	workers := b.ActiveWorkers()
	require.Len(t, workers, 1)
	assert.Equal(t, "rig-1", workers[0].Name)
	assert.Equal(t, "test-model", workers[0].Model)
	assert.Equal(t, w.ID, workers[0].UserID)
}

func TestPop_InvalidAPIKey(t *testing.T) {
	t.Parallel()
	b, _ := newTestBroker(t)
	_, err := b.PopWork(context.Background(), broker.PopRequest{APIKey: "nope", Name: "rig-1"})
	require.ErrorIs(t, err, domain.ErrInvalidAPIKey)
}

func TestPop_NameOwnedByAnotherUser(t *testing.T) {
	t.Parallel()
	b, _ := newTestBroker(t)
	w := registerUser(t, b, "wrk")
	other := registerUser(t, b, "other")

	popWork(t, b, w.APIKey, "rig-1", "test-model")
	_, err := b.PopWork(context.Background(), broker.PopRequest{APIKey: other.APIKey, Name: "rig-1", Model: "test-model"})
	require.ErrorIs(t, err, domain.ErrWrongCredentials)
}

func TestPop_SkipReasons(t *testing.T) {
	t.Parallel()
	b, _ := newTestBroker(t)
	a := registerUser(t, b, "ann")
	w := registerUser(t, b, "wrk")

	submit := func(req broker.SubmitRequest) string {
		req.APIKey = a.APIKey
		id, err := b.SubmitAsync(context.Background(), req)
		require.NoError(t, err)
		return id
	}

	submit(broker.SubmitRequest{Prompt: "wants another model", Models: []string{"bigger-model"}})
	submit(broker.SubmitRequest{Prompt: "pinned elsewhere", ServerIDs: []string{"not-this-worker"}})
	submit(broker.SubmitRequest{Prompt: "huge context", Params: map[string]any{"max_content_length": float64(9999)}})
	submit(broker.SubmitRequest{Prompt: "long output", Params: map[string]any{"max_length": float64(9999)}})
	submit(broker.SubmitRequest{Prompt: "needs softprompt", Softprompts: []string{"fantasy"}})

	res, err := b.PopWork(context.Background(), broker.PopRequest{
		APIKey:           w.APIKey,
		Name:             "rig-1",
		Model:            "test-model",
		MaxLength:        512,
		MaxContentLength: 2048,
	})
	require.NoError(t, err)
	require.Nil(t, res.Unit)
	assert.Len(t, res.Skipped, 5)
	assert.Equal(t, 1, res.Skipped[broker.SkipModels])
	assert.Equal(t, 1, res.Skipped[broker.SkipServerID])
	assert.Equal(t, 1, res.Skipped[broker.SkipMaxContentLength])
	assert.Equal(t, 1, res.Skipped[broker.SkipMaxLength])
	assert.Equal(t, 1, res.Skipped[broker.SkipSoftprompt])
}

func TestPop_CapabilityBoundary(t *testing.T) {
	t.Parallel()
	b, _ := newTestBroker(t)
	a := registerUser(t, b, "ann")
	w := registerUser(t, b, "wrk")

	_, err := b.SubmitAsync(context.Background(), broker.SubmitRequest{
		APIKey: a.APIKey,
		Prompt: "hello",
		Params: map[string]any{"max_length": float64(16), "max_content_length": float64(1024)},
	})
	require.NoError(t, err)

	// Exact equality on both limits is eligible.
	res, err := b.PopWork(context.Background(), broker.PopRequest{
		APIKey:           w.APIKey,
		Name:             "rig-1",
		Model:            "test-model",
		MaxLength:        16,
		MaxContentLength: 1024,
	})
	require.NoError(t, err)
	assert.NotNil(t, res.Unit)
}

func TestPop_ServerPin(t *testing.T) {
	t.Parallel()
	b, _ := newTestBroker(t)
	a := registerUser(t, b, "ann")
	w := registerUser(t, b, "wrk")

	popWork(t, b, w.APIKey, "rig-1", "test-model")
	popWork(t, b, w.APIKey, "rig-2", "test-model")
	workers := b.ActiveWorkers()
	require.Len(t, workers, 2)
	pinned := workers[1]

	_, err := b.SubmitAsync(context.Background(), broker.SubmitRequest{
		APIKey:    a.APIKey,
		Prompt:    "only for rig-2",
		ServerIDs: []string{pinned.ID},
	})
	require.NoError(t, err)

	res := popWork(t, b, w.APIKey, "rig-1", "test-model")
	require.Nil(t, res.Unit)
	assert.Equal(t, map[string]int{broker.SkipServerID: 1}, res.Skipped)

	res = popWork(t, b, w.APIKey, "rig-2", "test-model")
	require.NotNil(t, res.Unit)
	assert.Equal(t, "only for rig-2", res.Unit.Prompt)
}

func TestPop_SoftpromptAssignment(t *testing.T) {
	t.Parallel()
	b, _ := newTestBroker(t)
	a := registerUser(t, b, "ann")
	w := registerUser(t, b, "wrk")

	_, err := b.SubmitAsync(context.Background(), broker.SubmitRequest{
		APIKey:      a.APIKey,
		Prompt:      "in the fantasy style",
		Softprompts: []string{"scifi", "fantasy"},
	})
	require.NoError(t, err)

	res, err := b.PopWork(context.Background(), broker.PopRequest{
		APIKey:      w.APIKey,
		Name:        "rig-1",
		Model:       "test-model",
		Softprompts: []string{"surreal_v2.zz", "fantasy_v3.zz"},
	})
	require.NoError(t, err)
	require.NotNil(t, res.Unit)
	assert.Equal(t, "fantasy_v3.zz", res.Unit.Softprompt)
}

func TestPop_EmptySoftpromptEntryMatchesAnyWorker(t *testing.T) {
	t.Parallel()
	b, _ := newTestBroker(t)
	a := registerUser(t, b, "ann")
	w := registerUser(t, b, "wrk")

	_, err := b.SubmitAsync(context.Background(), broker.SubmitRequest{
		APIKey:      a.APIKey,
		Prompt:      "anything goes",
		Softprompts: []string{""},
	})
	require.NoError(t, err)

	res := popWork(t, b, w.APIKey, "rig-1", "test-model")
	require.NotNil(t, res.Unit)
	assert.Empty(t, res.Unit.Softprompt)
}

func TestPop_PriorityOrdering(t *testing.T) {
	t.Parallel()
	b, _ := newTestBroker(t)
	carol := registerUser(t, b, "carol")
	bob := registerUser(t, b, "bob")
	ann := registerUser(t, b, "ann")

	submit := func(u domain.User, prompt string) {
		_, err := b.SubmitAsync(context.Background(), broker.SubmitRequest{APIKey: u.APIKey, Prompt: prompt})
		require.NoError(t, err)
	}
	// Insertion order: carol, bob, ann.
	submit(carol, "carol's prompt")
	submit(bob, "bob's prompt")
	submit(ann, "ann's prompt")

	// Ann's own worker favors ann first, then bob by request, then the rest.
	pop := func() string {
		res, err := b.PopWork(context.Background(), broker.PopRequest{
			APIKey:            ann.APIKey,
			Name:              "ann-rig",
			Model:             "test-model",
			PriorityUsernames: []string{"bob#2"},
		})
		require.NoError(t, err)
		require.NotNil(t, res.Unit)
		return res.Unit.Prompt
	}
	assert.Equal(t, "ann's prompt", pop())
	assert.Equal(t, "bob's prompt", pop())
	assert.Equal(t, "carol's prompt", pop())
}

func TestPop_PriorityBareUsername(t *testing.T) {
	t.Parallel()
	b, _ := newTestBroker(t)
	early := registerUser(t, b, "bob")
	late := registerUser(t, b, "bob")
	wrk := registerUser(t, b, "wrk")

	submit := func(u domain.User, prompt string) {
		_, err := b.SubmitAsync(context.Background(), broker.SubmitRequest{APIKey: u.APIKey, Prompt: prompt})
		require.NoError(t, err)
	}
	submit(late, "late bob's prompt")
	submit(early, "early bob's prompt")

	// A bare username resolves to the earliest-registered holder, and
	// unknown names are skipped quietly.
	res, err := b.PopWork(context.Background(), broker.PopRequest{
		APIKey:            wrk.APIKey,
		Name:              "rig-1",
		Model:             "test-model",
		PriorityUsernames: []string{"ghost#99", "bob"},
	})
	require.NoError(t, err)
	require.NotNil(t, res.Unit)
	assert.Equal(t, "early bob's prompt", res.Unit.Prompt)
}

func TestPop_ThreeUnitsAcrossTwoWorkers(t *testing.T) {
	t.Parallel()
	b, _ := newTestBroker(t)
	a := registerUser(t, b, "ann")
	w := registerUser(t, b, "wrk")

	id, err := b.SubmitAsync(context.Background(), broker.SubmitRequest{
		APIKey: a.APIKey,
		Prompt: "three part story",
		Params: map[string]any{"n": float64(3)},
	})
	require.NoError(t, err)

	units := make([]*broker.WorkUnit, 0, 3)
	for i, rig := range []string{"rig-1", "rig-2", "rig-1"} {
		res := popWork(t, b, w.APIKey, rig, "test-model")
		require.NotNil(t, res.Unit, "poll %d should receive a unit", i)
		units = append(units, res.Unit)
	}

	// All three slots handed out exactly once.
	seen := map[string]bool{}
	for _, u := range units {
		assert.False(t, seen[u.ID], "unit %s dispatched twice", u.ID)
		seen[u.ID] = true
	}

	// The fourth poll comes back empty with nothing to skip.
	res := popWork(t, b, w.APIKey, "rig-2", "test-model")
	assert.Nil(t, res.Unit)
	assert.Empty(t, res.Skipped)

	for i, u := range units {
		_, err := b.SubmitResult(context.Background(), w.APIKey, u.ID, fmt.Sprintf("part %d", i+1))
		require.NoError(t, err)
	}

	st, gens, err := b.PromptStatus(id)
	require.NoError(t, err)
	assert.Equal(t, domain.PromptStatus{Waiting: 0, Processing: 0, Finished: 3}, st)
	assert.Equal(t, []string{"part 1", "part 2", "part 3"}, gens)
}

func TestPop_ConcurrentRaceForLastUnit(t *testing.T) {
	t.Parallel()
	b, _ := newTestBroker(t)
	a := registerUser(t, b, "ann")
	w := registerUser(t, b, "wrk")

	_, err := b.SubmitAsync(context.Background(), broker.SubmitRequest{APIKey: a.APIKey, Prompt: "last one standing"})
	require.NoError(t, err)

	const pollers = 8
	var wg sync.WaitGroup
	units := make([]*broker.WorkUnit, pollers)
	errs := make([]error, pollers)
	for i := 0; i < pollers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := b.PopWork(context.Background(), broker.PopRequest{
				APIKey:           w.APIKey,
				Name:             fmt.Sprintf("rig-%d", i),
				Model:            "test-model",
				MaxLength:        512,
				MaxContentLength: 2048,
			})
			units[i], errs[i] = res.Unit, err
		}(i)
	}
	wg.Wait()

	winners := 0
	for i := 0; i < pollers; i++ {
		require.NoError(t, errs[i])
		if units[i] != nil {
			winners++
		}
	}
	assert.Equal(t, 1, winners, "the single unit must be dispatched exactly once")
}

func TestPop_StaleWorkerRevives(t *testing.T) {
	t.Parallel()
	b, mc := newTestBroker(t)
	a := registerUser(t, b, "ann")
	w := registerUser(t, b, "wrk")

	popWork(t, b, w.APIKey, "rig-1", "test-model")
	workers := b.ActiveWorkers()
	require.Len(t, workers, 1)
	workerID := workers[0].ID

	mc.Add(301 * time.Second)
	assert.Empty(t, b.ActiveWorkers())
	assert.Empty(t, b.AvailableModels())

	// A stale worker cannot carry a sync admission.
	_, err := b.SubmitSync(context.Background(), broker.SubmitRequest{APIKey: a.APIKey, Prompt: "hello"})
	require.ErrorIs(t, err, domain.ErrNoEligibleWorker)

	// Direct lookup still serves the card while hidden from listings.
	info, err := b.WorkerInfo(workerID)
	require.NoError(t, err)
	assert.Equal(t, "rig-1", info.Name)

	// One poll revives it.
	popWork(t, b, w.APIKey, "rig-1", "test-model")
	require.Len(t, b.ActiveWorkers(), 1)
	assert.Equal(t, []string{"test-model"}, b.AvailableModels())
}
