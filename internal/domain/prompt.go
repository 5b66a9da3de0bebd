package domain

import (
	"time"

	"github.com/google/uuid"

	"github.com/fairyhunter13/ai-prompt-broker/pkg/textx"
)

// PromptConstraints narrow which workers may serve a prompt. Empty slices
// impose nothing.
type PromptConstraints struct {
	// Models the requester accepts, by exact name.
	Models []string
	// ServerIDs pin the prompt to specific worker ids.
	ServerIDs []string
	// Softprompts the requester accepts, matched as substrings of the
	// worker's loaded softprompt names. An empty-string entry means no
	// softprompt is required.
	Softprompts []string
}

// PromptStatus is the point-in-time progress of a waiting prompt.
type PromptStatus struct {
	Waiting    int
	Processing int
	Finished   int
}

// WaitingPrompt is one end-user request, decomposed into NTotal independent
// generation units. Dispatch decrements NRemaining and appends a child
// ProcessingGeneration; the prompt is complete once every unit has been
// dispatched and submitted.
//
// Invariants: NRemaining + len(Gens) == NTotal at all times, and the number
// of completed children never exceeds len(Gens).
type WaitingPrompt struct {
	ID     string
	UserID int64
	Prompt string

	Constraints PromptConstraints
	Params      GenParams
	// Payload is the verbatim params bag echoed to workers at dispatch,
	// with prompt and n=1 forced. Never mutated after construction.
	Payload map[string]any

	NTotal     int
	NRemaining int
	// Tokens is the word count of the prompt text, kept for accounting.
	Tokens int

	// Activated gates dispatch. Sync prompts stay deactivated until the
	// admission scan finds at least one worker that could serve them.
	Activated bool
	Expired   bool

	CreatedAt    time.Time
	LastActivity time.Time
	ResolvedAt   time.Time

	Gens []*ProcessingGeneration

	done     chan struct{}
	resolved bool
}

// NewWaitingPrompt admits a request as an unactivated prompt.
func NewWaitingPrompt(userID int64, prompt string, params GenParams, payload map[string]any, c PromptConstraints, now time.Time) *WaitingPrompt {
	return &WaitingPrompt{
		ID:           uuid.New().String(),
		UserID:       userID,
		Prompt:       prompt,
		Constraints:  c,
		Params:       params,
		Payload:      payload,
		NTotal:       params.N,
		NRemaining:   params.N,
		Tokens:       textx.WordCount(prompt),
		CreatedAt:    now,
		LastActivity: now,
		done:         make(chan struct{}),
	}
}

// Activate makes the prompt visible to dispatch.
func (wp *WaitingPrompt) Activate() {
	wp.Activated = true
}

// NeedsDispatch reports whether the prompt has units left to hand out.
func (wp *WaitingPrompt) NeedsDispatch() bool {
	return wp.Activated && !wp.Expired && wp.NRemaining > 0
}

// StartGeneration hands one unit to a worker. Returns nil when no units
// remain. Callers must hold the broker lock so the decrement and the child
// append stay atomic with respect to every other dispatch.
func (wp *WaitingPrompt) StartGeneration(workerID, softprompt string, now time.Time) *ProcessingGeneration {
	if wp.NRemaining <= 0 {
		return nil
	}
	pg := &ProcessingGeneration{
		ID:         uuid.New().String(),
		Owner:      wp,
		WorkerID:   workerID,
		Softprompt: softprompt,
		StartedAt:  now,
	}
	wp.Gens = append(wp.Gens, pg)
	wp.NRemaining--
	wp.LastActivity = now
	return pg
}

// IsCompleted reports whether every unit has been dispatched and submitted.
func (wp *WaitingPrompt) IsCompleted() bool {
	if wp.NRemaining > 0 {
		return false
	}
	for _, g := range wp.Gens {
		if !g.IsCompleted() {
			return false
		}
	}
	return true
}

// Status counts units by phase.
func (wp *WaitingPrompt) Status() PromptStatus {
	st := PromptStatus{Waiting: wp.NRemaining}
	for _, g := range wp.Gens {
		if g.IsCompleted() {
			st.Finished++
		} else {
			st.Processing++
		}
	}
	return st
}

// GenerationTexts returns the submitted texts in child insertion order.
func (wp *WaitingPrompt) GenerationTexts() []string {
	texts := make([]string, 0, len(wp.Gens))
	for _, g := range wp.Gens {
		if g.IsCompleted() {
			texts = append(texts, g.Generation)
		}
	}
	return texts
}

// Touch bumps the activity clock that staleness is measured against.
func (wp *WaitingPrompt) Touch(now time.Time) {
	wp.LastActivity = now
}

// Stale reports whether the prompt has seen no dispatch or submission for
// longer than the window.
func (wp *WaitingPrompt) Stale(now time.Time, window time.Duration) bool {
	return now.Sub(wp.LastActivity) > window
}

// TryComplete resolves the prompt when every unit is in. It reports whether
// this call performed the transition, so completion side effects run exactly
// once. A prompt that already expired never completes.
func (wp *WaitingPrompt) TryComplete(now time.Time) bool {
	if wp.resolved || !wp.IsCompleted() {
		return false
	}
	wp.resolve(now)
	return true
}

// Expire fails the prompt and wakes any synchronous waiter. Units already
// handed out stay valid so their workers can still be credited.
func (wp *WaitingPrompt) Expire(now time.Time) {
	wp.Expired = true
	wp.resolve(now)
}

// Done is closed once the prompt completes or expires. Waiters must re-check
// Expired under the broker lock after waking.
func (wp *WaitingPrompt) Done() <-chan struct{} {
	return wp.done
}

func (wp *WaitingPrompt) resolve(now time.Time) {
	if wp.resolved {
		return
	}
	wp.resolved = true
	wp.ResolvedAt = now
	close(wp.done)
}

// ProcessingGeneration is one dispatched unit: a prompt slice bound to the
// worker that accepted it. Its only transition is created to completed, via
// SetResult.
type ProcessingGeneration struct {
	ID    string
	Owner *WaitingPrompt
	// WorkerID is a registry lookup key, not an ownership edge.
	WorkerID   string
	Softprompt string
	StartedAt  time.Time

	Generation  string
	Tokens      int
	CompletedAt time.Time

	completed bool
}

// SetResult attaches the generated text exactly once. Repeat submissions are
// rejected so a unit can never be credited twice.
func (pg *ProcessingGeneration) SetResult(text string, tokens int, now time.Time) error {
	if pg.completed {
		return ErrDuplicateGen
	}
	pg.Generation = text
	pg.Tokens = tokens
	pg.CompletedAt = now
	pg.completed = true
	return nil
}

// IsCompleted reports whether a result has been submitted.
func (pg *ProcessingGeneration) IsCompleted() bool {
	return pg.completed
}
