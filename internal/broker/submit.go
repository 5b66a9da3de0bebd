package broker

import (
	"fmt"

	"github.com/fairyhunter13/ai-prompt-broker/internal/domain"
)

// SubmitRequest carries one end-user generation request into admission.
type SubmitRequest struct {
	APIKey      string
	Prompt      string
	Params      map[string]any
	Models      []string
	ServerIDs   []string
	Softprompts []string
}

// SubmitAsync admits and activates a prompt, returning its id immediately.
// Callers poll PromptStatus for progress.
func (b *Broker) SubmitAsync(_ domain.Context, req SubmitRequest) (string, error) {
	const op = "broker.submit_async"
	b.mu.Lock()
	defer b.mu.Unlock()

	user, err := b.authUser(req.APIKey)
	if err != nil {
		return "", fmt.Errorf("op=%s: %w", op, err)
	}
	wp, err := b.admit(user, req)
	if err != nil {
		return "", fmt.Errorf("op=%s: %w", op, err)
	}
	wp.Activate()
	b.prompts.insert(wp)
	if wp.TryComplete(b.clock.Now()) {
		user.RecordRequest()
	}
	return wp.ID, nil
}

// SubmitSync admits a prompt only when some current worker could serve it,
// then blocks until every unit is in or the prompt goes stale. The wait
// happens off the lock; the completion signal carries the wakeup.
func (b *Broker) SubmitSync(ctx domain.Context, req SubmitRequest) ([]string, error) {
	const op = "broker.submit_sync"
	b.mu.Lock()

	user, err := b.authUser(req.APIKey)
	if err != nil {
		b.mu.Unlock()
		return nil, fmt.Errorf("op=%s: %w", op, err)
	}
	wp, err := b.admit(user, req)
	if err != nil {
		b.mu.Unlock()
		return nil, fmt.Errorf("op=%s: %w", op, err)
	}
	if wp.NTotal > 0 && !b.anyWorkerFor(wp) {
		b.mu.Unlock()
		return nil, fmt.Errorf("op=%s: %w", op, domain.ErrNoEligibleWorker)
	}
	wp.Activate()
	b.prompts.insert(wp)
	if wp.TryComplete(b.clock.Now()) {
		user.RecordRequest()
		texts := wp.GenerationTexts()
		b.mu.Unlock()
		return texts, nil
	}
	b.mu.Unlock()

	select {
	case <-wp.Done():
	case <-ctx.Done():
		return nil, fmt.Errorf("op=%s: %w", op, ctx.Err())
	case <-b.clock.After(b.promptStaleAfter):
		b.mu.Lock()
		defer b.mu.Unlock()
		if wp.IsCompleted() && !wp.Expired {
			return wp.GenerationTexts(), nil
		}
		wp.Expire(b.clock.Now())
		b.prompts.remove(wp.ID)
		return nil, fmt.Errorf("op=%s: %w", op, domain.ErrPromptExpired)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if wp.Expired {
		return nil, fmt.Errorf("op=%s: %w", op, domain.ErrPromptExpired)
	}
	return wp.GenerationTexts(), nil
}

// admit rejects bad input and backpressure before constructing the prompt.
// Callers must hold the lock.
func (b *Broker) admit(user *domain.User, req SubmitRequest) (*domain.WaitingPrompt, error) {
	if req.Prompt == "" {
		return nil, domain.ErrEmptyPrompt
	}
	if b.countLivePrompts(user.ID) >= b.maxActivePrompts {
		return nil, domain.ErrTooManyPrompts
	}
	params, err := domain.ParseGenParams(req.Params)
	if err != nil {
		return nil, err
	}
	c := domain.PromptConstraints{
		Models:      req.Models,
		ServerIDs:   req.ServerIDs,
		Softprompts: req.Softprompts,
	}
	payload := domain.BuildPayload(req.Params, req.Prompt)
	return domain.NewWaitingPrompt(user.ID, req.Prompt, params, payload, c, b.clock.Now()), nil
}

// countLivePrompts counts the user's prompts still worth waiting for:
// not completed, not expired, not stale.
func (b *Broker) countLivePrompts(userID int64) int {
	now := b.clock.Now()
	n := 0
	for _, wp := range b.prompts.list() {
		if wp.UserID != userID || wp.Expired || wp.IsCompleted() {
			continue
		}
		if wp.Stale(now, b.promptStaleAfter) {
			continue
		}
		n++
	}
	return n
}

// anyWorkerFor reports whether some registered worker could serve the
// prompt right now. Used only as the synchronous pre-admission scan.
func (b *Broker) anyWorkerFor(wp *domain.WaitingPrompt) bool {
	now := b.clock.Now()
	for _, w := range b.reg.workers() {
		if _, _, ok := CanGenerate(w, wp, now, b.workerStaleAfter); ok {
			return true
		}
	}
	return false
}
