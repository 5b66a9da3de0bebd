package broker

import (
	"fmt"

	"github.com/fairyhunter13/ai-prompt-broker/internal/domain"
	"github.com/fairyhunter13/ai-prompt-broker/pkg/textx"
)

// SubmitResult attaches a worker's text to its generation and credits both
// sides of the trade. The credit is atomic with the completed transition, so
// concurrent duplicate submissions reward exactly one caller; the loser gets
// ErrDuplicateGen and no state changes.
//
// A result landing on an expired prompt still credits the worker; the
// requester's usage counters stay untouched.
func (b *Broker) SubmitResult(_ domain.Context, apiKey, procgenID, text string) (int, error) {
	const op = "broker.submit_result"
	b.mu.Lock()
	defer b.mu.Unlock()

	pg := b.gens.get(procgenID)
	if pg == nil {
		return 0, fmt.Errorf("op=%s: processing generation %s: %w", op, procgenID, domain.ErrNotFound)
	}
	user, err := b.authUser(apiKey)
	if err != nil {
		return 0, fmt.Errorf("op=%s: %w", op, err)
	}
	worker := b.reg.workerByID(pg.WorkerID)
	if worker == nil {
		return 0, fmt.Errorf("op=%s: worker %s vanished from registry: %w", op, pg.WorkerID, domain.ErrInternal)
	}
	if worker.UserID != user.ID {
		return 0, fmt.Errorf("op=%s: generation %s belongs to another user's worker: %w", op, procgenID, domain.ErrWrongCredentials)
	}

	now := b.clock.Now()
	tokens := textx.WordCount(text)
	if err := pg.SetResult(text, tokens, now); err != nil {
		return 0, fmt.Errorf("op=%s: %w", op, err)
	}

	wp := pg.Owner
	wp.Touch(now)
	worker.RecordFulfillment(tokens, now.Sub(pg.StartedAt))
	if owner := b.reg.userByID(worker.UserID); owner != nil {
		owner.RecordContribution(tokens)
	}
	if requester := b.reg.userByID(wp.UserID); requester != nil && !wp.Expired {
		requester.RecordUsage(tokens)
		if wp.TryComplete(now) {
			requester.RecordRequest()
		}
	}
	return tokens, nil
}
