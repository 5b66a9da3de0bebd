package broker

import (
	"github.com/fairyhunter13/ai-prompt-broker/internal/domain"
)

// SweepStats reports what one sweep pass removed.
type SweepStats struct {
	ExpiredPrompts int
	ReapedPrompts  int
	ReapedGens     int
}

// Sweep expires prompts that saw no activity for the stale window and drops
// completed prompts past their retention. Expiry wakes any synchronous
// waiter, which then observes the expired flag and fails.
//
// Generations are reaped only once they are completed and their owning
// prompt is gone from the index. An unsubmitted generation therefore stays
// addressable indefinitely, so a worker that went quiet can still submit
// late and collect its credit.
func (b *Broker) Sweep(_ domain.Context) SweepStats {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.clock.Now()
	var st SweepStats
	for _, wp := range b.prompts.list() {
		switch {
		case wp.Expired:
			b.prompts.remove(wp.ID)
			st.ExpiredPrompts++
		case wp.IsCompleted():
			if now.Sub(wp.ResolvedAt) > b.completedRetention {
				b.prompts.remove(wp.ID)
				st.ReapedPrompts++
			}
		case wp.Stale(now, b.promptStaleAfter):
			wp.Expire(now)
			b.prompts.remove(wp.ID)
			st.ExpiredPrompts++
		}
	}
	for _, pg := range b.gens.list() {
		if pg.IsCompleted() && b.prompts.get(pg.Owner.ID) == nil {
			b.gens.remove(pg.ID)
			st.ReapedGens++
		}
	}
	return st
}
