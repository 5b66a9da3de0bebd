package broker

import (
	"fmt"

	"github.com/fairyhunter13/ai-prompt-broker/internal/domain"
)

// PopRequest is one worker poll: identity, capability declaration, and the
// owners it wants to favor.
type PopRequest struct {
	APIKey            string
	Name              string
	Model             string
	MaxLength         int
	MaxContentLength  int
	Softprompts       []string
	PriorityUsernames []string
}

// WorkUnit is the payload handed to a worker for one generation.
type WorkUnit struct {
	ID         string
	Prompt     string
	Payload    map[string]any
	Softprompt string
}

// PopResult returns either one unit or, when nothing matched, the reasons
// each candidate prompt was skipped.
type PopResult struct {
	Unit    *WorkUnit
	Skipped map[string]int
}

// PopWork checks the worker in and hands it the first unit it can serve
// under the fairness order. One poll yields at most one unit, and a unit is
// never offered twice: the decrement and the child creation happen under the
// broker lock as one step.
func (b *Broker) PopWork(_ domain.Context, req PopRequest) (PopResult, error) {
	const op = "broker.pop_work"
	b.mu.Lock()
	defer b.mu.Unlock()

	user, err := b.authUser(req.APIKey)
	if err != nil {
		return PopResult{}, fmt.Errorf("op=%s: %w", op, err)
	}
	if req.Name == "" {
		return PopResult{}, fmt.Errorf("op=%s: worker name required: %w", op, domain.ErrInvalidArgument)
	}

	now := b.clock.Now()
	w := b.reg.workerByName(req.Name)
	if w == nil {
		w = domain.NewWorker(user.ID, req.Name, now)
		b.reg.addWorker(w)
	} else if w.UserID != user.ID {
		return PopResult{}, fmt.Errorf("op=%s: worker %s belongs to another user: %w", op, req.Name, domain.ErrWrongCredentials)
	}

	maxLength := req.MaxLength
	if maxLength <= 0 {
		maxLength = domain.DefaultMaxLength
	}
	maxContentLength := req.MaxContentLength
	if maxContentLength <= 0 {
		maxContentLength = domain.DefaultMaxContentLength
	}
	w.CheckIn(req.Model, maxLength, maxContentLength, req.Softprompts, now, b.workerStaleAfter)

	skipped := make(map[string]int)
	for _, wp := range b.priorityOrder(user, req.PriorityUsernames) {
		if !wp.NeedsDispatch() {
			continue
		}
		softprompt, reason, ok := CanGenerate(w, wp, now, b.workerStaleAfter)
		if !ok {
			skipped[reason]++
			continue
		}
		pg := wp.StartGeneration(w.ID, softprompt, now)
		if pg == nil {
			continue
		}
		b.gens.insert(pg)
		return PopResult{Unit: &WorkUnit{
			ID:         pg.ID,
			Prompt:     wp.Prompt,
			Payload:    wp.Payload,
			Softprompt: softprompt,
		}}, nil
	}
	return PopResult{Skipped: skipped}, nil
}

// priorityOrder arranges dispatch candidates: the polling user's own prompts
// first, then prompts of each requested priority owner, then everything
// else. Insertion order breaks ties inside each band.
func (b *Broker) priorityOrder(u *domain.User, priorityUsernames []string) []*domain.WaitingPrompt {
	all := b.prompts.list()
	ordered := make([]*domain.WaitingPrompt, 0, len(all))
	seen := make(map[string]struct{}, len(all))
	take := func(userID int64) {
		for _, wp := range all {
			if wp.UserID != userID {
				continue
			}
			if _, ok := seen[wp.ID]; ok {
				continue
			}
			seen[wp.ID] = struct{}{}
			ordered = append(ordered, wp)
		}
	}
	take(u.ID)
	for _, name := range priorityUsernames {
		if pu := b.reg.resolveUser(name); pu != nil {
			take(pu.ID)
		}
	}
	for _, wp := range all {
		if _, ok := seen[wp.ID]; !ok {
			ordered = append(ordered, wp)
		}
	}
	return ordered
}
