package broker

import (
	"github.com/fairyhunter13/ai-prompt-broker/internal/domain"
)

// promptIndex holds live prompts keyed by id. Iteration yields insertion
// order, which the dispatcher relies on for fairness tie-breaks.
type promptIndex struct {
	byID  map[string]*domain.WaitingPrompt
	order []string
}

func newPromptIndex() *promptIndex {
	return &promptIndex{byID: make(map[string]*domain.WaitingPrompt)}
}

func (x *promptIndex) insert(wp *domain.WaitingPrompt) {
	x.byID[wp.ID] = wp
	x.order = append(x.order, wp.ID)
}

func (x *promptIndex) get(id string) *domain.WaitingPrompt { return x.byID[id] }

func (x *promptIndex) remove(id string) {
	if _, ok := x.byID[id]; !ok {
		return
	}
	delete(x.byID, id)
	for i, v := range x.order {
		if v == id {
			x.order = append(x.order[:i], x.order[i+1:]...)
			break
		}
	}
}

func (x *promptIndex) len() int { return len(x.byID) }

// list returns prompts in insertion order.
func (x *promptIndex) list() []*domain.WaitingPrompt {
	out := make([]*domain.WaitingPrompt, 0, len(x.order))
	for _, id := range x.order {
		out = append(out, x.byID[id])
	}
	return out
}

// genIndex gives O(1) result submission by generation id. It holds lookup
// references only; each generation is owned by its prompt.
type genIndex struct {
	byID  map[string]*domain.ProcessingGeneration
	order []string
}

func newGenIndex() *genIndex {
	return &genIndex{byID: make(map[string]*domain.ProcessingGeneration)}
}

func (x *genIndex) insert(pg *domain.ProcessingGeneration) {
	x.byID[pg.ID] = pg
	x.order = append(x.order, pg.ID)
}

func (x *genIndex) get(id string) *domain.ProcessingGeneration { return x.byID[id] }

func (x *genIndex) remove(id string) {
	if _, ok := x.byID[id]; !ok {
		return
	}
	delete(x.byID, id)
	for i, v := range x.order {
		if v == id {
			x.order = append(x.order[:i], x.order[i+1:]...)
			break
		}
	}
}

func (x *genIndex) len() int { return len(x.byID) }

// list returns generations in insertion order.
func (x *genIndex) list() []*domain.ProcessingGeneration {
	out := make([]*domain.ProcessingGeneration, 0, len(x.order))
	for _, id := range x.order {
		out = append(out, x.byID[id])
	}
	return out
}
