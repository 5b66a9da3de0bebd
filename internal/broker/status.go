package broker

import (
	"fmt"
	"sort"

	"github.com/fairyhunter13/ai-prompt-broker/internal/domain"
)

// PromptStatus reports unit counts and the finished texts for one prompt.
func (b *Broker) PromptStatus(id string) (domain.PromptStatus, []string, error) {
	const op = "broker.prompt_status"
	b.mu.Lock()
	defer b.mu.Unlock()

	wp := b.prompts.get(id)
	if wp == nil {
		return domain.PromptStatus{}, nil, fmt.Errorf("op=%s: prompt %s: %w", op, id, domain.ErrNotFound)
	}
	return wp.Status(), wp.GenerationTexts(), nil
}

// ActiveWorkers returns value copies of every non-stale worker, in
// registration order.
func (b *Broker) ActiveWorkers() []domain.Worker {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.clock.Now()
	out := make([]domain.Worker, 0, len(b.reg.workersByID))
	for _, w := range b.reg.workers() {
		if w.Stale(now, b.workerStaleAfter) {
			continue
		}
		out = append(out, *w)
	}
	return out
}

// WorkerInfo returns a value copy of one worker, stale or not. Staleness
// hides a worker from listings and matching, never from direct lookup.
func (b *Broker) WorkerInfo(id string) (domain.Worker, error) {
	const op = "broker.worker_info"
	b.mu.Lock()
	defer b.mu.Unlock()

	w := b.reg.workerByID(id)
	if w == nil {
		return domain.Worker{}, fmt.Errorf("op=%s: worker %s: %w", op, id, domain.ErrNotFound)
	}
	return *w, nil
}

// UserAlias resolves a user id to its unique alias for display. Unknown ids
// come back empty rather than erroring; listings tolerate deleted owners.
func (b *Broker) UserAlias(id int64) string {
	b.mu.Lock()
	defer b.mu.Unlock()

	if u := b.reg.userByID(id); u != nil {
		return u.UniqueAlias()
	}
	return ""
}

// AvailableModels lists the distinct models served by non-stale workers.
func (b *Broker) AvailableModels() []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.clock.Now()
	set := make(map[string]struct{})
	for _, w := range b.reg.workers() {
		if w.Stale(now, b.workerStaleAfter) || w.Model == "" {
			continue
		}
		set[w.Model] = struct{}{}
	}
	models := make([]string, 0, len(set))
	for m := range set {
		models = append(models, m)
	}
	sort.Strings(models)
	return models
}

// UsageMap reports requested tokens per user alias.
func (b *Broker) UsageMap() map[string]int64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make(map[string]int64, len(b.reg.userOrder))
	for _, u := range b.reg.users() {
		out[u.UniqueAlias()] = u.Usage.Tokens
	}
	return out
}

// ContributionsMap reports produced tokens per user alias.
func (b *Broker) ContributionsMap() map[string]int64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make(map[string]int64, len(b.reg.userOrder))
	for _, u := range b.reg.users() {
		out[u.UniqueAlias()] = u.Contributions.Tokens
	}
	return out
}

// Stats is a point-in-time aggregate view of the whole cluster.
type Stats struct {
	Users              int
	Workers            int
	ActiveWorkers      int
	QueuedPrompts      int
	QueuedUnits        int
	ProcessingUnits    int
	Models             []string
	TotalUsage         domain.UsageStats
	TotalContributions domain.ContributionStats
	RequestAverage     float64
	TopContributor     string
	TopWorker          string
}

// ClusterStats aggregates counters across users, workers, and the queue.
func (b *Broker) ClusterStats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.clock.Now()
	st := Stats{
		Users:   len(b.reg.usersByID),
		Workers: len(b.reg.workersByID),
	}

	modelSet := make(map[string]struct{})
	var topWorker *domain.Worker
	for _, w := range b.reg.workers() {
		if !w.Stale(now, b.workerStaleAfter) {
			st.ActiveWorkers++
			if w.Model != "" {
				modelSet[w.Model] = struct{}{}
			}
		}
		if topWorker == nil || w.ContributedTokens > topWorker.ContributedTokens {
			topWorker = w
		}
	}
	st.Models = make([]string, 0, len(modelSet))
	for m := range modelSet {
		st.Models = append(st.Models, m)
	}
	sort.Strings(st.Models)
	if topWorker != nil {
		st.TopWorker = topWorker.Name
	}

	var topContributor *domain.User
	for _, u := range b.reg.users() {
		st.TotalUsage.Tokens += u.Usage.Tokens
		st.TotalUsage.Requests += u.Usage.Requests
		st.TotalContributions.Tokens += u.Contributions.Tokens
		st.TotalContributions.Fulfillments += u.Contributions.Fulfillments
		if topContributor == nil || u.Contributions.Tokens > topContributor.Contributions.Tokens {
			topContributor = u
		}
	}
	if topContributor != nil {
		st.TopContributor = topContributor.UniqueAlias()
	}
	if st.TotalUsage.Requests > 0 {
		st.RequestAverage = float64(st.TotalUsage.Tokens) / float64(st.TotalUsage.Requests)
	}

	for _, wp := range b.prompts.list() {
		if wp.Expired || wp.IsCompleted() {
			continue
		}
		st.QueuedPrompts++
		st.QueuedUnits += wp.NRemaining
	}
	for _, pg := range b.gens.list() {
		if !pg.IsCompleted() {
			st.ProcessingUnits++
		}
	}
	return st
}
