// Package broker implements the brokering scheduler: prompt admission, work
// dispatch, result crediting, and the staleness rules that tie them together.
package broker

import (
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/fairyhunter13/ai-prompt-broker/internal/domain"
)

// Defaults for the scheduling knobs.
const (
	DefaultWorkerStaleAfter   = 300 * time.Second
	DefaultPromptStaleAfter   = 600 * time.Second
	DefaultCompletedRetention = 60 * time.Second
	DefaultMaxActivePrompts   = 3
)

// Options tune the scheduler. Zero values fall back to the defaults above.
type Options struct {
	// Clock is swappable so staleness can be tested without sleeping.
	Clock              clock.Clock
	WorkerStaleAfter   time.Duration
	PromptStaleAfter   time.Duration
	CompletedRetention time.Duration
	MaxActivePrompts   int
}

// Broker owns every piece of live brokerage state: the registry of users and
// workers, the prompt index, and the generation index. One process-wide mutex
// protects all of it as a unit; critical sections stay dictionary-sized and
// never perform I/O, so contention is not a concern at this scale.
type Broker struct {
	mu    sync.Mutex
	clock clock.Clock

	reg     *registry
	prompts *promptIndex
	gens    *genIndex

	workerStaleAfter   time.Duration
	promptStaleAfter   time.Duration
	completedRetention time.Duration
	maxActivePrompts   int
}

// New constructs a Broker with empty state.
func New(opts Options) *Broker {
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.WorkerStaleAfter <= 0 {
		opts.WorkerStaleAfter = DefaultWorkerStaleAfter
	}
	if opts.PromptStaleAfter <= 0 {
		opts.PromptStaleAfter = DefaultPromptStaleAfter
	}
	if opts.CompletedRetention <= 0 {
		opts.CompletedRetention = DefaultCompletedRetention
	}
	if opts.MaxActivePrompts <= 0 {
		opts.MaxActivePrompts = DefaultMaxActivePrompts
	}
	return &Broker{
		clock:              opts.Clock,
		reg:                newRegistry(),
		prompts:            newPromptIndex(),
		gens:               newGenIndex(),
		workerStaleAfter:   opts.WorkerStaleAfter,
		promptStaleAfter:   opts.PromptStaleAfter,
		completedRetention: opts.CompletedRetention,
		maxActivePrompts:   opts.MaxActivePrompts,
	}
}

// authUser resolves an api key to its user. Callers must hold the lock.
func (b *Broker) authUser(apiKey string) (*domain.User, error) {
	if u := b.reg.userByKey(apiKey); u != nil {
		return u, nil
	}
	return nil, domain.ErrInvalidAPIKey
}

// RegisterUser mints an account. Emails are unique; usernames are not, which
// is why every public surface displays the unique alias instead.
func (b *Broker) RegisterUser(_ domain.Context, username, email, inviter string) (domain.User, error) {
	const op = "broker.register_user"
	if username == "" || email == "" {
		return domain.User{}, fmt.Errorf("op=%s: username and email required: %w", op, domain.ErrInvalidArgument)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.reg.userByEmail(email) != nil {
		return domain.User{}, fmt.Errorf("op=%s: email already registered: %w", op, domain.ErrInvalidArgument)
	}
	u := domain.NewUser(username, email, inviter, b.clock.Now())
	b.reg.addUser(u)
	return *u, nil
}

// LoadUsers seeds the registry from a snapshot. Meant for startup, before
// the broker is serving traffic.
func (b *Broker) LoadUsers(users []domain.User) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.reg.load(users)
}

// UsersSnapshot clones every account for the persistence loop. The returned
// values share nothing with live state.
func (b *Broker) UsersSnapshot() []domain.User {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.reg.snapshot()
}
