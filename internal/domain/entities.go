// Package domain holds the brokering entities and the error taxonomy shared
// by the scheduler, the HTTP layer, and the snapshot store.
package domain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Error taxonomy (sentinels)
var (
	ErrInvalidArgument  = errors.New("invalid argument")
	ErrNotFound         = errors.New("not found")
	ErrInvalidAPIKey    = errors.New("invalid api key")
	ErrWrongCredentials = errors.New("wrong credentials")
	ErrEmptyPrompt      = errors.New("empty prompt")
	ErrTooManyPrompts   = errors.New("too many prompts in processing")
	ErrNoEligibleWorker = errors.New("no eligible worker")
	ErrPromptExpired    = errors.New("prompt expired")
	ErrDuplicateGen     = errors.New("generation already submitted")
	ErrInternal         = errors.New("internal error")
)

// PerformanceWindow bounds the rolling tokens-per-second sample set kept per
// worker.
const PerformanceWindow = 20

// UsageStats counts generation requested by a user.
type UsageStats struct {
	Tokens   int64
	Requests int64
}

// ContributionStats counts generation produced by a user's workers.
type ContributionStats struct {
	Tokens       int64
	Fulfillments int64
}

// User is an account created at registration time. Usernames are not unique;
// emails and api keys are. Users are never deleted.
type User struct {
	ID            int64
	Username      string
	Email         string
	APIKey        string
	Inviter       string
	Kudos         int64
	CreatedAt     time.Time
	Usage         UsageStats
	Contributions ContributionStats
}

// NewUser mints an account with a fresh api key. The id is assigned by the
// registry when the user is stored.
func NewUser(username, email, inviter string, now time.Time) *User {
	return &User{
		Username:  username,
		Email:     email,
		APIKey:    uuid.New().String(),
		Inviter:   inviter,
		CreatedAt: now,
	}
}

// UniqueAlias is the only safe public identity for a user.
func (u *User) UniqueAlias() string {
	return fmt.Sprintf("%s#%d", u.Username, u.ID)
}

// RecordContribution credits tokens produced by one of the user's workers.
// Kudos track produced tokens one to one.
func (u *User) RecordContribution(tokens int) {
	u.Contributions.Tokens += int64(tokens)
	u.Contributions.Fulfillments++
	u.Kudos += int64(tokens)
}

// RecordUsage credits tokens generated on the user's behalf.
func (u *User) RecordUsage(tokens int) {
	u.Usage.Tokens += int64(tokens)
}

// RecordRequest counts one fully served prompt.
func (u *User) RecordRequest() {
	u.Usage.Requests++
}

// Worker is one volunteer node. Its state is inferred, never stored: active
// while the last check-in is within the stale window, stale otherwise. Stale
// workers are excluded from matching and listings but keep their accounting.
type Worker struct {
	ID   string
	Name string
	// UserID is a registry lookup key, not an ownership edge.
	UserID int64

	// Capability snapshot, replaced on every check-in.
	Model            string
	MaxLength        int
	MaxContentLength int
	Softprompts      []string

	ContributedTokens int64
	Fulfillments      int64
	Uptime            time.Duration
	CreatedAt         time.Time
	LastCheckIn       time.Time

	perf []float64
}

// NewWorker registers a node under the owning user. From then on the
// (user, name) pair is the worker's identity.
func NewWorker(userID int64, name string, now time.Time) *Worker {
	return &Worker{
		ID:          uuid.New().String(),
		Name:        name,
		UserID:      userID,
		CreatedAt:   now,
		LastCheckIn: now,
	}
}

// CheckIn replaces the capability snapshot and bumps liveness. Uptime only
// grows by gaps small enough to prove the worker stayed online between polls.
func (w *Worker) CheckIn(model string, maxLength, maxContentLength int, softprompts []string, now time.Time, staleWindow time.Duration) {
	if gap := now.Sub(w.LastCheckIn); gap > 0 && gap <= staleWindow {
		w.Uptime += gap
	}
	w.Model = model
	w.MaxLength = maxLength
	w.MaxContentLength = maxContentLength
	w.Softprompts = softprompts
	w.LastCheckIn = now
}

// Stale reports whether the worker has missed check-ins beyond the window.
func (w *Worker) Stale(now time.Time, window time.Duration) bool {
	return now.Sub(w.LastCheckIn) > window
}

// RecordFulfillment credits one completed unit and feeds the rolling
// performance window. Zero-length elapsed intervals are not sampled.
func (w *Worker) RecordFulfillment(tokens int, elapsed time.Duration) {
	w.ContributedTokens += int64(tokens)
	w.Fulfillments++
	if elapsed <= 0 {
		return
	}
	w.perf = append(w.perf, float64(tokens)/elapsed.Seconds())
	if len(w.perf) > PerformanceWindow {
		w.perf = w.perf[len(w.perf)-PerformanceWindow:]
	}
}

// Performance is the mean tokens-per-second over the most recent
// fulfillments, zero before the first sample.
func (w *Worker) Performance() float64 {
	if len(w.perf) == 0 {
		return 0
	}
	var sum float64
	for _, v := range w.perf {
		sum += v
	}
	return sum / float64(len(w.perf))
}

// PerformanceSummary renders the rolling performance for worker cards.
func (w *Worker) PerformanceSummary() string {
	if w.Fulfillments == 0 {
		return "No requests fulfilled yet"
	}
	return fmt.Sprintf("%.2f tokens per second", w.Performance())
}

// SnapshotStore (port)
// Persists user accounts between runs. Workers are deliberately not covered;
// they re-materialize on their next check-in.

type SnapshotStore interface {
	Save(ctx Context, users []User) error
	Load(ctx Context) ([]User, error)
}

// Context is an alias so adapters and the broker can pass std contexts
// through without the domain importing more than it needs.
type Context = context.Context
