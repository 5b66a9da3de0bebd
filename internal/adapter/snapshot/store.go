// Package snapshot persists user accounts as JSON files on disk.
//
// Three files are maintained: users.json is the authoritative record loaded
// back on startup; usage.json and contributions.json are per-alias token
// tallies kept for external consumers. Every write goes through a temp file
// and rename so readers never observe a torn snapshot.
package snapshot

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/fairyhunter13/ai-prompt-broker/internal/domain"
)

const (
	usersFile         = "users.json"
	usageFile         = "usage.json"
	contributionsFile = "contributions.json"
)

// Store reads and writes account snapshots under a single directory.
type Store struct {
	Dir string
}

// New constructs a Store rooted at dir.
func New(dir string) *Store { return &Store{Dir: dir} }

// userRecord is the wire form of one account. The domain structs carry no
// JSON tags; the file layout is pinned here instead so renaming a domain
// field cannot silently break old snapshots.
type userRecord struct {
	ID        int64     `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	APIKey    string    `json:"api_key"`
	Inviter   string    `json:"inviter,omitempty"`
	Kudos     int64     `json:"kudos"`
	CreatedAt time.Time `json:"creation_date"`

	Usage struct {
		Tokens   int64 `json:"tokens"`
		Requests int64 `json:"requests"`
	} `json:"usage"`
	Contributions struct {
		Tokens       int64 `json:"tokens"`
		Fulfillments int64 `json:"fulfillments"`
	} `json:"contributions"`
}

func toRecord(u domain.User) userRecord {
	r := userRecord{
		ID:        u.ID,
		Username:  u.Username,
		Email:     u.Email,
		APIKey:    u.APIKey,
		Inviter:   u.Inviter,
		Kudos:     u.Kudos,
		CreatedAt: u.CreatedAt,
	}
	r.Usage.Tokens = u.Usage.Tokens
	r.Usage.Requests = u.Usage.Requests
	r.Contributions.Tokens = u.Contributions.Tokens
	r.Contributions.Fulfillments = u.Contributions.Fulfillments
	return r
}

func (r userRecord) toDomain() domain.User {
	return domain.User{
		ID:        r.ID,
		Username:  r.Username,
		Email:     r.Email,
		APIKey:    r.APIKey,
		Inviter:   r.Inviter,
		Kudos:     r.Kudos,
		CreatedAt: r.CreatedAt,
		Usage: domain.UsageStats{
			Tokens:   r.Usage.Tokens,
			Requests: r.Usage.Requests,
		},
		Contributions: domain.ContributionStats{
			Tokens:       r.Contributions.Tokens,
			Fulfillments: r.Contributions.Fulfillments,
		},
	}
}

// Save writes users.json plus the derived usage and contributions tallies.
// The users file is written first; a crash between files loses only the
// derived views, never the accounts.
func (s *Store) Save(ctx domain.Context, users []domain.User) error {
	tracer := otel.Tracer("snapshot.store")
	_, span := tracer.Start(ctx, "snapshot.Save")
	defer span.End()

	const op = "snapshot.save"
	if err := os.MkdirAll(s.Dir, 0o750); err != nil {
		return fmt.Errorf("op=%s: create dir: %w", op, err)
	}

	records := make([]userRecord, 0, len(users))
	usage := make(map[string]int64, len(users))
	contributions := make(map[string]int64, len(users))
	for i := range users {
		u := users[i]
		records = append(records, toRecord(u))
		alias := u.UniqueAlias()
		usage[alias] = u.Usage.Tokens
		contributions[alias] = u.Contributions.Tokens
	}

	if err := s.writeJSON(usersFile, records); err != nil {
		return fmt.Errorf("op=%s: %w", op, err)
	}
	if err := s.writeJSON(usageFile, usage); err != nil {
		return fmt.Errorf("op=%s: %w", op, err)
	}
	if err := s.writeJSON(contributionsFile, contributions); err != nil {
		return fmt.Errorf("op=%s: %w", op, err)
	}
	return nil
}

// Load reads users.json. A missing file is a fresh install, not an error.
func (s *Store) Load(ctx domain.Context) ([]domain.User, error) {
	tracer := otel.Tracer("snapshot.store")
	_, span := tracer.Start(ctx, "snapshot.Load")
	defer span.End()

	const op = "snapshot.load"
	data, err := os.ReadFile(filepath.Join(s.Dir, usersFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("op=%s: read: %w", op, err)
	}

	var records []userRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("op=%s: unmarshal: %w", op, err)
	}
	users := make([]domain.User, 0, len(records))
	for _, r := range records {
		users = append(users, r.toDomain())
	}
	return users, nil
}

// writeJSON marshals v and atomically replaces name under the store dir.
func (s *Store) writeJSON(name string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", name, err)
	}

	temp, err := os.CreateTemp(s.Dir, "."+name+".tmp.*")
	if err != nil {
		return fmt.Errorf("create temp for %s: %w", name, err)
	}
	tempPath := temp.Name()

	if _, err := temp.Write(data); err != nil {
		_ = temp.Close()
		_ = os.Remove(tempPath)
		return fmt.Errorf("write temp for %s: %w", name, err)
	}
	if err := temp.Close(); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("close temp for %s: %w", name, err)
	}
	if err := os.Rename(tempPath, filepath.Join(s.Dir, name)); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("rename %s: %w", name, err)
	}
	return nil
}
