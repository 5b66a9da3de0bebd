package snapshot

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/ai-prompt-broker/internal/domain"
)

func sampleUsers() []domain.User {
	created := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	return []domain.User{
		{
			ID: 1, Username: "ann", Email: "ann@example.com", APIKey: "key-ann",
			Kudos: 42, CreatedAt: created,
			Usage:         domain.UsageStats{Tokens: 100, Requests: 7},
			Contributions: domain.ContributionStats{Tokens: 42, Fulfillments: 3},
		},
		{
			ID: 2, Username: "bob", Email: "bob@example.com", APIKey: "key-bob",
			Inviter: "ann#1", CreatedAt: created.Add(time.Hour),
		},
	}
}

func TestSaveAndLoad_RoundTrip(t *testing.T) {
	t.Parallel()
	st := New(t.TempDir())

	require.NoError(t, st.Save(context.Background(), sampleUsers()))

	got, err := st.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, sampleUsers(), got)
}

// The users.json layout is a published contract; external consumers read the
// nested usage and contributions objects.
func TestSave_UsersFileShape(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	st := New(dir)

	require.NoError(t, st.Save(context.Background(), sampleUsers()))

	data, err := os.ReadFile(filepath.Join(dir, "users.json"))
	require.NoError(t, err)
	var raw []map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	require.Len(t, raw, 2)

	ann := raw[0]
	assert.Equal(t, float64(1), ann["id"])
	assert.Equal(t, "ann", ann["username"])
	assert.Equal(t, "key-ann", ann["api_key"])
	assert.Equal(t, float64(42), ann["kudos"])
	assert.Contains(t, ann, "creation_date")
	assert.Equal(t, map[string]any{"tokens": float64(100), "requests": float64(7)}, ann["usage"])
	assert.Equal(t, map[string]any{"tokens": float64(42), "fulfillments": float64(3)}, ann["contributions"])

	assert.Equal(t, "ann#1", raw[1]["inviter"])
	assert.NotContains(t, raw[0], "inviter", "empty inviter must be omitted")
}

func TestLoad_MissingFile(t *testing.T) {
	t.Parallel()
	st := New(t.TempDir())

	got, err := st.Load(context.Background())
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSave_WritesDerivedTallies(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	st := New(dir)

	require.NoError(t, st.Save(context.Background(), sampleUsers()))

	var usage map[string]int64
	data, err := os.ReadFile(filepath.Join(dir, "usage.json"))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &usage))
	assert.Equal(t, map[string]int64{"ann#1": 100, "bob#2": 0}, usage)

	var contributions map[string]int64
	data, err = os.ReadFile(filepath.Join(dir, "contributions.json"))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &contributions))
	assert.Equal(t, map[string]int64{"ann#1": 42, "bob#2": 0}, contributions)
}

func TestSave_Overwrites(t *testing.T) {
	t.Parallel()
	st := New(t.TempDir())
	users := sampleUsers()

	require.NoError(t, st.Save(context.Background(), users))
	users[0].Kudos = 99
	require.NoError(t, st.Save(context.Background(), users))

	got, err := st.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(99), got[0].Kudos)
}

func TestSave_LeavesNoTempFiles(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	st := New(dir)

	require.NoError(t, st.Save(context.Background(), sampleUsers()))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.ElementsMatch(t, []string{"users.json", "usage.json", "contributions.json"}, names)
}

func TestLoad_CorruptFile(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	st := New(dir)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "users.json"), []byte("{nope"), 0o600))

	_, err := st.Load(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "op=snapshot.load")
}

func TestSave_CreatesDir(t *testing.T) {
	t.Parallel()
	dir := filepath.Join(t.TempDir(), "nested", "snapshots")
	st := New(dir)

	require.NoError(t, st.Save(context.Background(), nil))

	_, err := os.Stat(filepath.Join(dir, "users.json"))
	require.NoError(t, err)
}
