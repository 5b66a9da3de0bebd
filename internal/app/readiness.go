package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fairyhunter13/ai-prompt-broker/internal/config"
)

// BuildReadinessChecks returns the snapshot-directory probe, the broker's
// only external dependency. The probe writes and removes a marker file so a
// read-only volume fails readiness before the snapshot loop starts losing
// writes.
func BuildReadinessChecks(cfg config.Config) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if cfg.SnapshotDir == "" {
			return fmt.Errorf("snapshot dir not configured")
		}
		probe := filepath.Join(cfg.SnapshotDir, ".readyz")
		if err := os.WriteFile(probe, []byte("ok"), 0o600); err != nil {
			return fmt.Errorf("snapshot dir not writable: %w", err)
		}
		return os.Remove(probe)
	}
}
