package observability

import (
	"log/slog"
	"os"

	"github.com/fairyhunter13/ai-prompt-broker/internal/config"
)

// SetupLogger configures a JSON slog logger tagged with service and env.
func SetupLogger(cfg config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{}
	// Dev gets debug level; everything else defaults to info.
	if cfg.IsDev() {
		opts.Level = slog.LevelDebug
	}
	h := slog.NewJSONHandler(os.Stdout, opts)
	logger := slog.New(h).With(
		slog.String("service", cfg.OTELServiceName),
		slog.String("env", cfg.AppEnv),
	)
	return logger
}
