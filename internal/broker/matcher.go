package broker

import (
	"slices"
	"strings"
	"time"

	"github.com/fairyhunter13/ai-prompt-broker/internal/domain"
)

// Skip reasons reported back to polling workers, keyed the way clients
// already aggregate them.
const (
	SkipWorkerStale      = "worker_stale"
	SkipModels           = "models"
	SkipServerID         = "server_id"
	SkipMaxContentLength = "max_content_length"
	SkipMaxLength        = "max_length"
	SkipSoftprompt       = "matching_softprompt"
)

// CanGenerate decides whether a worker can serve a prompt. Clauses are
// evaluated in a fixed order and the first failure names the reason, so skip
// counts stay comparable across polls. On acceptance it returns the
// softprompt the worker must load, empty when none is required.
//
// Softprompt matching is substring-based against the worker's loaded names,
// honoring the order of the prompt's list; an empty-string entry means the
// prompt is happy with no softprompt at all.
func CanGenerate(w *domain.Worker, wp *domain.WaitingPrompt, now time.Time, staleWindow time.Duration) (softprompt, reason string, ok bool) {
	if w.Stale(now, staleWindow) {
		return "", SkipWorkerStale, false
	}
	c := wp.Constraints
	if len(c.Models) > 0 && !slices.Contains(c.Models, w.Model) {
		return "", SkipModels, false
	}
	if len(c.ServerIDs) > 0 && !slices.Contains(c.ServerIDs, w.ID) {
		return "", SkipServerID, false
	}
	if wp.Params.MaxContentLength > w.MaxContentLength {
		return "", SkipMaxContentLength, false
	}
	if wp.Params.MaxLength > w.MaxLength {
		return "", SkipMaxLength, false
	}
	if len(c.Softprompts) == 0 {
		return "", "", true
	}
	for _, want := range c.Softprompts {
		if want == "" {
			return "", "", true
		}
		for _, have := range w.Softprompts {
			if strings.Contains(have, want) {
				return have, "", true
			}
		}
	}
	return "", SkipSoftprompt, false
}
