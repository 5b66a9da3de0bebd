package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	gocache "github.com/patrickmn/go-cache"

	obs "github.com/fairyhunter13/ai-prompt-broker/internal/adapter/observability"
	"github.com/fairyhunter13/ai-prompt-broker/internal/broker"
	"github.com/fairyhunter13/ai-prompt-broker/internal/config"
	"github.com/fairyhunter13/ai-prompt-broker/internal/domain"
	"github.com/fairyhunter13/ai-prompt-broker/pkg/textx"
)

// maxBodyBytes caps JSON request bodies. Prompts are text, not uploads.
const maxBodyBytes = 1 << 20

// Cache keys for the aggregate listings.
const (
	cacheKeyServers       = "servers"
	cacheKeyModels        = "models"
	cacheKeyUsage         = "usage"
	cacheKeyContributions = "contributions"
	cacheKeyStats         = "stats"
)

// Server aggregates handler dependencies.
type Server struct {
	Cfg           config.Config
	Broker        *broker.Broker
	SnapshotCheck func(ctx context.Context) error

	// listings caches the aggregate read endpoints; nil when disabled.
	listings *gocache.Cache
}

// NewServer constructs an HTTP server with the listing cache sized from
// config. A zero ListingCacheTTL disables caching entirely.
func NewServer(cfg config.Config, b *broker.Broker, snapshotCheck func(context.Context) error) *Server {
	s := &Server{Cfg: cfg, Broker: b, SnapshotCheck: snapshotCheck}
	if ttl := cfg.ListingCacheTTL; ttl > 0 {
		s.listings = gocache.New(ttl, 2*ttl)
	}
	return s
}

var (
	vldOnce sync.Once
	vld     *validator.Validate
)

func getValidator() *validator.Validate {
	vldOnce.Do(func() { vld = validator.New() })
	return vld
}

// generateRequest is the submission body shared by the sync and async
// endpoints.
type generateRequest struct {
	Prompt      string         `json:"prompt"`
	APIKey      string         `json:"api_key"`
	Models      []string       `json:"models"`
	Params      map[string]any `json:"params"`
	ServerIDs   []string       `json:"servers"`
	Softprompts []string       `json:"softprompts"`
}

func decodeGenerate(w http.ResponseWriter, r *http.Request) (broker.SubmitRequest, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req generateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return broker.SubmitRequest{}, fmt.Errorf("invalid json: %w", domain.ErrInvalidArgument)
	}
	return broker.SubmitRequest{
		APIKey:      req.APIKey,
		Prompt:      req.Prompt,
		Params:      req.Params,
		Models:      req.Models,
		ServerIDs:   req.ServerIDs,
		Softprompts: req.Softprompts,
	}, nil
}

// RegisterHandler mints a new user account.
func (s *Server) RegisterHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		var req struct {
			Username string `json:"username" validate:"required,max=100"`
			Email    string `json:"email" validate:"required,email,max=254"`
			Inviter  string `json:"inviter" validate:"omitempty,max=100"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, r, fmt.Errorf("invalid json: %w", domain.ErrInvalidArgument))
			return
		}
		// Usernames end up in aliases, listings and the snapshot files;
		// strip control characters before they get durable.
		req.Username = textx.SanitizeText(req.Username)
		req.Inviter = textx.SanitizeText(req.Inviter)
		if err := getValidator().Struct(req); err != nil {
			var ve validator.ValidationErrors
			fields := make([]string, 0, 3)
			if errors.As(err, &ve) {
				for _, fe := range ve {
					fields = append(fields, strings.ToLower(fe.Field())+" "+fe.Tag())
				}
			}
			writeError(w, r, fmt.Errorf("validation failed (%s): %w", strings.Join(fields, ", "), domain.ErrInvalidArgument))
			return
		}
		u, err := s.Broker.RegisterUser(r.Context(), req.Username, req.Email, req.Inviter)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"id":           u.ID,
			"username":     u.Username,
			"unique_alias": u.UniqueAlias(),
			"api_key":      u.APIKey,
		})
	}
}

// GenerateSyncHandler admits a prompt and blocks until every unit is in,
// then returns the texts as a bare JSON array.
func (s *Server) GenerateSyncHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, err := decodeGenerate(w, r)
		if err != nil {
			writeError(w, r, err)
			return
		}
		texts, err := s.Broker.SubmitSync(r.Context(), req)
		if err != nil {
			// An expired prompt was still admitted; count it.
			if errors.Is(err, domain.ErrPromptExpired) {
				obs.RecordPromptSubmitted("sync")
			}
			writeError(w, r, err)
			return
		}
		obs.RecordPromptSubmitted("sync")
		writeJSON(w, http.StatusOK, texts)
	}
}

// GenerateAsyncHandler admits a prompt and returns its id immediately.
func (s *Server) GenerateAsyncHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, err := decodeGenerate(w, r)
		if err != nil {
			writeError(w, r, err)
			return
		}
		id, err := s.Broker.SubmitAsync(r.Context(), req)
		if err != nil {
			writeError(w, r, err)
			return
		}
		obs.RecordPromptSubmitted("async")
		writeJSON(w, http.StatusOK, map[string]string{"id": id})
	}
}

// PromptStatusHandler reports unit counts and finished texts for one prompt.
func (s *Server) PromptStatusHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		st, texts, err := s.Broker.PromptStatus(id)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"waiting":     st.Waiting,
			"processing":  st.Processing,
			"finished":    st.Finished,
			"generations": texts,
		})
	}
}

// PopHandler checks a worker in and hands it at most one unit. A poll that
// matches nothing still returns 200 with the per-reason skip counts.
func (s *Server) PopHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		var req struct {
			APIKey            string   `json:"api_key"`
			Name              string   `json:"name"`
			Model             string   `json:"model"`
			MaxLength         int      `json:"max_length"`
			MaxContentLength  int      `json:"max_content_length"`
			Softprompts       []string `json:"softprompts"`
			PriorityUsernames []string `json:"priority_usernames"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, r, fmt.Errorf("invalid json: %w", domain.ErrInvalidArgument))
			return
		}
		res, err := s.Broker.PopWork(r.Context(), broker.PopRequest{
			APIKey:            req.APIKey,
			Name:              req.Name,
			Model:             req.Model,
			MaxLength:         req.MaxLength,
			MaxContentLength:  req.MaxContentLength,
			Softprompts:       req.Softprompts,
			PriorityUsernames: req.PriorityUsernames,
		})
		if err != nil {
			writeError(w, r, err)
			return
		}
		if res.Unit == nil {
			obs.RecordPopSkips(res.Skipped)
			writeJSON(w, http.StatusOK, map[string]any{"id": nil, "skipped": res.Skipped})
			return
		}
		obs.RecordDispatch()
		writeJSON(w, http.StatusOK, map[string]any{
			"id":         res.Unit.ID,
			"prompt":     res.Unit.Prompt,
			"payload":    res.Unit.Payload,
			"softprompt": res.Unit.Softprompt,
		})
	}
}

// SubmitHandler accepts a worker's finished text and returns the kudos
// reward.
func (s *Server) SubmitHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		var req struct {
			APIKey     string `json:"api_key"`
			ID         string `json:"id"`
			Generation string `json:"generation"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, r, fmt.Errorf("invalid json: %w", domain.ErrInvalidArgument))
			return
		}
		reward, err := s.Broker.SubmitResult(r.Context(), req.APIKey, req.ID, req.Generation)
		if err != nil {
			writeError(w, r, err)
			return
		}
		obs.RecordCompletion(int64(reward))
		writeJSON(w, http.StatusOK, map[string]int{"reward": reward})
	}
}

// workerCard is the public listing shape for one worker.
type workerCard struct {
	ID                string `json:"id"`
	Name              string `json:"name"`
	Model             string `json:"model"`
	MaxLength         int    `json:"max_length"`
	MaxContentLength  int    `json:"max_content_length"`
	TokensGenerated   int64  `json:"tokens_generated"`
	RequestsFulfilled int64  `json:"requests_fulfilled"`
	Kudos             int64  `json:"kudos"`
	Performance       string `json:"performance"`
	UptimeSeconds     int64  `json:"uptime_seconds"`
	Owner             string `json:"owner"`
}

func (s *Server) workerCard(w domain.Worker) workerCard {
	return workerCard{
		ID:                w.ID,
		Name:              w.Name,
		Model:             w.Model,
		MaxLength:         w.MaxLength,
		MaxContentLength:  w.MaxContentLength,
		TokensGenerated:   w.ContributedTokens,
		RequestsFulfilled: w.Fulfillments,
		Kudos:             w.ContributedTokens,
		Performance:       w.PerformanceSummary(),
		UptimeSeconds:     int64(w.Uptime.Seconds()),
		Owner:             s.Broker.UserAlias(w.UserID),
	}
}

// cached serves key from the listing cache, filling it on miss. With the
// cache disabled it just calls fill.
func (s *Server) cached(key string, fill func() any) any {
	if s.listings == nil {
		return fill()
	}
	if v, ok := s.listings.Get(key); ok {
		return v
	}
	v := fill()
	s.listings.Set(key, v, gocache.DefaultExpiration)
	return v
}

// ServersHandler lists cards for every non-stale worker.
func (s *Server) ServersHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		v := s.cached(cacheKeyServers, func() any {
			workers := s.Broker.ActiveWorkers()
			cards := make([]workerCard, 0, len(workers))
			for _, wk := range workers {
				cards = append(cards, s.workerCard(wk))
			}
			return cards
		})
		writeJSON(w, http.StatusOK, v)
	}
}

// ServerDetailHandler returns one worker card by id. Stale workers stay
// addressable here even though listings hide them.
func (s *Server) ServerDetailHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		wk, err := s.Broker.WorkerInfo(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, s.workerCard(wk))
	}
}

// ModelsHandler lists the models served by non-stale workers.
func (s *Server) ModelsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		v := s.cached(cacheKeyModels, func() any { return s.Broker.AvailableModels() })
		writeJSON(w, http.StatusOK, v)
	}
}

// UsageHandler maps unique alias to requested tokens.
func (s *Server) UsageHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		v := s.cached(cacheKeyUsage, func() any { return s.Broker.UsageMap() })
		writeJSON(w, http.StatusOK, v)
	}
}

// ContributionsHandler maps unique alias to produced tokens.
func (s *Server) ContributionsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		v := s.cached(cacheKeyContributions, func() any { return s.Broker.ContributionsMap() })
		writeJSON(w, http.StatusOK, v)
	}
}

// StatsHandler exposes the registry aggregates.
func (s *Server) StatsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		v := s.cached(cacheKeyStats, func() any {
			st := s.Broker.ClusterStats()
			return map[string]any{
				"users":            st.Users,
				"workers":          st.Workers,
				"active_workers":   st.ActiveWorkers,
				"queued_prompts":   st.QueuedPrompts,
				"queued_units":     st.QueuedUnits,
				"processing_units": st.ProcessingUnits,
				"models":           st.Models,
				"total_usage": map[string]int64{
					"tokens":   st.TotalUsage.Tokens,
					"requests": st.TotalUsage.Requests,
				},
				"total_contributions": map[string]int64{
					"tokens":       st.TotalContributions.Tokens,
					"fulfillments": st.TotalContributions.Fulfillments,
				},
				"request_average": st.RequestAverage,
				"top_contributor": st.TopContributor,
				"top_worker":      st.TopWorker,
			}
		})
		writeJSON(w, http.StatusOK, v)
	}
}

// ReadyzHandler probes the snapshot directory, the broker's only external
// dependency.
func (s *Server) ReadyzHandler() http.HandlerFunc {
	type check struct {
		Name    string `json:"name"`
		OK      bool   `json:"ok"`
		Details string `json:"details,omitempty"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		checks := make([]check, 0, 1)
		if s.SnapshotCheck != nil {
			if err := s.SnapshotCheck(ctx); err != nil {
				checks = append(checks, check{Name: "snapshot_dir", OK: false, Details: err.Error()})
			} else {
				checks = append(checks, check{Name: "snapshot_dir", OK: true})
			}
		}
		ok := true
		for _, c := range checks {
			if !c.OK {
				ok = false
				break
			}
		}
		st := http.StatusOK
		if !ok {
			st = http.StatusServiceUnavailable
		}
		writeJSON(w, st, map[string]any{"checks": checks})
	}
}
