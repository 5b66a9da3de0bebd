package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
	"github.com/hashicorp/go-cleanhttp"
)

// ErrUnitStale reports that the cluster no longer knows the work unit,
// usually because the prompt expired while the model was generating. The
// unit is abandoned; there is nothing left to credit.
var ErrUnitStale = errors.New("work unit stale")

// PopRequest is the worker announcement sent on every poll. It doubles as
// the capability check-in that keeps the worker listed as active.
type PopRequest struct {
	APIKey            string   `json:"api_key"`
	Name              string   `json:"name"`
	Model             string   `json:"model"`
	MaxLength         int      `json:"max_length"`
	MaxContentLength  int      `json:"max_content_length"`
	Softprompts       []string `json:"softprompts,omitempty"`
	PriorityUsernames []string `json:"priority_usernames,omitempty"`
}

// WorkUnit is one dispatched generation. Payload carries the submitter's
// generation knobs plus the prompt; the bridge forwards it verbatim.
type WorkUnit struct {
	ID         string
	Prompt     string
	Payload    map[string]any
	Softprompt string
}

// ClusterClient speaks the broker's worker-facing API. Transient failures
// (connection refused, 5xx) retry with exponential backoff; 4xx replies are
// final for the attempted call.
type ClusterClient struct {
	baseURL    string
	hc         *http.Client
	maxElapsed time.Duration
}

// NewClusterClient builds a client for the cluster at baseURL.
func NewClusterClient(baseURL string) *ClusterClient {
	hc := cleanhttp.DefaultPooledClient()
	hc.Timeout = 30 * time.Second
	return &ClusterClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		hc:         hc,
		maxElapsed: 2 * time.Minute,
	}
}

func (c *ClusterClient) getBackoffConfig() *backoff.ExponentialBackOff {
	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = 500 * time.Millisecond
	expo.MaxInterval = 10 * time.Second
	expo.MaxElapsedTime = c.maxElapsed
	return expo
}

// statusError carries a non-2xx cluster reply through the retry loop.
type statusError struct {
	status int
	body   string
}

func (e *statusError) Error() string {
	if e.body == "" {
		return fmt.Sprintf("cluster status %d", e.status)
	}
	return fmt.Sprintf("cluster status %d: %s", e.status, e.body)
}

// Pop asks for work. A nil unit with a skip tally means nothing matched
// this worker right now.
func (c *ClusterClient) Pop(ctx context.Context, req PopRequest) (*WorkUnit, map[string]int, error) {
	const op = "bridge.pop"
	var out struct {
		ID         *string        `json:"id"`
		Prompt     string         `json:"prompt"`
		Payload    map[string]any `json:"payload"`
		Softprompt string         `json:"softprompt"`
		Skipped    map[string]int `json:"skipped"`
	}
	if err := c.postJSON(ctx, "/generate/pop", req, &out); err != nil {
		return nil, nil, fmt.Errorf("op=%s: %w", op, err)
	}
	if out.ID == nil {
		return nil, out.Skipped, nil
	}
	return &WorkUnit{
		ID:         *out.ID,
		Prompt:     out.Prompt,
		Payload:    out.Payload,
		Softprompt: out.Softprompt,
	}, nil, nil
}

// Submit delivers the generated text and returns the kudos reward. A 404
// from the cluster maps to ErrUnitStale.
func (c *ClusterClient) Submit(ctx context.Context, apiKey, id, generation string) (int, error) {
	const op = "bridge.submit"
	in := map[string]string{
		"api_key":    apiKey,
		"id":         id,
		"generation": generation,
	}
	var out struct {
		Reward int `json:"reward"`
	}
	if err := c.postJSON(ctx, "/generate/submit", in, &out); err != nil {
		var se *statusError
		if errors.As(err, &se) && se.status == http.StatusNotFound {
			return 0, fmt.Errorf("op=%s: %w", op, ErrUnitStale)
		}
		return 0, fmt.Errorf("op=%s: %w", op, err)
	}
	return out.Reward, nil
}

func (c *ClusterClient) postJSON(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return err
	}
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := c.hc.Do(req)
		if err != nil {
			return err
		}
		defer func() { _ = resp.Body.Close() }()

		switch {
		case resp.StatusCode >= 400 && resp.StatusCode < 500:
			return backoff.Permanent(&statusError{status: resp.StatusCode, body: readSnippet(resp.Body)})
		case resp.StatusCode != http.StatusOK:
			return &statusError{status: resp.StatusCode, body: readSnippet(resp.Body)}
		}
		return json.NewDecoder(resp.Body).Decode(out)
	}
	bo := backoff.WithContext(c.getBackoffConfig(), ctx)
	return backoff.Retry(op, bo)
}

func readSnippet(r io.Reader) string {
	b, _ := io.ReadAll(io.LimitReader(r, 512))
	return strings.TrimSpace(string(b))
}
