package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-cleanhttp"
)

// ErrBusy reports that the model server answered 503 to a generate call.
// The caller retries the same work unit instead of dropping it.
var ErrBusy = errors.New("model server busy")

// ModelInfo is the capability snapshot a model server advertises. The
// bridge re-reads it on every pass, so model swaps on the server are
// picked up without a restart.
type ModelInfo struct {
	Model            string
	MaxLength        int
	MaxContentLength int
	Softprompts      []string
}

// ModelClient speaks the local model server's HTTP API. Config reads are
// quick; generate calls can run for minutes on CPU-bound hosts, so the two
// paths get separate timeouts.
type ModelClient struct {
	baseURL string
	infoHC  *http.Client
	genHC   *http.Client
}

// NewModelClient builds a client for the model server at baseURL.
func NewModelClient(baseURL string) *ModelClient {
	infoHC := cleanhttp.DefaultPooledClient()
	infoHC.Timeout = 10 * time.Second
	genHC := cleanhttp.DefaultPooledClient()
	genHC.Timeout = 300 * time.Second
	return &ModelClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		infoHC:  infoHC,
		genHC:   genHC,
	}
}

// Info reads the advertised model name, context budget, emission budget and
// installed soft prompts. A server that answers but does not expose the
// model endpoint is not a model server.
func (c *ModelClient) Info(ctx context.Context) (ModelInfo, error) {
	const op = "bridge.model_info"
	var info ModelInfo

	var model struct {
		Result string `json:"result"`
	}
	if err := c.getJSON(ctx, "/api/latest/model", &model); err != nil {
		return ModelInfo{}, fmt.Errorf("op=%s: %w", op, err)
	}
	if model.Result == "" {
		return ModelInfo{}, fmt.Errorf("op=%s: no model advertised, not a model server?", op)
	}
	info.Model = model.Result

	var value struct {
		Value int `json:"value"`
	}
	if err := c.getJSON(ctx, "/api/latest/config/max_context_length", &value); err != nil {
		return ModelInfo{}, fmt.Errorf("op=%s: %w", op, err)
	}
	info.MaxContentLength = value.Value

	if err := c.getJSON(ctx, "/api/latest/config/max_length", &value); err != nil {
		return ModelInfo{}, fmt.Errorf("op=%s: %w", op, err)
	}
	info.MaxLength = value.Value

	sp, err := c.softPrompts(ctx)
	if err != nil {
		return ModelInfo{}, fmt.Errorf("op=%s: %w", op, err)
	}
	info.Softprompts = sp

	return info, nil
}

// softPrompts tolerates a 404: older model servers do not expose the list
// at all, which just means none are installed.
func (c *ModelClient) softPrompts(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/latest/config/soft_prompts_list", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.infoHC.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	switch resp.StatusCode {
	case http.StatusNotFound:
		return nil, nil
	case http.StatusOK:
		var out struct {
			Values []string `json:"values"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return nil, fmt.Errorf("soft_prompts_list: %w", err)
		}
		return out.Values, nil
	default:
		return nil, fmt.Errorf("soft_prompts_list: status %d", resp.StatusCode)
	}
}

// Generate forwards the work unit's payload verbatim and returns the first
// generated text. A 503 maps to ErrBusy.
func (c *ModelClient) Generate(ctx context.Context, payload map[string]any) (string, error) {
	const op = "bridge.generate"
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("op=%s: %w", op, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/latest/generate/", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("op=%s: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.genHC.Do(req)
	if err != nil {
		return "", fmt.Errorf("op=%s: %w", op, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusServiceUnavailable {
		return "", fmt.Errorf("op=%s: %w", op, ErrBusy)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("op=%s: generate status %d", op, resp.StatusCode)
	}

	var out struct {
		Results []struct {
			Text string `json:"text"`
		} `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("op=%s: %w", op, err)
	}
	if len(out.Results) == 0 {
		return "", fmt.Errorf("op=%s: empty results", op)
	}
	return out.Results[0].Text, nil
}

func (c *ModelClient) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.infoHC.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: status %d", path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}
