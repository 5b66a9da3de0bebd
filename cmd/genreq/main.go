// Command genreq submits one prompt to the brokering cluster and prints the
// generated texts.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/hashicorp/go-cleanhttp"
	"github.com/spf13/cobra"
)

var flags struct {
	clusterURL       string
	apiKey           string
	prompt           string
	amount           int
	maxLength        int
	maxContentLength int
	models           []string
	servers          []string
	softprompts      []string
	sync             bool
	pollInterval     time.Duration
	timeout          time.Duration
}

var rootCmd = &cobra.Command{
	Use:   "genreq",
	Short: "Submit a prompt to the brokering cluster",
	Long: `genreq submits one prompt and prints every generated text to stdout.

By default it submits asynchronously and polls the prompt's status until all
units are finished. With --sync it holds a single blocking request instead,
which ties up one connection for up to the cluster's prompt-stale window.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runGenReq,
}

func init() {
	rootCmd.Flags().StringVar(&flags.clusterURL, "cluster-url", "http://localhost:8080", "cluster URL")
	rootCmd.Flags().StringVarP(&flags.apiKey, "api-key", "k", "", "API key (required)")
	rootCmd.Flags().StringVarP(&flags.prompt, "prompt", "p", "", "prompt text (required)")
	rootCmd.Flags().IntVarP(&flags.amount, "amount", "n", 1, "number of generations to request")
	rootCmd.Flags().IntVar(&flags.maxLength, "max-length", 80, "tokens each generation may emit")
	rootCmd.Flags().IntVar(&flags.maxContentLength, "max-content-length", 1024, "context tokens the worker must accept")
	rootCmd.Flags().StringSliceVar(&flags.models, "models", nil, "acceptable model names (empty = any)")
	rootCmd.Flags().StringSliceVar(&flags.servers, "servers", nil, "pin to specific worker ids")
	rootCmd.Flags().StringSliceVar(&flags.softprompts, "softprompts", nil, "acceptable softprompt substrings")
	rootCmd.Flags().BoolVar(&flags.sync, "sync", false, "block on /generate/sync instead of polling")
	rootCmd.Flags().DurationVar(&flags.pollInterval, "poll-interval", time.Second, "status poll cadence in async mode")
	rootCmd.Flags().DurationVar(&flags.timeout, "timeout", 10*time.Minute, "overall deadline")
	_ = rootCmd.MarkFlagRequired("api-key")
	_ = rootCmd.MarkFlagRequired("prompt")
}

type generateRequest struct {
	Prompt      string         `json:"prompt"`
	APIKey      string         `json:"api_key"`
	Models      []string       `json:"models,omitempty"`
	Params      map[string]any `json:"params,omitempty"`
	Servers     []string       `json:"servers,omitempty"`
	Softprompts []string       `json:"softprompts,omitempty"`
}

type promptStatus struct {
	Waiting     int      `json:"waiting"`
	Processing  int      `json:"processing"`
	Finished    int      `json:"finished"`
	Generations []string `json:"generations"`
}

func runGenReq(_ *cobra.Command, _ []string) error {
	base := strings.TrimRight(flags.clusterURL, "/")
	req := generateRequest{
		Prompt:      flags.prompt,
		APIKey:      flags.apiKey,
		Models:      flags.models,
		Servers:     flags.servers,
		Softprompts: flags.softprompts,
		Params: map[string]any{
			"n":                  flags.amount,
			"max_length":         flags.maxLength,
			"max_content_length": flags.maxContentLength,
		},
	}

	hc := cleanhttp.DefaultClient()
	hc.Timeout = flags.timeout

	if flags.sync {
		var texts []string
		if err := postJSON(hc, base+"/generate/sync", req, &texts); err != nil {
			return err
		}
		printTexts(texts)
		return nil
	}

	var submitted struct {
		ID string `json:"id"`
	}
	if err := postJSON(hc, base+"/generate/async", req, &submitted); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "submitted prompt %s\n", submitted.ID)

	texts, err := pollUntilDone(hc, base, submitted.ID)
	if err != nil {
		return err
	}
	printTexts(texts)
	return nil
}

// pollUntilDone watches the prompt until no units are waiting or running.
// A 404 means the prompt went stale and was swept before finishing.
func pollUntilDone(hc *http.Client, base, id string) ([]string, error) {
	deadline := time.Now().Add(flags.timeout)
	for {
		resp, err := hc.Get(base + "/generate/prompt/" + id)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode == http.StatusNotFound {
			_ = resp.Body.Close()
			return nil, fmt.Errorf("prompt %s expired before finishing", id)
		}
		if resp.StatusCode != http.StatusOK {
			msg := readSnippet(resp.Body)
			_ = resp.Body.Close()
			return nil, fmt.Errorf("status poll failed: %d: %s", resp.StatusCode, msg)
		}
		var st promptStatus
		err = json.NewDecoder(resp.Body).Decode(&st)
		_ = resp.Body.Close()
		if err != nil {
			return nil, err
		}

		if st.Waiting == 0 && st.Processing == 0 {
			if st.Finished == 0 {
				return nil, fmt.Errorf("prompt %s produced no generations", id)
			}
			return st.Generations, nil
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("timed out after %s (waiting=%d processing=%d finished=%d)",
				flags.timeout, st.Waiting, st.Processing, st.Finished)
		}
		fmt.Fprintf(os.Stderr, "waiting=%d processing=%d finished=%d\n",
			st.Waiting, st.Processing, st.Finished)
		time.Sleep(flags.pollInterval)
	}
}

func postJSON(hc *http.Client, url string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return err
	}
	resp, err := hc.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("cluster answered %d: %s", resp.StatusCode, readSnippet(resp.Body))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func printTexts(texts []string) {
	for i, text := range texts {
		if i > 0 {
			fmt.Println("---")
		}
		fmt.Println(text)
	}
}

func readSnippet(r io.Reader) string {
	b, _ := io.ReadAll(io.LimitReader(r, 512))
	return strings.TrimSpace(string(b))
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
