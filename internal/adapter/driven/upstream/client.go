// Package upstream talks to an OpenAI-compatible inference API on behalf of
// pooled keys.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"io"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/gofri/go-github-ratelimit/v2/github_ratelimit"
	"github.com/gregjones/httpcache"
	"github.com/microcosm-cc/bluemonday"

	"github.com/ericfisherdev/keypanel/internal/domain/model"
	"github.com/ericfisherdev/keypanel/internal/domain/port/driven"
)

// Compile-time interface satisfaction checks.
var (
	_ driven.Prober      = (*Client)(nil)
	_ driven.ModelLister = (*Client)(nil)
)

// DefaultBaseURL is the ModelScope inference endpoint.
const DefaultBaseURL = "https://api-inference.modelscope.cn/v1"

// maxReasonLength bounds the upstream error text kept as a failure reason.
const maxReasonLength = 200

// Client probes keys with a one-token chat completion and lists models.
type Client struct {
	baseURL   string
	probe     *http.Client
	catalog   *http.Client
	sanitizer *bluemonday.Policy
}

// NewClient creates a Client for baseURL. The catalogue client runs through
// the following transport stack:
//  1. httpcache (conditional request caching for the model list; every
//     request is revalidated upstream because the cache key ignores the
//     Authorization header)
//  2. go-github-ratelimit (sleeps and retries when the upstream sends a
//     rate-limit response with a reset hint)
//
// Probes bypass both so a 429 is reported as the key's failure reason.
func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	cacheTransport := httpcache.NewMemoryCacheTransport()

	return &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		probe:     &http.Client{},
		catalog:   github_ratelimit.NewClient(cacheTransport),
		sanitizer: bluemonday.StrictPolicy(),
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model     string        `json:"model"`
	Messages  []chatMessage `json:"messages"`
	MaxTokens int           `json:"max_tokens"`
	Stream    bool          `json:"stream"`
}

// Probe sends the smallest useful chat completion. Any 2xx response means the
// key works for modelID.
func (c *Client) Probe(ctx context.Context, keyValue, modelID string) error {
	body, err := json.Marshal(chatRequest{
		Model:     modelID,
		Messages:  []chatMessage{{Role: "user", Content: "Hi"}},
		MaxTokens: 1,
	})
	if err != nil {
		return fmt.Errorf("marshal probe request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create probe request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+keyValue)

	resp, err := c.probe.Do(req)
	if err != nil {
		return c.transportError(err, keyValue)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 == 2 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return nil
	}

	return c.statusError(resp, keyValue)
}

type modelList struct {
	Data []struct {
		ID      string `json:"id"`
		OwnedBy string `json:"owned_by"`
	} `json:"data"`
}

// ListModels fetches GET /models with keyValue as the credential. The cached
// list is never served without asking upstream, so a key that lost access
// gets its own error rather than another key's catalogue.
func (c *Client) ListModels(ctx context.Context, keyValue string) ([]model.TargetModel, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/models", nil)
	if err != nil {
		return nil, fmt.Errorf("create models request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+keyValue)
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := c.catalog.Do(req)
	if err != nil {
		return nil, c.transportError(err, keyValue)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.statusError(resp, keyValue)
	}

	var list modelList
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return nil, fmt.Errorf("decode models response: %w", err)
	}

	models := make([]model.TargetModel, 0, len(list.Data))
	for _, m := range list.Data {
		if m.ID == "" {
			continue
		}
		models = append(models, model.TargetModel{ID: m.ID, OwnedBy: m.OwnedBy})
	}
	return models, nil
}

// statusError turns a non-2xx response into a failure reason. HTML error
// pages from gateways are reduced to their text and the key is scrubbed.
func (c *Client) statusError(resp *http.Response, keyValue string) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))

	text := string(raw)
	if strings.Contains(resp.Header.Get("Content-Type"), "html") {
		text = html.UnescapeString(c.sanitizer.Sanitize(text))
	}
	text = strings.Join(strings.Fields(text), " ")
	text = scrub(text, keyValue)
	text = truncate(text, maxReasonLength)

	if text == "" {
		return fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	return fmt.Errorf("HTTP %d: %s", resp.StatusCode, text)
}

func (c *Client) transportError(err error, keyValue string) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("timeout: %w", context.DeadlineExceeded)
	case errors.Is(err, context.Canceled):
		return context.Canceled
	}
	return fmt.Errorf("network error: %s", scrub(err.Error(), keyValue))
}

func scrub(s, keyValue string) string {
	if keyValue == "" {
		return s
	}
	return strings.ReplaceAll(s, keyValue, model.MaskKey(keyValue))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
