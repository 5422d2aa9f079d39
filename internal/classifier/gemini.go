// Package classifier tags post text through a hosted language model and degrades to
// fixed tag sets whenever the model is unavailable.
package classifier

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/d60-Lab/townhall/config"
	"github.com/d60-Lab/townhall/pkg/logger"
)

var (
	// NotConfiguredTags is returned when no API key is set.
	NotConfiguredTags = []string{"#UNVERIFIED", "#ANONYMOUS"}
	// FailedTags is returned when the upstream call fails for any reason.
	FailedTags = []string{"#ENCRYPTED"}
)

const (
	statusNotConfigured = "System diagnostics running..."
	statusFailed        = "Connection unstable."
	statusEmpty         = "Signal weak."

	systemInstruction = "You are a database indexer for a cyberpunk anonymous forum. Be concise. output JSON array only."
	statusPrompt      = "Generate a cryptic, atmospheric single-sentence system status message for a cyberpunk hacker forum. Mention things like nodes, entropy, silence, or signal noise."

	maxResponseSize = 1 << 20
	maxAttempts     = 2
)

// Outcome labels one Classify call for metrics.
type Outcome string

const (
	OutcomeOK            Outcome = "ok"
	OutcomeCached        Outcome = "cached"
	OutcomeNotConfigured Outcome = "not_configured"
	OutcomeFailed        Outcome = "failed"
)

// Tagger is what the post flow depends on.
type Tagger interface {
	Classify(ctx context.Context, text string) []string
	StatusLine(ctx context.Context) string
}

// Client calls the Gemini generateContent endpoint.
type Client struct {
	apiKey     string
	baseURL    string
	model      string
	timeout    time.Duration
	httpClient *http.Client
	limiter    *rate.Limiter
	cache      Cache
	observe    func(Outcome)
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option { return func(cl *Client) { cl.httpClient = c } }

func WithCache(c Cache) Option { return func(cl *Client) { cl.cache = c } }

func WithLimiter(l *rate.Limiter) Option { return func(cl *Client) { cl.limiter = l } }

// WithObserver registers a callback invoked once per Classify call.
func WithObserver(fn func(Outcome)) Option { return func(cl *Client) { cl.observe = fn } }

func NewClient(cfg config.ClassifierConfig, opts ...Option) *Client {
	c := &Client{
		apiKey:     cfg.APIKey,
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		model:      cfg.Model,
		timeout:    cfg.Timeout,
		httpClient: &http.Client{},
		observe:    func(Outcome) {},
	}
	if cfg.QPS > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.QPS), burst)
	}
	if c.timeout <= 0 {
		c.timeout = 8 * time.Second
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Configured reports whether an API key is present.
func (c *Client) Configured() bool { return c.apiKey != "" }

// Classify returns 2-3 '#'-prefixed tags, or a fallback set. It never fails.
func (c *Client) Classify(ctx context.Context, text string) []string {
	if !c.Configured() {
		c.observe(OutcomeNotConfigured)
		return clone(NotConfiguredTags)
	}

	key := cacheKey(text)
	if c.cache != nil {
		if tags, ok := c.cache.Get(ctx, key); ok {
			c.observe(OutcomeCached)
			return tags
		}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	raw, err := c.generate(ctx, tagPrompt(text), true)
	if err != nil {
		logger.Warn("classification failed", zap.Error(err))
		c.observe(OutcomeFailed)
		return clone(FailedTags)
	}
	tags, err := parseTags(raw)
	if err != nil {
		logger.Warn("classification response undecodable", zap.Error(err), zap.String("raw", raw))
		c.observe(OutcomeFailed)
		return clone(FailedTags)
	}

	if c.cache != nil {
		c.cache.Set(ctx, key, tags)
	}
	c.observe(OutcomeOK)
	return tags
}

// StatusLine asks the model for one atmospheric status sentence.
func (c *Client) StatusLine(ctx context.Context) string {
	if !c.Configured() {
		return statusNotConfigured
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	text, err := c.generate(ctx, statusPrompt, false)
	if err != nil {
		logger.Warn("status line failed", zap.Error(err))
		return statusFailed
	}
	if text = strings.TrimSpace(text); text == "" {
		return statusEmpty
	}
	return text
}

func tagPrompt(text string) string {
	return fmt.Sprintf(`Analyze this short text posted on an anonymous forum called "Townhall".
The tone is cyberpunk, somber, and raw.
Return a list of 2-3 short, uppercase hashtags that categorize the philosophical or emotional theme.
Example input: "I feel like a robot in a human skin." -> ["#DISSOCIATION", "#EXISTENTIAL"]

Input: %q`, text)
}

type part struct {
	Text string `json:"text"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type schema struct {
	Type  string  `json:"type"`
	Items *schema `json:"items,omitempty"`
}

type generationConfig struct {
	ResponseMimeType string  `json:"responseMimeType,omitempty"`
	ResponseSchema   *schema `json:"responseSchema,omitempty"`
}

type generateRequest struct {
	Contents          []content         `json:"contents"`
	SystemInstruction *content          `json:"systemInstruction,omitempty"`
	GenerationConfig  *generationConfig `json:"generationConfig,omitempty"`
}

type generateResponse struct {
	Candidates []struct {
		Content content `json:"content"`
	} `json:"candidates"`
}

func (c *Client) generate(ctx context.Context, prompt string, jsonArray bool) (string, error) {
	body := generateRequest{Contents: []content{{Role: "user", Parts: []part{{Text: prompt}}}}}
	if jsonArray {
		body.SystemInstruction = &content{Parts: []part{{Text: systemInstruction}}}
		body.GenerationConfig = &generationConfig{
			ResponseMimeType: "application/json",
			ResponseSchema:   &schema{Type: "ARRAY", Items: &schema{Type: "STRING"}},
		}
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return "", err
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return "", fmt.Errorf("rate limit wait: %w", err)
			}
		}
		text, err := c.do(ctx, payload)
		if err == nil {
			return text, nil
		}
		lastErr = err
		if !IsTransient(err) || ctx.Err() != nil {
			break
		}
	}
	return "", lastErr
}

func (c *Client) do(ctx context.Context, payload []byte) (string, error) {
	url := fmt.Sprintf("%s/models/%s:generateContent", c.baseURL, c.model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", err
		}
		return "", transient(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return "", transient(err)
	}
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return "", transient(fmt.Errorf("generateContent: status %d", resp.StatusCode))
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("generateContent: status %d: %s", resp.StatusCode, truncate(string(data), 200))
	}

	var out generateResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if len(out.Candidates) == 0 {
		return "", nil
	}
	var sb strings.Builder
	for _, p := range out.Candidates[0].Content.Parts {
		sb.WriteString(p.Text)
	}
	return sb.String(), nil
}

var arrayPattern = regexp.MustCompile(`(?s)\[.*\]`)

// parseTags decodes a JSON string array, tolerating code fences around it.
func parseTags(raw string) ([]string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		raw = "[]"
	}
	if m := arrayPattern.FindString(raw); m != "" {
		raw = m
	}
	var items []string
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		return nil, err
	}
	return Normalize(items), nil
}

// Normalize trims each tag, drops empties and adds a leading '#'.
func Normalize(items []string) []string {
	out := make([]string, 0, len(items))
	for _, t := range items {
		t = strings.TrimSpace(t)
		if t == "" || t == "#" {
			continue
		}
		if !strings.HasPrefix(t, "#") {
			t = "#" + t
		}
		out = append(out, t)
	}
	return out
}

func cacheKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	return "tags:" + hex.EncodeToString(sum[:])
}

func clone(tags []string) []string { return append([]string(nil), tags...) }

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// Static is a Tagger that always answers with fixed tags. Used when the service runs offline.
type Static struct{ Tags []string }

func (s Static) Classify(context.Context, string) []string {
	if s.Tags == nil {
		return clone(NotConfiguredTags)
	}
	return clone(s.Tags)
}

func (s Static) StatusLine(context.Context) string { return statusNotConfigured }

var (
	_ Tagger = (*Client)(nil)
	_ Tagger = Static{}
)
