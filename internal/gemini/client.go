// Package gemini sends multimodal generation requests to the Gemini REST
// API, rotating among a pool of credentials and retrying on transient and
// quota failures.
//
// Each attempt draws one key uniformly at random from the pool (repeats
// across attempts are permitted); under sustained quota pressure this
// eventually tries multiple keys. The pool itself is re-parsed from
// configuration on every call, so key edits hot-reload.
package gemini

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/campusnotes/notechat/internal/drive"
)

// Fixed generation parameters for study-assistant answers.
const (
	temperature     = 0.7
	topK            = 40
	topP            = 0.9
	maxOutputTokens = 1024
)

// DefaultMaxRetries bounds total attempts per Generate call.
const DefaultMaxRetries = 3

// KeyFunc supplies the current credential pool. Called once per Generate
// invocation so configuration edits take effect immediately.
type KeyFunc func() ([]string, error)

// Config contains all required parameters for the Client.
type Config struct {
	Keys  KeyFunc // required
	Model string  // required, e.g. "gemini-1.5-flash"
	Host  string  // required, e.g. "https://generativelanguage.googleapis.com/v1beta"

	MaxRetries int           // total attempt budget (0 = DefaultMaxRetries)
	HTTPClient *http.Client  // optional, default 120s timeout
	Limiter    *rate.Limiter // optional proactive pacing (nil = default)
	Logger     *slog.Logger  // optional
}

// Client is the key-rotating generation client.
// Safe for concurrent use.
type Client struct {
	keys       KeyFunc
	model      string
	host       string
	maxRetries int
	client     *http.Client
	limiter    *rate.Limiter
	logger     *slog.Logger

	// sleep is swappable in tests to avoid real backoff waits.
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a Client.
func New(cfg Config) (*Client, error) {
	if cfg.Keys == nil {
		return nil, fmt.Errorf("key source is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("model name is required")
	}
	if cfg.Host == "" {
		return nil, fmt.Errorf("generation host is required")
	}

	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 120 * time.Second}
	}
	limiter := cfg.Limiter
	if limiter == nil {
		// 10 requests/sec sustained, burst of 30.
		limiter = rate.NewLimiter(10, 30)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		keys:       cfg.Keys,
		model:      cfg.Model,
		host:       cfg.Host,
		maxRetries: maxRetries,
		client:     client,
		limiter:    limiter,
		logger:     logger,
		sleep:      sleepCtx,
	}, nil
}

// Generate answers question from the document content, embedding at most
// the last six history turns as conversation context.
//
// Retry policy: attempts are numbered from 0. A quota/rate failure
// retries immediately with a freshly drawn key; any other failure waits
// attempt×1s before the next try (so the first retry is immediate and
// the second waits 1s). The budget is maxRetries total attempts;
// exhausting it returns an *ExhaustedError wrapping the last failure.
func (c *Client) Generate(ctx context.Context, doc *drive.Document, question string, history []Turn) (string, error) {
	if doc == nil {
		return "", fmt.Errorf("document is required")
	}

	keys, err := c.keys()
	if err != nil {
		return "", fmt.Errorf("load generation keys: %w", err)
	}

	prompt := buildPrompt(question, history)

	var lastErr error
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		key := keys[rand.IntN(len(keys))]

		if err := c.limiter.Wait(ctx); err != nil {
			return "", fmt.Errorf("rate limit wait: %w", err)
		}

		text, err := c.attempt(ctx, key, prompt, doc)
		if err == nil {
			c.logger.Debug("generation succeeded", "attempts", attempt+1)
			return text, nil
		}
		lastErr = err
		c.logger.Warn("generation attempt failed", "attempt", attempt+1, "error", err)

		// Quota rejections rotate to a new key with no delay; other
		// failures back off linearly before the next attempt.
		if IsQuotaError(err) {
			continue
		}
		if attempt == c.maxRetries-1 {
			break // last attempt, no point sleeping
		}
		if err := c.sleep(ctx, time.Duration(attempt)*time.Second); err != nil {
			return "", err
		}
	}

	return "", &ExhaustedError{Attempts: c.maxRetries, Last: lastErr}
}

// attempt performs a single generateContent request with one key. The
// document is re-encoded on every attempt: the blob reference may change
// between attempts and the encoding must reflect what is sent now.
func (c *Client) attempt(ctx context.Context, key, prompt string, doc *drive.Document) (string, error) {
	body := generateRequest{
		Contents: []content{{
			Parts: []part{
				{Text: prompt},
				{InlineData: &inlineData{
					MimeType: doc.MimeType,
					Data:     base64.StdEncoding.EncodeToString(doc.Data),
				}},
			},
		}},
		GenerationConfig: generationConfig{
			Temperature:     temperature,
			TopK:            topK,
			TopP:            topP,
			MaxOutputTokens: maxOutputTokens,
		},
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/models/%s:generateContent?key=%s",
		c.host, url.PathEscape(c.model), url.QueryEscape(key))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4*1024*1024))
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode/100 != 2 {
		return "", apiError(resp.StatusCode, resp.Status, data)
	}

	var parsed generateResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}

	text := parsed.firstText()
	if text == "" {
		// Empty or malformed success body is not a success.
		return "", ErrMalformedResponse
	}
	return text, nil
}

// apiError extracts the provider's error message from a failure body,
// falling back to the HTTP status line.
func apiError(code int, status string, body []byte) error {
	var e struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &e); err == nil && e.Error.Message != "" {
		return fmt.Errorf("generation request failed: %s", e.Error.Message)
	}
	return fmt.Errorf("generation request failed: HTTP %d %s", code, strings.TrimPrefix(status, fmt.Sprintf("%d ", code)))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return fmt.Errorf("context canceled during retry: %w", ctx.Err())
	case <-time.After(d):
		return nil
	}
}

// Wire types for the generateContent endpoint.

type generateRequest struct {
	Contents         []content        `json:"contents"`
	GenerationConfig generationConfig `json:"generationConfig"`
}

type content struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inline_data,omitempty"`
}

type inlineData struct {
	MimeType string `json:"mime_type"`
	Data     string `json:"data"`
}

type generationConfig struct {
	Temperature     float64 `json:"temperature"`
	TopK            int     `json:"topK"`
	TopP            float64 `json:"topP"`
	MaxOutputTokens int     `json:"maxOutputTokens"`
}

type generateResponse struct {
	Candidates []candidate `json:"candidates"`
}

type candidate struct {
	Content candidateContent `json:"content"`
}

type candidateContent struct {
	Parts []candidatePart `json:"parts"`
}

type candidatePart struct {
	Text string `json:"text"`
}

// firstText returns the first candidate's first part's text, trimmed.
func (r *generateResponse) firstText() string {
	if len(r.Candidates) == 0 {
		return ""
	}
	parts := r.Candidates[0].Content.Parts
	if len(parts) == 0 {
		return ""
	}
	return strings.TrimSpace(parts[0].Text)
}
