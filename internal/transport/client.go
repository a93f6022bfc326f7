// Package transport is the single HTTP helper shared by every webhook-style channel.
//
// PostJSON never returns an error value: network failures, timeouts and
// unparseable bodies are folded into the returned Envelope so callers can
// inspect every response the same way.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	logx "notifyd/pkg/logx"
)

const (
	defaultTimeout = 10 * time.Second
	maxBodyBytes   = 1 << 20
)

type Config struct {
	Timeout time.Duration
	// RatePerSec caps outgoing requests across all channels. 0 disables the limit.
	RatePerSec float64
	UserAgent  string
}

type Client struct {
	http    *http.Client
	limiter *rate.Limiter
	ua      string
	log     logx.Logger
}

func New(cfg Config, log logx.Logger) *Client {
	if log.IsZero() {
		log = logx.Nop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	c := &Client{
		http: &http.Client{Timeout: timeout},
		ua:   strings.TrimSpace(cfg.UserAgent),
		log:  log,
	}
	if cfg.RatePerSec > 0 {
		burst := int(cfg.RatePerSec)
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), burst)
	}
	if c.ua == "" {
		c.ua = "notifyd/1"
	}
	return c
}

// HTTPClient exposes the underlying client so SDK-backed channels share its timeout.
func (c *Client) HTTPClient() *http.Client { return c.http }

// PostJSON sends body as JSON and decodes the JSON response.
//
// On failure the envelope carries "error" (and "text" with the raw body when
// the response was not JSON).
func (c *Client) PostJSON(ctx context.Context, url string, body any) Envelope {
	if ctx == nil {
		ctx = context.Background()
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return Envelope{"error": fmt.Sprintf("encode request: %v", err)}
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return Envelope{"error": fmt.Sprintf("rate limit: %v", err)}
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return Envelope{"error": fmt.Sprintf("build request: %v", err)}
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.Header.Set("User-Agent", c.ua)

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.log.Debug("post failed", logx.String("url", redact(url)), logx.Duration("took", time.Since(start)), logx.Err(err))
		return Envelope{"error": err.Error()}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return Envelope{"error": fmt.Sprintf("read response: %v", err)}
	}
	c.log.Debug("post done", logx.String("url", redact(url)), logx.Int("status", resp.StatusCode), logx.Duration("took", time.Since(start)))

	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return Envelope{"error": fmt.Sprintf("decode response (status %d): %v", resp.StatusCode, err), "text": string(raw)}
	}
	if m, ok := v.(map[string]any); ok {
		return Envelope(m)
	}
	return Envelope{"data": v}
}

// Envelope is a decoded JSON object response, or an error description.
type Envelope map[string]any

// Err returns the "error" field rendered as text, or "" when absent or null.
func (e Envelope) Err() string {
	v, ok := e["error"]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}

// Has reports whether field is present (even if null).
func (e Envelope) Has(field string) bool {
	_, ok := e[field]
	return ok
}

// Int reads a numeric field. Numeric strings are accepted too.
func (e Envelope) Int(field string) (int, bool) {
	switch v := e[field].(type) {
	case float64:
		return int(v), true
	case json.Number:
		n, err := v.Int64()
		return int(n), err == nil
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(v))
		return n, err == nil
	default:
		return 0, false
	}
}

// String reads a field as text ("" when absent).
func (e Envelope) String(field string) string {
	v, ok := e[field]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// Message picks the first non-empty provider message among fields.
func (e Envelope) Message(fields ...string) string {
	for _, f := range fields {
		if s := strings.TrimSpace(e.String(f)); s != "" {
			return s
		}
	}
	return ""
}

// redact drops path and query, which carry tokens for most webhook providers.
func redact(url string) string {
	i := strings.Index(url, "://")
	if i < 0 {
		return "<url>"
	}
	rest := url[i+3:]
	if j := strings.IndexAny(rest, "/?"); j >= 0 {
		rest = rest[:j]
	}
	return url[:i+3] + rest
}
