package dispatch

import (
	"context"
	"errors"
	"time"

	"notifyd/internal/notify"
)

var ErrClosed = errors.New("dispatcher closed")

// Event types published on the bus.
const (
	EventQueued    = "dispatch.queued"
	EventDeduped   = "dispatch.deduped"
	EventDelivered = "dispatch.delivered"
	EventFailed    = "dispatch.failed"
)

const (
	DefaultDedupWindow     = 30 * time.Second
	DefaultThrottle        = 500 * time.Millisecond
	DefaultShutdownTimeout = 10 * time.Second
)

// Config is taken literally: zero disables dedup or throttling.
// Use DefaultConfig for production values.
type Config struct {
	DedupWindow time.Duration
	Throttle    time.Duration
}

func DefaultConfig() Config {
	return Config{DedupWindow: DefaultDedupWindow, Throttle: DefaultThrottle}
}

func (c Config) normalized() Config {
	c.DedupWindow = max(c.DedupWindow, 0)
	c.Throttle = max(c.Throttle, 0)
	return c
}

// Router delivers one request to every ready channel.
type Router interface {
	Dispatch(ctx context.Context, req notify.Request) notify.Report
}

// Observer receives queue-level signals (the metrics package implements it).
type Observer interface {
	ObserveSubmitted(depth int)
	ObserveDeduplicated()
	ObserveDrained(depth int)
	ObserveHistoryError()
}

// Event is the bus payload for every dispatch.* event.
type Event struct {
	RequestID string          `json:"request_id"`
	Key       notify.DedupKey `json:"key"`
	Title     string          `json:"title"`
	Hint      string          `json:"hint,omitempty"`
	Depth     int             `json:"depth"`
	OK        int             `json:"ok"`
	Failed    int             `json:"failed"`
	Error     string          `json:"error,omitempty"`
	At        time.Time       `json:"at"`
}
