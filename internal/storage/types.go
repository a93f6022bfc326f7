package storage

import (
	"errors"
	"time"
)

var ErrClosed = errors.New("storage closed")

// Config selects the backend.
//
// Driver values:
//   - "file": JSON Lines file
//   - "sqlite": SQLite database file
//
// An empty Driver or "none" disables storage.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only
}

// Delivery is one attempt against one target.
type Delivery struct {
	At        time.Time `json:"at"`
	RequestID string    `json:"request_id"`
	Key       string    `json:"key"`
	Title     string    `json:"title"`
	Channel   string    `json:"channel"`
	Target    string    `json:"target"`
	OK        bool      `json:"ok"`
	Detail    string    `json:"detail,omitempty"`
	TookMS    int64     `json:"took_ms"`
}
