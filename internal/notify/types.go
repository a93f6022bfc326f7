// Package notify holds the value types that flow through the dispatch pipeline:
// requests produced by callers, dedup keys, and per-target delivery outcomes.
package notify

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Request is one notification submitted by a producer. Treat it as immutable.
type Request struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Body        string    `json:"body"`
	ChannelHint string    `json:"channel_hint,omitempty"`
	SubmittedAt time.Time `json:"submitted_at"`
}

func NewRequest(title, body, channelHint string, now time.Time) Request {
	return Request{
		ID:          uuid.NewString(),
		Title:       title,
		Body:        body,
		ChannelHint: strings.TrimSpace(channelHint),
		SubmittedAt: now,
	}
}

// DedupKey identifies requests that are considered the same notification.
type DedupKey string

// Key depends on title and body only; the hint and timestamps are ignored.
func (r Request) Key() DedupKey { return KeyOf(r.Title, r.Body) }

// KeyOf hashes length-prefixed fields so ("ab","c") and ("a","bc") differ.
func KeyOf(title, body string) DedupKey {
	h := sha256.New()
	var n [8]byte
	binary.BigEndian.PutUint64(n[:], uint64(len(title)))
	_, _ = h.Write(n[:])
	_, _ = h.Write([]byte(title))
	binary.BigEndian.PutUint64(n[:], uint64(len(body)))
	_, _ = h.Write(n[:])
	_, _ = h.Write([]byte(body))
	return DedupKey(hex.EncodeToString(h.Sum(nil)[:16]))
}

// Outcome is the result of one delivery attempt to one target of one channel.
type Outcome struct {
	Channel  string        `json:"channel"`
	Target   string        `json:"target"`
	OK       bool          `json:"ok"`
	Detail   string        `json:"detail,omitempty"`
	Duration time.Duration `json:"duration_ns,omitempty"`
}

func Success(channel, target string) Outcome {
	return Outcome{Channel: channel, Target: target, OK: true}
}

func Failure(channel, target, detail string) Outcome {
	return Outcome{Channel: channel, Target: target, Detail: detail}
}

// MaskTarget hides the secret part of a target. URLs keep only scheme and
// host; bare keys keep a four character prefix. Email addresses and chat
// ids are returned unchanged.
func MaskTarget(target string) string {
	t := strings.TrimSpace(target)
	if t == "" {
		return t
	}
	if i := strings.Index(t, "://"); i >= 0 {
		rest := t[i+3:]
		j := strings.IndexAny(rest, "/?#")
		if j < 0 {
			return t
		}
		return t[:i+3] + rest[:j] + "/***"
	}
	if strings.Contains(t, "@") || isChatID(t) {
		return t
	}
	if len(t) <= 4 {
		return "***"
	}
	return t[:4] + "***"
}

func isChatID(s string) bool {
	s = strings.TrimPrefix(s, "-")
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// Redacted returns o with its target masked, including where the target
// is echoed inside Detail.
func (o Outcome) Redacted() Outcome {
	masked := MaskTarget(o.Target)
	if o.Target != "" && masked != o.Target {
		o.Detail = strings.ReplaceAll(o.Detail, o.Target, masked)
	}
	o.Target = masked
	return o
}

// ChannelResult groups a channel's targets by outcome.
type ChannelResult struct {
	Success []string `json:"success"`
	Error   []string `json:"error"`
}

// Report is the aggregate of every outcome produced for one request.
type Report struct {
	RequestID string    `json:"request_id"`
	Outcomes  []Outcome `json:"outcomes"`
}

func (r Report) Successes() int {
	n := 0
	for _, o := range r.Outcomes {
		if o.OK {
			n++
		}
	}
	return n
}

// Redacted returns a copy of r with every outcome redacted.
func (r Report) Redacted() Report {
	out := Report{RequestID: r.RequestID, Outcomes: make([]Outcome, len(r.Outcomes))}
	for i, o := range r.Outcomes {
		out.Outcomes[i] = o.Redacted()
	}
	return out
}

func (r Report) Failures() int { return len(r.Outcomes) - r.Successes() }

func (r Report) ByChannel() map[string]ChannelResult {
	out := make(map[string]ChannelResult)
	for _, o := range r.Outcomes {
		cr := out[o.Channel]
		if o.OK {
			cr.Success = append(cr.Success, o.Target)
		} else {
			cr.Error = append(cr.Error, o.Target)
		}
		out[o.Channel] = cr
	}
	return out
}
