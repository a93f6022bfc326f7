// Package channel delivers a notification to external services.
//
// Every supported service is described by a Descriptor: a name, a readiness
// check over the live channel config, a target list builder and an Adapter
// that delivers to exactly one target. The Router walks the descriptor table
// and fans out one goroutine per target.
package channel

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"notifyd/internal/config"
	"notifyd/internal/notify"
	"notifyd/internal/transport"
)

var (
	// ErrNoTargets is reported when a ready channel yields no usable targets.
	ErrNoTargets = errors.New("no targets configured")
	// ErrInvalidTarget is reported for targets that cannot be turned into a request.
	ErrInvalidTarget = errors.New("invalid target")
	// ErrProtocol wraps provider responses that reject the message.
	ErrProtocol = errors.New("provider rejected message")
)

// Adapter delivers msg to a single target. A nil error is a success.
type Adapter interface {
	Send(ctx context.Context, cfg config.ChannelsConfig, msg notify.Request, target string) error
}

type AdapterFunc func(ctx context.Context, cfg config.ChannelsConfig, msg notify.Request, target string) error

func (f AdapterFunc) Send(ctx context.Context, cfg config.ChannelsConfig, msg notify.Request, target string) error {
	return f(ctx, cfg, msg, target)
}

// Descriptor binds a channel name to its config accessors and adapter.
type Descriptor struct {
	Name string
	// Enabled reports the channel's on/off switch only.
	Enabled func(cfg config.ChannelsConfig) bool
	// Ready reports Enabled plus non-blank required fields.
	Ready   func(cfg config.ChannelsConfig) bool
	Targets func(cfg config.ChannelsConfig) []string
	Adapter Adapter
}

// Deps are the collaborators the built-in adapters need.
type Deps struct {
	HTTP   *transport.Client
	Mailer Mailer
	Bots   *BotPool
	Toast  ToastShower
}

// Builtin returns the descriptor table for every supported service.
func Builtin(d Deps) []Descriptor {
	return []Descriptor{
		dingTalkDescriptor(d.HTTP),
		xizhiDescriptor(d.HTTP),
		barkDescriptor(d.HTTP),
		ntfyDescriptor(d.HTTP),
		telegramDescriptor(d.Bots),
		emailDescriptor(d.Mailer),
		serverChanDescriptor(d.HTTP),
		toastDescriptor(d.Toast),
	}
}

// SplitTargets splits a comma-separated list (ASCII or full-width comma),
// trimming blanks and dropping empty items.
func SplitTargets(s string) []string {
	s = strings.ReplaceAll(s, "，", ",")
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func blank(s string) bool { return strings.TrimSpace(s) == "" }

func joinText(msg notify.Request) string {
	if msg.Title == "" {
		return msg.Body
	}
	if msg.Body == "" {
		return msg.Title
	}
	return msg.Title + "\n" + msg.Body
}

// expectCode checks a numeric status field of a provider response.
func expectCode(env transport.Envelope, field string, want int, msgFields ...string) error {
	if e := env.Err(); e != "" {
		return errors.New(e)
	}
	got, ok := env.Int(field)
	if ok && got == want {
		return nil
	}
	detail := env.Message(msgFields...)
	if !ok {
		return fmt.Errorf("%w: missing %s field %s", ErrProtocol, field, detail)
	}
	if detail == "" {
		return fmt.Errorf("%w: %s=%d", ErrProtocol, field, got)
	}
	return fmt.Errorf("%w: %s=%d: %s", ErrProtocol, field, got, detail)
}
