package channel

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"notifyd/internal/config"
	"notifyd/internal/notify"
	"notifyd/internal/transport"
)

type ntfyAction struct {
	Action string `json:"action"`
	Label  string `json:"label"`
	URL    string `json:"url"`
	Clear  bool   `json:"clear"`
}

type ntfyMessage struct {
	Topic    string       `json:"topic"`
	Title    string       `json:"title"`
	Message  string       `json:"message"`
	Tags     []string     `json:"tags"`
	Priority int          `json:"priority"`
	Attach   string       `json:"attach,omitempty"`
	Filename string       `json:"filename,omitempty"`
	Click    string       `json:"click,omitempty"`
	Actions  []ntfyAction `json:"actions,omitempty"`
	Markdown bool         `json:"markdown"`
	Icon     string       `json:"icon,omitempty"`
	Delay    string       `json:"delay,omitempty"`
	Email    string       `json:"email,omitempty"`
	Call     string       `json:"call,omitempty"`
}

// splitNtfyURL turns https://ntfy.sh/alerts into ("https://ntfy.sh", "alerts").
// JSON publishing posts to the server root with the topic in the body.
func splitNtfyURL(raw string) (base, topic string, err error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrInvalidTarget, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", "", fmt.Errorf("%w: %q is not an absolute URL", ErrInvalidTarget, raw)
	}
	path := strings.TrimRight(u.Path, "/")
	i := strings.LastIndex(path, "/")
	topic = path[i+1:]
	if topic == "" {
		return "", "", fmt.Errorf("%w: %q has no topic", ErrInvalidTarget, raw)
	}
	u.Path = path[:i]
	u.RawQuery = ""
	u.Fragment = ""
	if u.Path == "" {
		u.Path = "/"
	}
	return u.String(), topic, nil
}

func ntfyDescriptor(client *transport.Client) Descriptor {
	return Descriptor{
		Name:    "ntfy",
		Enabled: func(c config.ChannelsConfig) bool { return c.Ntfy.Enabled },
		Ready:   func(c config.ChannelsConfig) bool { return c.Ntfy.Enabled && !blank(c.Ntfy.WebhookURL) },
		Targets: func(c config.ChannelsConfig) []string { return SplitTargets(c.Ntfy.WebhookURL) },
		Adapter: AdapterFunc(func(ctx context.Context, cfg config.ChannelsConfig, msg notify.Request, target string) error {
			nc := cfg.Ntfy
			base, topic, err := splitNtfyURL(target)
			if err != nil {
				return err
			}
			priority := nc.Priority
			if priority <= 0 {
				priority = 3
			}
			body := ntfyMessage{
				Topic:    topic,
				Title:    msg.Title,
				Message:  msg.Body,
				Tags:     SplitTargets(nc.Tags),
				Priority: priority,
				Attach:   nc.Attach,
				Filename: nc.Filename,
				Click:    nc.Click,
				Markdown: false,
				Icon:     nc.Icon,
				Delay:    nc.Delay,
				Email:    nc.Email,
				Call:     nc.Call,
			}
			if !blank(nc.ActionURL) {
				label := strings.TrimSpace(nc.ActionLabel)
				if label == "" {
					label = "Open"
				}
				body.Actions = []ntfyAction{{Action: "view", Label: label, URL: strings.TrimSpace(nc.ActionURL)}}
			}

			env := client.PostJSON(ctx, base, body)
			if e := env.Err(); e != "" {
				if env.Has("code") || env.Has("http") {
					return fmt.Errorf("%w: %s", ErrProtocol, e)
				}
				return errors.New(e)
			}
			return nil
		}),
	}
}
