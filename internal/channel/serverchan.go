package channel

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"notifyd/internal/config"
	"notifyd/internal/notify"
	"notifyd/internal/transport"
)

const (
	serverChanAPIHost    = "sctapi.com"
	serverChanPushDomain = "push.ft07.com"
)

// sctp<uid>t<rest>: ServerChan³ keys carry the numeric uid used as subdomain.
var serverChanV3Key = regexp.MustCompile(`^sctp(\d+)t.`)

// ServerChanURL builds the send endpoint for key.
func ServerChanURL(key string) (string, error) {
	return serverChanURL("https", serverChanAPIHost, serverChanPushDomain, key)
}

func serverChanURL(scheme, apiHost, pushDomain, key string) (string, error) {
	key = strings.TrimSpace(key)
	// The key becomes a path segment.
	if key == "" || strings.ContainsAny(key, "/?# ") {
		return "", fmt.Errorf("%w: malformed sendkey", ErrInvalidTarget)
	}
	if strings.HasPrefix(key, "sctp") {
		m := serverChanV3Key.FindStringSubmatch(key)
		if m == nil {
			return "", fmt.Errorf("%w: malformed sendkey", ErrInvalidTarget)
		}
		return fmt.Sprintf("%s://%s.%s/send/%s.send", scheme, m[1], pushDomain, key), nil
	}
	return fmt.Sprintf("%s://%s/%s.send", scheme, apiHost, key), nil
}

type serverChanMessage struct {
	Title string `json:"title"`
	Desp  string `json:"desp"`
	Tags  string `json:"tags,omitempty"`
	Short string `json:"short,omitempty"`
}

type serverChan struct {
	client *transport.Client
	urlFor func(key string) (string, error)
}

func serverChanDescriptor(client *transport.Client) Descriptor {
	sc := &serverChan{client: client, urlFor: ServerChanURL}
	return sc.descriptor()
}

func (s *serverChan) descriptor() Descriptor {
	return Descriptor{
		Name:    "serverchan",
		Enabled: func(c config.ChannelsConfig) bool { return c.ServerChan.Enabled },
		Ready:   func(c config.ChannelsConfig) bool { return c.ServerChan.Enabled && !blank(c.ServerChan.SendKey) },
		Targets: func(c config.ChannelsConfig) []string { return SplitTargets(c.ServerChan.SendKey) },
		Adapter: AdapterFunc(s.send),
	}
}

func (s *serverChan) send(ctx context.Context, cfg config.ChannelsConfig, msg notify.Request, key string) error {
	endpoint, err := s.urlFor(key)
	if err != nil {
		return err
	}
	// ServerChan tags are pipe-separated.
	tags := strings.Join(SplitTargets(strings.ReplaceAll(cfg.ServerChan.Tags, "|", ",")), "|")
	body := serverChanMessage{Title: msg.Title, Desp: msg.Body, Tags: tags, Short: cfg.ServerChan.Short}
	return expectCode(s.client.PostJSON(ctx, endpoint, body), "code", 0, "message", "info")
}
