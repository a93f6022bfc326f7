package channel

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"notifyd/internal/config"
	"notifyd/internal/notify"
	"notifyd/internal/toast"
	"notifyd/internal/transport"
	logx "notifyd/pkg/logx"
)

// provider is a fake webhook endpoint that records every JSON body it receives.
type provider struct {
	srv *httptest.Server

	mu     sync.Mutex
	bodies []map[string]any
	paths  []string
}

func newProvider(t *testing.T, response string) *provider {
	t.Helper()
	p := &provider{}
	p.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		var m map[string]any
		_ = json.Unmarshal(b, &m)
		p.mu.Lock()
		p.bodies = append(p.bodies, m)
		p.paths = append(p.paths, r.URL.Path)
		p.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, response)
	}))
	t.Cleanup(p.srv.Close)
	return p
}

func (p *provider) hits() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.bodies)
}

func (p *provider) last() map[string]any {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.bodies) == 0 {
		return nil
	}
	return p.bodies[len(p.bodies)-1]
}

// deadURL returns the URL of a server that is already closed.
func deadURL(t *testing.T) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	u := srv.URL
	srv.Close()
	return u
}

type fakeMailer struct {
	mu   sync.Mutex
	sent []string
	fail map[string]error
}

func (m *fakeMailer) Send(_ context.Context, _ config.EmailConfig, to, _, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, to)
	return m.fail[to]
}

type fakeShower struct {
	supported bool
	shown     []toast.Message
}

func (f *fakeShower) Supported() bool { return f.supported }

func (f *fakeShower) Show(m toast.Message) error {
	f.shown = append(f.shown, m)
	return nil
}

func testClient() *transport.Client {
	return transport.New(transport.Config{Timeout: 2 * time.Second}, logx.Nop())
}

func newTestRouter(cfg *config.ChannelsConfig, mailer Mailer) *Router {
	descs := Builtin(Deps{HTTP: testClient(), Mailer: mailer, Bots: NewBotPool(nil), Toast: &fakeShower{}})
	return NewRouter(func() config.ChannelsConfig { return *cfg }, descs)
}

func request(title, body string) notify.Request {
	return notify.NewRequest(title, body, "", time.Now())
}

func TestSplitTargets(t *testing.T) {
	require.Equal(t, []string{"a", "b", "c"}, SplitTargets(" a,b ，c, ,"))
	require.Empty(t, SplitTargets("  "))
}

func TestDingTalkPayload(t *testing.T) {
	p := newProvider(t, `{"errcode":0,"errmsg":"ok"}`)
	cfg := config.ChannelsConfig{DingTalk: config.DingTalkConfig{Enabled: true, WebhookURL: p.srv.URL, AtMobile: "13800000000", AtAll: true}}

	rep := newTestRouter(&cfg, nil).Dispatch(context.Background(), request("Live started", "Room X is live"))
	require.Equal(t, 1, rep.Successes())

	body := p.last()
	require.Equal(t, "text", body["msgtype"])
	require.Equal(t, "Live started\nRoom X is live", body["text"].(map[string]any)["content"])
	at := body["at"].(map[string]any)
	require.Equal(t, []any{"13800000000"}, at["atMobiles"])
	require.Equal(t, true, at["isAtAll"])
}

func TestDingTalkRejectionKeepsProviderMessage(t *testing.T) {
	p := newProvider(t, `{"errcode":310000,"errmsg":"keywords not in content"}`)
	cfg := config.ChannelsConfig{DingTalk: config.DingTalkConfig{Enabled: true, WebhookURL: p.srv.URL}}

	rep := newTestRouter(&cfg, nil).Dispatch(context.Background(), request("t", "b"))
	require.Len(t, rep.Outcomes, 1)
	require.False(t, rep.Outcomes[0].OK)
	require.Contains(t, rep.Outcomes[0].Detail, "keywords not in content")
}

func TestXizhiPayload(t *testing.T) {
	p := newProvider(t, `{"code":200,"msg":"ok"}`)
	cfg := config.ChannelsConfig{Xizhi: config.XizhiConfig{Enabled: true, WebhookURL: p.srv.URL}}

	rep := newTestRouter(&cfg, nil).Dispatch(context.Background(), request("title", "content"))
	require.Equal(t, 1, rep.Successes())
	require.Equal(t, map[string]any{"title": "title", "content": "content"}, p.last())
}

func TestBarkThreeTargetsOneUnreachable(t *testing.T) {
	a := newProvider(t, `{"code":200,"message":"success"}`)
	b := newProvider(t, `{"code":200,"message":"success"}`)
	dead := deadURL(t)
	cfg := config.ChannelsConfig{Bark: config.BarkConfig{
		Enabled:    true,
		WebhookURL: a.srv.URL + "/key1," + dead + "/key2，" + b.srv.URL + "/key3",
		Sound:      "minuet",
		AutoCopy:   true,
	}}

	rep := newTestRouter(&cfg, nil).Dispatch(context.Background(), request("t", "b"))
	res := rep.ByChannel()["bark"]
	require.ElementsMatch(t, []string{a.srv.URL + "/key1", b.srv.URL + "/key3"}, res.Success)
	require.Equal(t, []string{dead + "/key2"}, res.Error)

	body := a.last()
	require.Equal(t, "active", body["level"])
	require.Equal(t, "minuet", body["sound"])
	require.EqualValues(t, 1, body["autoCopy"])
	require.Contains(t, body, "isArchive")
}

func TestBarkEmptyTargetListIsFailure(t *testing.T) {
	cfg := config.ChannelsConfig{Bark: config.BarkConfig{Enabled: true, WebhookURL: " , ，"}}

	rep := newTestRouter(&cfg, nil).Dispatch(context.Background(), request("t", "b"))
	require.Len(t, rep.Outcomes, 1)
	require.Equal(t, "bark", rep.Outcomes[0].Channel)
	require.False(t, rep.Outcomes[0].OK)
	require.Equal(t, ErrNoTargets.Error(), rep.Outcomes[0].Detail)
}

func TestNtfyTopicExtraction(t *testing.T) {
	base, topic, err := splitNtfyURL("https://ntfy.example.com/sub/alerts/")
	require.NoError(t, err)
	require.Equal(t, "https://ntfy.example.com/sub", base)
	require.Equal(t, "alerts", topic)

	_, _, err = splitNtfyURL("https://ntfy.example.com/")
	require.ErrorIs(t, err, ErrInvalidTarget)
	_, _, err = splitNtfyURL("alerts")
	require.ErrorIs(t, err, ErrInvalidTarget)
}

func TestNtfyPayload(t *testing.T) {
	p := newProvider(t, `{"id":"abc","event":"message"}`)
	cfg := config.ChannelsConfig{Ntfy: config.NtfyConfig{Enabled: true, WebhookURL: p.srv.URL + "/live", Tags: "tv,partying_face"}}
	r := newTestRouter(&cfg, nil)

	rep := r.Dispatch(context.Background(), request("Live", "Room X"))
	require.Equal(t, 1, rep.Successes())
	body := p.last()
	require.Equal(t, "live", body["topic"])
	require.Equal(t, "Room X", body["message"])
	require.Equal(t, []any{"tv", "partying_face"}, body["tags"])
	require.Equal(t, false, body["markdown"])
	require.NotContains(t, body, "actions")

	cfg.Ntfy.ActionURL = "https://live.example.com/x"
	r.Dispatch(context.Background(), request("Live", "Room Y"))
	actions := p.last()["actions"].([]any)
	require.Len(t, actions, 1)
	require.Equal(t, "https://live.example.com/x", actions[0].(map[string]any)["url"])
}

func TestNtfyErrorField(t *testing.T) {
	p := newProvider(t, `{"code":40301,"http":403,"error":"forbidden"}`)
	cfg := config.ChannelsConfig{Ntfy: config.NtfyConfig{Enabled: true, WebhookURL: p.srv.URL + "/live"}}

	rep := newTestRouter(&cfg, nil).Dispatch(context.Background(), request("t", "b"))
	require.Equal(t, 1, rep.Failures())
	require.Contains(t, rep.Outcomes[0].Detail, "forbidden")
}

func TestServerChanURL(t *testing.T) {
	u, err := ServerChanURL("sctp123t4567abcdef")
	require.NoError(t, err)
	require.Equal(t, "https://123.push.ft07.com/send/sctp123t4567abcdef.send", u)

	u, err = ServerChanURL("SCT_plain_key")
	require.NoError(t, err)
	require.Equal(t, "https://sctapi.com/SCT_plain_key.send", u)

	u, err = ServerChanURL("sctp123t4567...")
	require.NoError(t, err)
	require.Equal(t, "https://123.push.ft07.com/send/sctp123t4567....send", u)

	u, err = ServerChanURL("sctp123t4567abc.def")
	require.NoError(t, err)
	require.Equal(t, "https://123.push.ft07.com/send/sctp123t4567abc.def.send", u)

	u, err = ServerChanURL("SCT123abc.x")
	require.NoError(t, err)
	require.Equal(t, "https://sctapi.com/SCT123abc.x.send", u)

	for _, bad := range []string{"", "   ", "sctpXt1", "sctp123", "sctp12t", "bad key", "a/b", "k?x=1", "k#f"} {
		_, err := ServerChanURL(bad)
		require.ErrorIs(t, err, ErrInvalidTarget, bad)
	}
}

func TestServerChanMalformedKeyIsNotAttempted(t *testing.T) {
	p := newProvider(t, `{"code":0,"message":"SUCCESS"}`)
	sc := &serverChan{client: testClient(), urlFor: func(key string) (string, error) {
		return serverChanURL("http", p.srv.Listener.Addr().String(), "invalid", key)
	}}
	cfg := config.ChannelsConfig{ServerChan: config.ServerChanConfig{Enabled: true, SendKey: "SCTgood, sctp1x", Tags: "live|alert"}}
	r := NewRouter(func() config.ChannelsConfig { return cfg }, []Descriptor{sc.descriptor()})

	rep := r.Dispatch(context.Background(), request("t", "b"))
	res := rep.ByChannel()["serverchan"]
	require.Equal(t, []string{"SCTgood"}, res.Success)
	require.Equal(t, []string{"sctp1x"}, res.Error)
	require.Equal(t, 1, p.hits())
	require.Equal(t, "live|alert", p.last()["tags"])
	require.Equal(t, "b", p.last()["desp"])
}

func TestTelegramSendMessage(t *testing.T) {
	var (
		mu   sync.Mutex
		path string
		got  map[string]any
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		mu.Lock()
		path = r.URL.Path
		_ = json.Unmarshal(b, &got)
		mu.Unlock()
		_, _ = io.WriteString(w, `{"ok":true,"result":{"message_id":7,"date":1700000000,"chat":{"id":42,"type":"private"},"text":"x"}}`)
	}))
	defer srv.Close()

	cfg := config.ChannelsConfig{Telegram: config.TelegramConfig{Enabled: true, Token: "123:abc", ChatID: "42", APIURL: srv.URL}}
	rep := newTestRouter(&cfg, nil).Dispatch(context.Background(), request("Live", "Room X"))
	require.Equal(t, 1, rep.Successes(), rep.Outcomes)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, "/bot123:abc/sendMessage", path)
	require.EqualValues(t, "42", got["chat_id"])
	require.Equal(t, "Live\nRoom X", got["text"])
}

func TestTelegramRequiresTokenAndChat(t *testing.T) {
	cfg := config.ChannelsConfig{Telegram: config.TelegramConfig{Enabled: true, Token: "123:abc", ChatID: "  "}}
	rep := newTestRouter(&cfg, nil).Dispatch(context.Background(), request("t", "b"))
	require.Empty(t, rep.Outcomes)
}

func TestEmailOneSendPerRecipient(t *testing.T) {
	m := &fakeMailer{fail: map[string]error{"b@example.com": errors.New("550 mailbox unavailable")}}
	cfg := config.ChannelsConfig{Email: config.EmailConfig{
		Enabled:     true,
		Host:        "smtp.example.com",
		SenderEmail: "bot@example.com",
		Recipients:  "a@example.com，b@example.com",
	}}

	rep := newTestRouter(&cfg, m).Dispatch(context.Background(), request("t", "b"))
	res := rep.ByChannel()["email"]
	require.Equal(t, []string{"a@example.com"}, res.Success)
	require.Equal(t, []string{"b@example.com"}, res.Error)
	require.ElementsMatch(t, []string{"a@example.com", "b@example.com"}, m.sent)
}

func TestToastAdapter(t *testing.T) {
	cfg := config.ChannelsConfig{Toast: config.ToastConfig{Enabled: true, AppID: "notifyd"}}

	unsupported := &toastAdapter{shower: &fakeShower{}}
	rep := NewRouter(func() config.ChannelsConfig { return cfg }, []Descriptor{unsupported.descriptor()}).
		Dispatch(context.Background(), request("t", "b"))
	require.Equal(t, 1, rep.Failures())
	require.Equal(t, toast.ErrUnsupported.Error(), rep.Outcomes[0].Detail)

	shower := &fakeShower{supported: true}
	supported := &toastAdapter{shower: shower, baseDir: t.TempDir()}
	rep = NewRouter(func() config.ChannelsConfig { return cfg }, []Descriptor{supported.descriptor()}).
		Dispatch(context.Background(), request("t", "b"))
	require.Equal(t, 1, rep.Successes())
	require.Len(t, shower.shown, 1)
	require.Equal(t, toast.DefaultIcon, shower.shown[0].Icon)
	require.Equal(t, "notifyd", shower.shown[0].AppID)
}
