package transport

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	logx "notifyd/pkg/logx"
)

func TestPostJSONSendsJSONAndDecodes(t *testing.T) {
	var gotCT string
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotCT = r.Header.Get("Content-Type")
		b, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(b, &got)
		_, _ = w.Write([]byte(`{"code":200,"message":"ok"}`))
	}))
	defer srv.Close()

	c := New(Config{}, logx.Nop())
	env := c.PostJSON(context.Background(), srv.URL+"/push", map[string]string{"title": "hi"})

	require.Contains(t, gotCT, "application/json")
	require.Equal(t, "hi", got["title"])
	code, ok := env.Int("code")
	require.True(t, ok)
	require.Equal(t, 200, code)
	require.Empty(t, env.Err())
}

func TestPostJSONNonJSONBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("<html>bad gateway</html>"))
	}))
	defer srv.Close()

	env := New(Config{}, logx.Nop()).PostJSON(context.Background(), srv.URL, struct{}{})
	require.NotEmpty(t, env.Err())
	require.Equal(t, "<html>bad gateway</html>", env.String("text"))
}

func TestPostJSONNetworkFailureIsEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	env := New(Config{Timeout: time.Second}, logx.Nop()).PostJSON(context.Background(), url, struct{}{})
	require.NotEmpty(t, env.Err())
	require.False(t, env.Has("text"))
}

func TestPostJSONTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	start := time.Now()
	env := New(Config{Timeout: 100 * time.Millisecond}, logx.Nop()).PostJSON(context.Background(), srv.URL, struct{}{})
	require.NotEmpty(t, env.Err())
	require.Less(t, time.Since(start), 5*time.Second)
}

func TestEnvelopeHelpers(t *testing.T) {
	env := Envelope{"errcode": "0", "error": map[string]any{"reason": "x"}, "errmsg": " ", "msg": "fine"}
	n, ok := env.Int("errcode")
	require.True(t, ok)
	require.Zero(t, n)
	require.JSONEq(t, `{"reason":"x"}`, env.Err())
	require.Equal(t, "fine", env.Message("errmsg", "msg"))

	_, ok = env.Int("missing")
	require.False(t, ok)
	require.Empty(t, Envelope{"error": nil}.Err())
}

func TestRedact(t *testing.T) {
	require.Equal(t, "https://api.day.app", redact("https://api.day.app/SECRET/path?x=1"))
	require.Equal(t, "<url>", redact("not a url"))
}
