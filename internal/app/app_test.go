package app

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"notifyd/internal/config"
	"notifyd/internal/toast"
)

type noToast struct{}

func (noToast) Show(toast.Message) error { return nil }
func (noToast) Supported() bool          { return false }

func barkServer(t *testing.T) (*httptest.Server, *atomic.Int64) {
	t.Helper()
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"code":200,"message":"success"}`))
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	p := filepath.Join(dir, "notifyd.json")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestAppDeliversAndDeduplicates(t *testing.T) {
	srv, hits := barkServer(t)
	dir := t.TempDir()
	path := writeConfig(t, dir, fmt.Sprintf(`{
  "logging": {"level": "error"},
  "dispatch": {"dedup_window": "30s", "throttle": "0s"},
  "channels": {"bark": {"enabled": true, "webhook_url": %q}},
  "storage": {"driver": "file", "path": "history.jsonl"},
  "api": {"enabled": true, "addr": "127.0.0.1:0"}
}`, srv.URL))

	a, err := NewApp(path, WithToast(noToast{}))
	require.NoError(t, err)
	require.NoError(t, a.Start(context.Background()))

	d := a.Dispatcher()
	d.Submit("Live started", "Room X is live", "")
	d.Submit("Live started", "Room X is live", "")
	idleCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, d.Idle(idleCtx))
	require.EqualValues(t, 1, hits.Load())

	require.Eventually(t, func() bool { return a.API().Addr() != "" }, 5*time.Second, 10*time.Millisecond)
	resp, err := http.Get("http://" + a.API().Addr() + "/health")
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	require.NoError(t, a.Stop(stopCtx, StopAppStop))
	<-a.Done()

	_, err = os.Stat(filepath.Join(dir, "history.jsonl"))
	require.NoError(t, err)
}

func TestApplyConfigUpdatesSchedulesAndDispatch(t *testing.T) {
	path := writeConfig(t, t.TempDir(), `{"logging": {"level": "error"}}`)
	a, err := NewApp(path, WithToast(noToast{}))
	require.NoError(t, err)
	require.NoError(t, a.Start(context.Background()))
	defer func() { _ = a.Stop(context.Background(), StopAppStop) }()

	oldCfg := a.cfgm.Get()
	newCfg := *oldCfg
	newCfg.Dispatch.ShutdownTimeout = "3s"
	newCfg.Schedules = []config.ScheduleConfig{{Name: "daily", Spec: "@daily", Title: "report"}}
	a.applyConfig(oldCfg, &newCfg)

	require.Len(t, a.sched.Entries(), 1)
	require.Equal(t, 3*time.Second, time.Duration(a.shutdownTimeout.Load()))
}

func TestNewAppRejectsBadConfig(t *testing.T) {
	_, err := NewApp(writeConfig(t, t.TempDir(), `{"schedules": [{"name": "x", "spec": "every day", "title": "t"}]}`))
	require.ErrorContains(t, err, "schedules[0].spec")

	_, err = NewApp(filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)
}

func TestMapStorageConfig(t *testing.T) {
	_, enabled, err := mapStorageConfig(&config.Config{})
	require.NoError(t, err)
	require.False(t, enabled)

	sc, enabled, err := mapStorageConfig(&config.Config{Storage: &config.StorageConfig{Driver: "SQLite", Path: "x.db"}})
	require.NoError(t, err)
	require.True(t, enabled)
	require.Equal(t, "sqlite", sc.Driver)
	require.Equal(t, config.DefaultBusyTimeout, sc.BusyTimeout)

	_, _, err = mapStorageConfig(&config.Config{Storage: &config.StorageConfig{Driver: "sqlite"}})
	require.Error(t, err)
}

func TestResolvePath(t *testing.T) {
	require.Equal(t, filepath.Join("etc", "notifyd", "h.jsonl"), resolvePath(filepath.Join("etc", "notifyd", "c.json"), "h.jsonl"))
	require.Equal(t, "/var/lib/h.db", resolvePath("c.json", "/var/lib/h.db"))
	require.Empty(t, resolvePath("c.json", ""))
}
