package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	logx "notifyd/pkg/logx"
)

func delivery(i int, ok bool) Delivery {
	return Delivery{
		At:        time.Date(2026, 1, 2, 3, 4, i, 0, time.UTC),
		RequestID: fmt.Sprintf("req-%d", i),
		Key:       "k",
		Title:     "Live started",
		Channel:   "bark",
		Target:    "https://api.day.app/x",
		OK:        ok,
		TookMS:    int64(i),
	}
}

func TestOpenDisabled(t *testing.T) {
	st, err := Open(Config{}, logx.Nop())
	require.NoError(t, err)
	require.Nil(t, st)

	_, err = Open(Config{Driver: "postgres"}, logx.Nop())
	require.Error(t, err)
}

func testStoreRoundTrip(t *testing.T, st Store) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		require.NoError(t, st.AppendDelivery(ctx, delivery(i, i != 1)))
	}
	failed := delivery(3, false)
	failed.Detail = "provider rejected message: code=500"
	require.NoError(t, st.AppendDelivery(ctx, failed))

	got, err := st.Recent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, "req-3", got[0].RequestID)
	require.Equal(t, failed.Detail, got[0].Detail)
	require.False(t, got[0].OK)
	require.Equal(t, "req-2", got[1].RequestID)
	require.True(t, got[1].OK)
	require.True(t, got[1].At.Equal(delivery(2, true).At))

	all, err := st.Recent(ctx, 0)
	require.NoError(t, err)
	require.Len(t, all, 4)
}

func TestFileStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hist", "deliveries.jsonl")
	st, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	require.NoError(t, err)
	testStoreRoundTrip(t, st)
	require.NoError(t, st.Close())

	_, err = st.Recent(context.Background(), 1)
	require.ErrorIs(t, err, ErrClosed)
}

func TestFileStoreReloadsTailAndSkipsTornLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "deliveries.jsonl")
	st, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	require.NoError(t, err)
	require.NoError(t, st.AppendDelivery(context.Background(), delivery(1, true)))
	require.NoError(t, st.Close())

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o600)
	require.NoError(t, err)
	_, err = f.WriteString(`{"at":"2026-01-02T03:0`)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	st, err = Open(Config{Driver: "file", Path: path}, logx.Nop())
	require.NoError(t, err)
	defer st.Close()
	got, err := st.Recent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "req-1", got[0].RequestID)
}

func TestSQLiteStore(t *testing.T) {
	st, err := Open(Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "notifyd.db"), BusyTimeout: time.Second}, logx.Nop())
	require.NoError(t, err)
	defer st.Close()
	testStoreRoundTrip(t, st)
}

func TestSQLiteInMemory(t *testing.T) {
	st, err := Open(Config{Driver: "sqlite", Path: ":memory:"}, logx.Nop())
	require.NoError(t, err)
	defer st.Close()
	testStoreRoundTrip(t, st)
}
