package supervisor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestGoRecoversPanic(t *testing.T) {
	s := New(context.Background())
	s.Go("boom", func(context.Context) error { panic("bad") })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := s.Wait(ctx)
	require.Error(t, err)
	require.Contains(t, err.Error(), "boom: panic: bad")

	snap := s.Snapshot()
	require.Len(t, snap.Loops, 1)
	require.EqualValues(t, 1, snap.Loops[0].Panics)
	require.Zero(t, snap.Loops[0].Active)
}

func TestGoCancelledIsClean(t *testing.T) {
	s := New(context.Background())
	s.Go("loop", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	require.NoError(t, s.Stop(context.Background()))
	require.Empty(t, s.Snapshot().FirstError)
}

func TestGoRestartRetriesUntilSuccess(t *testing.T) {
	s := New(context.Background())
	var runs atomic.Int32
	s.GoRestart("flaky", func(context.Context) error {
		if runs.Add(1) < 3 {
			return errors.New("transient")
		}
		return nil
	}, WithBackoff(time.Millisecond, 5*time.Millisecond))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Wait(ctx))
	require.EqualValues(t, 3, runs.Load())
	require.EqualValues(t, 2, s.Snapshot().Loops[0].Restarts)
}

func TestGoRestartGivesUp(t *testing.T) {
	s := New(context.Background(), WithCancelOnError(true))
	s.GoRestart("dead", func(context.Context) error { return errors.New("down") },
		WithBackoff(time.Millisecond, time.Millisecond), WithMaxRestarts(2))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.ErrorContains(t, s.Wait(ctx), "dead: down")
	require.Error(t, s.Context().Err())
}

func TestSnapshotHealthy(t *testing.T) {
	require.True(t, Snapshot{}.Healthy())
	require.True(t, Snapshot{Loops: []LoopStats{{Name: "serve", Active: 1, LastErr: "bind: in use"}}}.Healthy())
	require.False(t, Snapshot{Loops: []LoopStats{{Name: "serve", LastErr: "bind: in use"}}}.Healthy())
	require.False(t, Snapshot{FirstError: "history: gave up"}.Healthy())
}
