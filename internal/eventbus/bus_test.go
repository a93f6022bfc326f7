package eventbus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPublishFansOutByPrefix(t *testing.T) {
	b := New()
	all, unsubAll := b.Subscribe(4)
	defer unsubAll()
	failed, unsubFailed := b.Subscribe(4, "dispatch.failed")
	defer unsubFailed()

	b.Publish(Event{Type: "dispatch.queued"})
	b.Publish(Event{Type: "dispatch.failed", Data: "x"})

	require.Equal(t, "dispatch.queued", (<-all).Type)
	require.Equal(t, "dispatch.failed", (<-all).Type)

	e := <-failed
	require.Equal(t, "x", e.Data)
	require.False(t, e.Time.IsZero())
	select {
	case extra := <-failed:
		t.Fatalf("unexpected event %q", extra.Type)
	default:
	}
}

func TestPublishNeverBlocks(t *testing.T) {
	b := New()
	_, unsub := b.Subscribe(1)
	defer unsub()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			b.Publish(Event{Type: "dispatch.queued"})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}
	require.EqualValues(t, 9, b.Dropped())
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe(1)
	unsub()
	unsub()
	_, ok := <-ch
	require.False(t, ok)
	b.Publish(Event{Type: "dispatch.queued"})
}
