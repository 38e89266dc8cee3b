package progress

import (
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/enhbat/bundlezip/internal/entity"
	"github.com/stretchr/testify/require"
)

func newTestTracker(retention time.Duration) *Tracker {
	log := slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))

	return NewTrackerWithRetention(retention, log)
}

func TestTrackerLifecycle(t *testing.T) {
	tr := newTestTracker(time.Minute)
	key := "1.2.3.4:bundle:mp3"

	_, exists := tr.Snapshot(key)
	require.False(t, exists)

	tr.Start(key, 3)
	rec, exists := tr.Snapshot(key)
	require.True(t, exists)
	require.Equal(t, entity.Progress{Processed: 0, Total: 3, Done: false}, rec)

	tr.Advance(key)
	tr.Advance(key)
	rec, _ = tr.Snapshot(key)
	require.Equal(t, 2, rec.Processed)
	require.False(t, rec.Done)

	// Snapshot is idempotent between updates.
	again, _ := tr.Snapshot(key)
	require.Equal(t, rec, again)

	tr.Finish(key, nil)
	rec, _ = tr.Snapshot(key)
	require.Equal(t, entity.Progress{Processed: 2, Total: 3, Done: true}, rec)
}

func TestTrackerFinishWithError(t *testing.T) {
	tr := newTestTracker(time.Minute)
	key := "k"

	tr.Start(key, 1)
	tr.Finish(key, fmt.Errorf("sink closed"))

	rec, exists := tr.Snapshot(key)
	require.True(t, exists)
	require.True(t, rec.Done)
	require.Equal(t, "sink closed", rec.Error)
}

func TestTrackerAdvanceUnknownKeyIsNoop(t *testing.T) {
	tr := newTestTracker(time.Minute)

	tr.Advance("missing")
	tr.Finish("missing", nil)

	_, exists := tr.Snapshot("missing")
	require.False(t, exists)
}

func TestTrackerEvictionAfterRetention(t *testing.T) {
	tr := newTestTracker(20 * time.Millisecond)
	key := "k"

	tr.Start(key, 1)
	tr.Advance(key)
	tr.Finish(key, nil)

	_, exists := tr.Snapshot(key)
	require.True(t, exists)

	require.Eventually(t, func() bool {
		_, exists := tr.Snapshot(key)

		return !exists
	}, time.Second, 5*time.Millisecond)
}

func TestTrackerRestartCancelsEviction(t *testing.T) {
	tr := newTestTracker(20 * time.Millisecond)
	key := "k"

	tr.Start(key, 1)
	tr.Finish(key, nil)

	// A new export under the same key supersedes the finished record and
	// must survive the old eviction timer.
	tr.Start(key, 5)

	time.Sleep(60 * time.Millisecond)

	rec, exists := tr.Snapshot(key)
	require.True(t, exists)
	require.Equal(t, 5, rec.Total)
	require.False(t, rec.Done)
}

func TestTrackerSubscribeReceivesUpdatesInOrder(t *testing.T) {
	tr := newTestTracker(time.Minute)
	key := "k"

	ch := tr.Subscribe(key)
	defer tr.Unsubscribe(key, ch)

	tr.Start(key, 2)
	tr.Advance(key)
	tr.Advance(key)
	tr.Finish(key, nil)

	expected := []entity.Progress{
		{Processed: 0, Total: 2},
		{Processed: 1, Total: 2},
		{Processed: 2, Total: 2},
		{Processed: 2, Total: 2, Done: true},
	}

	for _, want := range expected {
		select {
		case got := <-ch:
			require.Equal(t, want, got)
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for %+v", want)
		}
	}
}

func TestTrackerUnsubscribeRemovesListener(t *testing.T) {
	tr := newTestTracker(time.Minute)
	key := "k"

	ch1 := tr.Subscribe(key)
	ch2 := tr.Subscribe(key)
	require.Equal(t, 2, tr.listenerCount(key))

	tr.Unsubscribe(key, ch1)
	require.Equal(t, 1, tr.listenerCount(key))

	tr.Start(key, 1)
	select {
	case rec := <-ch2:
		require.Equal(t, 1, rec.Total)
	case <-time.After(time.Second):
		t.Fatal("remaining listener got no update")
	}
	require.Len(t, ch1, 0)

	tr.Unsubscribe(key, ch2)
	require.Equal(t, 0, tr.listenerCount(key))
}

func TestTrackerKeysAreIndependent(t *testing.T) {
	tr := newTestTracker(time.Minute)

	tr.Start("a", 1)
	tr.Start("b", 2)
	tr.Advance("a")

	recA, _ := tr.Snapshot("a")
	recB, _ := tr.Snapshot("b")
	require.Equal(t, 1, recA.Processed)
	require.Equal(t, 0, recB.Processed)
}

func TestTrackerSlowListenerDoesNotBlock(t *testing.T) {
	tr := newTestTracker(time.Minute)
	key := "k"

	_ = tr.Subscribe(key) // never drained

	tr.Start(key, listenerBufferSize*2)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < listenerBufferSize*2; i++ {
			tr.Advance(key)
		}
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publisher blocked on a slow listener")
	}
}
