package progress

import (
	"log/slog"
	"sync"
	"time"

	"github.com/enhbat/bundlezip/internal/entity"
)

const (
	serviceName = "progress"

	// How long a finished record stays readable so a listener that connects
	// a moment late still observes the terminal state.
	defaultRetention = 10 * time.Second

	listenerBufferSize = 16
)

// Tracker is the single source of truth for in-flight export progress. All
// mutations for a key appear atomic to readers; keys are fully independent.
type Tracker struct {
	mu        sync.Mutex
	records   map[string]entity.Progress
	listeners map[string]map[chan entity.Progress]struct{}
	evictions map[string]*time.Timer
	retention time.Duration
	log       *slog.Logger
}

func NewTracker(log *slog.Logger) *Tracker {
	return NewTrackerWithRetention(defaultRetention, log)
}

func NewTrackerWithRetention(retention time.Duration, log *slog.Logger) *Tracker {
	return &Tracker{
		records:   make(map[string]entity.Progress),
		listeners: make(map[string]map[chan entity.Progress]struct{}),
		evictions: make(map[string]*time.Timer),
		retention: retention,
		log:       log.With(slog.String("service", serviceName)),
	}
}

// Start creates or overwrites the record for key. A pending eviction from a
// previous export under the same key is canceled.
func (t *Tracker) Start(key string, total int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if timer, exists := t.evictions[key]; exists {
		timer.Stop()
		delete(t.evictions, key)
	}

	rec := entity.Progress{Total: total}
	t.records[key] = rec
	t.notify(key, rec)
}

// Advance increments the processed count by one. Advancing a key that was
// never started is a no-op.
func (t *Tracker) Advance(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, exists := t.records[key]
	if !exists {
		t.log.Warn("Advance on unknown progress key", slog.String("key", key))

		return
	}

	rec.Processed++
	t.records[key] = rec
	t.notify(key, rec)
}

// Finish marks the record done and schedules its eviction. Done never
// reverts; a nil err means the export completed normally.
func (t *Tracker) Finish(key string, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, exists := t.records[key]
	if !exists {
		t.log.Warn("Finish on unknown progress key", slog.String("key", key))

		return
	}

	rec.Done = true
	if err != nil {
		rec.Error = err.Error()
	}
	t.records[key] = rec
	t.notify(key, rec)

	if timer, running := t.evictions[key]; running {
		timer.Stop()
	}
	t.evictions[key] = time.AfterFunc(t.retention, func() {
		t.evict(key)
	})
}

func (t *Tracker) evict(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	// A new export may have restarted the key while the timer fired.
	if rec, exists := t.records[key]; !exists || !rec.Done {
		return
	}

	delete(t.records, key)
	delete(t.evictions, key)
}

// Snapshot returns the current record for key, if any.
func (t *Tracker) Snapshot(key string) (entity.Progress, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, exists := t.records[key]

	return rec, exists
}

// Subscribe registers a listener for every subsequent update to key. The
// returned channel is buffered; a listener that stops draining loses
// updates rather than blocking the exporter.
func (t *Tracker) Subscribe(key string) chan entity.Progress {
	t.mu.Lock()
	defer t.mu.Unlock()

	ch := make(chan entity.Progress, listenerBufferSize)
	if _, exists := t.listeners[key]; !exists {
		t.listeners[key] = make(map[chan entity.Progress]struct{})
	}
	t.listeners[key][ch] = struct{}{}

	return ch
}

func (t *Tracker) Unsubscribe(key string, ch chan entity.Progress) {
	t.mu.Lock()
	defer t.mu.Unlock()

	set, exists := t.listeners[key]
	if !exists {
		return
	}

	delete(set, ch)
	if len(set) == 0 {
		delete(t.listeners, key)
	}
}

// notify must be called with t.mu held.
func (t *Tracker) notify(key string, rec entity.Progress) {
	for ch := range t.listeners[key] {
		select {
		case ch <- rec:
		default:
		}
	}
}

func (t *Tracker) listenerCount(key string) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return len(t.listeners[key])
}
