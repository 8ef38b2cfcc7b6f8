// Package crawl exposes the signal surface of the crawl orchestrator that
// the real-time data API consumes. The orchestrator itself lives elsewhere;
// this package only carries its change signals to interested sessions.
package crawl

import (
	"context"
	"sync"
)

// StatsListener is invoked when a running crawl's aggregate stats change.
type StatsListener func(crawlID string, changes map[string]any)

// ClosedListener is invoked when a spider finishes.
type ClosedListener func(crawlID string)

// JobSource yields the current wire payloads of every known job. Sessions
// use it for the full resync broadcast emitted on spider-closed.
type JobSource interface {
	Jobs(ctx context.Context) ([]map[string]any, error)
}

// Bus fans crawl signals out to registered listeners. Listeners run on the
// emitter's goroutine; consumers that need isolation must hand off to their
// own loop. Each registration returns an unsubscribe function; unsubscribing
// twice is a no-op.
type Bus struct {
	mu     sync.Mutex
	nextID int
	stats  map[int]StatsListener
	closed map[int]ClosedListener
}

// NewBus creates an empty signal bus.
func NewBus() *Bus {
	return &Bus{
		stats:  make(map[int]StatsListener),
		closed: make(map[int]ClosedListener),
	}
}

// OnStatsChanged registers fn for aggregate-stats-changed signals.
func (b *Bus) OnStatsChanged(fn StatsListener) (unsubscribe func()) {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.stats[id] = fn
	b.mu.Unlock()
	return func() {
		b.mu.Lock()
		delete(b.stats, id)
		b.mu.Unlock()
	}
}

// OnSpiderClosed registers fn for spider-closed signals.
func (b *Bus) OnSpiderClosed(fn ClosedListener) (unsubscribe func()) {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.closed[id] = fn
	b.mu.Unlock()
	return func() {
		b.mu.Lock()
		delete(b.closed, id)
		b.mu.Unlock()
	}
}

// EmitStatsChanged delivers a stats change for the given crawl to every
// registered listener.
func (b *Bus) EmitStatsChanged(crawlID string, changes map[string]any) {
	for _, fn := range b.statsListeners() {
		fn(crawlID, changes)
	}
}

// EmitSpiderClosed delivers a spider-closed signal to every registered
// listener.
func (b *Bus) EmitSpiderClosed(crawlID string) {
	for _, fn := range b.closedListeners() {
		fn(crawlID)
	}
}

// ListenerCount reports the number of currently registered listeners across
// both signals.
func (b *Bus) ListenerCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.stats) + len(b.closed)
}

func (b *Bus) statsListeners() []StatsListener {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]StatsListener, 0, len(b.stats))
	for _, fn := range b.stats {
		out = append(out, fn)
	}
	return out
}

func (b *Bus) closedListeners() []ClosedListener {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]ClosedListener, 0, len(b.closed))
	for _, fn := range b.closed {
		out = append(out, fn)
	}
	return out
}
