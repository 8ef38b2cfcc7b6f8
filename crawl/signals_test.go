package crawl

import (
	"testing"
)

func TestBus_StatsChangedFanOut(t *testing.T) {
	bus := NewBus()

	var got []string
	bus.OnStatsChanged(func(crawlID string, changes map[string]any) {
		got = append(got, crawlID)
	})
	bus.OnStatsChanged(func(crawlID string, changes map[string]any) {
		got = append(got, crawlID+"-second")
	})

	bus.EmitStatsChanged("c1", map[string]any{"items": 5})

	if len(got) != 2 {
		t.Fatalf("expected 2 deliveries, got %d: %v", len(got), got)
	}
}

func TestBus_SpiderClosed(t *testing.T) {
	bus := NewBus()

	var closed []string
	bus.OnSpiderClosed(func(crawlID string) {
		closed = append(closed, crawlID)
	})

	bus.EmitSpiderClosed("c7")

	if len(closed) != 1 || closed[0] != "c7" {
		t.Fatalf("closed = %v, want [c7]", closed)
	}
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := NewBus()

	calls := 0
	unsub := bus.OnStatsChanged(func(string, map[string]any) { calls++ })

	bus.EmitStatsChanged("c1", nil)
	unsub()
	bus.EmitStatsChanged("c1", nil)
	unsub() // second unsubscribe is a no-op

	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
	if n := bus.ListenerCount(); n != 0 {
		t.Fatalf("ListenerCount = %d, want 0", n)
	}
}

func TestBus_EmitWithNoListeners(t *testing.T) {
	bus := NewBus()
	bus.EmitStatsChanged("c1", nil)
	bus.EmitSpiderClosed("c1")
}
