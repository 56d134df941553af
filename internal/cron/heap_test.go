package cron

import (
	"testing"
	"time"
)

func TestHeapPushPopOrdering(t *testing.T) {
	h := &eventHeap{}

	now := time.Now()
	heapPush(h, Event{Name: "late", At: now.Add(3 * time.Hour)})
	heapPush(h, Event{Name: "early", At: now.Add(1 * time.Hour)})
	heapPush(h, Event{Name: "middle", At: now.Add(2 * time.Hour)})

	for _, want := range []string{"early", "middle", "late"} {
		if got := heapPop(h).Name; got != want {
			t.Errorf("expected %s, got %s", want, got)
		}
	}
	if h.Len() != 0 {
		t.Errorf("expected empty heap, got len %d", h.Len())
	}
}

func TestHeapDuplicateTriggerTimes(t *testing.T) {
	h := &eventHeap{}
	at := time.Now().Add(time.Hour)

	heapPush(h, Event{Name: "a", At: at})
	heapPush(h, Event{Name: "b", At: at})
	heapPush(h, Event{Name: "c", At: at})

	seen := map[string]bool{}
	for h.Len() > 0 {
		e := heapPop(h)
		if seen[e.Name] {
			t.Errorf("duplicate pop for %s", e.Name)
		}
		seen[e.Name] = true
	}
	if len(seen) != 3 {
		t.Errorf("expected 3 distinct events, got %d", len(seen))
	}
}

func TestHeapRemove(t *testing.T) {
	h := &eventHeap{}
	now := time.Now()
	heapPush(h, Event{Name: "rotate", At: now.Add(time.Hour)})
	heapPush(h, Event{Name: "vacuum", At: now.Add(2 * time.Hour)})
	heapPush(h, Event{Name: "rotate", At: now.Add(3 * time.Hour)})

	if !heapRemove(h, "rotate") {
		t.Fatal("expected rotate to be removed")
	}
	if h.Len() != 1 {
		t.Fatalf("expected 1 event left, got %d", h.Len())
	}
	if got := heapPop(h).Name; got != "vacuum" {
		t.Errorf("expected vacuum, got %s", got)
	}
	if heapRemove(h, "missing") {
		t.Error("removing a missing name reported success")
	}
}
