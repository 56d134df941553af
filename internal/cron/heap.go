package cron

import "container/heap"

// eventHeap implements container/heap.Interface for Event, earliest first.
type eventHeap []Event

func (h eventHeap) Len() int           { return len(h) }
func (h eventHeap) Less(i, j int) bool { return h[i].At.Before(h[j].At) }
func (h eventHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *eventHeap) Push(x any) {
	*h = append(*h, x.(Event))
}

func (h *eventHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

func heapPush(h *eventHeap, e Event) {
	heap.Push(h, e)
}

// heapPop removes the earliest event. Panics if the heap is empty.
func heapPop(h *eventHeap) Event {
	return heap.Pop(h).(Event)
}

// heapRemove drops every event named name and reports whether one existed.
func heapRemove(h *eventHeap, name string) bool {
	found := false
	for i := 0; i < h.Len(); {
		if (*h)[i].Name == name {
			heap.Remove(h, i)
			found = true
			continue
		}
		i++
	}
	return found
}
