package msgloop

import (
	"container/heap"
	"time"
)

// deadlineTimer is a one-shot deadline keyed on the monotonic clock,
// used by RunAt/RunAfter. Deadlines are held in a min-heap separate
// from the timer wheel: they are low-volume, exact-time callbacks
// rather than coarse high-volume wheel events.
type deadlineTimer struct {
	when    time.Time
	handler func(Error)
}

type deadlineHeap []deadlineTimer

func (h deadlineHeap) Len() int           { return len(h) }
func (h deadlineHeap) Less(i, j int) bool { return h[i].when.Before(h[j].when) }
func (h deadlineHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *deadlineHeap) Push(x any) {
	*h = append(*h, x.(deadlineTimer))
}

func (h *deadlineHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	old[n-1] = deadlineTimer{}
	*h = old[:n-1]
	return x
}

func (h *deadlineHeap) add(handler func(Error), when time.Time) {
	heap.Push(h, deadlineTimer{when: when, handler: handler})
}

// runDue pops and invokes every deadline at or before now, delivering
// the zero Error. Returns the number fired.
func (h *deadlineHeap) runDue(now time.Time, invoke func(func())) int {
	n := 0
	for h.Len() > 0 && !(*h)[0].when.After(now) {
		t := heap.Pop(h).(deadlineTimer)
		invoke(func() { t.handler(Error{}) })
		n++
	}
	return n
}

// next returns the earliest deadline, or ok=false when empty.
func (h deadlineHeap) next() (time.Time, bool) {
	if len(h) == 0 {
		return time.Time{}, false
	}
	return h[0].when, true
}

// cancelAll drains the heap, delivering err to every handler.
func (h *deadlineHeap) cancelAll(err Error, invoke func(func())) {
	for h.Len() > 0 {
		t := heap.Pop(h).(deadlineTimer)
		invoke(func() { t.handler(err) })
	}
}
