package scheduler

import "sort"

// workQueue keeps queued items in non-increasing priority order.
// Equal priorities keep enqueue order.
//
// Not synchronized; the Scheduler's mutex guards it.
type workQueue struct {
	items   []*WorkItem
	nextSeq int64
}

func newWorkQueue() *workQueue {
	return &workQueue{items: make([]*WorkItem, 0, 16)}
}

// push inserts w after every item with priority >= w.Priority.
func (q *workQueue) push(w *WorkItem) {
	q.nextSeq++
	w.seq = q.nextSeq
	i := sort.Search(len(q.items), func(i int) bool {
		return q.items[i].Priority < w.Priority
	})
	q.items = append(q.items, nil)
	copy(q.items[i+1:], q.items[i:])
	q.items[i] = w
}

// resort restores ordering after priorities change.
func (q *workQueue) resort() {
	sort.SliceStable(q.items, func(i, j int) bool {
		if q.items[i].Priority != q.items[j].Priority {
			return q.items[i].Priority > q.items[j].Priority
		}
		return q.items[i].seq < q.items[j].seq
	})
}

// remove deletes the item with id and returns it.
func (q *workQueue) remove(id string) (*WorkItem, bool) {
	for i, w := range q.items {
		if w.ID == id {
			q.items = append(q.items[:i], q.items[i+1:]...)
			return w, true
		}
	}
	return nil, false
}

// removeIf deletes every item matching pred, preserving order of the rest.
func (q *workQueue) removeIf(pred func(*WorkItem) bool) []*WorkItem {
	var removed []*WorkItem
	kept := q.items[:0]
	for _, w := range q.items {
		if pred(w) {
			removed = append(removed, w)
		} else {
			kept = append(kept, w)
		}
	}
	clear(q.items[len(kept):])
	q.items = kept
	return removed
}

func (q *workQueue) len() int {
	return len(q.items)
}

// snapshot returns copies in queue order.
func (q *workQueue) snapshot() []WorkItem {
	out := make([]WorkItem, len(q.items))
	for i, w := range q.items {
		out[i] = w.clone()
	}
	return out
}

// sorted reports whether the queue is in non-increasing priority order.
func (q *workQueue) sorted() bool {
	for i := 1; i < len(q.items); i++ {
		if q.items[i].Priority > q.items[i-1].Priority {
			return false
		}
	}
	return true
}
