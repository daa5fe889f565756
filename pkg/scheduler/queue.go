package scheduler

import (
	"container/heap"
	"time"
)

// queueItem pairs a request id with the instant it becomes dispatchable.
type queueItem struct {
	id string
	at time.Time
}

// requestQueue is a min-heap on eligibility time.
type requestQueue []queueItem

func (q requestQueue) Len() int           { return len(q) }
func (q requestQueue) Less(i, j int) bool { return q[i].at.Before(q[j].at) }
func (q requestQueue) Swap(i, j int)      { q[i], q[j] = q[j], q[i] }
func (q *requestQueue) Push(x any)        { *q = append(*q, x.(queueItem)) }
func (q *requestQueue) Pop() any {
	old := *q
	n := len(old)
	item := old[n-1]
	*q = old[:n-1]
	return item
}

// popEligible removes and returns the ids whose eligibility time is at or
// before now.
func popEligible(q *requestQueue, now time.Time) []string {
	var ids []string
	for q.Len() > 0 && !(*q)[0].at.After(now) {
		ids = append(ids, heap.Pop(q).(queueItem).id)
	}
	return ids
}
