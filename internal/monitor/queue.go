package monitor

import (
	"context"
	"time"
)

// job is one pending or running check for a session.
type job struct {
	accountID string
	sessionID string
	priority  int
	seq       uint64
	since     time.Time

	index  int // heap position, -1 once popped
	ctx    context.Context
	cancel context.CancelFunc
}

// jobQueue is a container/heap ordered by priority (higher first), then by
// enqueue order.
type jobQueue []*job

func (q jobQueue) Len() int { return len(q) }

func (q jobQueue) Less(i, j int) bool {
	if q[i].priority != q[j].priority {
		return q[i].priority > q[j].priority
	}
	return q[i].seq < q[j].seq
}

func (q jobQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *jobQueue) Push(x any) {
	j := x.(*job)
	j.index = len(*q)
	*q = append(*q, j)
}

func (q *jobQueue) Pop() any {
	old := *q
	n := len(old)
	j := old[n-1]
	old[n-1] = nil
	j.index = -1
	*q = old[:n-1]
	return j
}
