// Package readyqueue implements the multi-level ready queue (C3): one
// min-priority sub-queue per pipeline stage, scanned in a fixed order on
// pop so later pipeline stages always drain ahead of earlier ones.
package readyqueue

import (
	"container/heap"
	"fmt"
	"sync"

	"github.com/arctir/seqsched/priority"
	"github.com/arctir/seqsched/task"
)

// scanOrder is the fixed declaration order pop() scans sub-queues in. Later
// pipeline stages are listed first so tasks closer to completion are always
// preferred over newly-admitted ones.
var scanOrder = []task.Stage{
	task.StageHHSearch,
	task.StagePSIPred,
	task.StageSignalP6,
	task.StageHHBlitsBFD,
	task.StageHHBlitsUniref3,
	task.StageHHBlitsUniref2,
	task.StageHHBlitsUniref1,
}

// entry is one element of a sub-queue's heap. Tasks compare by priority
// first and, per the "priority-queue comparability" design note, by a
// monotonically increasing seq tiebreaker so that equal priorities never
// trigger undefined ordering.
type entry struct {
	priority float64
	seq      uint64
	task     *task.Task
}

type entryHeap []*entry

func (h entryHeap) Len() int { return len(h) }
func (h entryHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority < h[j].priority
	}
	return h[i].seq < h[j].seq
}
func (h entryHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *entryHeap) Push(x any)   { *h = append(*h, x.(*entry)) }
func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}

// Clock supplies the "current second" used to timestamp enqueued tasks. In
// production this is time.Now().Unix; tests substitute a fake so priority
// ordering is deterministic.
type Clock func() int64

// Queue is the multi-level ready queue. All operations are atomic with
// respect to concurrent callers, guarded by a single mutex (never held
// across anything that could block).
type Queue struct {
	mu      sync.Mutex
	clock   Clock
	seq     uint64
	subs    map[task.Stage]*entryHeap
}

// New constructs an empty ready queue, one sub-queue per pipeline stage.
func New(clock Clock) *Queue {
	q := &Queue{
		clock: clock,
		subs:  make(map[task.Stage]*entryHeap, len(task.Stages)),
	}
	for _, s := range task.Stages {
		h := &entryHeap{}
		heap.Init(h)
		q.subs[s] = h
	}
	return q
}

// Add recomputes the task's priority under queue-kind = task's current
// stage, stamps its timestamp, and pushes it onto that stage's sub-queue. It
// rejects tasks whose stage is not one of the seven known pipeline stages.
func (q *Queue) Add(t *task.Task) error {
	stage := t.Stage()
	if !task.IsPipelineStage(stage) {
		return fmt.Errorf("readyqueue: add rejected, unknown stage %q", stage)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.clock()
	t.UpdateTimestamp(now)
	p, err := priority.Calculate(priority.StageQueueKind(stage), priority.Inputs{
		Timestamp:     now,
		MemReservedGB: t.MemReservedGB(),
		SeqLen:        t.SeqLen(),
	})
	if err != nil {
		// Stage names are validated above, so a formula must exist; a mismatch
		// here means the stage and priority registries have drifted apart.
		return fmt.Errorf("readyqueue: %w", err)
	}
	if err := t.SetPriority(p); err != nil {
		return fmt.Errorf("readyqueue: %w", err)
	}

	q.seq++
	heap.Push(q.subs[stage], &entry{priority: p, seq: q.seq, task: t})
	return nil
}

// Pop scans sub-queues in the fixed declaration order and returns the head
// of the first non-empty one, together with its stage name. The second
// return value is false when every sub-queue is empty.
func (q *Queue) Pop() (task.Stage, *task.Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, stage := range scanOrder {
		h := q.subs[stage]
		if h.Len() == 0 {
			continue
		}
		e := heap.Pop(h).(*entry)
		return stage, e.task, true
	}
	return "", nil, false
}

// Empty reports whether every sub-queue is empty.
func (q *Queue) Empty() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, stage := range scanOrder {
		if q.subs[stage].Len() > 0 {
			return false
		}
	}
	return true
}

// Len returns the total number of queued tasks across every sub-queue.
// Primarily useful for logging/metrics.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	total := 0
	for _, h := range q.subs {
		total += h.Len()
	}
	return total
}
