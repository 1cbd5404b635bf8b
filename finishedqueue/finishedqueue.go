// Package finishedqueue implements the finished-task registry (C5): a
// plain FIFO of tasks whose stage has completed or whose process was
// force-terminated. The scheduler drains it every cycle to credit each
// task's reserved cores back to its core budget.
package finishedqueue

import (
	"sync"

	"github.com/arctir/seqsched/task"
)

// Queue is a mutex-guarded FIFO. Unlike readyqueue, finished tasks carry no
// meaningful priority; order of completion is all that matters.
type Queue struct {
	mu    sync.Mutex
	tasks []*task.Task
}

// New returns an empty finished queue.
func New() *Queue {
	return &Queue{}
}

// Put appends t to the back of the queue.
func (q *Queue) Put(t *task.Task) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.tasks = append(q.tasks, t)
}

// Get pops the oldest finished task. The second return value is false if
// the queue is empty.
func (q *Queue) Get() (*task.Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.tasks) == 0 {
		return nil, false
	}
	t := q.tasks[0]
	q.tasks = q.tasks[1:]
	return t, true
}

// Empty reports whether the queue holds no tasks.
func (q *Queue) Empty() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks) == 0
}

// Len returns the number of finished tasks currently queued.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

// All returns a snapshot slice of every queued task, oldest first, without
// draining the queue. Used for reporting/inspection.
func (q *Queue) All() []*task.Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]*task.Task, len(q.tasks))
	copy(out, q.tasks)
	return out
}
