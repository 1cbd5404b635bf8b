// Package running implements the running registry (C4): the three
// min-priority sub-queues (normal, excess, suspended) a task occupies while
// its current stage's child process is alive, plus the admission, excess
// detection, suspend/resume, and kill operations the monitor drives each
// cycle.
package running

import (
	"container/heap"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/arctir/seqsched/config"
	"github.com/arctir/seqsched/finishedqueue"
	"github.com/arctir/seqsched/hostprobe"
	"github.com/arctir/seqsched/priority"
	"github.com/arctir/seqsched/procgroup"
	"github.com/arctir/seqsched/readyqueue"
	"github.com/arctir/seqsched/stage"
	"github.com/arctir/seqsched/task"
)

// Clock supplies the "current second" used to timestamp re-priced tasks.
type Clock func() int64

// subEntry is one heap element. Unlike readyqueue's sub-queues, entries
// here must also be removable by task identity (move_to_excess, suspend,
// finish all pull a specific task out of the middle of a queue), so each
// entry tracks its own heap index and a side map keys entries by task.
type subEntry struct {
	priority float64
	seq      uint64
	task     *task.Task
	idx      int
}

type subHeap []*subEntry

func (h subHeap) Len() int { return len(h) }
func (h subHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority < h[j].priority
	}
	return h[i].seq < h[j].seq
}
func (h subHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].idx = i
	h[j].idx = j
}
func (h *subHeap) Push(x any) {
	e := x.(*subEntry)
	e.idx = len(*h)
	*h = append(*h, e)
}
func (h *subHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}

// subqueue is a heap plus a task->entry index, so a specific task can be
// pulled out of the middle of the queue (not just the head).
type subqueue struct {
	h      subHeap
	byTask map[*task.Task]*subEntry
}

func newSubqueue() *subqueue {
	return &subqueue{byTask: map[*task.Task]*subEntry{}}
}

func (s *subqueue) push(e *subEntry) {
	heap.Push(&s.h, e)
	s.byTask[e.task] = e
}

func (s *subqueue) popHead() (*subEntry, bool) {
	if s.h.Len() == 0 {
		return nil, false
	}
	e := heap.Pop(&s.h).(*subEntry)
	delete(s.byTask, e.task)
	return e, true
}

func (s *subqueue) remove(t *task.Task) (*subEntry, bool) {
	e, ok := s.byTask[t]
	if !ok {
		return nil, false
	}
	heap.Remove(&s.h, e.idx)
	delete(s.byTask, t)
	return e, true
}

func (s *subqueue) len() int { return s.h.Len() }

// snapshotTasks returns every queued task, in no particular order, without
// draining the queue. Used by operations that must not mutate the queue
// while iterating it (check_excess_and_move's design-note resolution).
func (s *subqueue) snapshotTasks() []*task.Task {
	out := make([]*task.Task, 0, len(s.h))
	for _, e := range s.h {
		out = append(out, e.task)
	}
	return out
}

// Registry is the running registry (C4).
type Registry struct {
	mu sync.Mutex

	clock Clock
	cfg   *config.Config
	pg    procgroup.Controller
	hp    hostprobe.Prober
	run   stage.Runner

	finished *finishedqueue.Queue
	ready    *readyqueue.Queue

	normal, excess, suspended *subqueue
	seq                       uint64
}

// New builds an empty running registry.
func New(clock Clock, cfg *config.Config, pg procgroup.Controller, hp hostprobe.Prober, runner stage.Runner, finished *finishedqueue.Queue, ready *readyqueue.Queue) *Registry {
	return &Registry{
		clock:     clock,
		cfg:       cfg,
		pg:        pg,
		hp:        hp,
		run:       runner,
		finished:  finished,
		ready:     ready,
		normal:    newSubqueue(),
		excess:    newSubqueue(),
		suspended: newSubqueue(),
	}
}

// priceAndPush stamps t's timestamp, computes its priority under kind, and
// pushes it onto sub. Must be called with r.mu held.
func (r *Registry) priceAndPush(sub *subqueue, kind priority.QueueKind, t *task.Task) error {
	now := r.clock()
	t.UpdateTimestamp(now)
	p, err := priority.Calculate(kind, priority.Inputs{
		Timestamp:     now,
		MemReservedGB: t.MemReservedGB(),
		SeqLen:        t.SeqLen(),
	})
	if err != nil {
		return fmt.Errorf("running: %w", err)
	}
	if err := t.SetPriority(p); err != nil {
		return fmt.Errorf("running: %w", err)
	}
	r.seq++
	sub.push(&subEntry{priority: p, seq: r.seq, task: t})
	return nil
}

// AdmitNormal prices t under normal, pushes it, then synchronously launches
// its current stage's child process and records the resulting pid.
func (r *Registry) AdmitNormal(t *task.Task) error {
	r.mu.Lock()
	if err := r.priceAndPush(r.normal, priority.QueueNormal, t); err != nil {
		r.mu.Unlock()
		return err
	}
	r.mu.Unlock()

	pid, err := r.run.Launch(t, r.handleStageComplete)
	if err != nil {
		r.mu.Lock()
		r.normal.remove(t)
		r.mu.Unlock()
		return fmt.Errorf("running: admit_normal: launching %s: %w", t.ID(), err)
	}
	t.SetPID(pid)
	return nil
}

// MoveToExcess removes t from normal and re-prices it under excess. Excess
// means the task's live RSS has exceeded its memory reservation but it is
// still allowed to run.
func (r *Registry) MoveToExcess(t *task.Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.normal.remove(t); !ok {
		return fmt.Errorf("running: move_to_excess: task %s is not in normal", t.ID())
	}
	return r.priceAndPush(r.excess, priority.QueueExcess, t)
}

// Suspend sends SIGSTOP to t's process tree, removes it from whichever
// sub-queue holds it, and re-prices it under suspended. Idempotent: calling
// Suspend on an already-suspended task is a no-op beyond re-sending
// SIGSTOP, satisfying invariant 7.
func (r *Registry) Suspend(t *task.Task) error {
	r.mu.Lock()
	if _, alreadySuspended := r.suspended.byTask[t]; alreadySuspended {
		r.mu.Unlock()
		r.signalIfPresent(t, r.pg.Suspend)
		return nil
	}
	if _, ok := r.normal.remove(t); !ok {
		r.excess.remove(t)
	}
	r.mu.Unlock()

	r.signalIfPresent(t, r.pg.Suspend)

	r.mu.Lock()
	defer r.mu.Unlock()
	return r.priceAndPush(r.suspended, priority.QueueSuspend, t)
}

// Resume sends SIGCONT and moves t back to normal, but only if t is
// currently suspended. Returns false if t was not found in suspended.
func (r *Registry) Resume(t *task.Task) (bool, error) {
	r.mu.Lock()
	_, ok := r.suspended.remove(t)
	r.mu.Unlock()
	if !ok {
		return false, nil
	}

	r.signalIfPresent(t, r.pg.Resume)

	r.mu.Lock()
	defer r.mu.Unlock()
	return true, r.priceAndPush(r.normal, priority.QueueNormal, t)
}

func (r *Registry) signalIfPresent(t *task.Task, signal func(pid int) error) {
	pid, ok := t.PID()
	if !ok {
		return
	}
	if err := signal(pid); err != nil {
		log.Warn().Err(err).Str("task", t.ID()).Int("pid", pid).Msg("signal delivery failed; process likely already gone")
	}
}

// KillOne pops the head of normal, else excess, else suspended (the
// least-time-invested runnable task), SIGTERMs its process tree, and both
// recycles its reservation via the finished queue and re-enqueues it into
// ready to retry its current stage from scratch. See DESIGN.md for why the
// "double accounting" this implies is kept rather than "fixed". Returns
// ok=false if all three sub-queues are empty.
func (r *Registry) KillOne() (*task.Task, bool, error) {
	r.mu.Lock()
	var e *subEntry
	var ok bool
	for _, sub := range []*subqueue{r.normal, r.excess, r.suspended} {
		if e, ok = sub.popHead(); ok {
			break
		}
	}
	r.mu.Unlock()
	if !ok {
		return nil, false, nil
	}

	t := e.task
	r.signalIfPresent(t, r.pg.Terminate)
	t.ClearPID()
	r.finished.Put(t)
	if err := r.ready.Add(t); err != nil {
		return t, true, fmt.Errorf("running: kill_one: re-enqueueing %s: %w", t.ID(), err)
	}
	return t, true, nil
}

// Finish removes t from whichever running sub-queue holds it. A no-op if t
// is not currently running.
func (r *Registry) Finish(t *task.Task) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, sub := range []*subqueue{r.normal, r.excess, r.suspended} {
		if _, ok := sub.remove(t); ok {
			return
		}
	}
}

// CheckExcessAndMove scans a snapshot of normal (not normal itself, so
// MoveToExcess can safely mutate normal mid-scan) and moves any task whose
// current process-tree RSS exceeds its memory reservation into excess.
func (r *Registry) CheckExcessAndMove() {
	r.mu.Lock()
	snapshot := r.normal.snapshotTasks()
	r.mu.Unlock()

	for _, t := range snapshot {
		pid, ok := t.PID()
		if !ok {
			continue
		}
		rss, err := r.hp.ProcessRSSGB(pid)
		if err != nil {
			log.Warn().Err(err).Str("task", t.ID()).Msg("failed sampling RSS during excess check")
			continue
		}
		if rss > t.MemReservedGB() {
			if err := r.MoveToExcess(t); err != nil {
				// Already moved or finished concurrently (e.g. killed between
				// the snapshot and now); not an error worth surfacing.
				continue
			}
		}
	}
}

// TotalMemoryUsageGB sums live process-tree RSS across all three running
// sub-queues.
func (r *Registry) TotalMemoryUsageGB() float64 {
	r.mu.Lock()
	var all []*task.Task
	all = append(all, r.normal.snapshotTasks()...)
	all = append(all, r.excess.snapshotTasks()...)
	all = append(all, r.suspended.snapshotTasks()...)
	r.mu.Unlock()

	var total float64
	for _, t := range all {
		pid, ok := t.PID()
		if !ok {
			continue
		}
		rss, err := r.hp.ProcessRSSGB(pid)
		if err != nil {
			log.Warn().Err(err).Str("task", t.ID()).Msg("failed sampling RSS for total memory usage")
			continue
		}
		total += rss
	}
	return total
}

// HighestIOTask scans normal for the task with the highest I/O rate over a
// 1-second window; if normal is empty, it scans excess the same way.
// Returns ok=false if both are empty or none has a live pid.
func (r *Registry) HighestIOTask() (*task.Task, bool) {
	r.mu.Lock()
	normalTasks := r.normal.snapshotTasks()
	excessTasks := r.excess.snapshotTasks()
	r.mu.Unlock()

	if len(normalTasks) > 0 {
		if t, ok := r.highestIOAmong(normalTasks); ok {
			return t, true
		}
	}
	if len(excessTasks) > 0 {
		if t, ok := r.highestIOAmong(excessTasks); ok {
			return t, true
		}
	}
	return nil, false
}

func (r *Registry) highestIOAmong(tasks []*task.Task) (*task.Task, bool) {
	var best *task.Task
	bestRate := -1.0
	for _, t := range tasks {
		pid, ok := t.PID()
		if !ok {
			continue
		}
		rate, err := r.hp.ProcessIOBytesPerSec(pid, time.Second)
		if err != nil {
			log.Warn().Err(err).Str("task", t.ID()).Msg("failed sampling I/O rate")
			continue
		}
		if rate > bestRate {
			bestRate = rate
			best = t
		}
	}
	return best, best != nil
}

// handleStageComplete is the stage.CompletionFunc a launched stage reports
// back into. Per the cyclic-import design note, the stage itself never
// touches finished/ready/task state; this method performs the full
// hand-off: credit the finished queue, mutate stage/params/reservations
// (unless the outcome is terminal), and re-enqueue into ready.
func (r *Registry) handleStageComplete(t *task.Task, outcome stage.Outcome) {
	r.Finish(t)
	t.ClearPID()
	r.finished.Put(t)

	if outcome.Kind == stage.KindTerminal {
		return
	}

	for k, v := range outcome.ParamEdits {
		t.SetParam(k, v)
	}
	t.SetStage(outcome.NextStage)

	cpu, mem, err := r.cfg.Reservations(outcome.NextStage, t.SeqLen())
	if err != nil {
		// The successor table named a stage config doesn't know how to
		// reserve for; this is the "invalid stage" programmer error from the
		// error-handling taxonomy, not a recoverable per-task condition.
		panic(fmt.Sprintf("running: stage successor table produced stage %q with no configured reservations: %s", outcome.NextStage, err))
	}
	t.SetReservations(cpu, mem)

	if err := r.ready.Add(t); err != nil {
		log.Warn().Err(err).Str("task", t.ID()).Msg("failed to re-enqueue task after stage completion")
	}
}

// Lens returns the current length of normal, excess, and suspended, in
// that order. Primarily useful for logging/metrics and tests.
func (r *Registry) Lens() (normal, excess, suspended int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.normal.len(), r.excess.len(), r.suspended.len()
}

// IsEmpty reports whether all three running sub-queues hold no tasks.
func (r *Registry) IsEmpty() bool {
	n, e, s := r.Lens()
	return n == 0 && e == 0 && s == 0
}

// ResumeHead pops the head of suspended (the most-recently suspended task,
// per the suspend priority formula) and resumes it. Returns ok=false if
// suspended is empty.
func (r *Registry) ResumeHead() (*task.Task, bool, error) {
	r.mu.Lock()
	e, ok := r.suspended.popHead()
	r.mu.Unlock()
	if !ok {
		return nil, false, nil
	}

	t := e.task
	r.signalIfPresent(t, r.pg.Resume)

	r.mu.Lock()
	err := r.priceAndPush(r.normal, priority.QueueNormal, t)
	r.mu.Unlock()
	return t, true, err
}
