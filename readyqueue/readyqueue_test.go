package readyqueue

import (
	"testing"

	"github.com/arctir/seqsched/task"
)

func fakeClock(sec int64) Clock {
	return func() int64 { return sec }
}

func TestAddRejectsNonPipelineStage(t *testing.T) {
	q := New(fakeClock(1))
	tk := task.New("seq-1", 100, nil)
	tk.SetStage(task.Stage("bogus"))
	if err := q.Add(tk); err == nil {
		t.Fatal("expected Add to reject a non-pipeline stage")
	}
}

func TestAddSetsPriorityAndTimestamp(t *testing.T) {
	q := New(fakeClock(500))
	tk := task.New("seq-1", 100, nil)
	if err := q.Add(tk); err != nil {
		t.Fatal(err)
	}
	if !tk.HasPriority() {
		t.Fatal("expected Add to set the task's priority")
	}
	if tk.Timestamp() != 500 {
		t.Fatalf("expected timestamp 500, got %d", tk.Timestamp())
	}
}

// TestPopScanOrder covers property #5 from spec.md §8: if both the hhsearch
// and signalp6 sub-queues are non-empty, pop returns an hhsearch task.
func TestPopScanOrder(t *testing.T) {
	q := New(fakeClock(1))

	entry := task.New("signalp-task", 100, nil)
	entry.SetStage(task.StageSignalP6)
	if err := q.Add(entry); err != nil {
		t.Fatal(err)
	}

	late := task.New("hhsearch-task", 100, nil)
	late.SetStage(task.StageHHSearch)
	if err := q.Add(late); err != nil {
		t.Fatal(err)
	}

	stage, popped, ok := q.Pop()
	if !ok {
		t.Fatal("expected a task")
	}
	if stage != task.StageHHSearch || popped.ID() != "hhsearch-task" {
		t.Fatalf("expected hhsearch task to pop first (later stages drain ahead), got stage=%s id=%s", stage, popped.ID())
	}
}

// TestPopPriorityOrderWithinSubQueue covers property #4: within one
// sub-queue, lower priority value (earlier timestamp, for normal-style
// formulas) pops first.
func TestPopPriorityOrderWithinSubQueue(t *testing.T) {
	q := New(fakeClock(1))

	older := task.New("older", 100, nil)
	older.SetStage(task.StageHHBlitsBFD)
	q.clock = fakeClock(10)
	if err := q.Add(older); err != nil {
		t.Fatal(err)
	}

	newer := task.New("newer", 100, nil)
	newer.SetStage(task.StageHHBlitsBFD)
	q.clock = fakeClock(9999)
	if err := q.Add(newer); err != nil {
		t.Fatal(err)
	}

	_, first, ok := q.Pop()
	if !ok || first.ID() != "older" {
		t.Fatalf("expected the earlier-timestamped task to pop first, got %v (ok=%v)", first, ok)
	}
}

func TestEmptyAndLen(t *testing.T) {
	q := New(fakeClock(1))
	if !q.Empty() {
		t.Fatal("expected a fresh queue to be empty")
	}
	tk := task.New("seq-1", 50, nil)
	if err := q.Add(tk); err != nil {
		t.Fatal(err)
	}
	if q.Empty() {
		t.Fatal("expected queue to be non-empty after Add")
	}
	if q.Len() != 1 {
		t.Fatalf("expected len 1, got %d", q.Len())
	}
	if _, _, ok := q.Pop(); !ok {
		t.Fatal("expected Pop to succeed")
	}
	if !q.Empty() {
		t.Fatal("expected queue to be empty after draining its only task")
	}
}

func TestPopOnEmptyQueueReturnsFalse(t *testing.T) {
	q := New(fakeClock(1))
	if _, _, ok := q.Pop(); ok {
		t.Fatal("expected Pop on an empty queue to report ok=false")
	}
}
