package running

import (
	"testing"

	"github.com/arctir/seqsched/config"
	"github.com/arctir/seqsched/finishedqueue"
	"github.com/arctir/seqsched/hostprobe"
	"github.com/arctir/seqsched/procgroup"
	"github.com/arctir/seqsched/readyqueue"
	"github.com/arctir/seqsched/stage"
	"github.com/arctir/seqsched/task"
)

func fakeClock(sec int64) Clock { return func() int64 { return sec } }

func testConfig() *config.Config {
	twelve := make([]float64, 12)
	for i := range twelve {
		twelve[i] = 4
	}
	return &config.Config{
		JobCoreNum: map[string]int{
			string(task.StageSignalP6):        2,
			string(task.StageHHBlitsUniref1):  4,
			string(task.StagePSIPred):         1,
			string(task.StageHHSearch):        1,
		},
		JobMemNum: map[string][]float64{
			string(task.StageSignalP6):       twelve,
			string(task.StageHHBlitsUniref1): twelve,
			string(task.StagePSIPred):        twelve,
			string(task.StageHHSearch):       twelve,
		},
		MemBufferGB:    10,
		WaitTimeMaxPct: 10,
		WaitTimeMidPct: 5,
	}
}

func newTestRegistry() (*Registry, *procgroup.Fake, *hostprobe.Fake, *stage.Fake, *finishedqueue.Queue, *readyqueue.Queue) {
	pg := procgroup.NewFake()
	hp := hostprobe.NewFake()
	runner := stage.NewFake()
	finished := finishedqueue.New()
	ready := readyqueue.New(fakeClock(1))
	reg := New(fakeClock(1), testConfig(), pg, hp, runner, finished, ready)
	return reg, pg, hp, runner, finished, ready
}

func TestAdmitNormalLaunchesAndRecordsPID(t *testing.T) {
	reg, _, _, runner, _, _ := newTestRegistry()
	tk := task.New("seq-1", 100, task.Params{"job_name": "seq-1"})
	tk.SetReservations(2, 4)

	if err := reg.AdmitNormal(tk); err != nil {
		t.Fatal(err)
	}
	if len(runner.Launches) != 1 {
		t.Fatalf("expected exactly one launch, got %d", len(runner.Launches))
	}
	if _, ok := tk.PID(); !ok {
		t.Fatal("expected a pid to be recorded after admission")
	}
	normal, excess, suspended := reg.Lens()
	// The fake runner completes synchronously, advancing the task straight
	// out of signalp6; by the time AdmitNormal returns, normal should be
	// empty again (handleStageComplete already ran and finished it).
	if normal != 0 || excess != 0 || suspended != 0 {
		t.Fatalf("expected all sub-queues empty after synchronous completion, got normal=%d excess=%d suspended=%d", normal, excess, suspended)
	}
}

func TestMoveToExcessRequiresNormalMembership(t *testing.T) {
	reg, _, _, _, _, _ := newTestRegistry()
	tk := task.New("seq-1", 100, nil)
	if err := reg.MoveToExcess(tk); err == nil {
		t.Fatal("expected an error moving a task that was never admitted")
	}
}

func TestSuspendResumeRoundTrip(t *testing.T) {
	reg, pg, _, _, _, _ := newTestRegistry()
	tk := task.New("seq-1", 100, nil)
	tk.SetPID(555)

	r := reg.normal
	r.push(&subEntry{priority: 1, seq: 1, task: tk})

	if err := reg.Suspend(tk); err != nil {
		t.Fatal(err)
	}
	if len(pg.Suspended) != 1 || pg.Suspended[0] != 555 {
		t.Fatalf("expected SIGSTOP to pid 555, got %v", pg.Suspended)
	}
	_, _, suspendedLen := mustLens(reg)
	if suspendedLen != 1 {
		t.Fatalf("expected task in suspended, got lens normal/excess/suspended")
	}

	// Idempotent re-suspend: still just one entry, signal sent again.
	if err := reg.Suspend(tk); err != nil {
		t.Fatal(err)
	}
	if len(pg.Suspended) != 2 {
		t.Fatalf("expected a second SIGSTOP call, got %d", len(pg.Suspended))
	}
	_, _, suspendedLen = mustLens(reg)
	if suspendedLen != 1 {
		t.Fatal("expected re-suspend to remain idempotent (still exactly one entry)")
	}

	resumed, err := reg.Resume(tk)
	if err != nil {
		t.Fatal(err)
	}
	if !resumed {
		t.Fatal("expected Resume to report success for a suspended task")
	}
	if len(pg.Resumed) != 1 {
		t.Fatalf("expected one SIGCONT call, got %d", len(pg.Resumed))
	}

	resumedAgain, err := reg.Resume(tk)
	if err != nil {
		t.Fatal(err)
	}
	if resumedAgain {
		t.Fatal("expected Resume on a non-suspended task to report false")
	}
}

func mustLens(r *Registry) (int, int, int) {
	n, e, s := r.Lens()
	return n, e, s
}

func TestKillOneOrderNormalThenExcessThenSuspended(t *testing.T) {
	reg, pg, _, _, finished, ready := newTestRegistry()

	suspendedTask := task.New("suspended-task", 100, nil)
	suspendedTask.SetPID(1)
	reg.suspended.push(&subEntry{priority: 1, seq: 1, task: suspendedTask})

	excessTask := task.New("excess-task", 100, nil)
	excessTask.SetPID(2)
	reg.excess.push(&subEntry{priority: 1, seq: 2, task: excessTask})

	normalTask := task.New("normal-task", 100, nil)
	normalTask.SetPID(3)
	reg.normal.push(&subEntry{priority: 1, seq: 3, task: normalTask})

	killed, ok, err := reg.KillOne()
	if err != nil {
		t.Fatal(err)
	}
	if !ok || killed.ID() != "normal-task" {
		t.Fatalf("expected normal-task to be killed first, got %v", killed)
	}
	if len(pg.Terminated) != 1 || pg.Terminated[0] != 3 {
		t.Fatalf("expected SIGTERM to pid 3, got %v", pg.Terminated)
	}
	if finished.Len() != 1 {
		t.Fatalf("expected killed task to land in finished, got len %d", finished.Len())
	}
	if ready.Empty() {
		t.Fatal("expected killed task to also be re-enqueued into ready")
	}

	killed, ok, err = reg.KillOne()
	if err != nil {
		t.Fatal(err)
	}
	if !ok || killed.ID() != "excess-task" {
		t.Fatalf("expected excess-task to be killed second, got %v", killed)
	}

	killed, ok, err = reg.KillOne()
	if err != nil {
		t.Fatal(err)
	}
	if !ok || killed.ID() != "suspended-task" {
		t.Fatalf("expected suspended-task to be killed last, got %v", killed)
	}

	if _, ok, _ := reg.KillOne(); ok {
		t.Fatal("expected KillOne on empty registry to report ok=false")
	}
}

func TestCheckExcessAndMoveUsesSnapshot(t *testing.T) {
	reg, _, hp, _, _, _ := newTestRegistry()
	tk := task.New("seq-1", 100, nil)
	tk.SetPID(42)
	tk.SetReservations(2, 4)
	reg.normal.push(&subEntry{priority: 1, seq: 1, task: tk})

	hp.RSSByPID[42] = 8 // exceeds the 4 GB reservation

	reg.CheckExcessAndMove()

	normal, excess, _ := reg.Lens()
	if normal != 0 || excess != 1 {
		t.Fatalf("expected task moved to excess, got normal=%d excess=%d", normal, excess)
	}
}

func TestTotalMemoryUsageGB(t *testing.T) {
	reg, _, hp, _, _, _ := newTestRegistry()
	a := task.New("a", 100, nil)
	a.SetPID(1)
	b := task.New("b", 100, nil)
	b.SetPID(2)
	reg.normal.push(&subEntry{priority: 1, seq: 1, task: a})
	reg.excess.push(&subEntry{priority: 1, seq: 2, task: b})

	hp.RSSByPID[1] = 3
	hp.RSSByPID[2] = 5

	if got := reg.TotalMemoryUsageGB(); got != 8 {
		t.Fatalf("expected total RSS 8, got %v", got)
	}
}

func TestHighestIOTaskPrefersNormalOverExcess(t *testing.T) {
	reg, _, hp, _, _, _ := newTestRegistry()
	normalLow := task.New("normal-low", 100, nil)
	normalLow.SetPID(1)
	normalHigh := task.New("normal-high", 100, nil)
	normalHigh.SetPID(2)
	excessTask := task.New("excess", 100, nil)
	excessTask.SetPID(3)

	reg.normal.push(&subEntry{priority: 1, seq: 1, task: normalLow})
	reg.normal.push(&subEntry{priority: 2, seq: 2, task: normalHigh})
	reg.excess.push(&subEntry{priority: 1, seq: 3, task: excessTask})

	hp.IOByPID[1] = 10
	hp.IOByPID[2] = 9999
	hp.IOByPID[3] = 50000 // excess has the globally-highest rate but is ignored while normal is non-empty

	got, ok := reg.HighestIOTask()
	if !ok || got.ID() != "normal-high" {
		t.Fatalf("expected normal-high to be selected, got %v", got)
	}
}

func TestHighestIOTaskFallsBackToExcess(t *testing.T) {
	reg, _, hp, _, _, _ := newTestRegistry()
	excessTask := task.New("excess", 100, nil)
	excessTask.SetPID(1)
	reg.excess.push(&subEntry{priority: 1, seq: 1, task: excessTask})
	hp.IOByPID[1] = 500

	got, ok := reg.HighestIOTask()
	if !ok || got.ID() != "excess" {
		t.Fatalf("expected fallback to excess task, got %v", got)
	}
}
