package stage

import (
	"testing"

	"github.com/arctir/seqsched/task"
)

func TestAdvanceSignalP6ToHHBlitsUniref1(t *testing.T) {
	out, err := Advance(task.StageSignalP6, true)
	if err != nil {
		t.Fatal(err)
	}
	if out.Kind != KindNext || out.NextStage != task.StageHHBlitsUniref1 {
		t.Fatalf("unexpected outcome: %+v", out)
	}
	if out.ParamEdits["e_value"] != "1e-10" {
		t.Fatalf("expected e_value 1e-10, got %v", out.ParamEdits)
	}
}

func TestAdvanceUnirefChainInsufficient(t *testing.T) {
	out, err := Advance(task.StageHHBlitsUniref1, false)
	if err != nil {
		t.Fatal(err)
	}
	if out.Kind != KindInsufficientGoto || out.NextStage != task.StageHHBlitsUniref2 {
		t.Fatalf("unexpected outcome: %+v", out)
	}
	if out.ParamEdits["e_value"] != "1e-6" {
		t.Fatalf("expected e_value 1e-6, got %v", out.ParamEdits)
	}

	out, err = Advance(task.StageHHBlitsUniref3, false)
	if err != nil {
		t.Fatal(err)
	}
	if out.NextStage != task.StageHHBlitsBFD {
		t.Fatalf("expected uniref_3 insufficient to fall through to hhblits_bfd, got %+v", out)
	}
}

func TestAdvanceUnirefChainSufficientGoesToPSIPred(t *testing.T) {
	for _, from := range []task.Stage{task.StageHHBlitsUniref1, task.StageHHBlitsUniref2, task.StageHHBlitsUniref3} {
		out, err := Advance(from, true)
		if err != nil {
			t.Fatal(err)
		}
		if out.Kind != KindNext || out.NextStage != task.StagePSIPred {
			t.Fatalf("expected %s sufficient to advance to psipred, got %+v", from, out)
		}
	}
}

func TestAdvanceBFDAlwaysToPSIPred(t *testing.T) {
	out, err := Advance(task.StageHHBlitsBFD, false)
	if err != nil {
		t.Fatal(err)
	}
	if out.NextStage != task.StagePSIPred {
		t.Fatalf("expected hhblits_bfd to always advance to psipred, got %+v", out)
	}
}

func TestAdvanceHHSearchIsTerminal(t *testing.T) {
	out, err := Advance(task.StageHHSearch, true)
	if err != nil {
		t.Fatal(err)
	}
	if out.Kind != KindTerminal {
		t.Fatalf("expected hhsearch to be terminal, got %+v", out)
	}
}

func TestAdvanceUnknownStageErrors(t *testing.T) {
	if _, err := Advance(task.Stage("bogus"), true); err == nil {
		t.Fatal("expected an error for an unknown stage")
	}
}

func TestFakeLaunchInvokesOnCompleteSynchronously(t *testing.T) {
	f := NewFake()
	tk := task.New("seq-1", 100, task.Params{"job_name": "seq-1"})

	var gotOutcome Outcome
	var called bool
	pid, err := f.Launch(tk, func(t *task.Task, o Outcome) {
		called = true
		gotOutcome = o
	})
	if err != nil {
		t.Fatal(err)
	}
	if !called {
		t.Fatal("expected onComplete to be called")
	}
	if gotOutcome.Kind != KindNext || gotOutcome.NextStage != task.StageHHBlitsUniref1 {
		t.Fatalf("unexpected default-scripted outcome: %+v", gotOutcome)
	}
	if got, _ := tk.PID(); got != pid {
		t.Fatalf("expected task pid %d to match launch pid %d", got, pid)
	}
}

func TestFakeLaunchHonorsScript(t *testing.T) {
	f := NewFake()
	f.Script[task.StageHHSearch] = Outcome{Kind: KindTerminal}
	tk := task.New("seq-1", 100, nil)
	tk.SetStage(task.StageHHSearch)

	var gotOutcome Outcome
	if _, err := f.Launch(tk, func(t *task.Task, o Outcome) { gotOutcome = o }); err != nil {
		t.Fatal(err)
	}
	if gotOutcome.Kind != KindTerminal {
		t.Fatalf("expected scripted terminal outcome, got %+v", gotOutcome)
	}
}
