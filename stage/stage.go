// Package stage implements the stage runner (C6): the deterministic
// pipeline successor table and the Runner capability that launches a
// stage's child process.
//
// Per the "cyclic module imports" design note, a stage never mutates task
// state or touches the ready/finished queues directly. It reports an
// Outcome; the scheduler performs the finished.put / stage-mutate /
// ready.add hand-off.
package stage

import (
	"fmt"

	"github.com/arctir/seqsched/task"
)

// Kind distinguishes the three shapes an Outcome can take.
type Kind int

const (
	// KindNext advances the task to another stage unconditionally.
	KindNext Kind = iota
	// KindTerminal means the task's pipeline is complete; it goes only to
	// finished, never back to ready.
	KindTerminal
	// KindInsufficientGoto advances the task to another stage because the
	// stage itself judged its own output insufficient (e.g. an MSA search
	// that didn't find enough hits).
	KindInsufficientGoto
)

// Outcome is the sum type a stage's completion reports. Exactly one of
// NextStage is meaningful, gated by Kind.
type Outcome struct {
	Kind       Kind
	NextStage  task.Stage
	ParamEdits task.Params
}

// Advance is the pure successor-table function (§4.6). sufficient is
// meaningless for stages whose successor doesn't depend on it (signalp6,
// hhblits_bfd, psipred, hhsearch); for the three hhblits_uniref_* stages it
// selects between continuing the MSA search chain (insufficient) and
// moving on to psipred (sufficient).
func Advance(from task.Stage, sufficient bool) (Outcome, error) {
	switch from {
	case task.StageSignalP6:
		return Outcome{
			Kind:       KindNext,
			NextStage:  task.StageHHBlitsUniref1,
			ParamEdits: task.Params{"e_value": "1e-10"},
		}, nil

	case task.StageHHBlitsUniref1:
		if sufficient {
			return Outcome{Kind: KindNext, NextStage: task.StagePSIPred}, nil
		}
		return Outcome{
			Kind:       KindInsufficientGoto,
			NextStage:  task.StageHHBlitsUniref2,
			ParamEdits: task.Params{"e_value": "1e-6", "input": "filtered_a3m"},
		}, nil

	case task.StageHHBlitsUniref2:
		if sufficient {
			return Outcome{Kind: KindNext, NextStage: task.StagePSIPred}, nil
		}
		return Outcome{
			Kind:       KindInsufficientGoto,
			NextStage:  task.StageHHBlitsUniref3,
			ParamEdits: task.Params{"e_value": "1e-3", "input": "filtered_a3m"},
		}, nil

	case task.StageHHBlitsUniref3:
		if sufficient {
			return Outcome{Kind: KindNext, NextStage: task.StagePSIPred}, nil
		}
		return Outcome{
			Kind:       KindInsufficientGoto,
			NextStage:  task.StageHHBlitsBFD,
			ParamEdits: task.Params{"e_value": "1e-3", "input": "filtered_a3m"},
		}, nil

	case task.StageHHBlitsBFD:
		return Outcome{Kind: KindNext, NextStage: task.StagePSIPred}, nil

	case task.StagePSIPred:
		return Outcome{Kind: KindNext, NextStage: task.StageHHSearch}, nil

	case task.StageHHSearch:
		return Outcome{Kind: KindTerminal}, nil

	default:
		// An unknown stage reaching the successor table is a programmer
		// error in the stage successor table (§7's "invalid stage" taxonomy
		// entry), not a recoverable runtime condition.
		return Outcome{}, fmt.Errorf("stage: no successor defined for stage %q", from)
	}
}

// CompletionFunc is how a launched stage reports its Outcome back to the
// scheduler once its child process finishes. The scheduler supplies one to
// Launch; it performs no queue mutation itself.
type CompletionFunc func(t *task.Task, outcome Outcome)

// Runner launches a task's current stage as a child process and arranges
// for onComplete to be called, exactly once, when that process finishes.
// Launch returns immediately after the process starts (or fails to start);
// it never blocks on completion.
type Runner interface {
	Launch(t *task.Task, onComplete CompletionFunc) (pid int, err error)
}
