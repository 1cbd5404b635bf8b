package stage

import (
	"sync"

	"github.com/arctir/seqsched/task"
)

// Fake is a scripted Runner for scheduler/running tests: Launch completes
// synchronously, before it returns, with a caller-supplied Outcome, never
// touching a real process. It has no option for delayed completion.
type Fake struct {
	mu sync.Mutex

	// Script maps a stage to the Outcome its launch should report. If a
	// stage is missing, Advance(stage, true) is used as the default.
	Script map[task.Stage]Outcome

	nextPID  int
	Launches []LaunchRecord
}

// LaunchRecord captures one Launch call for assertions.
type LaunchRecord struct {
	TaskID string
	Stage  task.Stage
	PID    int
}

// NewFake returns a Fake with an empty script (every stage defaults to its
// "sufficient" successor).
func NewFake() *Fake {
	return &Fake{Script: map[task.Stage]Outcome{}, nextPID: 1000}
}

// Launch immediately invokes onComplete with the scripted outcome for the
// task's current stage and returns a synthetic, monotonically increasing
// pid.
func (f *Fake) Launch(t *task.Task, onComplete CompletionFunc) (int, error) {
	f.mu.Lock()
	f.nextPID++
	pid := f.nextPID
	f.Launches = append(f.Launches, LaunchRecord{TaskID: t.ID(), Stage: t.Stage(), PID: pid})
	outcome, scripted := f.Script[t.Stage()]
	f.mu.Unlock()

	if !scripted {
		var err error
		outcome, err = Advance(t.Stage(), true)
		if err != nil {
			return 0, err
		}
	}

	t.SetPID(pid)
	onComplete(t, outcome)
	return pid, nil
}
