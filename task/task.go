// Package task defines the task record (C1): the identity and mutable
// runtime state of a single input sequence as it traverses the pipeline.
package task

import (
	"fmt"
	"sync"
)

// Stage identifies one step of the fixed pipeline a task traverses.
type Stage string

const (
	StageSignalP6         Stage = "signalp6"
	StageHHBlitsUniref1    Stage = "hhblits_uniref_1"
	StageHHBlitsUniref2    Stage = "hhblits_uniref_2"
	StageHHBlitsUniref3    Stage = "hhblits_uniref_3"
	StageHHBlitsBFD        Stage = "hhblits_bfd"
	StagePSIPred           Stage = "psipred"
	StageHHSearch          Stage = "hhsearch"
)

// Stages lists every pipeline stage in no particular order; used for
// validating that a task's stage is a known one.
var Stages = []Stage{
	StageSignalP6,
	StageHHBlitsUniref1,
	StageHHBlitsUniref2,
	StageHHBlitsUniref3,
	StageHHBlitsBFD,
	StagePSIPred,
	StageHHSearch,
}

// IsPipelineStage reports whether s names one of the seven fixed pipeline
// stages.
func IsPipelineStage(s Stage) bool {
	for _, known := range Stages {
		if s == known {
			return true
		}
	}
	return false
}

// Params holds the stage-input keys a task carries between stages: job name,
// output directory, input file path, and the current e-value threshold
// (among others a stage may add). Mutable only between stages.
type Params map[string]string

// Clone returns a shallow copy, so a stage's param edits never alias the
// previous stage's map.
func (p Params) Clone() Params {
	cp := make(Params, len(p))
	for k, v := range p {
		cp[k] = v
	}
	return cp
}

// Task represents one input sequence progressing through the pipeline.
//
// Invariants (see spec):
//  1. A task exists in at most one of {ready, running, finished} at any instant.
//  2. Within running, exactly one of {normal, excess, suspended}.
//  3. Priority is set whenever the task resides in any priority queue.
//  4. PID is set iff the task is in a running substate.
//  5. CPUReserved/MemReservedGB reflect the current stage, not any prior one.
type Task struct {
	mu sync.Mutex

	id     string
	stage  Stage
	seqLen int
	params Params

	hasPriority bool
	priority    float64

	hasPID bool
	pid    int

	cpuReserved   int
	memReservedGB float64

	timestamp int64
}

// New creates a task at the pipeline's entry stage (signalp6).
func New(id string, seqLen int, params Params) *Task {
	return &Task{
		id:     id,
		stage:  StageSignalP6,
		seqLen: seqLen,
		params: params.Clone(),
	}
}

func (t *Task) ID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.id
}

func (t *Task) Stage() Stage {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stage
}

func (t *Task) SetStage(s Stage) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stage = s
}

func (t *Task) SeqLen() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.seqLen
}

func (t *Task) Params() Params {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.params.Clone()
}

// SetParams replaces the task's params wholesale. Callers should only do
// this between stages, never while the task is running.
func (t *Task) SetParams(p Params) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.params = p.Clone()
}

// SetParam sets a single key, preserving the rest.
func (t *Task) SetParam(key, value string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.params == nil {
		t.params = Params{}
	}
	t.params[key] = value
}

// Priority returns the task's current priority. Per spec, reading the
// priority of a task that has never had one set is a programmer error; it
// panics rather than returning a zero value that could be silently compared.
func (t *Task) Priority() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.hasPriority {
		panic(fmt.Sprintf("task %s: Priority() called before priority was ever set", t.id))
	}
	return t.priority
}

// HasPriority reports whether SetPriority has ever been called.
func (t *Task) HasPriority() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.hasPriority
}

// SetPriority sets the task's priority. Priority is always numeric in Go's
// type system; the source system's "reject non-numeric" rule is preserved as
// a NaN check, since NaN is the one float64 value that breaks ordering.
func (t *Task) SetPriority(p float64) error {
	if p != p { // NaN
		return fmt.Errorf("task %s: priority must be a real number, got NaN", t.id)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.priority = p
	t.hasPriority = true
	return nil
}

func (t *Task) PID() (int, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pid, t.hasPID
}

func (t *Task) SetPID(pid int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pid = pid
	t.hasPID = true
}

func (t *Task) ClearPID() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pid = 0
	t.hasPID = false
}

func (t *Task) CPUReserved() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cpuReserved
}

func (t *Task) MemReservedGB() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.memReservedGB
}

// SetReservations rewrites cpu/mem reservations for the task's current
// stage. Called whenever the task advances to a new stage.
func (t *Task) SetReservations(cpu int, memGB float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cpuReserved = cpu
	t.memReservedGB = memGB
}

func (t *Task) Timestamp() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.timestamp
}

// UpdateTimestamp sets the timestamp to now (monotonic seconds supplied by
// the caller, typically via a readyqueue/running Clock seam so tests stay
// deterministic).
func (t *Task) UpdateTimestamp(nowUnix int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.timestamp = nowUnix
}

func (t *Task) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	pidStr := "none"
	if t.hasPID {
		pidStr = fmt.Sprintf("%d", t.pid)
	}
	prioStr := "unset"
	if t.hasPriority {
		prioStr = fmt.Sprintf("%.4f", t.priority)
	}
	return fmt.Sprintf("Task(id=%s, stage=%s, len=%d, priority=%s, pid=%s, cpu=%d, mem=%.2fGB, ts=%d)",
		t.id, t.stage, t.seqLen, prioStr, pidStr, t.cpuReserved, t.memReservedGB, t.timestamp)
}
