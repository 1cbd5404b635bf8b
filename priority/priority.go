// Package priority implements the priority calculator (C2): a registry
// mapping queue-kind to a pure priority function, mirroring the dispatch
// table in the source system's calculate_priority module.
package priority

import (
	"fmt"

	"github.com/arctir/seqsched/task"
)

// QueueKind labels which priority formula applies: one of the seven stage
// names for ready sub-queues, or normal/excess/suspend inside the running
// registry.
type QueueKind string

const (
	QueueHHSearch        QueueKind = "hhsearch"
	QueuePSIPred         QueueKind = "psipred"
	QueueSignalP6        QueueKind = "signalp6"
	QueueHHBlitsBFD      QueueKind = "hhblits_bfd"
	QueueHHBlitsUniref1  QueueKind = "hhblits_uniref_1"
	QueueHHBlitsUniref2  QueueKind = "hhblits_uniref_2"
	QueueHHBlitsUniref3  QueueKind = "hhblits_uniref_3"
	QueueNormal          QueueKind = "normal"
	QueueExcess          QueueKind = "excess"
	QueueSuspend         QueueKind = "suspend"
)

// StageQueueKind converts a pipeline stage into its matching queue-kind. The
// two types are deliberately distinct: QueueKind also covers the three
// running-registry substates that have no corresponding task.Stage.
func StageQueueKind(s task.Stage) QueueKind {
	return QueueKind(s)
}

// InvalidQueueKind is returned when Calculate is asked to price a task under
// a queue-kind that has no registered formula. In the source system this is
// a raised ValueError; here it is a typed, wrappable error.
type InvalidQueueKind struct {
	Kind QueueKind
}

func (e InvalidQueueKind) Error() string {
	return fmt.Sprintf("invalid queue kind: %q", e.Kind)
}

// Inputs bundles the three raw signals the weighted formulas draw from.
// Timestamp is seconds (monotonic-ish, but any consistently increasing clock
// works since only relative ordering matters); MemReservedGB and SeqLen are
// the task's current-stage reservation and the sequence length.
type Inputs struct {
	Timestamp     int64
	MemReservedGB float64
	SeqLen        int
}

// weights holds the (time, mem, len) coefficients for one per-stage formula.
// They are non-negative and sum to 1.0, as required by spec.
type weights struct {
	time, mem, len float64
}

func (w weights) apply(in Inputs) float64 {
	return w.time*float64(in.Timestamp) + w.mem*in.MemReservedGB + w.len*float64(in.SeqLen)
}

// stageWeights is the per-stage (time, mem, len) weight table. All of these
// are min-heap sense: the lowest value pops first.
var stageWeights = map[QueueKind]weights{
	QueueHHSearch:       {time: 0.5, mem: 0.2, len: 0.3},
	QueuePSIPred:        {time: 0.5, mem: 0.2, len: 0.3},
	QueueSignalP6:       {time: 0.0, mem: 0.4, len: 0.6},
	QueueHHBlitsBFD:     {time: 0.5, mem: 0.3, len: 0.2},
	QueueHHBlitsUniref1: {time: 0.4, mem: 0.4, len: 0.2},
	QueueHHBlitsUniref2: {time: 0.3, mem: 0.4, len: 0.3},
	QueueHHBlitsUniref3: {time: 0.2, mem: 0.4, len: 0.4},
}

// queueKindToFunc mirrors the source's queue_type_to_function dict: a
// registry of pure functions keyed by queue-kind, rather than a type switch,
// so that adding a queue-kind is a one-line registration.
var queueKindToFunc = buildRegistry()

func buildRegistry() map[QueueKind]func(Inputs) float64 {
	reg := map[QueueKind]func(Inputs) float64{
		QueueNormal: func(in Inputs) float64 { return float64(in.Timestamp) },
		QueueExcess: func(in Inputs) float64 { return float64(in.Timestamp) },
		// suspend sorts most-recently-suspended first; negating the timestamp
		// turns that "max wins" rule into the same min-heap pop everything
		// else uses.
		QueueSuspend: func(in Inputs) float64 { return -float64(in.Timestamp) },
	}
	for kind, w := range stageWeights {
		w := w
		reg[kind] = w.apply
	}
	return reg
}

// Calculate returns the priority a task should carry while enqueued under
// the given queue-kind. An unknown queue-kind returns InvalidQueueKind.
func Calculate(kind QueueKind, in Inputs) (float64, error) {
	fn, ok := queueKindToFunc[kind]
	if !ok {
		return 0, InvalidQueueKind{Kind: kind}
	}
	return fn(in), nil
}

// LengthBucket maps a sequence length to the index of the first interval
// containing it, among [0,100), [100,200), ..., [900,1000), [1000,2000),
// [2000,inf). There are 12 buckets in total, matching the 12-element
// per-stage memory tables in configuration.
func LengthBucket(seqLen int) int {
	bounds := []int{100, 200, 300, 400, 500, 600, 700, 800, 900, 1000, 2000}
	for i, b := range bounds {
		if seqLen < b {
			return i
		}
	}
	return len(bounds)
}
