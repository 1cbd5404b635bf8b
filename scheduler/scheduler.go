// Package scheduler implements the scheduler monitor (C8): the single
// control loop that owns the ready queue, running registry, finished
// queue, and the core/memory credit counters, and drives admission,
// excess detection, I/O-pressure suspension, and termination.
package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/arctir/seqsched/config"
	"github.com/arctir/seqsched/finishedqueue"
	"github.com/arctir/seqsched/hostprobe"
	"github.com/arctir/seqsched/procgroup"
	"github.com/arctir/seqsched/readyqueue"
	"github.com/arctir/seqsched/running"
	"github.com/arctir/seqsched/stage"
	"github.com/arctir/seqsched/task"
)

// maxFailedAdmissions and maxKillAttempts are the §4.8 termination
// thresholds: 10 consecutive unsuccessful admission attempts gives up, 10
// kill attempts without clearing a memory deficit is fatal.
const (
	maxFailedAdmissions = 10
	maxKillAttempts     = 10
	iowaitSampleCount   = 5
	probeInterval       = time.Second
)

// TerminationReason identifies why Run returned.
type TerminationReason int

const (
	// TerminationNormal: running and ready both empty. Every seeded task
	// reached hhsearch and finished.
	TerminationNormal TerminationReason = iota
	// TerminationGiveUp: running is empty, ready is not, and admission has
	// failed maxFailedAdmissions times in a row — nothing fits the budget.
	TerminationGiveUp
	// TerminationFatalMemory: memory usage is still over budget after
	// maxKillAttempts kills.
	TerminationFatalMemory
	// TerminationCanceled: the caller's context was canceled mid-run. Not one
	// of spec's three conditions; an ambient addition so callers can shut the
	// monitor down cleanly (e.g. on SIGINT from the CLI).
	TerminationCanceled
)

func (r TerminationReason) String() string {
	switch r {
	case TerminationNormal:
		return "normal"
	case TerminationGiveUp:
		return "give-up"
	case TerminationFatalMemory:
		return "fatal-memory"
	case TerminationCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// ExitCode maps a termination reason to the process exit code per §6: 0 on
// normal termination, non-zero and distinguishable on give-up/fatal-memory.
func (r TerminationReason) ExitCode() int {
	switch r {
	case TerminationNormal:
		return 0
	case TerminationGiveUp:
		return 3
	case TerminationFatalMemory:
		return 4
	case TerminationCanceled:
		return 130
	default:
		return 1
	}
}

// Monitor is the scheduler (C8): it owns the ready queue, running registry,
// and finished queue, and runs the control loop described in §4.8.
type Monitor struct {
	cfg *config.Config
	hp  hostprobe.Prober

	Ready    *readyqueue.Queue
	Running  *running.Registry
	Finished *finishedqueue.Queue

	totalCores int
	totalMemGB float64

	// The two credits are kept deliberately asymmetric. availableCores is
	// reservation-based: admission debits a task's cpu reservation, draining
	// the finished queue credits it back, and it is never reconciled against
	// host usage. availableMemGB is re-derived every cycle from live RSS
	// (step 3) and then debited by that cycle's admission.
	availableCores int
	availableMemGB float64
}

// New wires a Monitor from its collaborators. ready/running/finished are
// expected to already be constructed and, in production, sharing the same
// wall-clock Clock; tests may substitute fakes throughout.
func New(cfg *config.Config, hp hostprobe.Prober, ready *readyqueue.Queue, runningRegistry *running.Registry, finished *finishedqueue.Queue) *Monitor {
	return &Monitor{
		cfg:      cfg,
		hp:       hp,
		Ready:    ready,
		Running:  runningRegistry,
		Finished: finished,
	}
}

// NewWithRunner is a convenience constructor that builds the ready/running/
// finished trio itself from a stage.Runner, for callers (cmd/main) that
// don't need to hold onto the intermediate queues.
func NewWithRunner(cfg *config.Config, hp hostprobe.Prober, pg procgroup.Controller, runner stage.Runner, clock func() int64) *Monitor {
	ready := readyqueue.New(clock)
	finished := finishedqueue.New()
	reg := running.New(clock, cfg, pg, hp, runner, finished, ready)
	return New(cfg, hp, ready, reg, finished)
}

// Initialize computes the initial core/memory credit pool per §4.8's
// initialization steps. It must be called once before Run.
func (m *Monitor) Initialize() error {
	physicalCores, err := m.hp.PhysicalCoreCount()
	if err != nil {
		return err
	}
	userCores := m.cfg.TotalCoreNum.Resolve(physicalCores)
	totalCores := userCores
	if physicalCores < totalCores {
		totalCores = physicalCores
	}
	totalCores--

	availableMem, err := m.hp.AvailableMemoryGB()
	if err != nil {
		return err
	}
	userMem := float64(m.cfg.TotalMemNum.Resolve(int(availableMem)))
	totalMem := userMem
	if availableMem < totalMem {
		totalMem = availableMem
	}
	totalMem -= m.cfg.MemBufferGB

	m.totalCores = totalCores
	m.totalMemGB = totalMem
	m.availableCores = totalCores
	m.availableMemGB = totalMem
	return nil
}

// Seed pushes every task in tasks onto ready at their seeded (entry-stage)
// priority.
func (m *Monitor) Seed(tasks []*task.Task) error {
	for _, t := range tasks {
		if err := m.Ready.Add(t); err != nil {
			return err
		}
	}
	return nil
}

// Run drives the control loop until a termination condition fires or ctx
// is canceled.
func (m *Monitor) Run(ctx context.Context) TerminationReason {
	failedAdmissions := 0

	for {
		select {
		case <-ctx.Done():
			return TerminationCanceled
		default:
		}

		// Step 1.
		m.Running.CheckExcessAndMove()

		// Step 2: resample memory usage; kill under pressure until it fits or
		// the kill budget is exhausted.
		memLeft := m.totalMemGB - m.Running.TotalMemoryUsageGB()
		if memLeft < 0 {
			for kills := 0; memLeft < 0 && kills < maxKillAttempts; kills++ {
				if _, ok, err := m.Running.KillOne(); err != nil {
					log.Warn().Err(err).Msg("kill_one failed during memory pressure relief")
				} else if !ok {
					break
				}
				memLeft = m.totalMemGB - m.Running.TotalMemoryUsageGB()
			}
			if memLeft < 0 {
				return TerminationFatalMemory
			}
		}

		// Step 3.
		m.availableMemGB = memLeft

		// Step 4: I/O pressure suspend/resume.
		wa := m.meanIOWaitPercent()
		switch {
		case wa >= m.cfg.WaitTimeMaxPct:
			if t, ok := m.Running.HighestIOTask(); ok {
				if err := m.Running.Suspend(t); err != nil {
					log.Warn().Err(err).Str("task", t.ID()).Msg("suspend failed under I/O pressure")
				}
			}
		case wa < m.cfg.WaitTimeMidPct:
			if _, ok, err := m.Running.ResumeHead(); err != nil {
				log.Warn().Err(err).Msg("resume_head failed while I/O pressure subsided")
			} else {
				_ = ok // absence of a suspended task is not an error
			}
		}

		// Step 5: drain finished, crediting back reserved cores.
		for {
			t, ok := m.Finished.Get()
			if !ok {
				break
			}
			m.availableCores += t.CPUReserved()
		}

		// Step 6: attempt one admission.
		admitted := false
		if m.availableCores > 0 && m.availableMemGB > 0 {
			if stageName, t, ok := m.Ready.Pop(); ok {
				needC := t.CPUReserved()
				needM := t.MemReservedGB()
				if needC <= m.availableCores && float64(needM) <= m.availableMemGB {
					m.availableCores -= needC
					m.availableMemGB -= needM
					if err := m.Running.AdmitNormal(t); err != nil {
						log.Warn().Err(err).Str("task", t.ID()).Msg("admit_normal failed")
						m.availableCores += needC
						m.availableMemGB += needM
					} else {
						admitted = true
					}
				} else {
					if err := m.Ready.Add(t); err != nil {
						log.Warn().Err(err).Str("task", t.ID()).Str("stage", string(stageName)).Msg("failed to push task back onto ready")
					}
				}
			}
		}
		if admitted {
			failedAdmissions = 0
		} else {
			failedAdmissions++
		}

		// Termination condition (a): everything drained.
		if m.Running.IsEmpty() && m.Ready.Empty() {
			return TerminationNormal
		}
		// Termination condition (b): nothing running, ready stuck, no
		// admission progress for maxFailedAdmissions consecutive iterations.
		if m.Running.IsEmpty() && !m.Ready.Empty() && failedAdmissions >= maxFailedAdmissions {
			return TerminationGiveUp
		}
	}
}

// meanIOWaitPercent samples iowaitSampleCount one-second iowait_percent
// readings and returns their mean, per §4.8 step 4.
func (m *Monitor) meanIOWaitPercent() float64 {
	var sum float64
	for i := 0; i < iowaitSampleCount; i++ {
		wa, err := m.hp.IOWaitPercent(probeInterval)
		if err != nil {
			log.Warn().Err(err).Msg("iowait sample failed")
			continue
		}
		sum += wa
	}
	return sum / float64(iowaitSampleCount)
}
