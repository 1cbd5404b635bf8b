package stage

import (
	"bufio"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/arctir/seqsched/config"
	"github.com/arctir/seqsched/task"
)

// e-value cutoffs for the hhblits_uniref_1/2/3 chain, in the order the
// stages walk them. Grounded on the original run_hhblits_uniref's
// e_value_list.
var uniref3EValues = []string{"1e-10", "1e-6", "1e-3"}

// MSA-size thresholds that decide "sufficient": more than n75Threshold
// sequences at 90% identity / 75% coverage, or more than n50Threshold at
// 90%/50%, ends the search early.
const (
	n75Threshold = 2000
	n50Threshold = 4000
)

// Process is the real stage.Runner: it shells out to the actual pipeline
// binary for the task's current stage.
type Process struct {
	Config *config.Config
}

// NewProcess returns a Process bound to cfg's stage database paths.
func NewProcess(cfg *config.Config) *Process {
	return &Process{Config: cfg}
}

// Launch starts the child process for t's current stage and, once it
// exits, determines the Outcome and invokes onComplete in a background
// goroutine. It never blocks waiting for the child.
func (p *Process) Launch(t *task.Task, onComplete CompletionFunc) (int, error) {
	cmd, outcomeFn, err := p.build(t)
	if err != nil {
		return 0, err
	}
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("stage: starting %s for task %s: %w", t.Stage(), t.ID(), err)
	}
	pid := cmd.Process.Pid

	go func() {
		waitErr := cmd.Wait()
		if waitErr != nil {
			log.Warn().Err(waitErr).Str("task", t.ID()).Str("stage", string(t.Stage())).Msg("stage child process exited with error")
			return
		}
		outcome, err := outcomeFn()
		if err != nil {
			log.Warn().Err(err).Str("task", t.ID()).Str("stage", string(t.Stage())).Msg("stage completion post-processing failed")
			return
		}
		onComplete(t, outcome)
	}()

	return pid, nil
}

// build constructs the exec.Cmd for t's current stage and a matching
// outcomeFn that, once the process exits, inspects its output and reports
// the stage's Outcome.
func (p *Process) build(t *task.Task) (*exec.Cmd, func() (Outcome, error), error) {
	params := t.Params()
	outDir := params["output_dir"]
	inFasta := params["fasta_file"]
	jobName := params["job_name"]
	cpu := strconv.Itoa(t.CPUReserved())
	mem := strconv.FormatFloat(t.MemReservedGB(), 'f', -1, 64)

	switch t.Stage() {
	case task.StageSignalP6:
		cmd := exec.Command("signalp6", "--fastafile", inFasta, "--output_dir", outDir, "--organism", "other")
		return cmd, func() (Outcome, error) { return Advance(t.Stage(), true) }, nil

	case task.StageHHBlitsUniref1, task.StageHHBlitsUniref2, task.StageHHBlitsUniref3:
		idx := urefIndex(t.Stage())
		eValue := params["e_value"]
		if eValue == "" {
			eValue = uniref3EValues[idx]
		}
		db := p.Config.StagePaths["hhblits_uniref_db"]
		tmpDir := filepath.Join(outDir, "hhblits")
		a3m := filepath.Join(tmpDir, fmt.Sprintf("t000_.%s.a3m", eValue))
		cmd := exec.Command("hhblits",
			"-i", inFasta, "-oa3m", a3m, "-e", eValue, "-cpu", cpu, "-maxmem", mem,
			"-d", db, "-o", os.DevNull, "-v", "0")
		outcomeFn := func() (Outcome, error) {
			return uniref3Outcome(t.Stage(), tmpDir, eValue)
		}
		return cmd, outcomeFn, nil

	case task.StageHHBlitsBFD:
		db := p.Config.StagePaths["hhblits_bfd_db"]
		eValue := params["e_value"]
		if eValue == "" {
			eValue = "1e-3"
		}
		tmpDir := filepath.Join(outDir, "hhblits")
		a3m := filepath.Join(tmpDir, fmt.Sprintf("t000_.%s.bfd.a3m", eValue))
		cmd := exec.Command("hhblits",
			"-i", inFasta, "-oa3m", a3m, "-e", eValue, "-cpu", cpu, "-maxmem", mem,
			"-d", db, "-o", os.DevNull, "-v", "0")
		return cmd, func() (Outcome, error) { return Advance(t.Stage(), true) }, nil

	case task.StagePSIPred:
		db := p.Config.StagePaths["psipred_data_dir"]
		cmd := exec.Command("psipred", inFasta, "-d", db, "-o", outDir)
		return cmd, func() (Outcome, error) { return Advance(t.Stage(), true) }, nil

	case task.StageHHSearch:
		db := p.Config.StagePaths["hhsearch_db"]
		cmd := exec.Command("hhsearch", "-i", inFasta, "-d", db, "-o", filepath.Join(outDir, "hhsearch.out"))
		return cmd, func() (Outcome, error) { return Advance(t.Stage(), true) }, nil

	default:
		return nil, nil, fmt.Errorf("stage: no launcher defined for stage %q (job %s)", t.Stage(), jobName)
	}
}

func urefIndex(s task.Stage) int {
	switch s {
	case task.StageHHBlitsUniref1:
		return 0
	case task.StageHHBlitsUniref2:
		return 1
	default:
		return 2
	}
}

// uniref3Outcome applies the hhfilter-count decision from run_hhblits_uniref:
// it counts the records in the 90/75 and 90/50 identity/coverage filtered
// a3m files for eValue under tmpDir, and if either count clears its
// threshold, the search is sufficient and the task moves to psipred;
// otherwise it continues the chain (or falls through to hhblits_bfd once the
// last e-value has been tried). This package does not run hhfilter; a
// filtered file that does not exist counts as not clearing its threshold.
func uniref3Outcome(from task.Stage, tmpDir, eValue string) (Outcome, error) {
	cov75 := filepath.Join(tmpDir, fmt.Sprintf("t000_.%s.id90cov75.a3m", eValue))
	cov50 := filepath.Join(tmpDir, fmt.Sprintf("t000_.%s.id90cov50.a3m", eValue))

	n75, err := countFASTARecords(cov75)
	if err == nil && n75 > n75Threshold {
		return Advance(from, true)
	}
	n50, err := countFASTARecords(cov50)
	if err == nil && n50 > n50Threshold {
		return Advance(from, true)
	}
	return Advance(from, false)
}

// countFASTARecords counts header lines ('>'-prefixed), the Go equivalent
// of the original `grep -c '^>' file` check.
func countFASTARecords(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	count := 0
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if len(line) > 0 && line[0] == '>' {
			count++
		}
	}
	return count, scanner.Err()
}
