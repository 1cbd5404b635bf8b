// Package seed implements task seeding (C10): turning a directory of
// single-record FASTA files into the initial batch of tasks a scheduler
// run starts from.
package seed

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/arctir/seqsched/config"
	"github.com/arctir/seqsched/task"
)

// fastaExtensions lists the file extensions treated as FASTA input.
var fastaExtensions = map[string]bool{
	".fasta": true,
	".fa":    true,
	".fna":   true,
}

// FromFASTA walks dir (non-recursively) for FASTA files, computes each
// one's sequence length by concatenating every non-header line (the same
// rule as the original get_fasta_seq_len), and constructs one task.Task per
// file at the pipeline's entry stage, with reservations looked up from cfg.
func FromFASTA(dir string, cfg *config.Config) ([]*task.Task, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("seed: reading %s: %w", dir, err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if fastaExtensions[strings.ToLower(filepath.Ext(e.Name()))] {
			names = append(names, e.Name())
		}
	}
	// Deterministic seeding order regardless of directory listing order.
	sort.Strings(names)

	tasks := make([]*task.Task, 0, len(names))
	for _, name := range names {
		path := filepath.Join(dir, name)
		seqLen, err := fastaSeqLen(path)
		if err != nil {
			return nil, fmt.Errorf("seed: %s: %w", path, err)
		}

		jobName := strings.TrimSuffix(name, filepath.Ext(name))
		params := task.Params{
			"job_name":   jobName,
			"fasta_file": path,
			"output_dir": filepath.Join(cfg.OutputPath, jobName),
		}
		t := task.New(jobName, seqLen, params)

		cpu, mem, err := cfg.Reservations(t.Stage(), seqLen)
		if err != nil {
			return nil, fmt.Errorf("seed: %s: %w", path, err)
		}
		t.SetReservations(cpu, mem)

		tasks = append(tasks, t)
	}
	return tasks, nil
}

// fastaSeqLen concatenates every non-header ('>' prefixed) line, trimmed of
// surrounding whitespace, and returns the resulting sequence's length.
func fastaSeqLen(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	length := 0
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, ">") {
			continue
		}
		length += len(line)
	}
	if err := scanner.Err(); err != nil {
		return 0, err
	}
	return length, nil
}
