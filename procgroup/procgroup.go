// Package procgroup implements process-tree enumeration and signal
// delivery: the part of the host interface (C7) that enumerates a pid and
// its recursive children and sends SIGTERM/SIGSTOP/SIGCONT to them.
//
// It is deliberately isolated behind the Controller interface so the
// running registry can be tested against procgroup.Fake rather than real
// processes.
package procgroup

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

const (
	defaultProcDir = "/proc"
	statFileName   = "stat"
)

// Controller is the capability the running registry needs over a live
// process tree: enumerate it, and change its running state.
type Controller interface {
	// Tree returns every pid in the process tree rooted at pid,
	// including pid itself.
	Tree(pid int) ([]int, error)
	// Terminate sends SIGTERM to every pid in the tree rooted at pid.
	Terminate(pid int) error
	// Suspend sends SIGSTOP to every pid in the tree rooted at pid.
	Suspend(pid int) error
	// Resume sends SIGCONT to every pid in the tree rooted at pid.
	Resume(pid int) error
}

// Linux is the procfs-backed Controller. The zero value is usable; it
// defaults ProcDir to /proc.
type Linux struct {
	// ProcDir overrides the procfs mount point; used by tests. Defaults to
	// /proc when empty.
	ProcDir string
}

func (l *Linux) procDir() string {
	if l.ProcDir == "" {
		return defaultProcDir
	}
	return l.ProcDir
}

// Tree walks every pid directory under procfs, reads each one's parent pid
// from /proc/<pid>/stat, and returns pid plus every descendant found by
// that parent-pid scan. Missing or unreadable stat files are skipped; a
// process that exits mid-scan simply does not appear.
func (l *Linux) Tree(pid int) ([]int, error) {
	parentOf, err := l.parentMap()
	if err != nil {
		return nil, err
	}
	if _, ok := parentOf[pid]; !ok {
		return nil, fmt.Errorf("procgroup: pid %d not found in procfs", pid)
	}

	childrenOf := make(map[int][]int, len(parentOf))
	for child, parent := range parentOf {
		childrenOf[parent] = append(childrenOf[parent], child)
	}

	var out []int
	queue := []int{pid}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		out = append(out, cur)
		queue = append(queue, childrenOf[cur]...)
	}
	return out, nil
}

// parentMap scans every numeric entry under procDir and returns pid→ppid.
func (l *Linux) parentMap() (map[int]int, error) {
	entries, err := os.ReadDir(l.procDir())
	if err != nil {
		return nil, fmt.Errorf("procgroup: reading %s: %w", l.procDir(), err)
	}

	parentOf := make(map[int]int, len(entries))
	for _, e := range entries {
		pid, err := strconv.Atoi(e.Name())
		if err != nil {
			continue
		}
		ppid, err := readPPID(filepath.Join(l.procDir(), e.Name(), statFileName))
		if err != nil {
			continue
		}
		parentOf[pid] = ppid
	}
	return parentOf, nil
}

// readPPID extracts field 4 (ppid) from a /proc/<pid>/stat line. The
// command name (field 2) is parenthesized and may itself contain spaces,
// so parsing skips past the matching close-paren rather than naively
// splitting on spaces.
func readPPID(statPath string) (int, error) {
	data, err := os.ReadFile(statPath)
	if err != nil {
		return 0, err
	}
	line := string(data)
	close := strings.LastIndex(line, ")")
	if close < 0 {
		return 0, fmt.Errorf("procgroup: malformed stat line %q", statPath)
	}
	fields := strings.Fields(line[close+1:])
	if len(fields) < 2 {
		return 0, fmt.Errorf("procgroup: stat line %q missing ppid field", statPath)
	}
	// fields[0] is state, fields[1] is ppid.
	return strconv.Atoi(fields[1])
}

func (l *Linux) signalTree(pid int, sig unix.Signal) error {
	pids, err := l.Tree(pid)
	if err != nil {
		return err
	}
	var firstErr error
	for _, p := range pids {
		if err := unix.Kill(p, sig); err != nil && firstErr == nil {
			// ESRCH just means the process already exited; that is not a
			// failure worth surfacing for a kill/stop/cont sweep.
			if err != unix.ESRCH {
				firstErr = fmt.Errorf("procgroup: signal %v to pid %d: %w", sig, p, err)
			}
		}
	}
	return firstErr
}

func (l *Linux) Terminate(pid int) error { return l.signalTree(pid, unix.SIGTERM) }
func (l *Linux) Suspend(pid int) error   { return l.signalTree(pid, unix.SIGSTOP) }
func (l *Linux) Resume(pid int) error    { return l.signalTree(pid, unix.SIGCONT) }
