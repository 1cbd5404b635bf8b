// Package hostprobe implements the procfs-reading half of the host probe
// (C7): physical core count, per-core CPU usage, available memory,
// per-process RSS and I/O rate (summed across a process's recursive
// children), and CPU iowait percentage.
//
// Sampling-based queries (per-core usage, iowait) take two /proc/stat
// snapshots separated by an interval and diff the cumulative jiffie
// counters procfs exposes, following the same field-by-field /proc
// parsing style as the teacher's plib.LoadStat.
package hostprobe

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/arctir/seqsched/procgroup"
)

const (
	defaultProcDir = "/proc"
	// idleUsageThresholdPct is the "idle core" cutoff from spec: a core whose
	// sampled usage is below this percentage is considered idle.
	idleUsageThresholdPct = 10.0
)

// Prober is the host probe (C7) interface the scheduler depends on.
type Prober interface {
	PhysicalCoreCount() (int, error)
	PerCoreUsagePercent(interval time.Duration) ([]float64, error)
	AvailableMemoryGB() (float64, error)
	ProcessRSSGB(pid int) (float64, error)
	ProcessIOBytesPerSec(pid int, window time.Duration) (float64, error)
	IOWaitPercent(interval time.Duration) (float64, error)
}

// Linux is the procfs-backed Prober.
type Linux struct {
	// ProcDir overrides the procfs mount point; used by tests. Defaults to
	// /proc when empty.
	ProcDir string
	// Tree enumerates a pid's recursive children; defaults to a real
	// *procgroup.Linux rooted at the same ProcDir.
	Tree func(pid int) ([]int, error)
	// Sleep is the interval-wait seam for sampling queries; defaults to
	// time.Sleep. Tests substitute a no-op.
	Sleep func(time.Duration)
}

// New returns a Linux prober configured against the real /proc.
func New() *Linux {
	pg := &procgroup.Linux{}
	return &Linux{
		ProcDir: defaultProcDir,
		Tree:    pg.Tree,
		Sleep:   time.Sleep,
	}
}

func (l *Linux) procDir() string {
	if l.ProcDir == "" {
		return defaultProcDir
	}
	return l.ProcDir
}

func (l *Linux) sleep(d time.Duration) {
	if l.Sleep != nil {
		l.Sleep(d)
		return
	}
	time.Sleep(d)
}

func (l *Linux) tree(pid int) ([]int, error) {
	if l.Tree != nil {
		return l.Tree(pid)
	}
	pg := &procgroup.Linux{ProcDir: l.procDir()}
	return pg.Tree(pid)
}

// PhysicalCoreCount counts "processor" lines in /proc/cpuinfo, exactly as
// the teacher's host.LinuxReader.getCPUInfo does.
func (l *Linux) PhysicalCoreCount() (int, error) {
	f, err := os.Open(filepath.Join(l.procDir(), "cpuinfo"))
	if err != nil {
		return 0, fmt.Errorf("hostprobe: reading cpuinfo: %w", err)
	}
	defer f.Close()

	count := 0
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		kv := strings.SplitN(scanner.Text(), ":", 2)
		if len(kv) != 2 {
			continue
		}
		if strings.TrimSpace(kv[0]) == "processor" {
			count++
		}
	}
	return count, nil
}

// cpuTimes is one line of /proc/stat: user, nice, system, idle, iowait,
// irq, softirq, steal (in that kernel-defined order).
type cpuTimes struct {
	user, nice, system, idle, iowait, irq, softirq, steal uint64
}

func (c cpuTimes) total() uint64 {
	return c.user + c.nice + c.system + c.idle + c.iowait + c.irq + c.softirq + c.steal
}

// busyFraction returns the non-idle, non-iowait fraction of total time.
func (c cpuTimes) busyFraction(prev cpuTimes) float64 {
	totalDelta := float64(c.total() - prev.total())
	if totalDelta <= 0 {
		return 0
	}
	idleDelta := float64((c.idle + c.iowait) - (prev.idle + prev.iowait))
	return 1 - idleDelta/totalDelta
}

// iowaitFraction returns the fraction of total time spent in iowait.
func (c cpuTimes) iowaitFraction(prev cpuTimes) float64 {
	totalDelta := float64(c.total() - prev.total())
	if totalDelta <= 0 {
		return 0
	}
	iowaitDelta := float64(c.iowait - prev.iowait)
	return iowaitDelta / totalDelta
}

// statSnapshot holds the aggregate "cpu" line and one line per core ("cpu0",
// "cpu1", ...), in core-index order.
type statSnapshot struct {
	aggregate cpuTimes
	perCore   []cpuTimes
}

func parseProcStat(path string) (statSnapshot, error) {
	f, err := os.Open(path)
	if err != nil {
		return statSnapshot{}, fmt.Errorf("hostprobe: reading %s: %w", path, err)
	}
	defer f.Close()

	var snap statSnapshot
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 9 || !strings.HasPrefix(fields[0], "cpu") {
			continue
		}
		ct := parseCPUFields(fields[1:])
		if fields[0] == "cpu" {
			snap.aggregate = ct
		} else {
			snap.perCore = append(snap.perCore, ct)
		}
	}
	return snap, nil
}

func parseCPUFields(f []string) cpuTimes {
	get := func(i int) uint64 {
		if i >= len(f) {
			return 0
		}
		v, _ := strconv.ParseUint(f[i], 10, 64)
		return v
	}
	return cpuTimes{
		user: get(0), nice: get(1), system: get(2), idle: get(3),
		iowait: get(4), irq: get(5), softirq: get(6), steal: get(7),
	}
}

// PerCoreUsagePercent samples /proc/stat, waits interval, samples again, and
// returns each core's busy percentage over that window.
func (l *Linux) PerCoreUsagePercent(interval time.Duration) ([]float64, error) {
	path := filepath.Join(l.procDir(), "stat")
	before, err := parseProcStat(path)
	if err != nil {
		return nil, err
	}
	l.sleep(interval)
	after, err := parseProcStat(path)
	if err != nil {
		return nil, err
	}
	if len(after.perCore) != len(before.perCore) {
		return nil, fmt.Errorf("hostprobe: core count changed between stat samples (%d -> %d)", len(before.perCore), len(after.perCore))
	}
	out := make([]float64, len(after.perCore))
	for i := range out {
		out[i] = after.perCore[i].busyFraction(before.perCore[i]) * 100
	}
	return out, nil
}

// IOWaitPercent samples /proc/stat's aggregate line across interval and
// returns the percentage of CPU time spent in iowait.
func (l *Linux) IOWaitPercent(interval time.Duration) (float64, error) {
	path := filepath.Join(l.procDir(), "stat")
	before, err := parseProcStat(path)
	if err != nil {
		return 0, err
	}
	l.sleep(interval)
	after, err := parseProcStat(path)
	if err != nil {
		return 0, err
	}
	return after.aggregate.iowaitFraction(before.aggregate) * 100, nil
}

// AvailableMemoryGB reads MemAvailable from /proc/meminfo (kB) and converts
// to GB.
func (l *Linux) AvailableMemoryGB() (float64, error) {
	f, err := os.Open(filepath.Join(l.procDir(), "meminfo"))
	if err != nil {
		return 0, fmt.Errorf("hostprobe: reading meminfo: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 {
			continue
		}
		if fields[0] == "MemAvailable:" {
			kb, err := strconv.ParseUint(fields[1], 10, 64)
			if err != nil {
				return 0, fmt.Errorf("hostprobe: parsing MemAvailable: %w", err)
			}
			return float64(kb) / (1024 * 1024), nil
		}
	}
	return 0, fmt.Errorf("hostprobe: MemAvailable not found in meminfo")
}

// processRSSKB reads VmRSS (in kB) from /proc/<pid>/status. Returns 0 if the
// process or the field is missing.
func (l *Linux) processRSSKB(pid int) uint64 {
	data, err := os.ReadFile(filepath.Join(l.procDir(), strconv.Itoa(pid), "status"))
	if err != nil {
		return 0
	}
	for _, line := range strings.Split(string(data), "\n") {
		fields := strings.Fields(line)
		if len(fields) >= 2 && fields[0] == "VmRSS:" {
			kb, _ := strconv.ParseUint(fields[1], 10, 64)
			return kb
		}
	}
	return 0
}

// ProcessRSSGB sums RSS across pid and its recursive children. A missing
// process contributes 0 rather than failing the whole sum, per spec.
func (l *Linux) ProcessRSSGB(pid int) (float64, error) {
	pids, err := l.tree(pid)
	if err != nil {
		// The process is gone; spec says return 0 and log, not error.
		log.Warn().Err(err).Int("pid", pid).Msg("process missing during RSS probe; counting 0")
		return 0, nil
	}
	var totalKB uint64
	for _, p := range pids {
		totalKB += l.processRSSKB(p)
	}
	return float64(totalKB) / (1024 * 1024), nil
}

// processIOBytes reads the cumulative read_bytes+write_bytes counters from
// /proc/<pid>/io. Returns 0 if unreadable (process exited, or permission
// denied).
func (l *Linux) processIOBytes(pid int) uint64 {
	data, err := os.ReadFile(filepath.Join(l.procDir(), strconv.Itoa(pid), "io"))
	if err != nil {
		return 0
	}
	var total uint64
	for _, line := range strings.Split(string(data), "\n") {
		fields := strings.Fields(line)
		if len(fields) != 2 {
			continue
		}
		switch fields[0] {
		case "read_bytes:", "write_bytes:":
			v, _ := strconv.ParseUint(fields[1], 10, 64)
			total += v
		}
	}
	return total
}

// ProcessIOBytesPerSec samples cumulative I/O bytes across pid's process
// tree, waits window, samples again, and returns the delta rate.
func (l *Linux) ProcessIOBytesPerSec(pid int, window time.Duration) (float64, error) {
	pids, err := l.tree(pid)
	if err != nil {
		return 0, nil
	}
	var before uint64
	for _, p := range pids {
		before += l.processIOBytes(p)
	}
	l.sleep(window)
	// Re-enumerate in case children exited/forked during the window.
	pidsAfter, err := l.tree(pid)
	if err != nil {
		pidsAfter = pids
	}
	var after uint64
	for _, p := range pidsAfter {
		after += l.processIOBytes(p)
	}
	if after < before {
		// Process tree churned (a child exited, its counters vanished); do not
		// report a negative rate.
		return 0, nil
	}
	secs := window.Seconds()
	if secs <= 0 {
		secs = 1
	}
	return float64(after-before) / secs, nil
}
