package hostprobe

import "time"

// Fake is a scripted Prober for scheduler/running tests. Each field is
// returned verbatim (or looked up by pid in RSSByPID/IOByPID for per-pid
// queries, 0 when absent);
// no filesystem access occurs.
type Fake struct {
	Cores          int
	PerCoreUsage   []float64
	AvailableMemGB float64
	IOWait         float64

	RSSByPID   map[int]float64
	IOByPID    map[int]float64
}

func NewFake() *Fake {
	return &Fake{RSSByPID: map[int]float64{}, IOByPID: map[int]float64{}}
}

func (f *Fake) PhysicalCoreCount() (int, error) { return f.Cores, nil }

func (f *Fake) PerCoreUsagePercent(time.Duration) ([]float64, error) {
	return f.PerCoreUsage, nil
}

func (f *Fake) AvailableMemoryGB() (float64, error) { return f.AvailableMemGB, nil }

func (f *Fake) ProcessRSSGB(pid int) (float64, error) {
	return f.RSSByPID[pid], nil
}

func (f *Fake) ProcessIOBytesPerSec(pid int, _ time.Duration) (float64, error) {
	return f.IOByPID[pid], nil
}

func (f *Fake) IOWaitPercent(time.Duration) (float64, error) { return f.IOWait, nil }
