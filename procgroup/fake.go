package procgroup

import "sync"

// Fake is a scripted Controller for tests that never touches real
// processes. Trees map a root pid to the full set of pids in its tree
// (root included); Terminate/Suspend/Resume record calls rather than
// signaling anything.
type Fake struct {
	mu sync.Mutex

	Trees map[int][]int

	Terminated []int
	Suspended  []int
	Resumed    []int
}

// NewFake returns an empty Fake ready for a test to populate via Trees.
func NewFake() *Fake {
	return &Fake{Trees: map[int][]int{}}
}

func (f *Fake) Tree(pid int) ([]int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if tree, ok := f.Trees[pid]; ok {
		return tree, nil
	}
	return []int{pid}, nil
}

func (f *Fake) Terminate(pid int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Terminated = append(f.Terminated, pid)
	return nil
}

func (f *Fake) Suspend(pid int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Suspended = append(f.Suspended, pid)
	return nil
}

func (f *Fake) Resume(pid int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Resumed = append(f.Resumed, pid)
	return nil
}
