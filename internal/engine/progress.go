package engine

import (
	"fmt"
	"strings"
	"sync"
)

// Progress tracks the live state of a run. Total is an estimate that grows
// as branches multiply flows; at every instant the tracker maintains
//
//	finished + running + queued == total
//
// where finished counts all terminal flows including cancelled ones. All
// transitions mutate every affected counter under a single lock acquisition
// so a concurrent Snapshot never observes a mid-transition imbalance.
type Progress struct {
	mu sync.Mutex

	queued   int
	running  int
	finished int
	total    int
	failed   int

	// active counts running flows per step display name, in step order.
	stepNames []string
	active    []int
}

// NewProgress creates a tracker for the given step display names, with
// seeds flows initially queued.
func NewProgress(stepNames []string, seeds int) *Progress {
	return &Progress{
		queued:    seeds,
		total:     seeds,
		stepNames: stepNames,
		active:    make([]int, len(stepNames)),
	}
}

// seed enrolls n root flows as queued.
func (p *Progress) seed(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.queued += n
	p.total += n
}

// Admit moves one flow from queued to running at the given step.
func (p *Progress) Admit(stepIdx int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.queued--
	p.running++
	p.active[stepIdx]++
}

// Advance moves a running flow from one step to the next.
func (p *Progress) Advance(from, to int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.active[from]--
	p.active[to]++
}

// Terminal retires a running flow at the given step. Failed and cancelled
// flows count toward finished; failures are additionally tallied.
func (p *Progress) Terminal(stepIdx int, state FlowState) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.running--
	p.active[stepIdx]--
	p.finished++
	if state == FlowFailed {
		p.failed++
	}
}

// Branch retires the running parent at the given step and enqueues n
// children in its place. The parent does not count as finished; its n
// children replace it in the total, so total grows by n-1. With n == 0 the
// lineage ends with no leaf and the total shrinks by one.
func (p *Progress) Branch(stepIdx int, n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.running--
	p.active[stepIdx]--
	p.queued += n
	p.total += n - 1
}

// CancelQueued retires n queued flows that will never run.
func (p *Progress) CancelQueued(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.queued -= n
	p.finished += n
}

// Failed returns the number of failed flows so far.
func (p *Progress) Failed() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.failed
}

// Counts is a point-in-time copy of the aggregate counters.
type Counts struct {
	Queued   int
	Running  int
	Finished int
	Total    int
	Failed   int
}

// Counts returns the aggregate counters.
func (p *Progress) Counts() Counts {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Counts{
		Queued:   p.queued,
		Running:  p.running,
		Finished: p.finished,
		Total:    p.total,
		Failed:   p.failed,
	}
}

// Snapshot renders a one-line summary: per-step active counts in pipeline
// order followed by overall completion, e.g.
//
//	classify: 2 -> summarize: 1 | 4/9
func (p *Progress) Snapshot() string {
	p.mu.Lock()
	defer p.mu.Unlock()

	parts := make([]string, len(p.stepNames))
	for i, name := range p.stepNames {
		parts[i] = fmt.Sprintf("%s: %d", name, p.active[i])
	}
	return fmt.Sprintf("%s | %d/%d", strings.Join(parts, " -> "), p.finished, p.total)
}

// StepActive returns the active count for one step, for tests.
func (p *Progress) StepActive(stepIdx int) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active[stepIdx]
}

// Consistent reports whether the live invariant holds, for tests.
func (p *Progress) Consistent() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.finished+p.running+p.queued != p.total {
		return false
	}
	sum := 0
	for _, a := range p.active {
		sum += a
	}
	return sum == p.running
}
