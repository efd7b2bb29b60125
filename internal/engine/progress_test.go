package engine

import (
	"testing"

	"github.com/flowloom/flowloom/internal/testutil"
)

func TestProgressLifecycle(t *testing.T) {
	p := NewProgress([]string{"first", "second"}, 2)

	counts := p.Counts()
	testutil.AssertEqual(t, 2, counts.Queued)
	testutil.AssertEqual(t, 2, counts.Total)
	testutil.AssertTrue(t, p.Consistent(), "fresh tracker inconsistent")

	p.Admit(0)
	p.Advance(0, 1)
	testutil.AssertEqual(t, 1, p.StepActive(1))
	testutil.AssertTrue(t, p.Consistent(), "inconsistent after advance")

	p.Terminal(1, FlowCompleted)
	counts = p.Counts()
	testutil.AssertEqual(t, 1, counts.Finished)
	testutil.AssertEqual(t, 0, counts.Running)
	testutil.AssertEqual(t, 0, counts.Failed)
	testutil.AssertTrue(t, p.Consistent(), "inconsistent after completion")
}

func TestProgressBranchGrowsTotal(t *testing.T) {
	p := NewProgress([]string{"fan", "leaf"}, 1)

	p.Admit(0)
	p.Branch(0, 3)

	counts := p.Counts()
	testutil.AssertEqual(t, 3, counts.Total)
	testutil.AssertEqual(t, 3, counts.Queued)
	testutil.AssertEqual(t, 0, counts.Running)
	testutil.AssertEqual(t, 0, counts.Finished)
	testutil.AssertTrue(t, p.Consistent(), "inconsistent after branch")

	for i := 0; i < 3; i++ {
		p.Admit(1)
		p.Terminal(1, FlowCompleted)
	}
	counts = p.Counts()
	testutil.AssertEqual(t, 3, counts.Finished)
	testutil.AssertEqual(t, 3, counts.Total)
}

func TestProgressEmptyBranchShrinksTotal(t *testing.T) {
	p := NewProgress([]string{"fan", "leaf"}, 2)

	p.Admit(0)
	p.Branch(0, 0)

	counts := p.Counts()
	testutil.AssertEqual(t, 1, counts.Total)
	testutil.AssertEqual(t, 1, counts.Queued)
	testutil.AssertTrue(t, p.Consistent(), "inconsistent after empty branch")
}

func TestProgressFailureTally(t *testing.T) {
	p := NewProgress([]string{"only"}, 3)

	p.Admit(0)
	p.Terminal(0, FlowFailed)
	p.Admit(0)
	p.Terminal(0, FlowCancelled)

	counts := p.Counts()
	testutil.AssertEqual(t, 1, counts.Failed)
	testutil.AssertEqual(t, 2, counts.Finished)
}

func TestProgressCancelQueued(t *testing.T) {
	p := NewProgress([]string{"only"}, 5)

	p.Admit(0)
	p.CancelQueued(4)

	counts := p.Counts()
	testutil.AssertEqual(t, 0, counts.Queued)
	testutil.AssertEqual(t, 4, counts.Finished)
	testutil.AssertEqual(t, 1, counts.Running)
	testutil.AssertTrue(t, p.Consistent(), "inconsistent after cancel")
}

func TestSnapshotFormat(t *testing.T) {
	p := NewProgress([]string{"classify", "summarize"}, 4)

	p.Admit(0)
	p.Admit(0)
	p.Admit(0)
	p.Advance(0, 1)
	p.Terminal(1, FlowCompleted)

	testutil.AssertEqual(t, "classify: 2 -> summarize: 0 | 1/4", p.Snapshot())
}
