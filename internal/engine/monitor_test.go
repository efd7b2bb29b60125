package engine

import (
	"bytes"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/flowloom/flowloom/internal/testutil"
)

// syncBuffer guards a bytes.Buffer so the monitor goroutine and the test
// never race on it.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestMonitorRendersSnapshots(t *testing.T) {
	p := NewProgress([]string{"work"}, 2)
	p.Admit(0)

	out := &syncBuffer{}
	m := NewMonitor(p, out, 5*time.Millisecond)
	m.Start()
	time.Sleep(25 * time.Millisecond)
	m.Stop()

	s := out.String()
	testutil.AssertContains(t, s, "work: 1")
	testutil.AssertContains(t, s, "0/2")
	testutil.AssertTrue(t, strings.HasSuffix(s, "\n"), "final snapshot should end the line")
}
