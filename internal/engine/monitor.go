package engine

import (
	"fmt"
	"io"
	"time"
)

// Monitor periodically renders a progress snapshot to a writer, rewriting
// the same terminal line in place.
type Monitor struct {
	progress *Progress
	out      io.Writer
	interval time.Duration
	stop     chan struct{}
	done     chan struct{}
}

// NewMonitor creates a monitor over the given tracker. An interval of zero
// defaults to half a second.
func NewMonitor(p *Progress, out io.Writer, interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	return &Monitor{
		progress: p,
		out:      out,
		interval: interval,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start begins rendering in the background.
func (m *Monitor) Start() {
	go func() {
		defer close(m.done)
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				fmt.Fprintf(m.out, "\r%s", m.progress.Snapshot())
			case <-m.stop:
				return
			}
		}
	}()
}

// Stop halts rendering and prints the final snapshot on its own line.
func (m *Monitor) Stop() {
	close(m.stop)
	<-m.done
	fmt.Fprintf(m.out, "\r%s\n", m.progress.Snapshot())
}
