package engine

import "sync"

// scheduler is a FIFO admission queue with a concurrency cap. Dispatch
// order is strict FIFO over queue positions; branch children are appended
// at the tail, behind everything already waiting.
//
// Termination is detected by quiescence rather than a precomputed count:
// the run is over when the queue is empty and no flow is running, which a
// branching pipeline cannot know in advance.
type scheduler struct {
	mu      sync.Mutex
	cond    *sync.Cond
	queue   []*Flow
	running int
	limit   int
}

func newScheduler(limit int) *scheduler {
	if limit < 1 {
		limit = 1
	}
	s := &scheduler{limit: limit}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// submit appends flows to the tail of the queue.
func (s *scheduler) submit(flows ...*Flow) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue = append(s.queue, flows...)
	s.cond.Broadcast()
}

// next blocks until a flow can be admitted under the cap, returning it with
// ok true, or until the run is quiescent, returning ok false. The admitted
// flow counts as running until done is called.
func (s *scheduler) next() (*Flow, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for {
		if len(s.queue) > 0 && s.running < s.limit {
			f := s.queue[0]
			s.queue = s.queue[1:]
			s.running++
			return f, true
		}
		if len(s.queue) == 0 && s.running == 0 {
			return nil, false
		}
		s.cond.Wait()
	}
}

// done releases one running slot.
func (s *scheduler) done() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running--
	s.cond.Broadcast()
}

// drain removes and returns all queued flows, used when a run is cut short.
func (s *scheduler) drain() []*Flow {
	s.mu.Lock()
	defer s.mu.Unlock()
	q := s.queue
	s.queue = nil
	s.cond.Broadcast()
	return q
}
