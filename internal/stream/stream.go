package stream

import (
	"context"
	"sync"
)

// DefaultCapacity is the bounded queue size per invocation.
const DefaultCapacity = 256

// Stream is a finite, non-restartable sequence of Events produced by one
// invocation. The producer appends through Emit; consumers read through
// Next, Events or AwaitResult. After the terminal event the stream closes.
type Stream struct {
	mu     sync.Mutex
	cond   *sync.Cond
	queue  []Event
	cap    int
	closed bool // terminal event enqueued, no further emits

	forwardOnce sync.Once
	out         chan Event
}

// New creates a stream with the given capacity (DefaultCapacity when <= 0).
func New(capacity int) *Stream {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	s := &Stream{cap: capacity}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// Emit appends an event, applying the overflow policy when the queue is at
// capacity: queued heartbeats are dropped first, then consecutive
// stdout/stderr progress events are coalesced by concatenating their
// messages. Phase transitions and the terminal event are never dropped.
// Emits after the terminal event are ignored.
func (s *Stream) Emit(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}

	if len(s.queue) >= s.cap {
		s.dropHeartbeatsLocked()
	}
	if len(s.queue) >= s.cap && isOutputProgress(ev) {
		// Fold into the newest queued event of the same phase.
		if last := len(s.queue) - 1; last >= 0 && s.queue[last].Type == TypeProgress && s.queue[last].Phase == ev.Phase {
			s.queue[last].Message += ev.Message
			s.queue[last].Timestamp = ev.Timestamp
			s.cond.Broadcast()
			return
		}
		s.coalesceOutputLocked()
	}
	if len(s.queue) >= s.cap && ev.Type == TypeProgress && ev.Phase == PhaseHeartbeat {
		return // still full, a heartbeat is the one droppable kind
	}

	// Transitions and terminals always land, even past capacity.
	s.queue = append(s.queue, ev)
	if ev.Terminal() {
		s.closed = true
	}
	s.cond.Broadcast()
}

func (s *Stream) dropHeartbeatsLocked() {
	kept := s.queue[:0]
	for _, q := range s.queue {
		if q.Type == TypeProgress && q.Phase == PhaseHeartbeat {
			continue
		}
		kept = append(kept, q)
	}
	s.queue = kept
}

// coalesceOutputLocked merges runs of consecutive stdout (resp. stderr)
// progress events into single events.
func (s *Stream) coalesceOutputLocked() {
	kept := s.queue[:0]
	for _, q := range s.queue {
		if len(kept) > 0 && isOutputProgress(q) {
			last := &kept[len(kept)-1]
			if last.Type == TypeProgress && last.Phase == q.Phase {
				last.Message += q.Message
				last.Timestamp = q.Timestamp
				continue
			}
		}
		kept = append(kept, q)
	}
	s.queue = kept
}

func isOutputProgress(ev Event) bool {
	return ev.Type == TypeProgress && (ev.Phase == PhaseStdout || ev.Phase == PhaseStderr)
}

// Next blocks for the next event. ok is false once the terminal event has
// been consumed or ctx is done.
func (s *Stream) Next(ctx context.Context) (Event, bool) {
	// A waiter goroutine wakes the cond when ctx ends so Next can return.
	stop := context.AfterFunc(ctx, func() {
		s.mu.Lock()
		s.cond.Broadcast()
		s.mu.Unlock()
	})
	defer stop()

	s.mu.Lock()
	defer s.mu.Unlock()
	for {
		if len(s.queue) > 0 {
			ev := s.queue[0]
			s.queue = s.queue[1:]
			s.cond.Broadcast()
			return ev, true
		}
		if s.closed || ctx.Err() != nil {
			return Event{}, false
		}
		s.cond.Wait()
	}
}

// Events returns a channel fed from Next; it closes after the terminal
// event. The forwarding goroutine starts on first call.
func (s *Stream) Events() <-chan Event {
	s.forwardOnce.Do(func() {
		s.out = make(chan Event)
		go func() {
			defer close(s.out)
			for {
				ev, ok := s.Next(context.Background())
				if !ok {
					return
				}
				s.out <- ev
				if ev.Terminal() {
					return
				}
			}
		}()
	})
	return s.out
}

// AwaitResult drains the stream and returns its terminal event. An error
// is returned only when ctx ends first.
func (s *Stream) AwaitResult(ctx context.Context) (Event, error) {
	for {
		ev, ok := s.Next(ctx)
		if !ok {
			if err := ctx.Err(); err != nil {
				return Event{}, err
			}
			return Event{}, context.Canceled
		}
		if ev.Terminal() {
			return ev, nil
		}
	}
}
