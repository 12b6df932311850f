package rdpecam

import (
	"sync"

	"github.com/guacrelay/rdpdvc/pkg/logger"
)

// Frame is one queued, decoded video frame.
type Frame struct {
	Payload   []byte
	PTSMillis uint32
	Keyframe  bool
}

// Sink is the bounded FIFO of encoded video frames belonging to exactly one
// camera device.
//
// A sync.Mutex + sync.Cond pair guards it; Cond was chosen because the
// blocking-pop-with-stop-wakeup shape maps directly onto Wait/Broadcast.
type Sink struct {
	id       string
	log      *logger.Logger
	capacity int

	mu       sync.Mutex
	cond     *sync.Cond
	queue    []*Frame
	stopping bool
}

// NewSink constructs a Sink with the given capacity for the device identified by id (used as Sink.ID() for Session State's
// current-sink pointer).
func NewSink(id string, capacity int, log *logger.Logger) *Sink {
	s := &Sink{
		id:       id,
		log:      log,
		capacity: capacity,
	}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// ID identifies this sink for Session State's current-sink pointer (the
// session package's Sink interface).
func (s *Sink) ID() string { return s.id }

// Push appends frame to the queue. Returns false if the sink is stopping or
// already at capacity (overflow drops the incoming frame).
func (s *Sink) Push(frame *Frame) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopping {
		return false
	}

	if len(s.queue) >= s.capacity {
		return false
	}

	s.queue = append(s.queue, frame)
	depth := len(s.queue)

	if s.log != nil {
		s.log.DebugRDPECAM("frame queued", "sink", s.id, "queue_depth", depth)
		if float64(depth)/float64(s.capacity) >= 0.8 {
			s.log.Debug("sink queue utilization high",
				"category", "rdpecam", "sink", s.id,
				"queue_depth", depth, "capacity", s.capacity)
		}
	}

	s.cond.Signal()
	return true
}

// Pop blocks until a frame is available or the sink is signaled to stop.
// Returns (frame, true) on success, (nil, false) if the sink stopped with an
// empty queue.
func (s *Sink) Pop() (*Frame, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for len(s.queue) == 0 && !s.stopping {
		s.cond.Wait()
	}

	if len(s.queue) == 0 {
		return nil, false
	}

	frame := s.queue[0]
	s.queue = s.queue[1:]
	remaining := len(s.queue)

	if s.log != nil {
		s.log.DebugRDPECAM("frame popped", "sink", s.id, "queue_depth", remaining)
		if remaining == 0 || remaining <= 3 {
			s.log.Debug("sink queue low", "category", "rdpecam", "sink", s.id, "queue_depth", remaining)
		}
	}

	return frame, true
}

// SignalStop wakes any blocked Pop waiter and prevents further Push calls
// from succeeding.
func (s *Sink) SignalStop() {
	s.mu.Lock()
	s.stopping = true
	s.mu.Unlock()
	s.cond.Broadcast()
}

// Clear drops every queued frame without signaling stop, used when a device
// transitions READY -> STREAMING to discard stale frames from a prior
// session.
func (s *Sink) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue = nil
}

// Size returns the current queue depth.
func (s *Sink) Size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Destroy drains and discards all queued frames and wakes any waiter. After
// Destroy, bytes allocated in the sink is zero.
func (s *Sink) Destroy() {
	s.mu.Lock()
	s.stopping = true
	s.queue = nil
	s.mu.Unlock()
	s.cond.Broadcast()
}
