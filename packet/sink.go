package packet

import "sync"

// A FrameSink consumes frames that leave a simulated interface.
type FrameSink interface {
	OnFrame(f Frame)
}

// FuncSink turns a function into a FrameSink.
type FuncSink func(f Frame)

// OnFrame calls s(f).
func (s FuncSink) OnFrame(f Frame) {
	s(f)
}

// QueueSink keeps all the frames it receives, in order. It is safe to read
// from another goroutine while frames arrive.
type QueueSink struct {
	lock   sync.Mutex
	frames []Frame
}

// NewQueueSink creates an empty QueueSink.
func NewQueueSink() *QueueSink {
	return &QueueSink{}
}

// OnFrame appends the frame.
func (s *QueueSink) OnFrame(f Frame) {
	s.lock.Lock()
	s.frames = append(s.frames, f)
	s.lock.Unlock()
}

// Len returns the number of frames received so far.
func (s *QueueSink) Len() int {
	s.lock.Lock()
	defer s.lock.Unlock()

	return len(s.frames)
}

// Frames returns a snapshot of the received frames.
func (s *QueueSink) Frames() []Frame {
	s.lock.Lock()
	defer s.lock.Unlock()

	out := make([]Frame, len(s.frames))
	copy(out, s.frames)

	return out
}

// Reset drops all the received frames.
func (s *QueueSink) Reset() {
	s.lock.Lock()
	s.frames = nil
	s.lock.Unlock()
}
