package stream

import (
	"fmt"
	"strings"
)

// Selector decides which frames enter the buffer and which one leaves next.
// Every rank of a stream feeds its selector the same frame IDs.
type Selector interface {
	// Keep reports whether frame id is buffered at all
	Keep(id uint64) bool
	// Put queues a buffered frame
	Put(id uint64)
	// Next returns the frame to forward, false when the queue is empty
	Next() (uint64, bool)
	// Take removes frame id from the queue and returns the storage command
	// matching what was dropped
	Take(id uint64) (Command, error)
}

// queue is the frame list shared by the selectors, oldest first
type queue struct {
	frames []uint64
}

func (q *queue) put(id uint64) { q.frames = append(q.frames, id) }

// takeThrough drops every frame up to and including id
func (q *queue) takeThrough(id uint64) error {
	for i, f := range q.frames {
		if f == id {
			q.frames = q.frames[i+1:]
			return nil
		}
	}
	return fmt.Errorf("%w: %d not queued", ErrFrameNotFound, id)
}

// Sequential forwards every kept frame in production order
type Sequential struct {
	every uint64
	q     queue
}

// NewSequential keeps one frame out of every, at least 1
func NewSequential(every int) *Sequential {
	return &Sequential{every: uint64(max(every, 1))}
}

func (s *Sequential) Keep(id uint64) bool { return id%s.every == 0 }
func (s *Sequential) Put(id uint64)       { s.q.put(id) }

func (s *Sequential) Next() (uint64, bool) {
	if len(s.q.frames) == 0 {
		return 0, false
	}
	return s.q.frames[0], true
}

func (s *Sequential) Take(id uint64) (Command, error) {
	if len(s.q.frames) == 0 || s.q.frames[0] != id {
		return Remove, fmt.Errorf("%w: %d is not the oldest frame", ErrFrameNotFound, id)
	}
	s.q.frames = s.q.frames[1:]
	return Remove, nil
}

// MostRecent forwards the newest frame and drops the older ones
type MostRecent struct {
	every uint64
	q     queue
}

// NewMostRecent keeps one frame out of every, at least 1
func NewMostRecent(every int) *MostRecent {
	return &MostRecent{every: uint64(max(every, 1))}
}

func (m *MostRecent) Keep(id uint64) bool { return id%m.every == 0 }
func (m *MostRecent) Put(id uint64)       { m.q.put(id) }

func (m *MostRecent) Next() (uint64, bool) {
	if len(m.q.frames) == 0 {
		return 0, false
	}
	return m.q.frames[len(m.q.frames)-1], true
}

func (m *MostRecent) Take(id uint64) (Command, error) {
	return RemoveUntil, m.q.takeThrough(id)
}

// LowHigh buffers frames at a high frequency and forwards the newest one
// while the consumer keeps up with the low frequency period. When it falls
// behind, it restarts from the oldest buffered low frequency frame.
type LowHigh struct {
	low, high uint64
	previous  uint64
	started   bool
	q         queue
}

// NewLowHigh keeps frames that are multiples of high; low must be a larger
// period
func NewLowHigh(low, high int) (*LowHigh, error) {
	if high < 1 || low <= high {
		return nil, fmt.Errorf("low frequency period %d must exceed high frequency period %d", low, high)
	}
	return &LowHigh{low: uint64(low), high: uint64(high)}, nil
}

func (l *LowHigh) Keep(id uint64) bool { return id%l.high == 0 }
func (l *LowHigh) Put(id uint64)       { l.q.put(id) }

func (l *LowHigh) Next() (uint64, bool) {
	if len(l.q.frames) == 0 {
		return 0, false
	}
	newest := l.q.frames[len(l.q.frames)-1]
	if !l.started || newest/l.low == l.previous/l.low {
		return newest, true
	}
	for _, f := range l.q.frames {
		if f%l.low == 0 {
			return f, true
		}
	}
	return newest, true
}

func (l *LowHigh) Take(id uint64) (Command, error) {
	if err := l.q.takeThrough(id); err != nil {
		return RemoveUntil, err
	}
	l.previous, l.started = id, true
	return RemoveUntil, nil
}

// ParseSelector builds the selector named "sequential", "recent" or
// "lowhigh". every is the keep period of the first two, low and high the
// periods of the last one.
func ParseSelector(name string, every, low, high int) (Selector, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "sequential", "seq":
		return NewSequential(every), nil
	case "recent", "mostrecent":
		return NewMostRecent(every), nil
	case "lowhigh":
		l, err := NewLowHigh(low, high)
		if err != nil {
			return nil, err
		}
		return l, nil
	}
	return nil, fmt.Errorf("unknown frame selector %q", name)
}
