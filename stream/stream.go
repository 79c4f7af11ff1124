// Package stream buffers containers between the redistribution that
// delivers them and the consumer that reads them.
//
// Frames are numbered in arrival order. A Selector filters which frames are
// buffered and picks the one to hand out next, a Storage holds them. All the
// ranks of a stream put the same frames; the first rank of the group picks the
// next frame and the choice is broadcast so every rank hands out the same one.
package stream

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/notargets/DGFlow/comm"
	"github.com/notargets/DGFlow/container"
	"github.com/notargets/DGFlow/ctxlog"
	"github.com/notargets/DGFlow/errs"
)

const (
	component = "stream"
	tagNext   = 1
)

// Option configures a Stream
type Option func(*Stream)

// WithLogger sets the logger, by default the one carried by the context
func WithLogger(l *slog.Logger) Option {
	return func(s *Stream) { s.logger = l }
}

// WithName separates the messages of streams sharing a group
func WithName(name string) Option {
	return func(s *Stream) { s.name = name }
}

// Stats counts the frames seen by a stream
type Stats struct {
	Arrived   int // Frames given to Put
	Buffered  int // Frames kept by the selector
	Forwarded int // Frames handed out by Next
	Dropped   int // Buffered frames skipped by the selector
	Rejected  int // Frames the storage had no room for
}

// Stream is the buffer of one rank of a group
type Stream struct {
	name     string
	comm     comm.Communicator
	group    comm.Group
	selector Selector
	storage  Storage
	logger   *slog.Logger

	nextID uint64
	stats  Stats
}

// New creates the stream of c.Rank() in group g
func New(c comm.Communicator, g comm.Group, sel Selector, store Storage, opts ...Option) (*Stream, error) {
	if c == nil || sel == nil || store == nil {
		return nil, errs.Invalid(component, "New", fmt.Errorf("%w: nil communicator, selector or storage", errs.ErrInvalidArgument))
	}
	if err := g.Validate(c.Size()); err != nil {
		return nil, errs.Fatal(component, "New", err)
	}
	if !g.Contains(c.Rank()) {
		return nil, errs.Invalid(component, "New",
			fmt.Errorf("%w: rank %d outside group [%d,%d]", errs.ErrGroupGeometry, c.Rank(), g.First, g.Last()))
	}
	s := &Stream{comm: c, group: g, selector: sel, storage: store}
	for _, opt := range opts {
		opt(s)
	}
	space := component
	if s.name != "" {
		space += "." + s.name
	}
	s.comm = c.Sub(space)
	return s, nil
}

func (s *Stream) log(ctx context.Context) *slog.Logger {
	l := s.logger
	if l == nil {
		l = ctxlog.FromContext(ctx)
	}
	return l.With("component", component, "rank", s.comm.Rank())
}

// Stats returns the frame counters
func (s *Stream) Stats() Stats { return s.stats }

// Len returns the number of buffered frames
func (s *Stream) Len() int { return s.storage.Len() }

// Put numbers data as the next frame and buffers it if the selector keeps
// it. The stream keeps data as is, so the caller must not reuse it. A full
// storage drops the frame with a warning and returns false.
func (s *Stream) Put(ctx context.Context, data *container.Container) (bool, error) {
	if data == nil {
		return false, errs.Invalid(component, "Put", fmt.Errorf("%w: nil container", errs.ErrInvalidArgument))
	}
	id := s.nextID
	s.nextID++
	s.stats.Arrived++
	if !s.selector.Keep(id) {
		return false, nil
	}
	if err := s.storage.Insert(id, data); err != nil {
		s.stats.Rejected++
		s.log(ctx).Warn("frame not buffered", "frame", id, "error", err)
		return false, nil
	}
	s.selector.Put(id)
	s.stats.Buffered++
	return true, nil
}

// Next hands out the frame every rank of the group agreed on. It returns
// false when nothing is buffered. Every rank of the group must call it.
func (s *Stream) Next(ctx context.Context) (*container.Container, uint64, bool, error) {
	choice := int64(-1)
	if s.group.Local(s.comm.Rank()) == 0 {
		if id, ok := s.selector.Next(); ok {
			choice = int64(id)
		}
	}
	data, err := msgpack.Marshal(choice)
	if err != nil {
		return nil, 0, false, errs.Fatal(component, "Next", err)
	}
	data, err = comm.Bcast(ctx, s.comm, s.group, 0, tagNext, data)
	if err != nil {
		return nil, 0, false, s.fail(err)
	}
	if err := msgpack.Unmarshal(data, &choice); err != nil {
		return nil, 0, false, s.fail(err)
	}
	if choice < 0 {
		return nil, 0, false, nil
	}

	id := uint64(choice)
	before := s.storage.Len()
	frame, err := s.storage.Get(id)
	if err != nil {
		return nil, 0, false, s.fail(err)
	}
	cmd, err := s.selector.Take(id)
	if err != nil {
		return nil, 0, false, s.fail(err)
	}
	s.storage.Apply(cmd, id)
	if cmd == RemoveUntilExcluded {
		s.storage.Erase(id)
	}
	s.stats.Forwarded++
	s.stats.Dropped += before - s.storage.Len() - 1
	s.log(ctx).Debug("frame forwarded", "frame", id, "buffered", s.storage.Len())
	return frame, id, true, nil
}

// fail stops the group: ranks that disagree on the buffered frames cannot
// hand out the same one
func (s *Stream) fail(err error) error {
	s.comm.Abort(err)
	return errs.Fatal(component, "Next", err)
}
