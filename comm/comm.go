// Package comm provides the process groups the coupling layer runs on.
//
// A Communicator connects a fixed set of ranks. Sends are non-blocking and
// receives match on a tag from any source, which is all the redistribution
// protocol needs; collectives are built on top in collective.go. Two worlds
// are available: an in-process world where every rank is a goroutine, and a
// NATS world where every rank is a process subscribed to its own subject.
package comm

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/hashicorp/go-multierror"

	"github.com/notargets/DGFlow/errs"
)

// ErrRankOutOfRange reports a send to a rank outside the world
var ErrRankOutOfRange = errors.New("rank out of range")

// Message is one payload received from a rank
type Message struct {
	Source int
	Tag    int
	Data   []byte
}

// Empty reports whether the message carries no payload
func (m Message) Empty() bool { return len(m.Data) == 0 }

// Request tracks a non-blocking send
type Request interface {
	// Wait blocks until the send has completed or ctx is done
	Wait(ctx context.Context) error
}

// Communicator is the point-to-point interface of one rank
type Communicator interface {
	Rank() int
	Size() int

	// Isend starts sending data to dest. The caller may reuse data as soon as
	// Isend returns.
	Isend(ctx context.Context, dest, tag int, data []byte) Request

	// Recv returns the oldest message carrying tag, from any source
	Recv(ctx context.Context, tag int) (Message, error)

	// Sub returns a communicator over the same ranks whose messages never
	// match those of the parent or of differently named siblings
	Sub(name string) Communicator

	// Abort stops every rank of the world: pending and future operations
	// fail with an error wrapping errs.ErrAborted.
	Abort(err error)
}

// WaitAll waits for every request and aggregates the failures
func WaitAll(ctx context.Context, reqs []Request) error {
	var result *multierror.Error
	for _, r := range reqs {
		if r == nil {
			continue
		}
		if err := r.Wait(ctx); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

// Group is a contiguous range of ranks of a world
type Group struct {
	First int // Global rank of member 0
	Count int // Number of members
}

// Contains reports whether global rank r belongs to the group
func (g Group) Contains(r int) bool { return r >= g.First && r < g.First+g.Count }

// Local returns the index of global rank r within the group
func (g Group) Local(r int) int { return r - g.First }

// Global returns the global rank of member i
func (g Group) Global(i int) int { return g.First + i }

// Last returns the global rank of the last member
func (g Group) Last() int { return g.First + g.Count - 1 }

// Validate checks that the group fits in a world of size ranks
func (g Group) Validate(size int) error {
	if g.Count < 1 || g.First < 0 || g.First+g.Count > size {
		return fmt.Errorf("%w: group [%d,%d) in a world of %d ranks",
			errs.ErrGroupGeometry, g.First, g.First+g.Count, size)
	}
	return nil
}

// completedRequest is a send that finished when Isend returned
type completedRequest struct{ err error }

func (r completedRequest) Wait(context.Context) error { return r.err }

func completed(err error) Request { return completedRequest{err: err} }

// abortState is shared by every rank of one in-process world or by every
// communicator of one NATS process
type abortState struct {
	once sync.Once
	done chan struct{}
	err  error
}

func newAbortState() *abortState {
	return &abortState{done: make(chan struct{})}
}

func (a *abortState) trigger(cause error) {
	a.once.Do(func() {
		if cause == nil {
			a.err = errs.ErrAborted
		} else {
			a.err = fmt.Errorf("%w: %v", errs.ErrAborted, cause)
		}
		close(a.done)
	})
}

// failed returns the abort error once the world has been aborted
func (a *abortState) failed() error {
	select {
	case <-a.done:
		return a.err
	default:
		return nil
	}
}

func subSpace(parent, name string) string {
	if parent == "" {
		return name
	}
	return parent + "." + name
}
