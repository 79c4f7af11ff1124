package comm

import (
	"context"
	"slices"
	"sync"
)

type envelope struct {
	space string
	msg   Message
}

// mailbox queues the messages of one rank until a matching receive takes
// them. Messages of one source and tag are taken in arrival order.
type mailbox struct {
	mu      sync.Mutex
	pending []envelope
	arrived chan struct{} // closed and replaced on every delivery
	abort   *abortState
}

func newMailbox(abort *abortState) *mailbox {
	return &mailbox{arrived: make(chan struct{}), abort: abort}
}

func (mb *mailbox) deliver(space string, m Message) {
	mb.mu.Lock()
	mb.pending = append(mb.pending, envelope{space: space, msg: m})
	close(mb.arrived)
	mb.arrived = make(chan struct{})
	mb.mu.Unlock()
}

func (mb *mailbox) take(ctx context.Context, space string, tag int) (Message, error) {
	for {
		if err := mb.abort.failed(); err != nil {
			return Message{}, err
		}
		mb.mu.Lock()
		for i, e := range mb.pending {
			if e.space == space && e.msg.Tag == tag {
				mb.pending = slices.Delete(mb.pending, i, i+1)
				mb.mu.Unlock()
				return e.msg, nil
			}
		}
		wait := mb.arrived
		mb.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			return Message{}, ctx.Err()
		case <-mb.abort.done:
			return Message{}, mb.abort.err
		}
	}
}

// size is the number of queued messages
func (mb *mailbox) size() int {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	return len(mb.pending)
}
