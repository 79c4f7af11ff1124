package comm

import (
	"context"
	"fmt"
	"slices"

	"golang.org/x/sync/errgroup"
)

// LocalWorld is an in-process world of n ranks sharing one address space.
// Sends are copied into the destination mailbox and complete immediately.
type LocalWorld struct {
	boxes []*mailbox
	abort *abortState
}

// NewLocalWorld creates a world of n ranks
func NewLocalWorld(n int) *LocalWorld {
	w := &LocalWorld{boxes: make([]*mailbox, n), abort: newAbortState()}
	for i := range w.boxes {
		w.boxes[i] = newMailbox(w.abort)
	}
	return w
}

// Size returns the number of ranks
func (w *LocalWorld) Size() int { return len(w.boxes) }

// Rank returns the communicator of rank r
func (w *LocalWorld) Rank(r int) Communicator {
	if r < 0 || r >= len(w.boxes) {
		panic(fmt.Sprintf("rank %d outside a world of %d", r, len(w.boxes)))
	}
	return &localComm{world: w, rank: r}
}

// Pending returns the number of undelivered messages queued for rank r
func (w *LocalWorld) Pending(r int) int { return w.boxes[r].size() }

// Err returns the abort error, nil while the world runs
func (w *LocalWorld) Err() error { return w.abort.failed() }

// RunLocal runs fn on every rank of a new world of n ranks and waits for all
// of them. The first failing rank cancels the context of the others.
func RunLocal(ctx context.Context, n int, fn func(ctx context.Context, c Communicator) error) error {
	w := NewLocalWorld(n)
	g, gctx := errgroup.WithContext(ctx)
	for r := 0; r < n; r++ {
		c := w.Rank(r)
		g.Go(func() error {
			if err := fn(gctx, c); err != nil {
				return fmt.Errorf("rank %d: %w", c.Rank(), err)
			}
			return nil
		})
	}
	return g.Wait()
}

type localComm struct {
	world *LocalWorld
	rank  int
	space string
}

func (c *localComm) Rank() int { return c.rank }
func (c *localComm) Size() int { return len(c.world.boxes) }

func (c *localComm) Isend(ctx context.Context, dest, tag int, data []byte) Request {
	if err := c.world.abort.failed(); err != nil {
		return completed(err)
	}
	if err := ctx.Err(); err != nil {
		return completed(err)
	}
	if dest < 0 || dest >= len(c.world.boxes) {
		return completed(fmt.Errorf("send to %d: %w", dest, ErrRankOutOfRange))
	}
	c.world.boxes[dest].deliver(c.space, Message{Source: c.rank, Tag: tag, Data: slices.Clone(data)})
	return completed(nil)
}

func (c *localComm) Recv(ctx context.Context, tag int) (Message, error) {
	return c.world.boxes[c.rank].take(ctx, c.space, tag)
}

func (c *localComm) Sub(name string) Communicator {
	return &localComm{world: c.world, rank: c.rank, space: subSpace(c.space, name)}
}

func (c *localComm) Abort(err error) { c.world.abort.trigger(err) }
