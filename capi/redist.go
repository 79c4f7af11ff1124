package capi

import (
	"context"

	"github.com/notargets/DGFlow/comm"
	"github.com/notargets/DGFlow/partitions"
	"github.com/notargets/DGFlow/redist"
)

// CreateRedist builds the redistribution component of rank c.Rank() for a
// link between the source ranks [sourceFirst, sourceFirst+sourceCount) and
// the destination ranks [destFirst, destFirst+destCount). Collective
// communication and step merging are used.
func (r *Registry) CreateRedist(strategy partitions.Strategy, sourceFirst, sourceCount, destFirst, destCount int,
	c comm.Communicator) Handle {
	cfg := redist.Config{
		SourceFirst: sourceFirst,
		SourceCount: sourceCount,
		DestFirst:   destFirst,
		DestCount:   destCount,
		Strategy:    strategy,
		CommMethod:  partitions.Collective,
	}
	comp, err := redist.New(c, cfg, redist.WithLogger(r.logger))
	if err != nil {
		r.fail("CreateRedist", err)
		return 0
	}
	return r.put(comp)
}

// FreeRedist releases a redistribution handle after discarding its pending
// state
func (r *Registry) FreeRedist(h Handle) {
	comp, err := r.redist(h)
	if err != nil {
		r.fail("FreeRedist", err)
		return
	}
	comp.Shutdown()
	r.drop(h)
}

// Process runs one iteration of role on the container behind data
func (r *Registry) Process(ctx context.Context, data, comp Handle, role redist.Role) bool {
	rc, err := r.redist(comp)
	if err != nil {
		r.fail("Process", err)
		return false
	}
	cont, err := r.container(data)
	if err != nil {
		r.fail("Process", err)
		return false
	}
	if err := rc.Process(ctx, cont, role); err != nil {
		r.fail("Process", err)
		return false
	}
	return true
}

// Flush waits for the sends of the latest source iteration
func (r *Registry) Flush(ctx context.Context, comp Handle) bool {
	rc, err := r.redist(comp)
	if err != nil {
		r.fail("Flush", err)
		return false
	}
	if err := rc.Flush(ctx); err != nil {
		r.fail("Flush", err)
		return false
	}
	return true
}
