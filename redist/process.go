package redist

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/notargets/DGFlow/comm"
	"github.com/notargets/DGFlow/container"
	"github.com/notargets/DGFlow/ctxlog"
	"github.com/notargets/DGFlow/errs"
	"github.com/notargets/DGFlow/partitions"
)

// Tags are scoped by iteration so that a rank running ahead never matches
// the messages of an earlier exchange. The iteration wraps after tagWindow.
const (
	tagSummary = iota // Reduce of the destination summaries over the sources
	tagMeta           // Reduced summary, source root to destination root
	tagScatter        // Expected counts, scattered over the destinations
	tagData
	tagScan
	tagTotal
	tagBounds
	tagStride
)

const tagWindow = 1 << 20

func tagFor(seq uint64, op int) int { return int(seq%tagWindow)*tagStride + op }

func (r *Component) log(ctx context.Context) *slog.Logger {
	l := r.logger
	if l == nil {
		l = ctxlog.FromContext(ctx)
	}
	return l.With("component", component, "id", r.id.String(), "rank", r.comm.Rank())
}

// fail stops every rank of the world and classifies err as fatal
func (r *Component) fail(op string, err error) error {
	r.comm.Abort(err)
	return errs.Fatal(component, op, err)
}

// Process runs one iteration of role. A source splits data and sends the
// chunks, leaving data untouched. A destination merges what it receives into
// data. A rank in both groups must run the source side first.
func (r *Component) Process(ctx context.Context, data *container.Container, role Role) error {
	if data == nil {
		return errs.Invalid(component, "Process", fmt.Errorf("%w: nil container", errs.ErrInvalidArgument))
	}
	defer r.rec.Observe(role.String(), time.Now())

	switch role {
	case RoleSource:
		if !r.IsSource() {
			return errs.Invalid(component, "Process",
				fmt.Errorf("%w: rank %d is not a source", errs.ErrInvalidArgument, r.comm.Rank()))
		}
		return r.processSource(ctx, data)
	case RoleDest:
		if !r.IsDest() {
			return errs.Invalid(component, "Process",
				fmt.Errorf("%w: rank %d is not a destination", errs.ErrInvalidArgument, r.comm.Rank()))
		}
		return r.processDest(ctx, data)
	}
	return errs.Invalid(component, "Process", fmt.Errorf("%w: %s", errs.ErrInvalidArgument, role))
}

func (r *Component) processSource(ctx context.Context, data *container.Container) error {
	seq := r.sendSeq
	r.sendSeq++
	r.stats.SourceIterations++
	r.stats.Sent, r.stats.EmptySent, r.stats.BytesSent = 0, 0, 0

	req, opts, err := r.prepare(ctx, data, seq)
	if err != nil {
		return err
	}
	plan, err := partitions.Split(data, req, opts)
	if err != nil {
		return r.fail("Process", err)
	}
	payloads, err := serialize(plan)
	if err != nil {
		return r.fail("Process", err)
	}
	r.plan = plan

	if r.cfg.CommMethod == partitions.Collective && r.cfg.Strategy != partitions.Proc {
		if err := r.forwardSummary(ctx, plan, seq); err != nil {
			return err
		}
	}
	r.sendChunks(ctx, plan, payloads, seq)
	r.keepBuffers(plan, data)

	r.log(ctx).Debug("source step done",
		"iteration", seq,
		"strategy", r.cfg.Strategy.String(),
		"items", data.ItemCount(),
		"messages", r.stats.Sent,
		"empty", r.stats.EmptySent,
		"transit", r.hasTransit,
		"bytes", r.stats.BytesSent)
	return nil
}

// prepare runs the collectives the strategy needs over the source group
func (r *Component) prepare(ctx context.Context, data *container.Container, seq uint64) (partitions.Request, partitions.Options, error) {
	me := r.comm.Rank()
	req := partitions.Request{
		Rank:      me,
		DestFirst: r.cfg.DestFirst,
		DestCount: r.cfg.DestCount,
		Method:    r.cfg.CommMethod,
	}
	opts := partitions.Options{
		Strategy:    r.cfg.Strategy,
		Slices:      r.cfg.Slices,
		SourceIndex: r.sources.Local(me),
		SourceCount: r.sources.Count,
	}

	switch r.cfg.Strategy {
	case partitions.Count, partitions.RoundRobin:
		n, err := localItems(data)
		if err != nil {
			return req, opts, r.fail("Process", fmt.Errorf("%s strategy: %w", r.cfg.Strategy, err))
		}
		rank, err := comm.ScanSum(ctx, r.comm, r.sources, tagFor(seq, tagScan), n)
		if err != nil {
			return req, opts, r.fail("Process", fmt.Errorf("scan item counts: %w", err))
		}
		total := rank + n
		if r.cfg.Strategy == partitions.Count {
			if total, err = comm.AllreduceSum(ctx, r.comm, r.sources, tagFor(seq, tagTotal), n); err != nil {
				return req, opts, r.fail("Process", fmt.Errorf("reduce item counts: %w", err))
			}
		}
		req.GlobalItemRank, req.GlobalItemCount = rank, total
		req.Buffers = r.buffers
	case partitions.ZCurve:
		if !r.haveBounds {
			if err := r.reduceBounds(ctx, data, seq); err != nil {
				return req, opts, err
			}
		}
		opts.Bounds = r.bounds
		req.Buffers = r.buffers
	}
	return req, opts, nil
}

// localItems is the number of items a source contributes to the global count
func localItems(data *container.Container) (int, error) {
	if !data.HasData() {
		return 0, nil
	}
	if !data.Countable() {
		return 0, errs.ErrNotCountable
	}
	return data.ItemCount(), nil
}

// reduceBounds computes the box holding the positions of every source. It is
// kept for the following iterations once some source holds positions.
func (r *Component) reduceBounds(ctx context.Context, data *container.Container, seq uint64) error {
	inf := float32(math.Inf(1))
	lo := []float32{inf, inf, inf}
	hi := []float32{-inf, -inf, -inf}
	if data.HasData() {
		if !data.Countable() {
			return r.fail("Process", fmt.Errorf("zcurve strategy: %w", errs.ErrNotCountable))
		}
		pos, ok := data.PositionKey()
		if !ok {
			return r.fail("Process", fmt.Errorf("zcurve strategy: %w", container.ErrNoZCurveKey))
		}
		if b, ok := partitions.BoundsOf(pos); ok {
			copy(lo, b.Min[:])
			copy(hi, b.Max[:])
		}
	}
	lo, hi, err := comm.AllreduceMinMax(ctx, r.comm, r.sources, tagFor(seq, tagBounds), lo, hi)
	if err != nil {
		return r.fail("Process", fmt.Errorf("reduce position bounds: %w", err))
	}
	if lo[0] > hi[0] {
		return nil
	}
	r.bounds = partitions.Bounds{Min: [3]float32(lo), Max: [3]float32(hi)}
	r.haveBounds = true
	r.log(ctx).Debug("zcurve bounds", "min", r.bounds.Min, "max", r.bounds.Max)
	return nil
}

// serialize encodes every chunk once, chunks shared by several destinations
// included
func serialize(plan *partitions.Plan) ([][]byte, error) {
	payloads := make([][]byte, plan.Len())
	done := make(map[*container.Container][]byte)
	for i, ch := range plan.Chunks {
		if ch == nil {
			continue
		}
		if b, ok := done[ch]; ok {
			payloads[i] = b
			continue
		}
		b, err := ch.Serialize()
		if err != nil {
			return nil, fmt.Errorf("serialize chunk for destination %d: %w", i, err)
		}
		done[ch] = b
		payloads[i] = b
	}
	return payloads, nil
}

// forwardSummary reduces the plan summaries on the source root, which hands
// the sum to the destination root
func (r *Component) forwardSummary(ctx context.Context, plan *partitions.Plan, seq uint64) error {
	sum, err := comm.ReduceSum(ctx, r.comm, r.sources, 0, tagFor(seq, tagSummary), plan.Summary)
	if err != nil {
		return r.fail("Process", fmt.Errorf("reduce destination summary: %w", err))
	}
	if r.comm.Rank() != r.sources.First {
		return nil
	}
	if r.sources.First == r.dests.First {
		r.summary, r.hasSummary = sum, true
		return nil
	}
	payload, err := msgpack.Marshal(sum)
	if err != nil {
		return r.fail("Process", fmt.Errorf("encode destination summary: %w", err))
	}
	r.pending = append(r.pending, r.comm.Isend(ctx, r.dests.First, tagFor(seq, tagMeta), payload))
	return nil
}

func (r *Component) sendChunks(ctx context.Context, plan *partitions.Plan, payloads [][]byte, seq uint64) {
	me := r.comm.Rank()
	tag := tagFor(seq, tagData)
	empties := r.cfg.CommMethod == partitions.P2P && r.cfg.Strategy != partitions.Proc
	for i, dest := range plan.DestList {
		switch {
		case dest == me:
			r.transit, r.hasTransit = payloads[i], true
			r.ledger.Sent(int(seq), me, me)
		case dest != partitions.NoMessage:
			r.send(ctx, dest, tag, payloads[i], seq)
		case empties && r.dests.Global(i) != me:
			r.send(ctx, r.dests.Global(i), tag, nil, seq)
			r.stats.EmptySent++
		}
	}
}

func (r *Component) send(ctx context.Context, dest, tag int, payload []byte, seq uint64) {
	r.pending = append(r.pending, r.comm.Isend(ctx, dest, tag, payload))
	r.stats.Sent++
	r.stats.BytesSent += len(payload)
	r.rec.Sent(len(payload))
	r.ledger.Sent(int(seq), r.comm.Rank(), dest)
}

// keepBuffers keeps the chunks of splits that can reuse them next iteration
func (r *Component) keepBuffers(plan *partitions.Plan, data *container.Container) {
	switch r.cfg.Strategy {
	case partitions.Count, partitions.RoundRobin, partitions.ZCurve:
	default:
		return
	}
	if len(r.buffers) != plan.Len() {
		r.buffers = make([]*container.Container, plan.Len())
	}
	for i, ch := range plan.Chunks {
		if ch != nil && ch != data && ch.HasData() {
			r.buffers[i] = ch
		}
	}
}

func (r *Component) processDest(ctx context.Context, data *container.Container) error {
	seq := r.recvSeq
	r.recvSeq++
	me := r.comm.Rank()
	r.stats.DestIterations++
	r.stats.Expected, r.stats.Received, r.stats.BytesReceived = 0, 0, 0
	r.stats.Transit, r.stats.MergeFailures = 0, 0

	expected, err := r.expected(ctx, seq)
	if err != nil {
		return err
	}
	r.stats.Expected = expected
	if r.hasTransit {
		r.stats.Expected++
	}
	r.ledger.Expect(int(seq), me, r.stats.Expected)

	var result *multierror.Error
	if r.hasTransit {
		payload := r.transit
		r.transit, r.hasTransit = nil, false
		r.stats.Transit++
		r.rec.Transit()
		r.ledger.Received(int(seq), me, me)
		if err := r.merge(data, payload); err != nil {
			result = multierror.Append(result, fmt.Errorf("transit: %w", err))
		}
	}

	tag := tagFor(seq, tagData)
	for i := 0; i < expected; i++ {
		m, err := r.comm.Recv(ctx, tag)
		if err != nil {
			return r.fail("Process", fmt.Errorf("receive message %d of %d: %w", i+1, expected, err))
		}
		r.stats.Received++
		r.stats.BytesReceived += len(m.Data)
		r.rec.Received(len(m.Data))
		r.ledger.Received(int(seq), m.Source, me)
		if m.Empty() {
			continue
		}
		if err := r.merge(data, m.Data); err != nil {
			result = multierror.Append(result, fmt.Errorf("message from rank %d: %w", m.Source, err))
		}
	}
	if r.cfg.MergeMethod == OnceMerge {
		if err := data.MergeStoredData(); err != nil {
			r.rec.MergeFailed()
			result = multierror.Append(result, fmt.Errorf("merge stored data: %w", err))
		}
	}

	log := r.log(ctx)
	if err := result.ErrorOrNil(); err != nil {
		r.stats.MergeFailures = len(result.Errors)
		log.Warn("merge failed", "iteration", seq, "failures", len(result.Errors), "error", err)
		return errs.Invalid(component, "Process", err)
	}
	log.Debug("destination step done",
		"iteration", seq,
		"expected", r.stats.Expected,
		"received", r.stats.Received,
		"transit", r.stats.Transit,
		"items", data.ItemCount())
	return nil
}

// expected returns the number of wire messages this destination waits for
func (r *Component) expected(ctx context.Context, seq uint64) (int, error) {
	switch {
	case r.cfg.Strategy == partitions.Proc:
		n, err := partitions.ProcReceptions(r.sources.Count, r.dests.Count)
		if err != nil {
			return 0, r.fail("Process", err)
		}
		if r.hasTransit {
			n--
		}
		return n, nil
	case r.cfg.CommMethod == partitions.P2P:
		n := r.sources.Count
		if r.IsSource() {
			n--
		}
		return n, nil
	}

	var counts []int
	if r.comm.Rank() == r.dests.First {
		if r.hasSummary {
			counts = r.summary
			r.summary, r.hasSummary = nil, false
		} else {
			m, err := r.comm.Recv(ctx, tagFor(seq, tagMeta))
			if err != nil {
				return 0, r.fail("Process", fmt.Errorf("receive destination summary: %w", err))
			}
			if err := msgpack.Unmarshal(m.Data, &counts); err != nil {
				return 0, r.fail("Process", fmt.Errorf("decode destination summary: %w", err))
			}
		}
	}
	n, err := comm.Scatter(ctx, r.comm, r.dests, 0, tagFor(seq, tagScatter), counts)
	if err != nil {
		return 0, r.fail("Process", fmt.Errorf("scatter expected counts: %w", err))
	}
	return n, nil
}

func (r *Component) merge(data *container.Container, payload []byte) error {
	var err error
	if r.cfg.MergeMethod == OnceMerge {
		err = data.UnserializeAndStore(payload)
	} else {
		err = data.MergeBuffer(payload)
	}
	if err != nil {
		r.rec.MergeFailed()
	}
	return err
}

// Flush waits for the sends of the previous source iterations and releases
// the plan they were made from
func (r *Component) Flush(ctx context.Context) error {
	err := comm.WaitAll(ctx, r.pending)
	r.pending = nil
	r.plan = nil
	if err != nil {
		return r.fail("Flush", err)
	}
	return nil
}

// Shutdown drops the pending sends without waiting for them and forgets the
// chunk kept for this rank
func (r *Component) Shutdown() {
	r.pending = nil
	r.plan = nil
	r.transit, r.hasTransit = nil, false
}

// ClearBuffers releases the split buffers reused across iterations
func (r *Component) ClearBuffers() { r.buffers = nil }
