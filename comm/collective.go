package comm

import (
	"context"
	"fmt"
	"slices"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/notargets/DGFlow/errs"
)

// Collectives run over the members of a Group. Every member calls the same
// collective with the same tag, ranks outside the group never do. Member
// indexes (root) are local to the group.

func sendValue(ctx context.Context, c Communicator, dest, tag int, v any) error {
	data, err := msgpack.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode for rank %d: %w", dest, err)
	}
	return c.Isend(ctx, dest, tag, data).Wait(ctx)
}

func recvValue[T any](ctx context.Context, c Communicator, tag int) (T, int, error) {
	var v T
	m, err := c.Recv(ctx, tag)
	if err != nil {
		return v, -1, err
	}
	if err := msgpack.Unmarshal(m.Data, &v); err != nil {
		return v, m.Source, fmt.Errorf("decode from rank %d: %w", m.Source, err)
	}
	return v, m.Source, nil
}

func member(c Communicator, g Group, root int) (int, error) {
	if !g.Contains(c.Rank()) {
		return 0, fmt.Errorf("%w: rank %d outside group [%d,%d]",
			errs.ErrGroupGeometry, c.Rank(), g.First, g.Last())
	}
	if root < 0 || root >= g.Count {
		return 0, fmt.Errorf("%w: root %d outside a group of %d", errs.ErrGroupGeometry, root, g.Count)
	}
	return g.Local(c.Rank()), nil
}

// ReduceSum adds vals elementwise over the group. Member root gets the sum,
// the others get nil.
func ReduceSum(ctx context.Context, c Communicator, g Group, root, tag int, vals []int) ([]int, error) {
	me, err := member(c, g, root)
	if err != nil {
		return nil, err
	}
	if me != root {
		return nil, sendValue(ctx, c, g.Global(root), tag, vals)
	}
	sum := slices.Clone(vals)
	for i := 1; i < g.Count; i++ {
		v, src, err := recvValue[[]int](ctx, c, tag)
		if err != nil {
			return nil, fmt.Errorf("reduce: %w", err)
		}
		if len(v) != len(sum) {
			return nil, fmt.Errorf("reduce: %w: rank %d sent %d values, expected %d",
				errs.ErrGroupGeometry, src, len(v), len(sum))
		}
		for k := range sum {
			sum[k] += v[k]
		}
	}
	return sum, nil
}

// Scatter hands vals[i] of member root to member i
func Scatter(ctx context.Context, c Communicator, g Group, root, tag int, vals []int) (int, error) {
	me, err := member(c, g, root)
	if err != nil {
		return 0, err
	}
	if me != root {
		v, _, err := recvValue[int](ctx, c, tag)
		if err != nil {
			return 0, fmt.Errorf("scatter: %w", err)
		}
		return v, nil
	}
	if len(vals) != g.Count {
		return 0, fmt.Errorf("scatter: %w: %d values for %d members", errs.ErrGroupGeometry, len(vals), g.Count)
	}
	reqs := make([]Request, 0, g.Count-1)
	for i, v := range vals {
		if i == root {
			continue
		}
		data, err := msgpack.Marshal(v)
		if err != nil {
			return 0, err
		}
		reqs = append(reqs, c.Isend(ctx, g.Global(i), tag, data))
	}
	if err := WaitAll(ctx, reqs); err != nil {
		return 0, fmt.Errorf("scatter: %w", err)
	}
	return vals[root], nil
}

// ScanSum returns the sum of v over the members with a lower index
func ScanSum(ctx context.Context, c Communicator, g Group, tag, v int) (int, error) {
	me, err := member(c, g, 0)
	if err != nil {
		return 0, err
	}
	prefix := 0
	if me > 0 {
		if prefix, _, err = recvValue[int](ctx, c, tag); err != nil {
			return 0, fmt.Errorf("scan: %w", err)
		}
	}
	if me < g.Count-1 {
		if err := sendValue(ctx, c, g.Global(me+1), tag, prefix+v); err != nil {
			return 0, fmt.Errorf("scan: %w", err)
		}
	}
	return prefix, nil
}

// Bcast hands data of member root to every member
func Bcast(ctx context.Context, c Communicator, g Group, root, tag int, data []byte) ([]byte, error) {
	me, err := member(c, g, root)
	if err != nil {
		return nil, err
	}
	if me != root {
		m, err := c.Recv(ctx, tag)
		if err != nil {
			return nil, fmt.Errorf("bcast: %w", err)
		}
		return m.Data, nil
	}
	reqs := make([]Request, 0, g.Count-1)
	for i := 0; i < g.Count; i++ {
		if i != root {
			reqs = append(reqs, c.Isend(ctx, g.Global(i), tag, data))
		}
	}
	if err := WaitAll(ctx, reqs); err != nil {
		return nil, fmt.Errorf("bcast: %w", err)
	}
	return data, nil
}

// AllreduceSum returns the sum of v over every member
func AllreduceSum(ctx context.Context, c Communicator, g Group, tag, v int) (int, error) {
	sum, err := ReduceSum(ctx, c, g, 0, tag, []int{v})
	if err != nil {
		return 0, err
	}
	var data []byte
	if sum != nil {
		if data, err = msgpack.Marshal(sum[0]); err != nil {
			return 0, err
		}
	}
	if data, err = Bcast(ctx, c, g, 0, tag, data); err != nil {
		return 0, err
	}
	var total int
	if err := msgpack.Unmarshal(data, &total); err != nil {
		return 0, fmt.Errorf("allreduce: %w", err)
	}
	return total, nil
}

type span struct {
	Lo []float32 `msgpack:"lo"`
	Hi []float32 `msgpack:"hi"`
}

// AllreduceMinMax returns the elementwise minimum of lo and maximum of hi
// over every member
func AllreduceMinMax(ctx context.Context, c Communicator, g Group, tag int, lo, hi []float32) ([]float32, []float32, error) {
	me, err := member(c, g, 0)
	if err != nil {
		return nil, nil, err
	}
	if me != 0 {
		if err := sendValue(ctx, c, g.Global(0), tag, span{Lo: lo, Hi: hi}); err != nil {
			return nil, nil, fmt.Errorf("allreduce min/max: %w", err)
		}
	} else {
		acc := span{Lo: slices.Clone(lo), Hi: slices.Clone(hi)}
		for i := 1; i < g.Count; i++ {
			s, src, err := recvValue[span](ctx, c, tag)
			if err != nil {
				return nil, nil, fmt.Errorf("allreduce min/max: %w", err)
			}
			if len(s.Lo) != len(acc.Lo) || len(s.Hi) != len(acc.Hi) {
				return nil, nil, fmt.Errorf("allreduce min/max: %w: rank %d sent %d/%d values",
					errs.ErrGroupGeometry, src, len(s.Lo), len(s.Hi))
			}
			for k := range acc.Lo {
				acc.Lo[k] = min(acc.Lo[k], s.Lo[k])
			}
			for k := range acc.Hi {
				acc.Hi[k] = max(acc.Hi[k], s.Hi[k])
			}
		}
		lo, hi = acc.Lo, acc.Hi
	}

	var data []byte
	if me == 0 {
		if data, err = msgpack.Marshal(span{Lo: lo, Hi: hi}); err != nil {
			return nil, nil, err
		}
	}
	if data, err = Bcast(ctx, c, g, 0, tag, data); err != nil {
		return nil, nil, err
	}
	var s span
	if err := msgpack.Unmarshal(data, &s); err != nil {
		return nil, nil, fmt.Errorf("allreduce min/max: %w", err)
	}
	return s.Lo, s.Hi, nil
}

// Barrier returns once every member has entered it
func Barrier(ctx context.Context, c Communicator, g Group, tag int) error {
	_, err := AllreduceSum(ctx, c, g, tag, 0)
	return err
}
