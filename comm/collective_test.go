package comm

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notargets/DGFlow/errs"
)

func TestCollectives(t *testing.T) {
	// Rank 0 stays outside the group
	g := Group{First: 1, Count: 3}
	var mu sync.Mutex
	results := map[int]map[string]any{}
	record := func(rank int, key string, v any) {
		mu.Lock()
		defer mu.Unlock()
		if results[rank] == nil {
			results[rank] = map[string]any{}
		}
		results[rank][key] = v
	}

	err := RunLocal(context.Background(), 4, func(ctx context.Context, c Communicator) error {
		if !g.Contains(c.Rank()) {
			return nil
		}
		me := g.Local(c.Rank())

		sum, err := ReduceSum(ctx, c, g, 1, 10, []int{me, 1, 10 * me})
		if err != nil {
			return err
		}
		record(c.Rank(), "reduce", sum)

		var counts []int
		if me == 1 {
			counts = sum
		}
		got, err := Scatter(ctx, c, g, 1, 11, counts)
		if err != nil {
			return err
		}
		record(c.Rank(), "scatter", got)

		prefix, err := ScanSum(ctx, c, g, 12, 5+me)
		if err != nil {
			return err
		}
		record(c.Rank(), "scan", prefix)

		total, err := AllreduceSum(ctx, c, g, 13, 5+me)
		if err != nil {
			return err
		}
		record(c.Rank(), "allreduce", total)

		lo, hi, err := AllreduceMinMax(ctx, c, g, 14,
			[]float32{float32(me), -float32(me)}, []float32{float32(me), -float32(me)})
		if err != nil {
			return err
		}
		record(c.Rank(), "minmax", [][]float32{lo, hi})

		var payload []byte
		if me == 2 {
			payload = []byte("from the last member")
		}
		data, err := Bcast(ctx, c, g, 2, 15, payload)
		if err != nil {
			return err
		}
		record(c.Rank(), "bcast", string(data))
		return Barrier(ctx, c, g, 16)
	})
	require.NoError(t, err)

	for r := 1; r <= 3; r++ {
		me := r - 1
		res := results[r]
		if me == 1 {
			assert.Equal(t, []int{3, 3, 30}, res["reduce"])
		} else {
			assert.Nil(t, res["reduce"])
		}
		assert.Equal(t, []int{3, 3, 30}[me], res["scatter"], "rank %d", r)
		assert.Equal(t, []int{0, 5, 11}[me], res["scan"], "rank %d", r)
		assert.Equal(t, 18, res["allreduce"])
		assert.Equal(t, [][]float32{{0, -2}, {2, 0}}, res["minmax"])
		assert.Equal(t, "from the last member", res["bcast"])
	}
	assert.NotContains(t, results, 0)
}

func TestCollectiveGeometryErrors(t *testing.T) {
	w := NewLocalWorld(2)
	ctx := context.Background()
	_, err := ReduceSum(ctx, w.Rank(0), Group{First: 1, Count: 1}, 0, 1, nil)
	assert.ErrorIs(t, err, errs.ErrGroupGeometry)
	_, err = Scatter(ctx, w.Rank(0), Group{First: 0, Count: 1}, 3, 1, nil)
	assert.ErrorIs(t, err, errs.ErrGroupGeometry)
	_, err = Scatter(ctx, w.Rank(0), Group{First: 0, Count: 1}, 0, 1, []int{1, 2})
	assert.ErrorIs(t, err, errs.ErrGroupGeometry)

	// A single member group needs no message
	total, err := AllreduceSum(ctx, w.Rank(1), Group{First: 1, Count: 1}, 1, 42)
	require.NoError(t, err)
	assert.Equal(t, 42, total)
}
