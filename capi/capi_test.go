package capi

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notargets/DGFlow/comm"
	"github.com/notargets/DGFlow/errs"
	"github.com/notargets/DGFlow/field"
	"github.com/notargets/DGFlow/partitions"
	"github.com/notargets/DGFlow/redist"
)

func quiet() *Registry {
	return NewRegistry(WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
}

// particles registers a container of n particles with ids starting at first
func particles(t *testing.T, r *Registry, first, n int) Handle {
	t.Helper()
	ids := make([]int32, n)
	pos := make([]float32, 3*n)
	for i := range ids {
		ids[i] = int32(first + i)
		pos[3*i] = float32(i)
	}
	c := r.CreateContainer()
	require.NotZero(t, c)
	require.True(t, r.AppendField(c, "id", r.CreateArrayField(ids, TypeInt, 1, false),
		field.NoFlag, field.Private, field.SplitDefault, field.MergeAppendValues))
	require.True(t, r.AppendField(c, "pos", r.CreateArrayField(pos, TypeFloat, 3, true),
		field.Pos, field.Private, field.SplitDefault, field.MergeAppendValues))
	require.True(t, r.AppendField(c, "count", r.CreateScalarField(int32(n), TypeInt),
		field.NbItem, field.Private, field.SplitMinusItemCount, field.MergeAddValue))
	return c
}

func ids(t *testing.T, r *Registry, c Handle) []int32 {
	t.Helper()
	f := r.GetArrayField(c, "id", TypeInt)
	require.NotZero(t, f, "%v", r.LastError())
	v, ok := r.GetArray(f, TypeInt)
	require.True(t, ok)
	r.FreeField(f)
	return v.([]int32)
}

func TestFieldRoundTrip(t *testing.T) {
	r := quiet()
	c := particles(t, r, 10, 4)
	assert.Equal(t, 4, r.ContainerItemCount(c))
	assert.Equal(t, []int32{10, 11, 12, 13}, ids(t, r, c))

	s := r.GetScalarField(c, "count", TypeInt)
	require.NotZero(t, s)
	v, ok := r.GetScalar(s, TypeInt)
	require.True(t, ok)
	assert.Equal(t, int32(4), v)
	assert.Equal(t, 1, r.FieldItemCount(s))

	want := BlockSpec{
		Gridspacing:   0.5,
		GhostWidth:    -1,
		GlobalBBox:    []float32{0, 0, 0, 4, 4, 4},
		GlobalExtents: []uint32{0, 0, 0, 8, 8, 8},
	}
	b := r.CreateBlockField(want)
	require.NotZero(t, b)
	require.True(t, r.AppendField(c, "domain", b, field.NoFlag, field.Shared, field.SplitKeepValue, field.MergeFirstValue))
	got, ok := r.GetBlock(r.GetBlockField(c, "domain"))
	require.True(t, ok)
	assert.Equal(t, want, got)
}

func TestArrayOwnership(t *testing.T) {
	r := quiet()
	data := []float64{1, 2, 3}
	shared := r.CreateArrayField(data, TypeDouble, 1, false)
	owned := r.CreateArrayField(data, TypeDouble, 1, true)
	data[0] = 42

	v, ok := r.GetArray(shared, TypeDouble)
	require.True(t, ok)
	assert.Equal(t, []float64{42, 2, 3}, v)
	v, ok = r.GetArray(owned, TypeDouble)
	require.True(t, ok)
	assert.Equal(t, []float64{1, 2, 3}, v)
}

func TestTypeMismatch(t *testing.T) {
	r := quiet()
	assert.Zero(t, r.CreateScalarField(float32(1), TypeInt))
	assert.ErrorIs(t, r.LastError(), errs.ErrInvalidArgument)

	assert.Zero(t, r.CreateArrayField([]float64{1, 2, 3}, TypeDouble, 2, false))
	assert.Zero(t, r.CreateArrayField([]int32{1}, TypeBlock, 1, true))
	assert.Zero(t, r.CreateBlockField(BlockSpec{GlobalBBox: []float32{1, 2}}))

	c := particles(t, r, 0, 2)
	assert.Zero(t, r.GetArrayField(c, "id", TypeFloat))
	assert.Zero(t, r.GetScalarField(c, "missing", TypeInt))

	f := r.CreateArrayField([]uint32{1, 2}, TypeUnsigned, 1, false)
	_, ok := r.GetArray(f, TypeInt)
	assert.False(t, ok)
	_, ok = r.GetScalar(f, TypeUnsigned)
	assert.False(t, ok)
	_, ok = r.GetBlock(f)
	assert.False(t, ok)

	// A field handle is not a container
	assert.Equal(t, -1, r.ContainerItemCount(f))
	assert.False(t, r.MergeContainers(c, f))
	assert.Equal(t, -1, r.FieldItemCount(Handle(999)))
}

func TestSplitAndMerge(t *testing.T) {
	r := quiet()
	c := particles(t, r, 0, 5)
	parts := r.SplitByRange(c, []int{2, 3})
	require.Len(t, parts, 2)
	assert.Equal(t, []int32{0, 1}, ids(t, r, parts[0]))
	assert.Equal(t, []int32{2, 3, 4}, ids(t, r, parts[1]))

	require.True(t, r.MergeContainers(parts[1], parts[0]))
	assert.Equal(t, []int32{2, 3, 4, 0, 1}, ids(t, r, parts[1]))
	assert.Equal(t, 5, r.ContainerItemCount(parts[1]))

	into := []Handle{r.CreateContainer(), r.CreateContainer()}
	require.True(t, r.SplitByRangeInto(c, []int{4, 1}, into), "%v", r.LastError())
	assert.Equal(t, []int32{0, 1, 2, 3}, ids(t, r, into[0]))
	assert.Equal(t, []int32{4}, ids(t, r, into[1]))
	require.True(t, r.SplitByRangeInto(c, []int{1, 4}, into))
	assert.Equal(t, []int32{0}, ids(t, r, into[0]))
	assert.Equal(t, 4, r.ContainerItemCount(into[1]))
	assert.False(t, r.SplitByRangeInto(c, []int{5}, into))
	assert.ErrorIs(t, r.LastError(), errs.ErrInvalidArgument)

	assert.Nil(t, r.SplitByRange(c, []int{1, 1}))
	assert.Error(t, r.LastError())

	before := r.Len()
	r.FreeContainer(parts[0])
	assert.Equal(t, before-1, r.Len())
	assert.Equal(t, -1, r.ContainerItemCount(parts[0]))
}

func TestRedistribution(t *testing.T) {
	r := quiet()
	sources := []Handle{particles(t, r, 0, 3), particles(t, r, 10, 3)}
	dests := []Handle{r.CreateContainer(), r.CreateContainer()}
	err := comm.RunLocal(context.Background(), 4, func(ctx context.Context, c comm.Communicator) error {
		h := r.CreateRedist(partitions.Count, 0, 2, 2, 2, c)
		if h == 0 {
			return r.LastError()
		}
		defer r.FreeRedist(h)

		if rank := c.Rank(); rank < 2 {
			if !r.Process(ctx, sources[rank], h, redist.RoleSource) || !r.Flush(ctx, h) {
				return r.LastError()
			}
		} else if !r.Process(ctx, dests[rank-2], h, redist.RoleDest) {
			return r.LastError()
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []int32{0, 1, 2}, ids(t, r, dests[0]))
	assert.Equal(t, []int32{10, 11, 12}, ids(t, r, dests[1]))
	assert.Equal(t, 3, r.ContainerItemCount(sources[0]), "sources keep their data")
}

func TestRedistRejectsBadGeometry(t *testing.T) {
	r := quiet()
	w := comm.NewLocalWorld(2)
	assert.Zero(t, r.CreateRedist(partitions.Proc, 0, 2, 0, 3, w.Rank(0)))
	assert.True(t, errs.IsFatal(r.LastError()))
	assert.False(t, r.Process(context.Background(), Handle(1), Handle(2), redist.RoleSource))
}
