package container

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notargets/DGFlow/block"
	"github.com/notargets/DGFlow/errs"
	"github.com/notargets/DGFlow/field"
)

// particles builds n particles on the x axis starting at x0, with ids from id0
func particles(t *testing.T, n int, x0 float32, id0 int32) *Container {
	t.Helper()
	pos := make([]float32, 0, 3*n)
	ids := make([]int32, 0, n)
	for i := 0; i < n; i++ {
		pos = append(pos, x0+float32(i), 0.5, 0.5)
		ids = append(ids, id0+int32(i))
	}
	c := New()
	require.NoError(t, c.Append("pos", field.NewArray(pos, 3),
		field.Pos, field.Private, field.SplitDefault, field.MergeAppendValues))
	require.NoError(t, c.Append("id", field.NewArray(ids, 1),
		field.NoFlag, field.Private, field.SplitDefault, field.MergeAppendValues))
	require.NoError(t, c.Append("nb", field.NewScalar(int32(n)),
		field.NbItem, field.Private, field.SplitMinusItemCount, field.MergeAddValue))
	require.NoError(t, c.Append("step", field.NewScalar[uint32](9),
		field.NoFlag, field.System, field.SplitKeepValue, field.MergeFirstValue))
	return c
}

func ids(t *testing.T, c *Container) []int32 {
	t.Helper()
	a, ok := ArrayField[int32](c, "id")
	require.True(t, ok)
	return a.Values()
}

func TestAppendCoherence(t *testing.T) {
	c := particles(t, 5, 0, 0)
	assert.Equal(t, 5, c.ItemCount())
	assert.Equal(t, 4, c.FieldCount())
	assert.True(t, c.Countable())

	err := c.Append("mass", field.NewArray(make([]float64, 6), 1),
		field.NoFlag, field.Private, field.SplitDefault, field.MergeDefault)
	assert.ErrorIs(t, err, ErrItemCountMismatch)
	assert.False(t, c.Has("mass"))
	assert.Equal(t, 5, c.ItemCount())

	// Shared fields obey the count too
	assert.ErrorIs(t, c.Append("table", field.NewArray(make([]float64, 6), 1),
		field.NoFlag, field.Shared, field.SplitKeepValue, field.MergeFirstValue), ErrItemCountMismatch)
	assert.False(t, c.Has("table"))
	assert.True(t, c.Countable())
	require.NoError(t, c.Append("table", field.NewArray(make([]float64, 5), 1),
		field.NoFlag, field.Shared, field.SplitKeepValue, field.MergeFirstValue))
	require.NoError(t, c.Append("dt", field.NewScalar[float64](0.1),
		field.NoFlag, field.Shared, field.SplitKeepValue, field.MergeFirstValue))
	assert.Equal(t, 5, c.ItemCount())

	// System fields stay out of the count
	require.NoError(t, c.Append("tags", field.NewArray(make([]uint32, 2), 1),
		field.NoFlag, field.System, field.SplitKeepValue, field.MergeFirstValue))
	assert.Equal(t, 5, c.ItemCount())

	assert.ErrorIs(t, c.Append("id", field.NewScalar[int32](0),
		field.NoFlag, field.Private, field.SplitDefault, field.MergeDefault), ErrDuplicateField)

	assert.ErrorIs(t, c.Append("key", field.NewArray([]float64{1, 2, 3}, 3),
		field.Pos, field.Private, field.SplitDefault, field.MergeDefault), ErrKeyType)
	assert.ErrorIs(t, c.Append("key", field.NewArray([]int32{1, 2, 3, 4, 5}, 1),
		field.Morton, field.Private, field.SplitDefault, field.MergeDefault), ErrKeyType)

	scalars := New()
	assert.Equal(t, 0, scalars.ItemCount())
	require.NoError(t, scalars.Append("x", field.NewScalar[float32](1),
		field.NoFlag, field.Private, field.SplitDefault, field.MergeDefault))
	assert.Equal(t, 1, scalars.ItemCount())

	require.True(t, c.Remove("table"))
	assert.False(t, c.Remove("table"))
	require.NoError(t, c.Update("id", field.NewArray([]int32{9, 8, 7, 6, 5}, 1)))
	assert.Equal(t, []int32{9, 8, 7, 6, 5}, ids(t, c))
	assert.ErrorIs(t, c.Update("id", field.NewArray([]int32{1, 2}, 1)), ErrItemCountMismatch)
	assert.Len(t, ids(t, c), 5)
	assert.ErrorIs(t, c.Update("nope", field.NewScalar[int32](1)), ErrFieldNotFound)
}

func TestQueries(t *testing.T) {
	c := particles(t, 3, 0, 0)
	assert.Equal(t, []string{"id", "nb", "pos", "step"}, c.Names())
	assert.Equal(t, []string{"id", "nb", "pos"}, c.UserNames())
	assert.True(t, c.HasData())
	assert.True(t, c.HasSystem())
	assert.False(t, c.IsSystemOnly())
	assert.Equal(t, "Array_float32", c.Typename("pos"))
	assert.Equal(t, "", c.Typename("missing"))

	m, ok := c.Meta("nb")
	require.True(t, ok)
	assert.Equal(t, field.SplitMinusItemCount, m.Split)

	_, ok = ScalarField[float32](c, "nb")
	assert.False(t, ok, "wrong element type")
	nb, ok := ScalarField[int32](c, "nb")
	require.True(t, ok)
	assert.Equal(t, int32(3), nb.Get())
	_, ok = BlockField(c, "pos")
	assert.False(t, ok)
	_, ok = Array3DField[float32](c, "missing")
	assert.False(t, ok)

	pos, ok := c.PositionKey()
	require.True(t, ok)
	assert.Len(t, pos, 9)
	_, ok = c.MortonKey()
	assert.False(t, ok)

	sys := c.SystemOnly()
	assert.True(t, sys.IsSystemOnly())
	assert.Equal(t, []string{"step"}, sys.Names())
}

func TestOrders(t *testing.T) {
	var buf bytes.Buffer
	c := New(WithLogger(slog.New(slog.NewTextHandler(&buf, nil))))
	require.NoError(t, c.Append("a", field.NewScalar[int32](1),
		field.NoFlag, field.Private, field.SplitDefault, field.MergeDefault))
	require.NoError(t, c.Append("b", field.NewScalar[int32](2),
		field.NoFlag, field.Private, field.SplitDefault, field.MergeDefault))

	assert.ErrorIs(t, c.SetMergeOrder([]string{"a"}), ErrNotPermutation)
	assert.ErrorIs(t, c.SetMergeOrder([]string{"a", "a"}), ErrNotPermutation)
	assert.ErrorIs(t, c.SetSplitOrder([]string{"a", "c"}), ErrNotPermutation)

	require.NoError(t, c.SetMergeOrder([]string{"b", "a"}))
	require.NoError(t, c.SetSplitOrder([]string{"b", "a"}))
	assert.Equal(t, []string{"b", "a"}, c.MergeOrder())
	assert.False(t, c.OrderInvalidated())

	require.NoError(t, c.Append("c", field.NewScalar[int32](3),
		field.NoFlag, field.Private, field.SplitDefault, field.MergeDefault))
	assert.True(t, c.OrderInvalidated())
	assert.Empty(t, c.MergeOrder())
	assert.Empty(t, c.SplitOrder())
	assert.Contains(t, buf.String(), "clearing split and merge orders")
}

func TestSplitByCounts(t *testing.T) {
	c := particles(t, 17, 0, 0)

	children, err := c.Split([]int{4, 4, 3, 3, 3})
	require.NoError(t, err)
	require.Len(t, children, 5)
	for i, want := range []int{4, 4, 3, 3, 3} {
		assert.Equal(t, want, children[i].ItemCount(), "child %d", i)
		nb, _ := ScalarField[int32](children[i], "nb")
		assert.Equal(t, int32(want), nb.Get(), "count scalar of child %d", i)
		step, _ := ScalarField[uint32](children[i], "step")
		assert.Equal(t, uint32(9), step.Get())
		m, _ := children[i].Meta("pos")
		assert.Equal(t, field.Pos, m.Flags)
	}
	assert.Equal(t, []int32{8, 9, 10}, ids(t, children[2]))

	_, err = c.Split([]int{4, 4})
	require.ErrorIs(t, err, ErrItemCountMismatch)
	assert.Contains(t, err.Error(), "expected 17 items, counts hold 8")

	g := New()
	a, err := field.NewArray3D(make([]float32, 8), [3]int{2, 2, 2}, block.New())
	require.NoError(t, err)
	require.NoError(t, g.Append("grid", a, field.NoFlag, field.Private, field.SplitDefault, field.MergeDefault))
	assert.False(t, g.Countable())
	_, err = g.Split([]int{8})
	assert.ErrorIs(t, err, errs.ErrNotCountable)
}

func TestSplitMergeRoundTrip(t *testing.T) {
	c := particles(t, 10, 0, 0)
	children, err := c.SplitIndexes([][]int{{0, 2, 6, 4, 6}, {2, 4, 4}})
	require.NoError(t, err)
	assert.Equal(t, []int32{0, 1, 6, 7, 8, 9}, ids(t, children[0]))

	merged := New()
	for _, ch := range children {
		require.NoError(t, merged.Merge(ch))
	}
	assert.Equal(t, 10, merged.ItemCount())
	assert.ElementsMatch(t, ids(t, c), ids(t, merged))
	nb, _ := ScalarField[int32](merged, "nb")
	assert.Equal(t, int32(10), nb.Get())
	step, _ := ScalarField[uint32](merged, "step")
	assert.Equal(t, uint32(9), step.Get())

	// Merging the other way round holds the same items
	other := children[1].Clone()
	require.NoError(t, other.Merge(children[0]))
	assert.ElementsMatch(t, ids(t, merged), ids(t, other))
	assert.Equal(t, merged.ItemCount(), other.ItemCount())
}

func TestMergeSpecialCases(t *testing.T) {
	src := particles(t, 4, 0, 0)

	empty := New()
	require.NoError(t, empty.Merge(src))
	assert.Equal(t, 4, empty.ItemCount())
	// Adoption copies
	ids(t, empty)[0] = 42
	assert.Equal(t, int32(0), ids(t, src)[0])

	sys := New()
	require.NoError(t, sys.Append("tick", field.NewScalar[int32](3),
		field.NoFlag, field.System, field.SplitKeepValue, field.MergeFirstValue))
	require.NoError(t, src.Merge(sys))
	assert.True(t, src.Has("tick"))
	assert.Equal(t, 4, src.ItemCount())

	// Incompatible field sets leave the receiver untouched
	bad := particles(t, 2, 0, 100)
	require.True(t, bad.Remove("nb"))
	before := ids(t, empty)
	err := empty.Merge(bad)
	assert.ErrorIs(t, err, ErrIncompatible)
	assert.Equal(t, before, ids(t, empty))

	wrongType := particles(t, 2, 0, 100)
	require.NoError(t, wrongType.Update("nb", field.NewScalar[float32](2)))
	assert.ErrorIs(t, empty.Merge(wrongType), ErrIncompatible)
	assert.Equal(t, 4, empty.ItemCount())
}

func TestMergeOrderIsFollowed(t *testing.T) {
	c := particles(t, 2, 0, 0)
	require.NoError(t, c.SetMergeOrder([]string{"step", "pos", "nb", "id"}))
	require.NoError(t, c.Merge(particles(t, 3, 10, 10)))
	assert.Equal(t, []int32{0, 1, 10, 11, 12}, ids(t, c))
	assert.Equal(t, 5, c.ItemCount())
}

func TestSplitBlocksByPosition(t *testing.T) {
	c := particles(t, 8, 0.5, 0)

	dom := block.New()
	dom.SetGridspacing(1)
	dom.SetGlobalBBox(block.BBox{0, 0, 0, 8, 1, 1})
	dom.SetGlobalExtents(block.Extents{0, 0, 0, 8, 1, 1})
	subs, err := dom.Split(2)
	require.NoError(t, err)
	require.NoError(t, c.Append("domain", field.NewBlock(dom),
		field.NoFlag, field.System, field.SplitDefault, field.MergeDefault))

	children, err := c.SplitBlocks(subs)
	require.NoError(t, err)
	assert.Equal(t, []int32{0, 1, 2, 3}, ids(t, children[0]))
	assert.Equal(t, []int32{4, 5, 6, 7}, ids(t, children[1]))
	nb, _ := ScalarField[int32](children[1], "nb")
	assert.Equal(t, int32(4), nb.Get())
	_, ok := BlockField(children[0], "domain")
	assert.True(t, ok)

	noKey := New()
	require.NoError(t, noKey.Append("v", field.NewArray([]float64{1, 2}, 1),
		field.NoFlag, field.Private, field.SplitDefault, field.MergeDefault))
	_, err = noKey.SplitBlocks(subs)
	assert.ErrorIs(t, err, ErrNoZCurveKey)
}

func TestSplitBlocksByMorton(t *testing.T) {
	keys := []uint32{
		block.MortonEncode(0, 0, 0),
		block.MortonEncode(3, 1, 0),
		block.MortonEncode(1, 3, 2),
		block.MortonEncode(2, 0, 3),
	}
	c := New()
	require.NoError(t, c.Append("morton", field.NewArray(keys, 1),
		field.Morton, field.Private, field.SplitDefault, field.MergeAppendValues))

	left, right := block.New(), block.New()
	left.SetLocalExtents(block.Extents{0, 0, 0, 2, 4, 4})
	right.SetLocalExtents(block.Extents{2, 0, 0, 2, 4, 4})
	children, err := c.SplitBlocks([]*block.Descriptor{left, right})
	require.NoError(t, err)

	l, _ := ArrayField[uint32](children[0], "morton")
	r, _ := ArrayField[uint32](children[1], "morton")
	assert.Equal(t, []uint32{keys[0], keys[2]}, l.Values())
	assert.Equal(t, []uint32{keys[1], keys[3]}, r.Values())
}

func TestSplitIntoReusesBuffers(t *testing.T) {
	c := particles(t, 6, 0, 0)
	buffers := c.Prealloc(2, 8)
	posBuf, _ := ArrayField[float32](buffers[0], "pos")

	children, err := c.SplitInto([]int{3, 3}, buffers)
	require.NoError(t, err)
	assert.Same(t, buffers[0], children[0])
	pos, _ := ArrayField[float32](children[0], "pos")
	assert.Same(t, posBuf, pos)
	assert.Equal(t, []int32{3, 4, 5}, ids(t, children[1]))

	// A second iteration starts from soft-cleaned buffers
	next := particles(t, 4, 0, 100)
	children, err = next.SplitInto([]int{1, 3}, children)
	require.NoError(t, err)
	assert.Equal(t, []int32{100}, ids(t, children[0]))
	assert.Equal(t, 1, children[0].ItemCount())
	assert.Equal(t, 3, children[1].ItemCount())
}

func TestSoftClean(t *testing.T) {
	c := particles(t, 5, 0, 0)
	c.SoftClean()
	assert.Equal(t, 4, c.FieldCount())
	assert.Equal(t, 0, c.ItemCount())
	a, _ := ArrayField[int32](c, "id")
	assert.Equal(t, 5, cap(a.Values()))

	// Scalars such as the system step survive for the next iteration
	step, ok := ScalarField[uint32](c, "step")
	require.True(t, ok)
	assert.Equal(t, uint32(9), step.Get())
}
