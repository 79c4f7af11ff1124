package block

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newDomain builds a 100^3 unit grid with the given local extents
func newDomain(local Extents) *Descriptor {
	b := New()
	b.SetGridspacing(1)
	b.SetGlobalBBox(BBox{0, 0, 0, 100, 100, 100})
	b.SetGlobalExtents(Extents{0, 0, 0, 100, 100, 100})
	b.SetLocalExtents(local)
	b.SetLocalBBox(b.bboxOf(local))
	return b
}

func TestMissingAttributes(t *testing.T) {
	b := New()

	_, err := b.Gridspacing()
	assert.True(t, errors.Is(err, ErrMissingAttribute))
	_, err = b.LocalExtents()
	assert.ErrorIs(t, err, ErrMissingAttribute)
	assert.Contains(t, err.Error(), "local extents")

	_, err = b.IsInLocalBBox(0, 0, 0)
	assert.ErrorIs(t, err, ErrMissingAttribute)
	assert.ErrorIs(t, b.UpdateExtents(), ErrMissingAttribute)
	assert.ErrorIs(t, b.BuildGhostRegion(2), ErrMissingAttribute)

	// A zero ghost width is distinguishable from an unset one
	b.SetGhostWidth(0)
	w, err := b.GhostWidth()
	require.NoError(t, err)
	assert.Equal(t, uint32(0), w)
}

func TestUpdateExtentsRoundsUp(t *testing.T) {
	b := New()
	b.SetGridspacing(0.5)
	b.SetGlobalBBox(BBox{-1, 0, 0, 10.2, 4, 1})
	b.SetLocalBBox(BBox{1, 0, 0, 2.2, 1, 1})
	require.NoError(t, b.UpdateExtents())

	g, err := b.GlobalExtents()
	require.NoError(t, err)
	assert.Equal(t, Extents{0, 0, 0, 21, 8, 2}, g)

	l, err := b.LocalExtents()
	require.NoError(t, err)
	assert.Equal(t, Extents{4, 0, 0, 5, 2, 2}, l)
}

func TestGhostRegionSaturates(t *testing.T) {
	owned := Extents{40, 40, 40, 20, 20, 20}

	b := newDomain(owned)
	require.NoError(t, b.BuildGhostRegion(10))
	local, err := b.LocalExtents()
	require.NoError(t, err)
	assert.Equal(t, Extents{30, 30, 30, 40, 40, 40}, local)
	own, err := b.OwnedExtents()
	require.NoError(t, err)
	assert.Equal(t, owned, own)

	b = newDomain(owned)
	require.NoError(t, b.BuildGhostRegion(50))
	local, _ = b.LocalExtents()
	for d := 0; d < Dim; d++ {
		assert.Equal(t, uint32(0), local[d], "origin axis %d", d)
		assert.Equal(t, uint32(90), local.End(d), "end axis %d", d)
	}

	// Local box follows the extents
	box, err := b.LocalBBox()
	require.NoError(t, err)
	assert.Equal(t, BBox{0, 0, 0, 90, 90, 90}, box)

	// Zero width keeps local == owned
	b = newDomain(owned)
	require.NoError(t, b.BuildGhostRegion(0))
	local, _ = b.LocalExtents()
	own, _ = b.OwnedExtents()
	assert.Equal(t, own, local)
}

func TestUnion(t *testing.T) {
	a := newDomain(Extents{0, 0, 0, 10, 10, 10})
	c := newDomain(Extents{5, 20, 0, 10, 5, 30})
	c.SetOwnedExtents(Extents{5, 20, 0, 1, 1, 1})

	u := a.Union(c)
	local, err := u.LocalExtents()
	require.NoError(t, err)
	assert.Equal(t, Extents{0, 0, 0, 15, 25, 30}, local)

	box, _ := u.LocalBBox()
	assert.Equal(t, BBox{0, 0, 0, 15, 25, 30}, box)

	// Owned only on one side is not merged in
	assert.False(t, u.Has(OwnedExtents))

	// Inputs are untouched
	la, _ := a.LocalExtents()
	assert.Equal(t, Extents{0, 0, 0, 10, 10, 10}, la)

	e, err := a.ExtentsUnion(c)
	require.NoError(t, err)
	le, _ := e.LocalExtents()
	assert.Equal(t, local, le)
}

func TestContainmentAndIncludes(t *testing.T) {
	b := newDomain(Extents{10, 10, 10, 10, 10, 10})

	in, err := b.IsInLocalBBox(20, 20, 20)
	require.NoError(t, err)
	assert.True(t, in, "float box includes its upper face")

	in, err = b.IsInLocalExtents(20, 15, 15)
	require.NoError(t, err)
	assert.False(t, in, "cell extents exclude their upper face")

	in, _ = b.IsInLocalExtents(19, 10, 15)
	assert.True(t, in)

	inner := newDomain(Extents{12, 10, 15, 8, 2, 5})
	ok, err := b.Includes(inner)
	require.NoError(t, err)
	assert.True(t, ok)

	outer := newDomain(Extents{12, 10, 15, 9, 2, 5})
	ok, _ = b.Includes(outer)
	assert.False(t, ok)

	same, err := b.SameExtents(b.Clone())
	require.NoError(t, err)
	assert.True(t, same)
}

func TestPositionMapping(t *testing.T) {
	b := New()
	b.SetGridspacing(0.5)
	b.SetGlobalBBox(BBox{1, 1, 1, 10, 10, 10})

	idx, err := b.GlobalPositionIndex([Dim]float32{1.0, 2.74, 3.5})
	require.NoError(t, err)
	assert.Equal(t, [Dim]uint32{0, 3, 5}, idx)

	pos, err := b.GlobalPositionValue(idx)
	require.NoError(t, err)
	assert.Equal(t, [Dim]float32{1.25, 2.75, 3.75}, pos)

	_, err = b.LocalPositionValue(idx)
	assert.ErrorIs(t, err, ErrMissingAttribute)
}

func TestSplitBisection(t *testing.T) {
	b := New()
	b.SetGridspacing(2)
	b.SetGlobalBBox(BBox{0, 0, 0, 20, 8, 8})
	b.SetGlobalExtents(Extents{0, 0, 0, 10, 4, 4})

	subs, err := b.Split(3)
	require.NoError(t, err)
	require.Len(t, subs, 3)

	want := []Extents{
		{0, 0, 0, 3, 4, 4},
		{3, 0, 0, 2, 4, 4},
		{5, 0, 0, 5, 4, 4},
	}
	total := 0
	for i, s := range subs {
		ext, err := s.LocalExtents()
		require.NoError(t, err)
		assert.Equal(t, want[i], ext, "sub-domain %d", i)
		own, _ := s.OwnedExtents()
		assert.Equal(t, ext, own)
		total += ext.Cells()
	}
	assert.Equal(t, 160, total)

	box, _ := subs[2].LocalBBox()
	assert.Equal(t, BBox{10, 0, 0, 10, 8, 8}, box)

	_, err = b.Split(161)
	assert.Error(t, err)
	_, err = New().Split(2)
	assert.ErrorIs(t, err, ErrMissingAttribute)
}

func TestSplitWithGhosts(t *testing.T) {
	b := newDomain(Extents{0, 0, 0, 100, 100, 100})
	b.SetGhostWidth(2)

	subs, err := b.Split(2)
	require.NoError(t, err)
	local, _ := subs[1].LocalExtents()
	own, _ := subs[1].OwnedExtents()
	assert.Equal(t, Extents{50, 0, 0, 50, 100, 100}, own)
	assert.Equal(t, uint32(48), local[0])
	assert.Equal(t, uint32(100), local.End(0))
}

func TestRecordRoundTrip(t *testing.T) {
	b := newDomain(Extents{1, 2, 3, 4, 5, 6})
	b.SetGhostWidth(0)

	back := FromRecord(b.ToRecord())
	assert.True(t, b.Equal(back))

	empty := FromRecord(New().ToRecord())
	assert.True(t, New().Equal(empty))
}

func TestOverlap(t *testing.T) {
	o, ok := Overlap(Extents{0, 0, 0, 10, 10, 10}, Extents{5, 8, 2, 10, 10, 3})
	require.True(t, ok)
	assert.Equal(t, Extents{5, 8, 2, 5, 2, 3}, o)

	// Touching faces share no cell
	_, ok = Overlap(Extents{0, 0, 0, 10, 10, 10}, Extents{10, 0, 0, 5, 5, 5})
	assert.False(t, ok)

	b := newDomain(Extents{0, 0, 0, 1, 1, 1})
	b.SetLocalRegion(o)
	box, _ := b.LocalBBox()
	assert.Equal(t, BBox{5, 8, 2, 5, 2, 3}, box)
}

func TestMorton(t *testing.T) {
	assert.Equal(t, uint32(0), MortonEncode(0, 0, 0))
	assert.Equal(t, uint32(1), MortonEncode(1, 0, 0))
	assert.Equal(t, uint32(2), MortonEncode(0, 1, 0))
	assert.Equal(t, uint32(4), MortonEncode(0, 0, 1))
	assert.Equal(t, uint32(7), MortonEncode(1, 1, 1))
	assert.Equal(t, uint32(511), MortonEncode(7, 7, 7))

	for _, c := range [][Dim]uint32{{0, 0, 0}, {1023, 0, 512}, {5, 900, 17}, {1023, 1023, 1023}} {
		x, y, z := MortonDecode(MortonEncode(c[0], c[1], c[2]))
		assert.Equal(t, c, [Dim]uint32{x, y, z})
	}

	// Indexes wider than 10 bits are truncated
	assert.Equal(t, MortonEncode(1, 2, 3), MortonEncode(1025, 1026, 1027))
}
