package block

// Record is the flat, serializable form of a Descriptor. Absent attributes
// travel as nil slices.
type Record struct {
	Gridspacing   *float32  `msgpack:"h,omitempty"`
	GlobalBBox    []float32 `msgpack:"gb,omitempty"`
	GlobalExtents []uint32  `msgpack:"ge,omitempty"`
	LocalBBox     []float32 `msgpack:"lb,omitempty"`
	LocalExtents  []uint32  `msgpack:"le,omitempty"`
	OwnedBBox     []float32 `msgpack:"ob,omitempty"`
	OwnedExtents  []uint32  `msgpack:"oe,omitempty"`
	GhostWidth    *uint32   `msgpack:"g,omitempty"`
}

// ToRecord flattens b
func (b *Descriptor) ToRecord() Record {
	var r Record
	if b.has[Gridspacing] {
		h := b.gridspacing
		r.Gridspacing = &h
	}
	if b.has[GhostWidth] {
		w := b.ghostWidth
		r.GhostWidth = &w
	}
	box := func(has bool, v BBox) []float32 {
		if !has {
			return nil
		}
		return append([]float32(nil), v[:]...)
	}
	ext := func(has bool, v Extents) []uint32 {
		if !has {
			return nil
		}
		return append([]uint32(nil), v[:]...)
	}
	r.GlobalBBox = box(b.has[GlobalBBox], b.global)
	r.LocalBBox = box(b.has[LocalBBox], b.local)
	r.OwnedBBox = box(b.has[OwnedBBox], b.owned)
	r.GlobalExtents = ext(b.has[GlobalExtents], b.globalExt)
	r.LocalExtents = ext(b.has[LocalExtents], b.localExt)
	r.OwnedExtents = ext(b.has[OwnedExtents], b.ownedExt)
	return r
}

// FromRecord rebuilds a Descriptor. Vectors of the wrong length are ignored.
func FromRecord(r Record) *Descriptor {
	b := New()
	if r.Gridspacing != nil {
		b.SetGridspacing(*r.Gridspacing)
	}
	if r.GhostWidth != nil {
		b.SetGhostWidth(*r.GhostWidth)
	}
	if v, ok := toBBox(r.GlobalBBox); ok {
		b.SetGlobalBBox(v)
	}
	if v, ok := toBBox(r.LocalBBox); ok {
		b.SetLocalBBox(v)
	}
	if v, ok := toBBox(r.OwnedBBox); ok {
		b.SetOwnedBBox(v)
	}
	if v, ok := toExtents(r.GlobalExtents); ok {
		b.SetGlobalExtents(v)
	}
	if v, ok := toExtents(r.LocalExtents); ok {
		b.SetLocalExtents(v)
	}
	if v, ok := toExtents(r.OwnedExtents); ok {
		b.SetOwnedExtents(v)
	}
	return b
}

func toBBox(v []float32) (box BBox, ok bool) {
	if len(v) != len(box) {
		return box, false
	}
	copy(box[:], v)
	return box, true
}

func toExtents(v []uint32) (ext Extents, ok bool) {
	if len(v) != len(ext) {
		return ext, false
	}
	copy(ext[:], v)
	return ext, true
}
