package block

import (
	"fmt"
	"math"
)

// Union returns a descriptor spanning b and other. For each bounding box and
// extents attribute present on both sides the result takes the minimum origin
// and the maximum end; attributes present on only one side are copied from b.
func (b *Descriptor) Union(other *Descriptor) *Descriptor {
	u := b.Clone()
	if other == nil {
		return u
	}
	if b.has[GlobalBBox] && other.has[GlobalBBox] {
		u.global = unionBBox(b.global, other.global)
	}
	if b.has[LocalBBox] && other.has[LocalBBox] {
		u.local = unionBBox(b.local, other.local)
	}
	if b.has[OwnedBBox] && other.has[OwnedBBox] {
		u.owned = unionBBox(b.owned, other.owned)
	}
	if b.has[GlobalExtents] && other.has[GlobalExtents] {
		u.globalExt = unionExtents(b.globalExt, other.globalExt)
	}
	if b.has[LocalExtents] && other.has[LocalExtents] {
		u.localExt = unionExtents(b.localExt, other.localExt)
	}
	if b.has[OwnedExtents] && other.has[OwnedExtents] {
		u.ownedExt = unionExtents(b.ownedExt, other.ownedExt)
	}
	return u
}

// ExtentsUnion returns a copy of b whose local extents (and local box when the
// gridspacing is known) span the local extents of both descriptors.
func (b *Descriptor) ExtentsUnion(other *Descriptor) (*Descriptor, error) {
	if !b.has[LocalExtents] {
		return nil, missing(LocalExtents)
	}
	if other == nil || !other.has[LocalExtents] {
		return nil, fmt.Errorf("other descriptor: %w", missing(LocalExtents))
	}
	u := b.Clone()
	u.localExt = unionExtents(b.localExt, other.localExt)
	if u.has[Gridspacing] && u.has[GlobalBBox] {
		u.SetLocalBBox(u.bboxOf(u.localExt))
	}
	return u, nil
}

func unionBBox(a, c BBox) (u BBox) {
	for d := 0; d < Dim; d++ {
		lo := min(a[d], c[d])
		hi := max(a[d]+a[Dim+d], c[d]+c[Dim+d])
		u[d] = lo
		u[Dim+d] = hi - lo
	}
	return u
}

func unionExtents(a, c Extents) (u Extents) {
	for d := 0; d < Dim; d++ {
		lo := min(a[d], c[d])
		hi := max(a.End(d), c.End(d))
		u[d] = lo
		u[Dim+d] = hi - lo
	}
	return u
}

// Containment tests. Float boxes include their upper face, cell extents do not.

func inBBox(box BBox, x, y, z float32) bool {
	p := [Dim]float32{x, y, z}
	for d := 0; d < Dim; d++ {
		if p[d] < box[d] || p[d] > box[d]+box[Dim+d] {
			return false
		}
	}
	return true
}

func inExtents(ext Extents, i, j, k uint32) bool {
	p := [Dim]uint32{i, j, k}
	for d := 0; d < Dim; d++ {
		if p[d] < ext[d] || p[d] >= ext.End(d) {
			return false
		}
	}
	return true
}

// IsInGlobalBBox reports whether the point lies in the global box
func (b *Descriptor) IsInGlobalBBox(x, y, z float32) (bool, error) {
	if !b.has[GlobalBBox] {
		return false, missing(GlobalBBox)
	}
	return inBBox(b.global, x, y, z), nil
}

// IsInLocalBBox reports whether the point lies in the local box
func (b *Descriptor) IsInLocalBBox(x, y, z float32) (bool, error) {
	if !b.has[LocalBBox] {
		return false, missing(LocalBBox)
	}
	return inBBox(b.local, x, y, z), nil
}

// IsInOwnedBBox reports whether the point lies in the owned box
func (b *Descriptor) IsInOwnedBBox(x, y, z float32) (bool, error) {
	if !b.has[OwnedBBox] {
		return false, missing(OwnedBBox)
	}
	return inBBox(b.owned, x, y, z), nil
}

// IsInGlobalExtents reports whether the cell lies in the global extents
func (b *Descriptor) IsInGlobalExtents(i, j, k uint32) (bool, error) {
	if !b.has[GlobalExtents] {
		return false, missing(GlobalExtents)
	}
	return inExtents(b.globalExt, i, j, k), nil
}

// IsInLocalExtents reports whether the cell lies in the local extents
func (b *Descriptor) IsInLocalExtents(i, j, k uint32) (bool, error) {
	if !b.has[LocalExtents] {
		return false, missing(LocalExtents)
	}
	return inExtents(b.localExt, i, j, k), nil
}

// IsInOwnedExtents reports whether the cell lies in the owned extents
func (b *Descriptor) IsInOwnedExtents(i, j, k uint32) (bool, error) {
	if !b.has[OwnedExtents] {
		return false, missing(OwnedExtents)
	}
	return inExtents(b.ownedExt, i, j, k), nil
}

// Includes reports whether the local extents of other lie inside those of b
func (b *Descriptor) Includes(other *Descriptor) (bool, error) {
	if !b.has[LocalExtents] {
		return false, missing(LocalExtents)
	}
	if other == nil || !other.has[LocalExtents] {
		return false, fmt.Errorf("other descriptor: %w", missing(LocalExtents))
	}
	for d := 0; d < Dim; d++ {
		if other.localExt[d] < b.localExt[d] || other.localExt.End(d) > b.localExt.End(d) {
			return false, nil
		}
	}
	return true, nil
}

// SameExtents reports whether both descriptors cover the same local cells
func (b *Descriptor) SameExtents(other *Descriptor) (bool, error) {
	if !b.has[LocalExtents] {
		return false, missing(LocalExtents)
	}
	if other == nil || !other.has[LocalExtents] {
		return false, fmt.Errorf("other descriptor: %w", missing(LocalExtents))
	}
	return b.localExt == other.localExt, nil
}

// Index and position mapping. A cell is represented by its center.

func positionIndex(box BBox, h float32, pos [Dim]float32) (idx [Dim]uint32) {
	for d := 0; d < Dim; d++ {
		v := math.Floor(float64(pos[d]-box[d]) / float64(h))
		if v < 0 {
			v = 0
		}
		idx[d] = uint32(v)
	}
	return idx
}

func positionValue(box BBox, h float32, idx [Dim]uint32) (pos [Dim]float32) {
	for d := 0; d < Dim; d++ {
		pos[d] = box[d] + (float32(idx[d])+0.5)*h
	}
	return pos
}

// LocalPositionIndex returns the local cell containing pos
func (b *Descriptor) LocalPositionIndex(pos [Dim]float32) ([Dim]uint32, error) {
	if !b.has[Gridspacing] {
		return [Dim]uint32{}, missing(Gridspacing)
	}
	if !b.has[LocalBBox] {
		return [Dim]uint32{}, missing(LocalBBox)
	}
	return positionIndex(b.local, b.gridspacing, pos), nil
}

// GlobalPositionIndex returns the global cell containing pos
func (b *Descriptor) GlobalPositionIndex(pos [Dim]float32) ([Dim]uint32, error) {
	if !b.has[Gridspacing] {
		return [Dim]uint32{}, missing(Gridspacing)
	}
	if !b.has[GlobalBBox] {
		return [Dim]uint32{}, missing(GlobalBBox)
	}
	return positionIndex(b.global, b.gridspacing, pos), nil
}

// LocalPositionValue returns the center of local cell idx
func (b *Descriptor) LocalPositionValue(idx [Dim]uint32) ([Dim]float32, error) {
	if !b.has[Gridspacing] {
		return [Dim]float32{}, missing(Gridspacing)
	}
	if !b.has[LocalBBox] {
		return [Dim]float32{}, missing(LocalBBox)
	}
	return positionValue(b.local, b.gridspacing, idx), nil
}

// GlobalPositionValue returns the center of global cell idx
func (b *Descriptor) GlobalPositionValue(idx [Dim]uint32) ([Dim]float32, error) {
	if !b.has[Gridspacing] {
		return [Dim]float32{}, missing(Gridspacing)
	}
	if !b.has[GlobalBBox] {
		return [Dim]float32{}, missing(GlobalBBox)
	}
	return positionValue(b.global, b.gridspacing, idx), nil
}

// Overlap returns the intersection of two cell extents. ok is false when the
// regions share no cell.
func Overlap(a, c Extents) (o Extents, ok bool) {
	for d := 0; d < Dim; d++ {
		lo := max(a[d], c[d])
		hi := min(a.End(d), c.End(d))
		if hi <= lo {
			return Extents{}, false
		}
		o[d] = lo
		o[Dim+d] = hi - lo
	}
	return o, true
}

// SetLocalRegion sets the local extents and, when the grid is anchored, the
// matching local box.
func (b *Descriptor) SetLocalRegion(ext Extents) {
	b.SetLocalExtents(ext)
	if b.has[Gridspacing] && b.has[GlobalBBox] {
		b.SetLocalBBox(b.bboxOf(ext))
	}
}

// SetOwnedRegion is SetLocalRegion for the owned region.
func (b *Descriptor) SetOwnedRegion(ext Extents) {
	b.SetOwnedExtents(ext)
	if b.has[Gridspacing] && b.has[GlobalBBox] {
		b.SetOwnedBBox(b.bboxOf(ext))
	}
}
