// Package block describes the geometry of a spatially decomposed domain.
//
// A Descriptor holds three nested regions of a regular grid: the global domain,
// the local region a process stores (owned cells plus ghost cells) and the owned
// region it is responsible for. Each region is known as a float bounding box
// (origin xyz, size xyz) and as integer cell extents (origin xyz, size xyz).
// Every attribute is optional; reading one that was never set returns an error
// wrapping ErrMissingAttribute.
package block

import (
	"errors"
	"fmt"
	"math"
)

// Dim is the number of spatial dimensions of a Descriptor
const Dim = 3

// ErrMissingAttribute reports access to an attribute that was never set
var ErrMissingAttribute = errors.New("block attribute not set")

// Attribute names one optional attribute of a Descriptor
type Attribute uint8

const (
	Gridspacing Attribute = iota
	GlobalBBox
	GlobalExtents
	LocalBBox
	LocalExtents
	OwnedBBox
	OwnedExtents
	GhostWidth
	numAttributes
)

var attributeNames = [numAttributes]string{
	"gridspacing", "global bbox", "global extents", "local bbox",
	"local extents", "owned bbox", "owned extents", "ghost width",
}

func (a Attribute) String() string {
	if a < numAttributes {
		return attributeNames[a]
	}
	return fmt.Sprintf("attribute(%d)", uint8(a))
}

func missing(a Attribute) error {
	return fmt.Errorf("%w: %s", ErrMissingAttribute, a)
}

// BBox is a float box: origin x,y,z followed by size x,y,z
type BBox [2 * Dim]float32

// Extents is an integer cell range: origin x,y,z followed by size x,y,z
type Extents [2 * Dim]uint32

// End returns origin+size along axis d
func (e Extents) End(d int) uint32 { return e[d] + e[Dim+d] }

// Cells returns the number of cells covered by e
func (e Extents) Cells() int {
	return int(e[Dim]) * int(e[Dim+1]) * int(e[Dim+2])
}

// Descriptor is the geometric metadata attached to spatially decomposed fields
type Descriptor struct {
	gridspacing float32
	global      BBox
	local       BBox
	owned       BBox
	globalExt   Extents
	localExt    Extents
	ownedExt    Extents
	ghostWidth  uint32

	has [numAttributes]bool
}

// New returns an empty descriptor with no attribute set
func New() *Descriptor {
	return &Descriptor{}
}

// Has reports whether attribute a was set
func (b *Descriptor) Has(a Attribute) bool {
	return a < numAttributes && b.has[a]
}

// Setters

// SetGridspacing sets the cell size, the same on every axis
func (b *Descriptor) SetGridspacing(h float32) {
	b.gridspacing = h
	b.has[Gridspacing] = true
}

// SetGlobalBBox sets the bounding box of the whole domain
func (b *Descriptor) SetGlobalBBox(box BBox) {
	b.global = box
	b.has[GlobalBBox] = true
}

// SetGlobalExtents sets the cell extents of the whole domain
func (b *Descriptor) SetGlobalExtents(ext Extents) {
	b.globalExt = ext
	b.has[GlobalExtents] = true
}

// SetLocalBBox sets the bounding box of the stored region, ghosts included
func (b *Descriptor) SetLocalBBox(box BBox) {
	b.local = box
	b.has[LocalBBox] = true
}

// SetLocalExtents sets the cell extents of the stored region, ghosts included
func (b *Descriptor) SetLocalExtents(ext Extents) {
	b.localExt = ext
	b.has[LocalExtents] = true
}

// SetOwnedBBox sets the bounding box of the region this block owns
func (b *Descriptor) SetOwnedBBox(box BBox) {
	b.owned = box
	b.has[OwnedBBox] = true
}

// SetOwnedExtents sets the cell extents of the region this block owns
func (b *Descriptor) SetOwnedExtents(ext Extents) {
	b.ownedExt = ext
	b.has[OwnedExtents] = true
}

// SetGhostWidth sets the ghost width in cells. BuildGhostRegion applies it.
func (b *Descriptor) SetGhostWidth(w uint32) {
	b.ghostWidth = w
	b.has[GhostWidth] = true
}

// Getters

// Gridspacing returns the cell size
func (b *Descriptor) Gridspacing() (float32, error) {
	if !b.has[Gridspacing] {
		return 0, missing(Gridspacing)
	}
	return b.gridspacing, nil
}

// GlobalBBox returns the bounding box of the whole domain
func (b *Descriptor) GlobalBBox() (BBox, error) {
	if !b.has[GlobalBBox] {
		return BBox{}, missing(GlobalBBox)
	}
	return b.global, nil
}

// GlobalExtents returns the cell extents of the whole domain
func (b *Descriptor) GlobalExtents() (Extents, error) {
	if !b.has[GlobalExtents] {
		return Extents{}, missing(GlobalExtents)
	}
	return b.globalExt, nil
}

// LocalBBox returns the bounding box of the stored region, ghosts included
func (b *Descriptor) LocalBBox() (BBox, error) {
	if !b.has[LocalBBox] {
		return BBox{}, missing(LocalBBox)
	}
	return b.local, nil
}

// LocalExtents returns the cell extents of the stored region, ghosts included
func (b *Descriptor) LocalExtents() (Extents, error) {
	if !b.has[LocalExtents] {
		return Extents{}, missing(LocalExtents)
	}
	return b.localExt, nil
}

// OwnedBBox returns the bounding box of the owned region
func (b *Descriptor) OwnedBBox() (BBox, error) {
	if !b.has[OwnedBBox] {
		return BBox{}, missing(OwnedBBox)
	}
	return b.owned, nil
}

// OwnedExtents returns the cell extents of the owned region
func (b *Descriptor) OwnedExtents() (Extents, error) {
	if !b.has[OwnedExtents] {
		return Extents{}, missing(OwnedExtents)
	}
	return b.ownedExt, nil
}

// GhostWidth returns the ghost width in cells
func (b *Descriptor) GhostWidth() (uint32, error) {
	if !b.has[GhostWidth] {
		return 0, missing(GhostWidth)
	}
	return b.ghostWidth, nil
}

// HasGhostRegion reports whether a non-zero ghost width was set
func (b *Descriptor) HasGhostRegion() bool {
	return b.has[GhostWidth] && b.ghostWidth > 0
}

// Clone returns a deep copy
func (b *Descriptor) Clone() *Descriptor {
	if b == nil {
		return nil
	}
	c := *b
	return &c
}

// Equal reports whether both descriptors carry the same attributes and values
func (b *Descriptor) Equal(o *Descriptor) bool {
	if b == nil || o == nil {
		return b == o
	}
	return *b == *o
}

// UpdateExtents derives cell extents from every bounding box present. Sizes use
// ceiling division so no point of a box falls outside its extents. Local and
// owned origins are measured from the global box origin when it is known.
func (b *Descriptor) UpdateExtents() error {
	if !b.has[Gridspacing] {
		return missing(Gridspacing)
	}
	if b.gridspacing <= 0 {
		return fmt.Errorf("gridspacing must be positive, got %g", b.gridspacing)
	}
	h := float64(b.gridspacing)

	derive := func(box BBox) (ext Extents) {
		for d := 0; d < Dim; d++ {
			if b.has[GlobalBBox] {
				offset := (float64(box[d]) - float64(b.global[d])) / h
				ext[d] = uint32(math.Max(0, math.Floor(offset+1e-6)))
			}
			ext[Dim+d] = uint32(math.Ceil(float64(box[Dim+d])/h - 1e-6))
		}
		return ext
	}

	if b.has[GlobalBBox] {
		b.SetGlobalExtents(derive(b.global))
		for d := 0; d < Dim; d++ {
			b.globalExt[d] = 0
		}
	}
	if b.has[LocalBBox] {
		b.SetLocalExtents(derive(b.local))
	}
	if b.has[OwnedBBox] {
		b.SetOwnedExtents(derive(b.owned))
	}
	return nil
}

// BuildGhostRegion turns the current local region into the owned region and
// grows the local region by width cells on every face. Growth saturates at
// the global boundary: a face that cannot grow outward does not shift the
// opposite face.
func (b *Descriptor) BuildGhostRegion(width uint32) error {
	for _, a := range []Attribute{LocalExtents, GlobalExtents, Gridspacing, GlobalBBox} {
		if !b.has[a] {
			return fmt.Errorf("build ghost region: %w", missing(a))
		}
	}

	b.SetGhostWidth(width)
	b.SetOwnedExtents(b.localExt)
	if b.has[LocalBBox] {
		b.SetOwnedBBox(b.local)
	} else {
		b.SetOwnedBBox(b.bboxOf(b.localExt))
	}

	w := int64(width)
	for d := 0; d < Dim; d++ {
		o := int64(b.localExt[d])
		s := int64(b.localExt[Dim+d])
		g := int64(b.globalExt[Dim+d])

		start := o - w
		if start < 0 {
			start = 0
		}
		end := o + s + w
		if end > g {
			end = g
		}
		// Ghost cells lost below zero are not recovered on the upper face
		if w > o {
			end -= w - o
		}
		if end < o+s {
			end = o + s
		}
		b.localExt[d] = uint32(start)
		b.localExt[Dim+d] = uint32(end - start)
	}
	b.SetLocalBBox(b.bboxOf(b.localExt))
	return nil
}

// bboxOf converts cell extents into a float box anchored at the global origin
func (b *Descriptor) bboxOf(ext Extents) (box BBox) {
	for d := 0; d < Dim; d++ {
		box[d] = b.global[d] + float32(ext[d])*b.gridspacing
		box[Dim+d] = float32(ext[Dim+d]) * b.gridspacing
	}
	return box
}
