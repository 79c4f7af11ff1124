package field

import (
	"errors"
	"fmt"

	"github.com/notargets/DGFlow/block"
)

// Array3D is a dense 3D grid of elements covering the local extents of its
// block descriptor. Storage is x-major: index = (x*ny + y)*nz + z.
type Array3D[T Element] struct {
	data  []T
	shape [block.Dim]int
	block *block.Descriptor
}

// NewArray3D wraps data laid out over the local extents of b. When b has no
// local extents they are set to the shape anchored at the origin.
func NewArray3D[T Element](data []T, shape [block.Dim]int, b *block.Descriptor) (*Array3D[T], error) {
	if b == nil {
		return nil, errors.New("Array3D needs a block descriptor")
	}
	n := 1
	for _, s := range shape {
		if s < 0 {
			return nil, fmt.Errorf("negative shape %v", shape)
		}
		n *= s
	}
	if len(data) != n {
		return nil, fmt.Errorf("shape %v holds %d elements, got %d", shape, n, len(data))
	}
	ext, err := b.LocalExtents()
	if err != nil {
		ext = block.Extents{0, 0, 0, uint32(shape[0]), uint32(shape[1]), uint32(shape[2])}
		b.SetLocalRegion(ext)
	}
	for d := 0; d < block.Dim; d++ {
		if int(ext[block.Dim+d]) != shape[d] {
			return nil, fmt.Errorf("shape %v does not match local extents %v", shape, ext)
		}
	}
	return &Array3D[T]{data: data, shape: shape, block: b}, nil
}

// Data returns the grid values in x-major order
func (a *Array3D[T]) Data() []T { return a.data }

// Shape returns the number of cells per axis
func (a *Array3D[T]) Shape() [block.Dim]int { return a.shape }

// Block returns the descriptor governing the grid
func (a *Array3D[T]) Block() *block.Descriptor { return a.block }
func (a *Array3D[T]) Kind() Kind { return KindOf[T]() }

func (a *Array3D[T]) index(i, j, k int) int { return (i*a.shape[1]+j)*a.shape[2] + k }

// At returns the element at local position (i,j,k)
func (a *Array3D[T]) At(i, j, k int) T { return a.data[a.index(i, j, k)] }

func (a *Array3D[T]) Set(i, j, k int, v T) { a.data[a.index(i, j, k)] = v }

func (a *Array3D[T]) Variant() Variant { return VariantArray3D }
func (a *Array3D[T]) Typename() string { return typename(VariantArray3D, a.Kind()) }
func (a *Array3D[T]) ItemCount() int { return a.shape[0] * a.shape[1] * a.shape[2] }
func (a *Array3D[T]) Countable() bool { return false }
func (a *Array3D[T]) BlockSplittable() bool { return true }

func (a *Array3D[T]) SplitCounts(_ []int, policy SplitPolicy) ([]Value, error) {
	return nil, splitUnsupported(a, policy, "counts")
}

func (a *Array3D[T]) SplitIndexes(_ [][]int, policy SplitPolicy) ([]Value, error) {
	return nil, splitUnsupported(a, policy, "indexes")
}

// SplitBlocks cuts the sub-array overlapping the local extents of each
// destination. The chunk's owned region is its overlap with the destination's
// owned region, and its ghost width the widest margin between the two. A
// destination sharing no cell receives an empty grid.
func (a *Array3D[T]) SplitBlocks(blocks []*block.Descriptor, policy SplitPolicy) ([]Value, error) {
	out := make([]Value, len(blocks))
	switch policy {
	case SplitKeepValue:
		for i := range out {
			out[i] = a.Clone()
		}
		return out, nil
	case SplitDefault:
	default:
		return nil, splitUnsupported(a, policy, "blocks")
	}

	own, err := a.block.LocalExtents()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", a.Typename(), err)
	}
	for i, dst := range blocks {
		target, err := dst.LocalExtents()
		if err != nil {
			return nil, fmt.Errorf("%s destination %d: %w", a.Typename(), i, err)
		}
		sub := a.block.Clone()
		ov, ok := block.Overlap(own, target)
		if !ok {
			sub.SetLocalRegion(block.Extents{})
			sub.SetOwnedRegion(block.Extents{})
			sub.SetGhostWidth(0)
			out[i] = &Array3D[T]{block: sub}
			continue
		}
		sub.SetLocalRegion(ov)
		ghost := uint32(0)
		if dstOwned, err := dst.OwnedExtents(); err == nil {
			owned, _ := block.Overlap(ov, dstOwned)
			sub.SetOwnedRegion(owned)
			for d := 0; d < block.Dim; d++ {
				if owned[block.Dim+d] == 0 {
					continue
				}
				ghost = max(ghost, owned[d]-ov[d], ov.End(d)-owned.End(d))
			}
		} else {
			sub.SetOwnedRegion(ov)
		}
		sub.SetGhostWidth(ghost)

		chunk := &Array3D[T]{
			data:  make([]T, ov.Cells()),
			shape: [block.Dim]int{int(ov[3]), int(ov[4]), int(ov[5])},
			block: sub,
		}
		chunk.accumulate(a, own, ov, false)
		out[i] = chunk
	}
	return out, nil
}

// accumulate adds (or copies) the cells of src lying in region into a. srcExt
// and a's local extents locate both grids in global cell coordinates.
func (a *Array3D[T]) accumulate(src *Array3D[T], srcExt, region block.Extents, add bool) {
	dstExt, _ := a.block.LocalExtents()
	nz := int(region[5])
	for x := 0; x < int(region[3]); x++ {
		for y := 0; y < int(region[4]); y++ {
			gx, gy, gz := int(region[0])+x, int(region[1])+y, int(region[2])
			s := src.index(gx-int(srcExt[0]), gy-int(srcExt[1]), gz-int(srcExt[2]))
			d := a.index(gx-int(dstExt[0]), gy-int(dstExt[1]), gz-int(dstExt[2]))
			if !add {
				copy(a.data[d:d+nz], src.data[s:s+nz])
				continue
			}
			for z := 0; z < nz; z++ {
				a.data[d+z] += src.data[s+z]
			}
		}
	}
}

func (a *Array3D[T]) CanMerge(other Value) bool {
	_, ok := other.(*Array3D[T])
	return ok
}

func (a *Array3D[T]) SupportsMerge(policy MergePolicy) bool {
	return policy == MergeDefault || policy == MergeFirstValue
}

// Merge accumulates other into a. When a's extents do not include other's,
// a grows to the union of both extents first.
func (a *Array3D[T]) Merge(other Value, policy MergePolicy) error {
	o, ok := other.(*Array3D[T])
	if !ok {
		return typeMismatch(a, other)
	}
	switch policy {
	case MergeFirstValue:
		return nil
	case MergeDefault:
	default:
		return mergeUnsupported(a, policy)
	}
	if o.ItemCount() == 0 {
		return nil
	}
	if a.ItemCount() == 0 {
		c := o.Clone().(*Array3D[T])
		a.data, a.shape, a.block = c.data, c.shape, c.block
		return nil
	}

	otherExt, err := o.block.LocalExtents()
	if err != nil {
		return fmt.Errorf("%s: %w", a.Typename(), err)
	}
	inc, err := a.block.Includes(o.block)
	if err != nil {
		return fmt.Errorf("%s: %w", a.Typename(), err)
	}
	if inc {
		a.accumulate(o, otherExt, otherExt, true)
		return nil
	}

	ownExt, _ := a.block.LocalExtents()
	u := a.block.Union(o.block)
	ue, _ := u.LocalExtents()
	grown := &Array3D[T]{
		data:  make([]T, ue.Cells()),
		shape: [block.Dim]int{int(ue[3]), int(ue[4]), int(ue[5])},
		block: u,
	}
	grown.accumulate(a, ownExt, ownExt, false)
	grown.accumulate(o, otherExt, otherExt, true)
	a.data, a.shape, a.block = grown.data, grown.shape, grown.block
	return nil
}

func (a *Array3D[T]) MergeAll(others []Value, policy MergePolicy) error {
	for _, o := range others {
		if !a.CanMerge(o) {
			return typeMismatch(a, o)
		}
	}
	for _, o := range others {
		if err := a.Merge(o, policy); err != nil {
			return err
		}
	}
	return nil
}

func (a *Array3D[T]) SoftClean() {
	a.data = a.data[:0]
	a.shape = [block.Dim]int{}
	if a.block.Has(block.LocalExtents) {
		a.block.SetLocalRegion(block.Extents{})
	}
}

func (a *Array3D[T]) Clone() Value {
	return &Array3D[T]{
		data:  append([]T(nil), a.data...),
		shape: a.shape,
		block: a.block.Clone(),
	}
}

func (a *Array3D[T]) Prealloc(n, capacity int) []Value {
	out := make([]Value, n)
	for i := range out {
		b := a.block.Clone()
		b.SetLocalRegion(block.Extents{})
		out[i] = &Array3D[T]{data: make([]T, 0, capacity), block: b}
	}
	return out
}
