package capi

import (
	"fmt"
	"slices"

	"github.com/notargets/DGFlow/block"
	"github.com/notargets/DGFlow/container"
	"github.com/notargets/DGFlow/errs"
	"github.com/notargets/DGFlow/field"
)

// kindOps builds and reads the fields of one element type
type kindOps struct {
	scalar      func(data any) (field.Value, error)
	array       func(data any, elementsPerItem int, owner bool) (field.Value, error)
	findScalar  func(c *container.Container, name string) (field.Value, bool)
	findArray   func(c *container.Container, name string) (field.Value, bool)
	scalarValue func(v field.Value) (any, bool)
	arrayValues func(v field.Value) (any, bool)
}

func opsFor[T field.Element]() kindOps {
	return kindOps{
		scalar: func(data any) (field.Value, error) {
			v, ok := data.(T)
			if !ok {
				return nil, mismatch[T](data)
			}
			return field.NewScalar(v), nil
		},
		array: func(data any, epi int, owner bool) (field.Value, error) {
			values, ok := data.([]T)
			if !ok {
				return nil, mismatch[[]T](data)
			}
			if epi < 1 || len(values)%epi != 0 {
				return nil, fmt.Errorf("%w: %d values cannot hold items of %d elements",
					errs.ErrInvalidArgument, len(values), epi)
			}
			if owner {
				values = slices.Clone(values)
			}
			return field.NewArray(values, epi), nil
		},
		findScalar: func(c *container.Container, name string) (field.Value, bool) {
			s, ok := container.ScalarField[T](c, name)
			return s, ok
		},
		findArray: func(c *container.Container, name string) (field.Value, bool) {
			a, ok := container.ArrayField[T](c, name)
			return a, ok
		},
		scalarValue: func(v field.Value) (any, bool) {
			s, ok := v.(*field.Scalar[T])
			if !ok {
				return nil, false
			}
			return s.Get(), true
		},
		arrayValues: func(v field.Value) (any, bool) {
			a, ok := v.(*field.Array[T])
			if !ok {
				return nil, false
			}
			return a.Values(), true
		},
	}
}

func mismatch[T any](data any) error {
	var want T
	return fmt.Errorf("%w: got %T, want %T", errs.ErrInvalidArgument, data, want)
}

var kinds = map[Type]kindOps{
	TypeInt:      opsFor[int32](),
	TypeUnsigned: opsFor[uint32](),
	TypeFloat:    opsFor[float32](),
	TypeDouble:   opsFor[float64](),
	TypeChar:     opsFor[byte](),
}

func opsOf(t Type) (kindOps, error) {
	ops, ok := kinds[t]
	if !ok {
		return kindOps{}, fmt.Errorf("%w: type %s has no elements", errs.ErrInvalidArgument, t)
	}
	return ops, nil
}

// CreateScalarField wraps a single value whose Go type matches t, e.g. an
// int32 for TypeInt
func (r *Registry) CreateScalarField(data any, t Type) Handle {
	ops, err := opsOf(t)
	if err == nil {
		var v field.Value
		if v, err = ops.scalar(data); err == nil {
			return r.put(v)
		}
	}
	r.fail("CreateScalarField", err)
	return 0
}

// CreateArrayField wraps a slice whose element type matches t. An owner
// field keeps its own copy of data; otherwise it shares the caller's slice
// and sees later writes to it.
func (r *Registry) CreateArrayField(data any, t Type, elementsPerItem int, owner bool) Handle {
	ops, err := opsOf(t)
	if err == nil {
		var v field.Value
		if v, err = ops.array(data, elementsPerItem, owner); err == nil {
			return r.put(v)
		}
	}
	r.fail("CreateArrayField", err)
	return 0
}

// BlockSpec is the boundary form of a block descriptor. Nil slices mark
// attributes that are not set; set ones hold 6 values.
type BlockSpec struct {
	Gridspacing   float32
	GhostWidth    int // Negative when not set
	GlobalBBox    []float32
	GlobalExtents []uint32
	LocalBBox     []float32
	LocalExtents  []uint32
	OwnedBBox     []float32
	OwnedExtents  []uint32
}

func (s BlockSpec) descriptor() (*block.Descriptor, error) {
	d := block.New()
	d.SetGridspacing(s.Gridspacing)
	if s.GhostWidth >= 0 {
		d.SetGhostWidth(uint32(s.GhostWidth))
	}
	boxes := []struct {
		v   []float32
		set func(block.BBox)
		a   block.Attribute
	}{
		{s.GlobalBBox, d.SetGlobalBBox, block.GlobalBBox},
		{s.LocalBBox, d.SetLocalBBox, block.LocalBBox},
		{s.OwnedBBox, d.SetOwnedBBox, block.OwnedBBox},
	}
	for _, b := range boxes {
		switch len(b.v) {
		case 0:
		case 2 * block.Dim:
			b.set(block.BBox(b.v))
		default:
			return nil, fmt.Errorf("%w: %s needs %d values, got %d", errs.ErrInvalidArgument, b.a, 2*block.Dim, len(b.v))
		}
	}
	exts := []struct {
		v   []uint32
		set func(block.Extents)
		a   block.Attribute
	}{
		{s.GlobalExtents, d.SetGlobalExtents, block.GlobalExtents},
		{s.LocalExtents, d.SetLocalExtents, block.LocalExtents},
		{s.OwnedExtents, d.SetOwnedExtents, block.OwnedExtents},
	}
	for _, e := range exts {
		switch len(e.v) {
		case 0:
		case 2 * block.Dim:
			e.set(block.Extents(e.v))
		default:
			return nil, fmt.Errorf("%w: %s needs %d values, got %d", errs.ErrInvalidArgument, e.a, 2*block.Dim, len(e.v))
		}
	}
	return d, nil
}

func blockSpecOf(d *block.Descriptor) BlockSpec {
	s := BlockSpec{GhostWidth: -1}
	s.Gridspacing, _ = d.Gridspacing()
	if w, err := d.GhostWidth(); err == nil {
		s.GhostWidth = int(w)
	}
	box := func(get func() (block.BBox, error)) []float32 {
		if b, err := get(); err == nil {
			return b[:]
		}
		return nil
	}
	ext := func(get func() (block.Extents, error)) []uint32 {
		if e, err := get(); err == nil {
			return e[:]
		}
		return nil
	}
	s.GlobalBBox, s.LocalBBox, s.OwnedBBox = box(d.GlobalBBox), box(d.LocalBBox), box(d.OwnedBBox)
	s.GlobalExtents, s.LocalExtents, s.OwnedExtents = ext(d.GlobalExtents), ext(d.LocalExtents), ext(d.OwnedExtents)
	return s
}

// CreateBlockField wraps a block descriptor built from bs
func (r *Registry) CreateBlockField(bs BlockSpec) Handle {
	d, err := bs.descriptor()
	if err != nil {
		r.fail("CreateBlockField", err)
		return 0
	}
	return r.put(field.NewBlock(d))
}

// FreeField releases a field handle. A container holding the field keeps it.
func (r *Registry) FreeField(h Handle) {
	if _, err := r.field(h); err != nil {
		r.fail("FreeField", err)
		return
	}
	r.drop(h)
}

// FieldItemCount returns the item count of a field, -1 on failure
func (r *Registry) FieldItemCount(h Handle) int {
	v, err := r.field(h)
	if err != nil {
		r.fail("FieldItemCount", err)
		return -1
	}
	return v.ItemCount()
}

func (r *Registry) find(op string, c Handle, name string, find func(*container.Container, string) (field.Value, bool)) Handle {
	cont, err := r.container(c)
	if err != nil {
		r.fail(op, err)
		return 0
	}
	v, ok := find(cont, name)
	if !ok {
		r.fail(op, fmt.Errorf("%w: no field %q of the requested type", errs.ErrInvalidArgument, name))
		return 0
	}
	return r.put(v)
}

// GetScalarField returns a new handle to the scalar field name of type t
func (r *Registry) GetScalarField(c Handle, name string, t Type) Handle {
	ops, err := opsOf(t)
	if err != nil {
		r.fail("GetScalarField", err)
		return 0
	}
	return r.find("GetScalarField", c, name, ops.findScalar)
}

// GetArrayField returns a new handle to the array field name of type t
func (r *Registry) GetArrayField(c Handle, name string, t Type) Handle {
	ops, err := opsOf(t)
	if err != nil {
		r.fail("GetArrayField", err)
		return 0
	}
	return r.find("GetArrayField", c, name, ops.findArray)
}

// GetBlockField returns a new handle to the block field name
func (r *Registry) GetBlockField(c Handle, name string) Handle {
	return r.find("GetBlockField", c, name, func(c *container.Container, name string) (field.Value, bool) {
		b, ok := container.BlockField(c, name)
		return b, ok
	})
}

// GetScalar returns the value of a scalar field of type t
func (r *Registry) GetScalar(f Handle, t Type) (any, bool) {
	return r.read("GetScalar", f, t, func(ops kindOps) func(field.Value) (any, bool) { return ops.scalarValue })
}

// GetArray returns the values of an array field of type t, without copy
func (r *Registry) GetArray(f Handle, t Type) (any, bool) {
	return r.read("GetArray", f, t, func(ops kindOps) func(field.Value) (any, bool) { return ops.arrayValues })
}

func (r *Registry) read(op string, f Handle, t Type, pick func(kindOps) func(field.Value) (any, bool)) (any, bool) {
	ops, err := opsOf(t)
	if err != nil {
		r.fail(op, err)
		return nil, false
	}
	v, err := r.field(f)
	if err != nil {
		r.fail(op, err)
		return nil, false
	}
	out, ok := pick(ops)(v)
	if !ok {
		r.fail(op, fmt.Errorf("%w: field is %s, not a %s field", errs.ErrInvalidArgument, v.Typename(), t))
		return nil, false
	}
	return out, true
}

// GetBlock returns the descriptor of a block field
func (r *Registry) GetBlock(f Handle) (BlockSpec, bool) {
	v, err := r.field(f)
	if err != nil {
		r.fail("GetBlock", err)
		return BlockSpec{}, false
	}
	b, ok := v.(*field.Block)
	if !ok {
		r.fail("GetBlock", fmt.Errorf("%w: field is %s", errs.ErrInvalidArgument, v.Typename()))
		return BlockSpec{}, false
	}
	return blockSpecOf(b.Descriptor()), true
}
