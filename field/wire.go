package field

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/notargets/DGFlow/block"
)

// Record is the serializable form of a field value. Data holds the msgpack
// encoding of the element payload.
type Record struct {
	Variant         Variant            `msgpack:"v"`
	Kind            Kind               `msgpack:"k"`
	ElementsPerItem int                `msgpack:"e,omitempty"`
	Shape           []int              `msgpack:"s,omitempty"`
	Data            msgpack.RawMessage `msgpack:"d,omitempty"`
	Block           *block.Record      `msgpack:"b,omitempty"`
}

type recorder interface {
	record() (Record, error)
}

// Encode converts v into its wire record
func Encode(v Value) (Record, error) {
	r, ok := v.(recorder)
	if !ok {
		return Record{}, fmt.Errorf("cannot encode %T", v)
	}
	return r.record()
}

// Decode rebuilds a value from its wire record
func Decode(r Record) (Value, error) {
	if r.Variant == VariantBlock {
		if r.Block == nil {
			return NewBlock(nil), nil
		}
		return NewBlock(block.FromRecord(*r.Block)), nil
	}
	switch r.Kind {
	case Int32:
		return decodeAs[int32](r)
	case Uint32:
		return decodeAs[uint32](r)
	case Float32:
		return decodeAs[float32](r)
	case Float64:
		return decodeAs[float64](r)
	case Char:
		return decodeAs[uint8](r)
	}
	return nil, fmt.Errorf("unknown element kind %s", r.Kind)
}

func decodeAs[T Element](r Record) (Value, error) {
	switch r.Variant {
	case VariantScalar:
		var v T
		if err := msgpack.Unmarshal(r.Data, &v); err != nil {
			return nil, fmt.Errorf("decode %s: %w", typename(r.Variant, r.Kind), err)
		}
		return NewScalar(v), nil
	case VariantArray:
		values, err := decodeSlice[T](r)
		if err != nil {
			return nil, err
		}
		if r.ElementsPerItem < 1 || len(values)%r.ElementsPerItem != 0 {
			return nil, fmt.Errorf("decode %s: %d elements with %d per item",
				typename(r.Variant, r.Kind), len(values), r.ElementsPerItem)
		}
		return NewArray(values, r.ElementsPerItem), nil
	case VariantArray3D:
		values, err := decodeSlice[T](r)
		if err != nil {
			return nil, err
		}
		if len(r.Shape) != block.Dim || r.Block == nil {
			return nil, fmt.Errorf("decode %s: missing shape or block", typename(r.Variant, r.Kind))
		}
		var shape [block.Dim]int
		copy(shape[:], r.Shape)
		return NewArray3D(values, shape, block.FromRecord(*r.Block))
	}
	return nil, fmt.Errorf("unknown variant %s", r.Variant)
}

func decodeSlice[T Element](r Record) ([]T, error) {
	var values []T
	if len(r.Data) == 0 {
		return values, nil
	}
	if err := msgpack.Unmarshal(r.Data, &values); err != nil {
		return nil, fmt.Errorf("decode %s: %w", typename(r.Variant, r.Kind), err)
	}
	return values, nil
}

func (s *Scalar[T]) record() (Record, error) {
	data, err := msgpack.Marshal(s.value)
	return Record{Variant: VariantScalar, Kind: s.Kind(), Data: data}, err
}

func (a *Array[T]) record() (Record, error) {
	data, err := msgpack.Marshal(a.values)
	return Record{
		Variant:         VariantArray,
		Kind:            a.Kind(),
		ElementsPerItem: a.elementsPerItem,
		Data:            data,
	}, err
}

func (a *Array3D[T]) record() (Record, error) {
	data, err := msgpack.Marshal(a.data)
	br := a.block.ToRecord()
	return Record{
		Variant: VariantArray3D,
		Kind:    a.Kind(),
		Shape:   a.shape[:],
		Data:    data,
		Block:   &br,
	}, err
}

func (b *Block) record() (Record, error) {
	br := b.desc.ToRecord()
	return Record{Variant: VariantBlock, Block: &br}, nil
}
