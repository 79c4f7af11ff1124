package field

import "fmt"

// Kind identifies the element type carried by a field
type Kind uint8

const (
	KindNone Kind = iota // Block fields carry no elements
	Int32
	Uint32
	Float32
	Float64
	Char
)

// Element is the closed set of element types a field can carry
type Element interface {
	~int32 | ~uint32 | ~float32 | ~float64 | ~uint8
}

// String returns the element type name used in type names
func (k Kind) String() string {
	switch k {
	case Int32:
		return "int32"
	case Uint32:
		return "uint32"
	case Float32:
		return "float32"
	case Float64:
		return "float64"
	case Char:
		return "char"
	case KindNone:
		return "none"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// SizeOf returns the size in bytes of one element of kind k
func SizeOf(k Kind) int {
	switch k {
	case Char:
		return 1
	case Int32, Uint32, Float32:
		return 4
	case Float64:
		return 8
	default:
		return 0
	}
}

// KindOf returns the Kind of the element type T
func KindOf[T Element]() Kind {
	var zero T
	return KindOfSample(zero)
}

// KindOfSample returns the Kind based on a sample value
func KindOfSample(sample any) Kind {
	switch sample.(type) {
	case int32:
		return Int32
	case uint32:
		return Uint32
	case float32:
		return Float32
	case float64:
		return Float64
	case uint8:
		return Char
	default:
		return KindNone
	}
}
