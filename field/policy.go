package field

import (
	"errors"
	"fmt"
)

// Flags mark fields with a special role in the container
type Flags uint8

const (
	NoFlag Flags = 0x0 // No specific information on the field
	NbItem Flags = 0x1 // Field holds the number of items of the collection
	Pos    Flags = 0x2 // Field holds x,y,z positions usable as a z-curve key
	Morton Flags = 0x4 // Field holds Morton indexes usable as a z-curve key
)

// Scope tells how a field relates to the items of the collection
type Scope uint8

const (
	Shared  Scope = 0x0 // Same value for every item
	Private Scope = 0x1 // One value per item
	System  Scope = 0x2 // Bookkeeping that travels even with empty payloads
)

func (s Scope) String() string {
	switch s {
	case Shared:
		return "shared"
	case Private:
		return "private"
	case System:
		return "system"
	default:
		return fmt.Sprintf("scope(%d)", uint8(s))
	}
}

// SplitPolicy governs how a field is partitioned across destinations
type SplitPolicy uint8

const (
	SplitDefault        SplitPolicy = 0x0 // Physically partition the payload
	SplitKeepValue      SplitPolicy = 0x1 // Every chunk receives the full value
	SplitMinusItemCount SplitPolicy = 0x2 // Scalar becomes the chunk's item count
)

func (p SplitPolicy) String() string {
	switch p {
	case SplitDefault:
		return "default"
	case SplitKeepValue:
		return "keep_value"
	case SplitMinusItemCount:
		return "minus_nbitem"
	default:
		return fmt.Sprintf("split(%d)", uint8(p))
	}
}

// MergePolicy governs how two field values combine
type MergePolicy uint8

const (
	MergeDefault      MergePolicy = 0x0 // Variant specific: append, keep first or union
	MergeFirstValue   MergePolicy = 0x1 // Keep the receiver unchanged
	MergeAddValue     MergePolicy = 0x2 // Numeric sum, scalars only
	MergeAppendValues MergePolicy = 0x4 // Concatenate payloads
)

func (p MergePolicy) String() string {
	switch p {
	case MergeDefault:
		return "default"
	case MergeFirstValue:
		return "first_value"
	case MergeAddValue:
		return "add_value"
	case MergeAppendValues:
		return "append_values"
	default:
		return fmt.Sprintf("merge(%d)", uint8(p))
	}
}

// Variant identifies the shape of a field value
type Variant uint8

const (
	VariantScalar Variant = iota + 1
	VariantArray
	VariantArray3D
	VariantBlock
)

func (v Variant) String() string {
	switch v {
	case VariantScalar:
		return "Scalar"
	case VariantArray:
		return "Array"
	case VariantArray3D:
		return "Array3D"
	case VariantBlock:
		return "Block"
	default:
		return fmt.Sprintf("Variant(%d)", uint8(v))
	}
}

var (
	ErrPolicyNotSupported = errors.New("policy not supported")
	ErrRangeMismatch      = errors.New("item ranges do not match the item count")
	ErrTypeMismatch       = errors.New("field types differ")
	ErrBadRange           = errors.New("malformed index range")
)

func splitUnsupported(v Value, p SplitPolicy, how string) error {
	return fmt.Errorf("%w: split %s by %s on %s", ErrPolicyNotSupported, p, how, v.Typename())
}

func mergeUnsupported(v Value, p MergePolicy) error {
	return fmt.Errorf("%w: merge %s on %s", ErrPolicyNotSupported, p, v.Typename())
}

func typeMismatch(v, other Value) error {
	name := "<nil>"
	if other != nil {
		name = other.Typename()
	}
	return fmt.Errorf("%w: %s and %s", ErrTypeMismatch, v.Typename(), name)
}
