package field

import (
	"fmt"

	"github.com/notargets/DGFlow/block"
)

// Array is a flat sequence of elements grouped into items of a fixed number
// of elements, e.g. 3 coordinates per particle position.
type Array[T Element] struct {
	values          []T
	elementsPerItem int
}

// NewArray wraps values without copying. elementsPerItem below 1 is taken as 1.
func NewArray[T Element](values []T, elementsPerItem int) *Array[T] {
	if elementsPerItem < 1 {
		elementsPerItem = 1
	}
	return &Array[T]{values: values, elementsPerItem: elementsPerItem}
}

// Values returns the elements, shared with the array
func (a *Array[T]) Values() []T { return a.values }
// ElementsPerItem returns the number of elements of one item
func (a *Array[T]) ElementsPerItem() int { return a.elementsPerItem }
func (a *Array[T]) Kind() Kind { return KindOf[T]() }

// Item returns the elements of item i
func (a *Array[T]) Item(i int) []T {
	return a.values[i*a.elementsPerItem : (i+1)*a.elementsPerItem]
}

func (a *Array[T]) Variant() Variant { return VariantArray }
func (a *Array[T]) Typename() string { return typename(VariantArray, a.Kind()) }
func (a *Array[T]) ItemCount() int { return len(a.values) / a.elementsPerItem }
func (a *Array[T]) Countable() bool { return true }
func (a *Array[T]) BlockSplittable() bool { return false }

func (a *Array[T]) SplitCounts(counts []int, policy SplitPolicy) ([]Value, error) {
	return a.SplitCountsInto(counts, nil, policy)
}

func (a *Array[T]) SplitIndexes(ranges [][]int, policy SplitPolicy) ([]Value, error) {
	return a.SplitIndexesInto(ranges, nil, policy)
}

func (a *Array[T]) SplitBlocks(_ []*block.Descriptor, policy SplitPolicy) ([]Value, error) {
	return nil, splitUnsupported(a, policy, "blocks")
}

// reuse returns dst[i] emptied when it is an Array of the same type and
// elements per item, otherwise a fresh one.
func (a *Array[T]) reuse(dst []Value, i, items int) *Array[T] {
	if i < len(dst) {
		if r, ok := dst[i].(*Array[T]); ok && r != a && r.elementsPerItem == a.elementsPerItem {
			r.values = r.values[:0]
			return r
		}
	}
	return &Array[T]{values: make([]T, 0, items*a.elementsPerItem), elementsPerItem: a.elementsPerItem}
}

func (a *Array[T]) keepValue(n int, dst []Value) []Value {
	out := make([]Value, n)
	for i := range out {
		r := a.reuse(dst, i, a.ItemCount())
		r.values = append(r.values, a.values...)
		out[i] = r
	}
	return out
}

func (a *Array[T]) SplitCountsInto(counts []int, dst []Value, policy SplitPolicy) ([]Value, error) {
	switch policy {
	case SplitKeepValue:
		return a.keepValue(len(counts), dst), nil
	case SplitDefault:
	default:
		return nil, splitUnsupported(a, policy, "counts")
	}
	if err := validateCounts(counts, a.ItemCount()); err != nil {
		return nil, fmt.Errorf("%s: %w", a.Typename(), err)
	}
	out := make([]Value, len(counts))
	first := 0
	for i, c := range counts {
		r := a.reuse(dst, i, c)
		r.values = append(r.values, a.values[first*a.elementsPerItem:(first+c)*a.elementsPerItem]...)
		out[i] = r
		first += c
	}
	return out, nil
}

func (a *Array[T]) SplitIndexesInto(ranges [][]int, dst []Value, policy SplitPolicy) ([]Value, error) {
	switch policy {
	case SplitKeepValue:
		return a.keepValue(len(ranges), dst), nil
	case SplitDefault:
	default:
		return nil, splitUnsupported(a, policy, "indexes")
	}
	totals := make([]int, len(ranges))
	for i, r := range ranges {
		n, err := ValidateRange(r, a.ItemCount())
		if err != nil {
			return nil, fmt.Errorf("%s chunk %d: %w", a.Typename(), i, err)
		}
		totals[i] = n
	}
	out := make([]Value, len(ranges))
	epi := a.elementsPerItem
	for i, rg := range ranges {
		r := a.reuse(dst, i, totals[i])
		for k := 0; k+1 < len(rg); k += 2 {
			r.values = append(r.values, a.values[rg[k]*epi:(rg[k]+rg[k+1])*epi]...)
		}
		out[i] = r
	}
	return out, nil
}

func (a *Array[T]) CanMerge(other Value) bool {
	o, ok := other.(*Array[T])
	return ok && o.elementsPerItem == a.elementsPerItem
}

func (a *Array[T]) SupportsMerge(policy MergePolicy) bool {
	switch policy {
	case MergeDefault, MergeFirstValue, MergeAppendValues:
		return true
	}
	return false
}

func (a *Array[T]) Merge(other Value, policy MergePolicy) error {
	return a.MergeAll([]Value{other}, policy)
}

// MergeAll appends every payload in order with a single reallocation
func (a *Array[T]) MergeAll(others []Value, policy MergePolicy) error {
	if !a.SupportsMerge(policy) {
		return mergeUnsupported(a, policy)
	}
	total := len(a.values)
	for _, o := range others {
		if !a.CanMerge(o) {
			return typeMismatch(a, o)
		}
		total += len(o.(*Array[T]).values)
	}
	if policy == MergeFirstValue {
		return nil
	}
	if cap(a.values) < total {
		grown := make([]T, len(a.values), total)
		copy(grown, a.values)
		a.values = grown
	}
	for _, o := range others {
		a.values = append(a.values, o.(*Array[T]).values...)
	}
	return nil
}

func (a *Array[T]) SoftClean() { a.values = a.values[:0] }

func (a *Array[T]) Clone() Value {
	return &Array[T]{values: append([]T(nil), a.values...), elementsPerItem: a.elementsPerItem}
}

func (a *Array[T]) Prealloc(n, capacity int) []Value {
	out := make([]Value, n)
	for i := range out {
		out[i] = &Array[T]{values: make([]T, 0, capacity*a.elementsPerItem), elementsPerItem: a.elementsPerItem}
	}
	return out
}
