package field

import "github.com/notargets/DGFlow/block"

// Scalar is a single value shared by the whole collection
type Scalar[T Element] struct {
	value T
}

// NewScalar wraps v
func NewScalar[T Element](v T) *Scalar[T] { return &Scalar[T]{value: v} }

// Get returns the value
func (s *Scalar[T]) Get() T { return s.value }
// Set replaces the value
func (s *Scalar[T]) Set(v T) { s.value = v }
func (s *Scalar[T]) Kind() Kind { return KindOf[T]() }

func (s *Scalar[T]) Variant() Variant { return VariantScalar }
func (s *Scalar[T]) Typename() string { return typename(VariantScalar, s.Kind()) }
func (s *Scalar[T]) ItemCount() int { return 1 }
func (s *Scalar[T]) Countable() bool { return true }
func (s *Scalar[T]) BlockSplittable() bool { return false }

func (s *Scalar[T]) split(totals []int, policy SplitPolicy, how string) ([]Value, error) {
	out := make([]Value, len(totals))
	switch policy {
	case SplitDefault, SplitKeepValue:
		for i := range out {
			out[i] = NewScalar(s.value)
		}
	case SplitMinusItemCount:
		for i, n := range totals {
			out[i] = NewScalar(T(n))
		}
	default:
		return nil, splitUnsupported(s, policy, how)
	}
	return out, nil
}

func (s *Scalar[T]) SplitCounts(counts []int, policy SplitPolicy) ([]Value, error) {
	return s.split(counts, policy, "counts")
}

func (s *Scalar[T]) SplitIndexes(ranges [][]int, policy SplitPolicy) ([]Value, error) {
	totals := make([]int, len(ranges))
	for i, r := range ranges {
		totals[i] = RangeTotal(r)
	}
	return s.split(totals, policy, "indexes")
}

func (s *Scalar[T]) SplitBlocks(blocks []*block.Descriptor, policy SplitPolicy) ([]Value, error) {
	if policy == SplitMinusItemCount {
		return nil, splitUnsupported(s, policy, "blocks")
	}
	return s.split(make([]int, len(blocks)), policy, "blocks")
}

func (s *Scalar[T]) CanMerge(other Value) bool {
	_, ok := other.(*Scalar[T])
	return ok
}

func (s *Scalar[T]) SupportsMerge(policy MergePolicy) bool {
	switch policy {
	case MergeDefault, MergeFirstValue, MergeAddValue:
		return true
	}
	return false
}

func (s *Scalar[T]) Merge(other Value, policy MergePolicy) error {
	o, ok := other.(*Scalar[T])
	if !ok {
		return typeMismatch(s, other)
	}
	switch policy {
	case MergeDefault, MergeFirstValue:
	case MergeAddValue:
		s.value += o.value
	default:
		return mergeUnsupported(s, policy)
	}
	return nil
}

func (s *Scalar[T]) MergeAll(others []Value, policy MergePolicy) error {
	if !s.SupportsMerge(policy) {
		return mergeUnsupported(s, policy)
	}
	for _, o := range others {
		if !s.CanMerge(o) {
			return typeMismatch(s, o)
		}
	}
	for _, o := range others {
		if err := s.Merge(o, policy); err != nil {
			return err
		}
	}
	return nil
}

// SoftClean keeps the value: a scalar holds no buffer to empty
func (s *Scalar[T]) SoftClean() {}

func (s *Scalar[T]) Clone() Value { return NewScalar(s.value) }

func (s *Scalar[T]) Prealloc(n, _ int) []Value {
	out := make([]Value, n)
	for i := range out {
		out[i] = &Scalar[T]{}
	}
	return out
}
