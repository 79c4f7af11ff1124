package field

import "github.com/notargets/DGFlow/block"

// Value is one typed field payload. Split operations never modify the
// receiver; Merge and MergeAll modify it in place.
type Value interface {
	Variant() Variant
	Kind() Kind
	// Typename is "<Variant>_<kind>", or "Block" for block fields
	Typename() string

	ItemCount() int
	// Countable fields take part in item-count coherence
	Countable() bool
	// BlockSplittable fields can be split against sub-domains
	BlockSplittable() bool

	// SplitCounts produces one chunk per count, in order
	SplitCounts(counts []int, policy SplitPolicy) ([]Value, error)
	// SplitIndexes produces one chunk per index range
	SplitIndexes(ranges [][]int, policy SplitPolicy) ([]Value, error)
	// SplitBlocks produces one chunk per sub-domain
	SplitBlocks(blocks []*block.Descriptor, policy SplitPolicy) ([]Value, error)

	Merge(other Value, policy MergePolicy) error
	MergeAll(others []Value, policy MergePolicy) error
	CanMerge(other Value) bool
	SupportsMerge(policy MergePolicy) bool

	// SoftClean drops the logical content and keeps allocated storage
	SoftClean()
	Clone() Value
	// Prealloc returns n empty values of the same type, each with room for
	// capacity items
	Prealloc(n, capacity int) []Value
}

// Reusable is implemented by values that can split into previously allocated
// chunks. dst entries of a different type are replaced.
type Reusable interface {
	SplitCountsInto(counts []int, dst []Value, policy SplitPolicy) ([]Value, error)
	SplitIndexesInto(ranges [][]int, dst []Value, policy SplitPolicy) ([]Value, error)
}

func typename(v Variant, k Kind) string {
	if v == VariantBlock {
		return v.String()
	}
	return v.String() + "_" + k.String()
}
