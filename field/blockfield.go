package field

import "github.com/notargets/DGFlow/block"

// Block carries a block descriptor as a field, typically the domain layout
// of the collection.
type Block struct {
	desc *block.Descriptor
}

// NewBlock wraps d, a nil d is replaced by an empty descriptor
func NewBlock(d *block.Descriptor) *Block {
	if d == nil {
		d = block.New()
	}
	return &Block{desc: d}
}

func (b *Block) Descriptor() *block.Descriptor { return b.desc }

func (b *Block) Variant() Variant { return VariantBlock }
func (b *Block) Kind() Kind { return KindNone }
func (b *Block) Typename() string { return typename(VariantBlock, KindNone) }
func (b *Block) ItemCount() int { return 1 }
func (b *Block) Countable() bool { return false }
func (b *Block) BlockSplittable() bool { return true }

func (b *Block) copies(n int, policy SplitPolicy, how string) ([]Value, error) {
	if policy != SplitDefault && policy != SplitKeepValue {
		return nil, splitUnsupported(b, policy, how)
	}
	out := make([]Value, n)
	for i := range out {
		out[i] = b.Clone()
	}
	return out, nil
}

func (b *Block) SplitCounts(counts []int, policy SplitPolicy) ([]Value, error) {
	return b.copies(len(counts), policy, "counts")
}

func (b *Block) SplitIndexes(ranges [][]int, policy SplitPolicy) ([]Value, error) {
	return b.copies(len(ranges), policy, "indexes")
}

func (b *Block) SplitBlocks(blocks []*block.Descriptor, policy SplitPolicy) ([]Value, error) {
	return b.copies(len(blocks), policy, "blocks")
}

func (b *Block) CanMerge(other Value) bool {
	_, ok := other.(*Block)
	return ok
}

func (b *Block) SupportsMerge(policy MergePolicy) bool {
	return policy == MergeDefault || policy == MergeFirstValue
}

// Merge with the default policy replaces b by the union of both descriptors
func (b *Block) Merge(other Value, policy MergePolicy) error {
	o, ok := other.(*Block)
	if !ok {
		return typeMismatch(b, other)
	}
	switch policy {
	case MergeDefault:
		b.desc = b.desc.Union(o.desc)
	case MergeFirstValue:
	default:
		return mergeUnsupported(b, policy)
	}
	return nil
}

func (b *Block) MergeAll(others []Value, policy MergePolicy) error {
	for _, o := range others {
		if !b.CanMerge(o) {
			return typeMismatch(b, o)
		}
	}
	for _, o := range others {
		if err := b.Merge(o, policy); err != nil {
			return err
		}
	}
	return nil
}

func (b *Block) SoftClean() {}

func (b *Block) Clone() Value { return &Block{desc: b.desc.Clone()} }

func (b *Block) Prealloc(n, _ int) []Value {
	out := make([]Value, n)
	for i := range out {
		out[i] = NewBlock(nil)
	}
	return out
}
