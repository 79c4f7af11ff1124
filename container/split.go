package container

import (
	"fmt"
	"log/slog"

	"github.com/notargets/DGFlow/block"
	"github.com/notargets/DGFlow/errs"
	"github.com/notargets/DGFlow/field"
)

// splitter produces the n chunks of one field. dst holds the matching fields
// of reused children, nil when nothing can be reused.
type splitter func(name string, e *entry, dst []field.Value) ([]field.Value, error)

// Split cuts the container into len(counts) children holding contiguous runs
// of counts[i] items.
func (c *Container) Split(counts []int) ([]*Container, error) {
	return c.SplitInto(counts, nil)
}

// SplitInto is Split writing into previously allocated children, see Prealloc.
// Missing or nil buffers are allocated.
func (c *Container) SplitInto(counts []int, buffers []*Container) ([]*Container, error) {
	if !c.Countable() {
		return nil, fmt.Errorf("split by counts: %w", errs.ErrNotCountable)
	}
	sum := 0
	for _, n := range counts {
		sum += n
	}
	if sum != c.itemCount {
		return nil, fmt.Errorf("split by counts: %w: expected %d items, counts hold %d",
			ErrItemCountMismatch, c.itemCount, sum)
	}
	return c.splitWith(len(counts), buffers, func(_ string, e *entry, dst []field.Value) ([]field.Value, error) {
		if r, ok := e.value.(field.Reusable); ok && dst != nil {
			return r.SplitCountsInto(counts, dst, e.meta.Split)
		}
		return e.value.SplitCounts(counts, e.meta.Split)
	})
}

// SplitIndexes cuts the container into one child per index range
func (c *Container) SplitIndexes(ranges [][]int) ([]*Container, error) {
	return c.SplitIndexesInto(ranges, nil)
}

func (c *Container) SplitIndexesInto(ranges [][]int, buffers []*Container) ([]*Container, error) {
	if !c.Countable() {
		return nil, fmt.Errorf("split by indexes: %w", errs.ErrNotCountable)
	}
	for i, r := range ranges {
		if _, err := field.ValidateRange(r, c.itemCount); err != nil {
			return nil, fmt.Errorf("split by indexes, chunk %d: %w", i, err)
		}
	}
	return c.splitWith(len(ranges), buffers, func(_ string, e *entry, dst []field.Value) ([]field.Value, error) {
		if r, ok := e.value.(field.Reusable); ok && dst != nil {
			return r.SplitIndexesInto(ranges, dst, e.meta.Split)
		}
		return e.value.SplitIndexes(ranges, e.meta.Split)
	})
}

// SplitBlocks cuts the container into one child per sub-domain. Block
// splittable fields are cut geometrically; the others follow the items whose
// Morton index or position lies in each sub-domain.
func (c *Container) SplitBlocks(blocks []*block.Descriptor) ([]*Container, error) {
	var ranges [][]int
	return c.splitWith(len(blocks), nil, func(name string, e *entry, _ []field.Value) ([]field.Value, error) {
		if e.value.BlockSplittable() {
			return e.value.SplitBlocks(blocks, e.meta.Split)
		}
		if !e.value.Countable() {
			return nil, fmt.Errorf("neither block splittable nor countable: %w", errs.ErrNotCountable)
		}
		if ranges == nil {
			var err error
			if ranges, err = c.blockRanges(blocks); err != nil {
				return nil, err
			}
		}
		return e.value.SplitIndexes(ranges, e.meta.Split)
	})
}

// blockRanges places every item in the sub-domains containing it. Morton
// indexes are tested against local cell extents, positions against local
// boxes. An item may land in several overlapping sub-domains or in none.
func (c *Container) blockRanges(blocks []*block.Descriptor) ([][]int, error) {
	builders := make([]field.RangeBuilder, len(blocks))
	place := func(i int, in func(b *block.Descriptor) (bool, error)) (bool, error) {
		placed := false
		for k, b := range blocks {
			ok, err := in(b)
			if err != nil {
				return false, fmt.Errorf("sub-domain %d: %w", k, err)
			}
			if ok {
				builders[k].Add(i)
				placed = true
			}
		}
		return placed, nil
	}

	orphans := 0
	if morton, ok := c.MortonKey(); ok {
		for i, m := range morton {
			x, y, z := block.MortonDecode(m)
			placed, err := place(i, func(b *block.Descriptor) (bool, error) {
				return b.IsInLocalExtents(x, y, z)
			})
			if err != nil {
				return nil, err
			}
			if !placed {
				orphans++
			}
		}
	} else if pos, ok := c.PositionKey(); ok {
		for i := 0; i+2 < len(pos); i += 3 {
			x, y, z := pos[i], pos[i+1], pos[i+2]
			placed, err := place(i/3, func(b *block.Descriptor) (bool, error) {
				return b.IsInLocalBBox(x, y, z)
			})
			if err != nil {
				return nil, err
			}
			if !placed {
				orphans++
			}
		}
	} else {
		return nil, ErrNoZCurveKey
	}
	if orphans > 0 {
		c.logger.Debug("items outside every sub-domain", slog.Int("count", orphans))
	}

	ranges := make([][]int, len(blocks))
	for k := range builders {
		ranges[k] = builders[k].Range()
	}
	return ranges, nil
}

func (c *Container) splitWith(n int, buffers []*Container, split splitter) ([]*Container, error) {
	children := make([]*Container, n)
	reuse := false
	for i := range children {
		if i < len(buffers) && buffers[i] != nil {
			children[i] = buffers[i]
			children[i].SoftClean()
			reuse = true
			continue
		}
		children[i] = New(WithLogger(c.logger))
	}

	for _, name := range c.splitSequence() {
		e := c.fields[name]
		var dst []field.Value
		if reuse {
			dst = make([]field.Value, n)
			for i, child := range children {
				if ce, ok := child.fields[name]; ok {
					dst[i] = ce.value
				}
			}
		}
		chunks, err := split(name, e, dst)
		if err != nil {
			return nil, fmt.Errorf("split field %q: %w", name, err)
		}
		if len(chunks) != n {
			return nil, fmt.Errorf("split field %q: %d chunks for %d children", name, len(chunks), n)
		}
		for i, v := range chunks {
			children[i].fields[name] = &entry{value: v, meta: e.meta}
		}
	}

	for i, child := range children {
		for name := range child.fields {
			if _, ok := c.fields[name]; !ok {
				delete(child.fields, name)
			}
		}
		count, err := coherentCount(child.fields)
		if err != nil {
			return nil, fmt.Errorf("child %d: %w", i, err)
		}
		child.itemCount = count
	}
	return children, nil
}

// Prealloc returns n empty children with the fields of c, each with room for
// capacity items, for use with SplitInto and SplitIndexesInto.
func (c *Container) Prealloc(n, capacity int) []*Container {
	children := make([]*Container, n)
	for i := range children {
		children[i] = New(WithLogger(c.logger))
	}
	for name, e := range c.fields {
		values := e.value.Prealloc(n, capacity)
		for i, v := range values {
			children[i].fields[name] = &entry{value: v, meta: e.meta}
		}
	}
	return children
}
