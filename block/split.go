package block

import (
	"fmt"
	"math/bits"
)

// Split decomposes the global domain of b into n sub-domains by recursive
// bisection of the longest axis. The first half of each cut receives the odd
// cell and n/2+n%2 of the sub-domains. Each result carries the global
// attributes of b, its own local region and, when b has a ghost width, the
// matching ghost region with the bisected cells as owned region.
func (b *Descriptor) Split(n int) ([]*Descriptor, error) {
	if n < 1 {
		return nil, fmt.Errorf("cannot split into %d sub-domains", n)
	}
	for _, a := range []Attribute{GlobalExtents, GlobalBBox, Gridspacing} {
		if !b.has[a] {
			return nil, fmt.Errorf("split domain: %w", missing(a))
		}
	}
	if b.globalExt.Cells() < n {
		return nil, fmt.Errorf("global extents hold %d cells, cannot cut %d sub-domains",
			b.globalExt.Cells(), n)
	}

	// Each level halves the remaining count, so depth never exceeds ceil(log2 n)
	maxDepth := bits.Len(uint(n - 1))
	pieces := make([]Extents, 0, n)
	if err := bisect(b.globalExt, n, 0, maxDepth, &pieces); err != nil {
		return nil, err
	}

	result := make([]*Descriptor, 0, n)
	for _, ext := range pieces {
		sub := New()
		sub.SetGridspacing(b.gridspacing)
		sub.SetGlobalBBox(b.global)
		sub.SetGlobalExtents(b.globalExt)
		sub.SetLocalExtents(ext)
		sub.SetLocalBBox(sub.bboxOf(ext))
		if b.HasGhostRegion() {
			if err := sub.BuildGhostRegion(b.ghostWidth); err != nil {
				return nil, err
			}
		} else {
			sub.SetGhostWidth(0)
			sub.SetOwnedExtents(sub.localExt)
			sub.SetOwnedBBox(sub.local)
		}
		result = append(result, sub)
	}
	return result, nil
}

func bisect(ext Extents, n, depth, maxDepth int, out *[]Extents) error {
	if n == 1 {
		*out = append(*out, ext)
		return nil
	}
	if depth >= maxDepth {
		return fmt.Errorf("bisection exceeded depth %d", maxDepth)
	}

	// Longest axis, ties go to the lowest axis
	dim := 0
	for d := 1; d < Dim; d++ {
		if ext[Dim+d] > ext[Dim+dim] {
			dim = d
		}
	}
	if ext[Dim+dim] < 2 {
		return fmt.Errorf("extents %v too small to cut %d more sub-domains", ext, n)
	}

	first := ext
	first[Dim+dim] = ext[Dim+dim]/2 + ext[Dim+dim]%2
	second := ext
	second[dim] += first[Dim+dim]
	second[Dim+dim] = ext[Dim+dim] / 2

	if err := bisect(first, n/2+n%2, depth+1, maxDepth, out); err != nil {
		return err
	}
	return bisect(second, n/2, depth+1, maxDepth, out)
}
