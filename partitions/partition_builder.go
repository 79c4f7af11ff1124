package partitions

import (
	"errors"
	"fmt"

	"github.com/notargets/gocfd/utils"

	"github.com/notargets/DGFlow/block"
	"github.com/notargets/DGFlow/container"
	"github.com/notargets/DGFlow/errs"
	"github.com/notargets/DGFlow/field"
)

// DomainBlockField is the name of the Block field that drives block splits
const DomainBlockField = "domain_block"

// ErrNoDomainBlock reports a block split over a container without domain block
var ErrNoDomainBlock = errors.New("no " + DomainBlockField + " field")

// DefaultSlices is the number of z-curve slices per axis when none is given
var DefaultSlices = [3]int{8, 8, 8}

// Bounds is an axis-aligned box given by its lower and upper corners
type Bounds struct {
	Min [3]float32
	Max [3]float32
}

// Empty reports whether b was never set
func (b Bounds) Empty() bool { return b == Bounds{} }

// BoundsOf returns the smallest box holding every x,y,z triple of pos
func BoundsOf(pos []float32) (Bounds, bool) {
	if len(pos) < 3 {
		return Bounds{}, false
	}
	b := Bounds{Min: [3]float32(pos[:3]), Max: [3]float32(pos[:3])}
	for i := 3; i+2 < len(pos); i += 3 {
		for d := 0; d < 3; d++ {
			b.Min[d] = min(b.Min[d], pos[i+d])
			b.Max[d] = max(b.Max[d], pos[i+d])
		}
	}
	return b, true
}

// Options carries the strategy specific parameters of a split
type Options struct {
	Strategy Strategy

	// ZCurve: slices per axis and the global bounding box of positions
	Slices [3]int
	Bounds Bounds

	// Proc: index of the caller in the source group and the group size
	SourceIndex int
	SourceCount int
}

// Split dispatches c to the splitter of opts.Strategy
func Split(c *container.Container, req Request, opts Options) (*Plan, error) {
	switch opts.Strategy {
	case Count:
		return SplitByCount(c, req)
	case RoundRobin:
		return SplitByRound(c, req)
	case ZCurve:
		return SplitByZCurve(c, req, opts.Slices, opts.Bounds)
	case Block:
		return SplitByBlock(c, req)
	case Proc:
		return SplitByProc(c, req, opts.SourceIndex, opts.SourceCount)
	default:
		return nil, fmt.Errorf("split: unknown strategy %s", opts.Strategy)
	}
}

// SplitByCount cuts the items of c into contiguous runs so that, over every
// source, each destination receives an equal share of the global item count.
// The first destinations take one more item when the count does not divide.
func SplitByCount(c *container.Container, req Request) (*Plan, error) {
	if err := req.validate(); err != nil {
		return nil, fmt.Errorf("count split: %w", err)
	}
	plan := newPlan(req.DestCount)
	if !c.HasData() {
		plan.fill(c, req)
		return plan, nil
	}
	if !c.Countable() {
		return nil, fmt.Errorf("count split: %w", errs.ErrNotCountable)
	}

	n := c.ItemCount()
	if n > 0 {
		first, last := req.GlobalItemRank, req.GlobalItemRank+n
		if first < 0 || last > req.GlobalItemCount {
			return nil, fmt.Errorf("count split: items [%d,%d) outside the global count %d",
				first, last, req.GlobalItemCount)
		}
		pm := utils.NewPartitionMap(req.DestCount, req.GlobalItemCount)
		bFirst, _, _ := pm.GetBucket(first)
		bLast, _, _ := pm.GetBucket(last - 1)
		if bFirst < 0 || bLast < 0 {
			return nil, fmt.Errorf("count split: items [%d,%d) not covered by %d destinations",
				first, last, req.DestCount)
		}

		// Overlap of each destination's run with the local items
		counts := make([]int, bLast-bFirst+1)
		for b := bFirst; b <= bLast; b++ {
			kMin, kMax := pm.GetBucketRange(b)
			counts[b-bFirst] = min(kMax, last) - max(kMin, first)
		}
		chunks, err := c.SplitInto(counts, bufferWindow(req.Buffers, bFirst, len(counts)))
		if err != nil {
			return nil, fmt.Errorf("count split: %w", err)
		}
		for k, ch := range chunks {
			plan.place(bFirst+k, ch, req)
		}
	}
	plan.fill(c, req)
	return plan, nil
}

// SplitByRound deals the items of c to the destinations one at a time,
// starting after the items held by lower source ranks.
func SplitByRound(c *container.Container, req Request) (*Plan, error) {
	if err := req.validate(); err != nil {
		return nil, fmt.Errorf("round robin split: %w", err)
	}
	if !c.HasData() {
		plan := newPlan(req.DestCount)
		plan.fill(c, req)
		return plan, nil
	}
	if !c.Countable() {
		return nil, fmt.Errorf("round robin split: %w", errs.ErrNotCountable)
	}

	builders := make([]field.RangeBuilder, req.DestCount)
	for i := 0; i < c.ItemCount(); i++ {
		builders[(req.GlobalItemRank+i)%req.DestCount].Add(i)
	}
	plan, err := splitRanges(c, req, builders)
	if err != nil {
		return nil, fmt.Errorf("round robin split: %w", err)
	}
	return plan, nil
}

// SplitByZCurve buckets the positions of c into a grid of slices over bounds,
// orders the cells along a Morton curve and hands each destination an equal
// share of the curve.
func SplitByZCurve(c *container.Container, req Request, slices [3]int, bounds Bounds) (*Plan, error) {
	if err := req.validate(); err != nil {
		return nil, fmt.Errorf("zcurve split: %w", err)
	}
	if !c.HasData() {
		plan := newPlan(req.DestCount)
		plan.fill(c, req)
		return plan, nil
	}
	if !c.Countable() {
		return nil, fmt.Errorf("zcurve split: %w", errs.ErrNotCountable)
	}
	pos, ok := c.PositionKey()
	if !ok {
		return nil, fmt.Errorf("zcurve split: %w", container.ErrNoZCurveKey)
	}

	curve := NewCurve(slices, bounds, req.DestCount)
	builders := make([]field.RangeBuilder, req.DestCount)
	for i := 0; i+2 < len(pos); i += 3 {
		builders[curve.Destination(pos[i], pos[i+1], pos[i+2])].Add(i / 3)
	}
	plan, err := splitRanges(c, req, builders)
	if err != nil {
		return nil, fmt.Errorf("zcurve split: %w", err)
	}
	return plan, nil
}

// Curve maps positions to destinations along a Morton curve
type Curve struct {
	slices         [3]int
	bounds         Bounds
	delta          [3]float32
	nbDests        uint32
	indexesPerDest uint32
	rankOffset     uint32
}

// NewCurve divides bounds into slices cells per axis and the Morton range of
// those cells into nbDests shares. Slices below 1 are raised to 1; a zero
// slices value selects DefaultSlices.
func NewCurve(slices [3]int, bounds Bounds, nbDests int) *Curve {
	if slices == [3]int{} {
		slices = DefaultSlices
	}
	cv := &Curve{bounds: bounds, nbDests: uint32(max(nbDests, 1))}
	for d := range slices {
		cv.slices[d] = max(slices[d], 1)
		cv.delta[d] = (bounds.Max[d] - bounds.Min[d]) / float32(cv.slices[d])
	}
	maxIndex := block.MortonEncode(uint32(cv.slices[0]-1), uint32(cv.slices[1]-1), uint32(cv.slices[2]-1))
	cv.indexesPerDest = maxIndex / cv.nbDests
	cv.rankOffset = maxIndex % cv.nbDests
	return cv
}

// Cell returns the slice coordinates of a position, clamped to the grid
func (cv *Curve) Cell(x, y, z float32) (cell [3]uint32) {
	p := [3]float32{x, y, z}
	for d := range p {
		if cv.delta[d] <= 0 {
			continue
		}
		v := int((p[d] - cv.bounds.Min[d]) / cv.delta[d])
		cell[d] = uint32(min(max(v, 0), cv.slices[d]-1))
	}
	return cell
}

// Destination returns the destination index owning the cell of a position.
// The first rankOffset destinations own one more Morton index than the others.
func (cv *Curve) Destination(x, y, z float32) int {
	cell := cv.Cell(x, y, z)
	morton := block.MortonEncode(cell[0], cell[1], cell[2])

	var dest uint32
	wide := cv.rankOffset * (cv.indexesPerDest + 1)
	switch {
	case morton < wide:
		dest = morton / (cv.indexesPerDest + 1)
	case cv.indexesPerDest == 0:
		dest = morton
	default:
		dest = cv.rankOffset + (morton-wide)/cv.indexesPerDest
	}
	// The last Morton index lands one past the final share
	return int(min(dest, cv.nbDests-1))
}

// SplitByBlock cuts the domain block of c into one sub-domain per destination
// and splits every field against those sub-domains. Each child carries its
// sub-domain as domain block. Destinations whose sub-domain holds no item get
// no chunk.
func SplitByBlock(c *container.Container, req Request) (*Plan, error) {
	if err := req.validate(); err != nil {
		return nil, fmt.Errorf("block split: %w", err)
	}
	plan := newPlan(req.DestCount)
	if !c.HasData() {
		plan.fill(c, req)
		return plan, nil
	}
	domain, ok := container.BlockField(c, DomainBlockField)
	if !ok {
		return nil, fmt.Errorf("block split: %w", ErrNoDomainBlock)
	}
	subs, err := domain.Descriptor().Split(req.DestCount)
	if err != nil {
		return nil, fmt.Errorf("block split: %w", err)
	}
	children, err := c.SplitBlocks(subs)
	if err != nil {
		return nil, fmt.Errorf("block split: %w", err)
	}
	for i, child := range children {
		if err := child.Update(DomainBlockField, field.NewBlock(subs[i])); err != nil {
			return nil, fmt.Errorf("block split: %w", err)
		}
		if carriesItems(child) {
			plan.place(i, child, req)
		}
	}
	plan.fill(c, req)
	return plan, nil
}

// ProcTargets returns the destination indexes fed by source index src.
// With at least as many sources as destinations, consecutive sources gather
// on one destination; otherwise each source feeds consecutive destinations.
// The larger group size must be a multiple of the smaller one.
func ProcTargets(src, nbSources, nbDests int) ([]int, error) {
	if err := checkProcGeometry(nbSources, nbDests); err != nil {
		return nil, err
	}
	if src < 0 || src >= nbSources {
		return nil, fmt.Errorf("%w: source index %d outside [0,%d)", errs.ErrGroupGeometry, src, nbSources)
	}
	if nbSources >= nbDests {
		return []int{src / (nbSources / nbDests)}, nil
	}
	nbSends := nbDests / nbSources
	targets := make([]int, nbSends)
	for i := range targets {
		targets[i] = src*nbSends + i
	}
	return targets, nil
}

// ProcReceptions returns how many containers each destination receives
func ProcReceptions(nbSources, nbDests int) (int, error) {
	if err := checkProcGeometry(nbSources, nbDests); err != nil {
		return 0, err
	}
	if nbSources > nbDests {
		return nbSources / nbDests, nil
	}
	return 1, nil
}

func checkProcGeometry(nbSources, nbDests int) error {
	switch {
	case nbSources < 1 || nbDests < 1:
		return fmt.Errorf("%w: %d sources, %d destinations", errs.ErrGroupGeometry, nbSources, nbDests)
	case nbSources > nbDests && nbSources%nbDests != 0:
		return fmt.Errorf("%w: %d destinations do not divide %d sources",
			errs.ErrGroupGeometry, nbDests, nbSources)
	case nbSources < nbDests && nbDests%nbSources != 0:
		return fmt.Errorf("%w: %d sources do not divide %d destinations",
			errs.ErrGroupGeometry, nbSources, nbDests)
	}
	return nil
}

// SplitByProc sends the whole container to the destinations of ProcTargets
func SplitByProc(c *container.Container, req Request, src, nbSources int) (*Plan, error) {
	if err := req.validate(); err != nil {
		return nil, fmt.Errorf("proc split: %w", err)
	}
	targets, err := ProcTargets(src, nbSources, req.DestCount)
	if err != nil {
		return nil, fmt.Errorf("proc split: %w", err)
	}
	plan := newPlan(req.DestCount)
	for _, t := range targets {
		plan.place(t, c, req)
	}
	return plan, nil
}

// splitRanges splits c over the destinations whose builder holds items
func splitRanges(c *container.Container, req Request, builders []field.RangeBuilder) (*Plan, error) {
	plan := newPlan(req.DestCount)
	dests := make([]int, 0, len(builders))
	ranges := make([][]int, 0, len(builders))
	for i := range builders {
		if builders[i].Len() > 0 {
			dests = append(dests, i)
			ranges = append(ranges, builders[i].Range())
		}
	}
	if len(dests) > 0 {
		var buffers []*container.Container
		if len(req.Buffers) > 0 {
			buffers = make([]*container.Container, len(dests))
			for k, d := range dests {
				if d < len(req.Buffers) {
					buffers[k] = req.Buffers[d]
				}
			}
		}
		chunks, err := c.SplitIndexesInto(ranges, buffers)
		if err != nil {
			return nil, err
		}
		for k, ch := range chunks {
			plan.place(dests[k], ch, req)
		}
	}
	plan.fill(c, req)
	return plan, nil
}

// bufferWindow returns buffers[from:from+n] clipped to what exists
func bufferWindow(buffers []*container.Container, from, n int) []*container.Container {
	if from >= len(buffers) {
		return nil
	}
	return buffers[from:min(from+n, len(buffers))]
}

// carriesItems reports whether a block split child holds anything to send.
// Children without array fields always do.
func carriesItems(c *container.Container) bool {
	arrays := 0
	for _, name := range c.UserNames() {
		v, _ := c.Field(name)
		switch v.Variant() {
		case field.VariantArray, field.VariantArray3D:
			arrays++
			if v.ItemCount() > 0 {
				return true
			}
		}
	}
	return arrays == 0
}
