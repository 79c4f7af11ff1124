package partitions

import (
	"fmt"
	"strings"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/notargets/DGFlow/container"
)

// Strategy identifies how a container is cut across destinations
type Strategy uint8

const (
	Count      Strategy = iota // Contiguous balanced runs of items
	RoundRobin                 // Item i to destination (global item rank + i) mod n
	ZCurve                     // Morton ordered buckets of a sliced bounding box
	Block                      // Geometric sub-domains of the domain block
	Proc                       // Whole containers, gathered or broadcast by rank
)

var strategyNames = map[Strategy]string{
	Count:      "count",
	RoundRobin: "round",
	ZCurve:     "zcurve",
	Block:      "block",
	Proc:       "proc",
}

func (s Strategy) String() string {
	if name, ok := strategyNames[s]; ok {
		return name
	}
	return fmt.Sprintf("strategy(%d)", uint8(s))
}

// ParseStrategy maps a workflow strategy name to a Strategy
func ParseStrategy(name string) (Strategy, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "roundrobin" || key == "round_robin" {
		key = "round"
	}
	for s, n := range strategyNames {
		if n == key {
			return s, nil
		}
	}
	return 0, fmt.Errorf("unknown redistribution strategy %q", name)
}

// CommMethod selects how destinations learn how many messages to expect
type CommMethod uint8

const (
	Collective CommMethod = iota // Counts are reduced and scattered by the roots
	P2P                          // Every source sends exactly one message to every destination
)

func (m CommMethod) String() string {
	switch m {
	case Collective:
		return "collective"
	case P2P:
		return "p2p"
	default:
		return fmt.Sprintf("commmethod(%d)", uint8(m))
	}
}

// ParseCommMethod maps "collective" or "p2p" to a CommMethod
func ParseCommMethod(name string) (CommMethod, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "collective", "":
		return Collective, nil
	case "p2p":
		return P2P, nil
	}
	return 0, fmt.Errorf("unknown communication method %q", name)
}

// NoMessage marks a destination that receives no chunk from this source.
// In P2P mode it still receives an empty message.
const NoMessage = -1

// Request describes the caller and the destination group of one split
type Request struct {
	// Global rank of the calling source
	Rank int

	// Destination group
	DestFirst int // Global rank of destination 0
	DestCount int // Number of destinations

	Method CommMethod

	// Collective results, computed over the source group beforehand
	GlobalItemRank  int // Items held by lower source ranks (count, round)
	GlobalItemCount int // Items held by every source (count)

	// Children of a previous split reused by count splits, see container.Prealloc
	Buffers []*container.Container
}

func (r Request) validate() error {
	if r.DestCount < 1 {
		return fmt.Errorf("destination group is empty")
	}
	if r.DestFirst < 0 {
		return fmt.Errorf("invalid first destination rank %d", r.DestFirst)
	}
	return nil
}

// Plan is the outcome of a split: one optional chunk per destination
type Plan struct {
	// Chunks[i] goes to destination i, nil when nothing is sent
	Chunks []*container.Container

	// DestList[i] is the global rank of destination i or NoMessage
	DestList []int

	// Summary[i] is 1 when a wire message goes to destination i. A chunk kept
	// by a rank that is both source and destination travels through the
	// transit slot and is not counted.
	Summary []int
}

func newPlan(n int) *Plan {
	p := &Plan{
		Chunks:   make([]*container.Container, n),
		DestList: make([]int, n),
		Summary:  make([]int, n),
	}
	for i := range p.DestList {
		p.DestList[i] = NoMessage
	}
	return p
}

// Len returns the number of destinations covered by the plan
func (p *Plan) Len() int { return len(p.DestList) }

// Messages returns the number of wire messages the plan produces
func (p *Plan) Messages() int {
	n := 0
	for _, s := range p.Summary {
		n += s
	}
	return n
}

// Validate checks the internal consistency of a plan
func (p *Plan) Validate() error {
	if len(p.Chunks) != len(p.DestList) || len(p.Summary) != len(p.DestList) {
		return fmt.Errorf("plan has %d chunks, %d destinations, %d summary entries",
			len(p.Chunks), len(p.DestList), len(p.Summary))
	}
	for i, d := range p.DestList {
		switch {
		case d == NoMessage && p.Chunks[i] != nil:
			return fmt.Errorf("destination %d has a chunk but no rank", i)
		case d != NoMessage && p.Chunks[i] == nil:
			return fmt.Errorf("destination %d (rank %d) has no chunk", i, d)
		case d == NoMessage && p.Summary[i] != 0:
			return fmt.Errorf("destination %d expects a message that is never sent", i)
		case p.Summary[i] != 0 && p.Summary[i] != 1:
			return fmt.Errorf("destination %d has summary %d", i, p.Summary[i])
		}
	}
	return nil
}

// place records chunk as the payload for destination i
func (p *Plan) place(i int, chunk *container.Container, req Request) {
	rank := req.DestFirst + i
	p.Chunks[i] = chunk
	p.DestList[i] = rank
	if rank != req.Rank {
		p.Summary[i] = 1
	}
}

// fill gives every destination left without a chunk the system fields of c,
// so that system metadata reaches every destination. Without system fields
// those destinations stay at NoMessage.
func (p *Plan) fill(c *container.Container, req Request) {
	if !c.HasSystem() {
		return
	}
	for i, chunk := range p.Chunks {
		if chunk == nil {
			p.place(i, c.SystemOnly(), req)
		}
	}
}

// PlanStats holds load balance metrics of a plan
type PlanStats struct {
	Destinations int     // Destinations receiving items
	MinItems     int     // Smallest non-empty chunk
	MaxItems     int     // Largest chunk
	AvgItems     float64 // Mean items per receiving destination
	StdDev       float64 // Standard deviation of items per receiving destination
	Imbalance    float64 // MaxItems / AvgItems
}

// Statistics computes load balance metrics over the chunks carrying items
func (p *Plan) Statistics() PlanStats {
	counts := make([]float64, 0, len(p.Chunks))
	for _, c := range p.Chunks {
		if c != nil && c.HasData() && c.ItemCount() > 0 {
			counts = append(counts, float64(c.ItemCount()))
		}
	}
	stats := PlanStats{Destinations: len(counts)}
	if len(counts) == 0 {
		return stats
	}
	stats.MinItems = int(floats.Min(counts))
	stats.MaxItems = int(floats.Max(counts))
	stats.AvgItems, stats.StdDev = stat.MeanStdDev(counts, nil)
	if len(counts) == 1 {
		stats.StdDev = 0
	}
	stats.Imbalance = float64(stats.MaxItems) / stats.AvgItems
	return stats
}
