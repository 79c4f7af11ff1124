// Package redist moves containers from a group of source ranks to a group of
// destination ranks.
//
// A Component is built once per link with static group geometry and driven
// once per iteration: sources call Process with RoleSource to split, serialize
// and send their container, destinations call Process with RoleDest to receive
// and merge the expected number of messages into theirs. A rank in both groups
// calls the source side first; the chunk it keeps for itself skips the wire
// through the transit slot.
package redist

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/notargets/DGFlow/comm"
	"github.com/notargets/DGFlow/container"
	"github.com/notargets/DGFlow/errs"
	"github.com/notargets/DGFlow/metric"
	"github.com/notargets/DGFlow/partitions"
	"github.com/notargets/DGFlow/utils"
)

const component = "redist"

// Role selects the side of the exchange a Process call runs
type Role uint8

const (
	RoleSource Role = iota
	RoleDest
)

func (r Role) String() string {
	switch r {
	case RoleSource:
		return "source"
	case RoleDest:
		return "dest"
	default:
		return fmt.Sprintf("Role(%d)", uint8(r))
	}
}

// MergeMethod selects how received containers are merged
type MergeMethod uint8

const (
	// StepMerge merges every message as it arrives
	StepMerge MergeMethod = iota
	// OnceMerge stores the messages and merges them in one pass at the end
	OnceMerge
)

func (m MergeMethod) String() string {
	if m == OnceMerge {
		return "once"
	}
	return "step"
}

// ParseMergeMethod accepts "step" and "once"; an empty name selects step
func ParseMergeMethod(name string) (MergeMethod, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "step":
		return StepMerge, nil
	case "once":
		return OnceMerge, nil
	}
	return 0, fmt.Errorf("unknown merge method %q", name)
}

// Config holds the static geometry and policies of one link
type Config struct {
	SourceFirst int
	SourceCount int
	DestFirst   int
	DestCount   int

	Strategy    partitions.Strategy
	CommMethod  partitions.CommMethod
	MergeMethod MergeMethod

	// ZCurve only. Zero slices select partitions.DefaultSlices, empty bounds
	// are reduced over the sources on the first iteration.
	Slices [3]int
	BBox   partitions.Bounds
}

// Sources returns the source group
func (c Config) Sources() comm.Group { return comm.Group{First: c.SourceFirst, Count: c.SourceCount} }

// Dests returns the destination group
func (c Config) Dests() comm.Group { return comm.Group{First: c.DestFirst, Count: c.DestCount} }

// Validate checks the geometry against a world of size ranks
func (c Config) Validate(size int) error {
	if err := c.Sources().Validate(size); err != nil {
		return fmt.Errorf("sources: %w", err)
	}
	if err := c.Dests().Validate(size); err != nil {
		return fmt.Errorf("destinations: %w", err)
	}
	if c.Strategy == partitions.Proc {
		if _, err := partitions.ProcReceptions(c.SourceCount, c.DestCount); err != nil {
			return err
		}
	}
	for d, s := range c.Slices {
		if s < 0 {
			return fmt.Errorf("%w: negative slice count %d on axis %d", errs.ErrInvalidArgument, s, d)
		}
	}
	return nil
}

// space names the message space of a link; every rank derives the same one
func (c Config) space(name string) string {
	s := fmt.Sprintf("%s.%d.%d.%d.%d.%s", component,
		c.SourceFirst, c.SourceCount, c.DestFirst, c.DestCount, c.Strategy)
	if name != "" {
		s += "." + name
	}
	return s
}

// Option configures a Component
type Option func(*Component)

// WithLogger sets the logger, by default the one carried by the context of
// each call
func WithLogger(l *slog.Logger) Option {
	return func(c *Component) { c.logger = l }
}

// WithMetrics records the exchanges in m
func WithMetrics(m *metric.Metrics) Option {
	return func(c *Component) { c.metrics = m }
}

// WithLedger records every message in l
func WithLedger(l *utils.Ledger) Option {
	return func(c *Component) { c.ledger = l }
}

// WithName separates the messages of links sharing the same geometry and
// strategy. Every rank of the link must use the same name.
func WithName(name string) Option {
	return func(c *Component) { c.name = name }
}

// Stats counts the messages of the latest iteration of each role
type Stats struct {
	SourceIterations int
	DestIterations   int

	Sent          int // Wire messages sent, empty ones included
	EmptySent     int // Empty P2P messages
	BytesSent     int
	Expected      int // Messages the destination waited for, transit included
	Received      int // Wire messages received, empty ones included
	BytesReceived int
	Transit       int // Chunks kept by this rank and merged back
	MergeFailures int
}

// Component redistributes containers between two rank groups
type Component struct {
	id      uuid.UUID
	name    string
	cfg     Config
	comm    comm.Communicator
	sources comm.Group
	dests   comm.Group

	logger  *slog.Logger
	metrics *metric.Metrics
	rec     *metric.Recorder
	ledger  *utils.Ledger

	sendSeq uint64
	recvSeq uint64

	pending []comm.Request
	plan    *partitions.Plan
	buffers []*container.Container

	// Chunk kept by a rank that is both source and destination
	transit    []byte
	hasTransit bool

	// Destination counts reduced by the source root when it is also the
	// destination root
	summary    []int
	hasSummary bool

	bounds     partitions.Bounds
	haveBounds bool

	stats Stats
}

// New creates the component of rank c.Rank() for the link cfg. Every rank of
// the world that takes part in the link must create it with the same cfg.
func New(c comm.Communicator, cfg Config, opts ...Option) (*Component, error) {
	if c == nil {
		return nil, errs.Invalid(component, "New", fmt.Errorf("%w: nil communicator", errs.ErrInvalidArgument))
	}
	if err := cfg.Validate(c.Size()); err != nil {
		c.Abort(err)
		return nil, errs.Fatal(component, "New", err)
	}
	r := &Component{
		id:      uuid.New(),
		cfg:     cfg,
		sources: cfg.Sources(),
		dests:   cfg.Dests(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.comm = c.Sub(cfg.space(r.name))
	r.rec = r.metrics.For(r.id.String(), cfg.Strategy.String())
	if !cfg.BBox.Empty() {
		r.bounds, r.haveBounds = cfg.BBox, true
	}
	return r, nil
}

// ID returns the instance ID used in logs and metric labels
func (r *Component) ID() uuid.UUID { return r.id }

// Config returns the link configuration
func (r *Component) Config() Config { return r.cfg }

// IsSource reports whether this rank belongs to the source group
func (r *Component) IsSource() bool { return r.sources.Contains(r.comm.Rank()) }

// IsDest reports whether this rank belongs to the destination group
func (r *Component) IsDest() bool { return r.dests.Contains(r.comm.Rank()) }

// Stats returns the counters of the latest iteration
func (r *Component) Stats() Stats { return r.stats }

// Pending returns the number of sends not yet flushed
func (r *Component) Pending() int { return len(r.pending) }

// Plan returns the split of the latest source iteration, nil after Flush
func (r *Component) Plan() *partitions.Plan { return r.plan }
