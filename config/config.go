// Package config loads the links of a coupled workflow.
//
// A link is the resolved tuple a redistribution component is built from: the
// source and destination rank ranges plus the strategy name, with the
// optional communication and merge methods and the z-curve parameters. Links
// are read from YAML or HCL files of the same shape:
//
//	logging {
//	  level  = "debug"
//	  format = "json"
//	}
//
//	link "particles" {
//	  source_first = 0
//	  source_count = 3
//	  dest_first   = 3
//	  dest_count   = 2
//	  strategy     = "count"
//	  comm_method  = "p2p"
//
//	  buffer {
//	    selector = "recent"
//	    frames   = 4
//	  }
//	}
package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"gopkg.in/yaml.v3"

	"github.com/notargets/DGFlow/comm"
	"github.com/notargets/DGFlow/ctxlog"
	"github.com/notargets/DGFlow/partitions"
	"github.com/notargets/DGFlow/redist"
	"github.com/notargets/DGFlow/stream"
)

// File is the content of a workflow link file
type File struct {
	Logging *Logging `yaml:"logging,omitempty" hcl:"logging,block"`
	Links   []Link   `yaml:"links" hcl:"link,block"`
}

// Logging selects the level and format of NewLogger
type Logging struct {
	Level  string `yaml:"level,omitempty" hcl:"level,optional"`
	Format string `yaml:"format,omitempty" hcl:"format,optional"`
}

// Link describes one producer to consumer edge
type Link struct {
	Name        string `yaml:"name" hcl:"name,label"`
	SourceFirst int    `yaml:"source_first" hcl:"source_first"`
	SourceCount int    `yaml:"source_count" hcl:"source_count"`
	DestFirst   int    `yaml:"dest_first" hcl:"dest_first"`
	DestCount   int    `yaml:"dest_count" hcl:"dest_count"`
	Strategy    string `yaml:"strategy" hcl:"strategy"`
	CommMethod  string `yaml:"comm_method,omitempty" hcl:"comm_method,optional"`
	MergeMethod string `yaml:"merge_method,omitempty" hcl:"merge_method,optional"`

	// ZCurve: three slice counts and the box as min x,y,z then max x,y,z
	Slices []int     `yaml:"slices,omitempty" hcl:"slices,optional"`
	BBox   []float32 `yaml:"bbox,omitempty" hcl:"bbox,optional"`

	// Frames received by the destinations are buffered when set
	Buffer *Buffer `yaml:"buffer,omitempty" hcl:"buffer,block"`
}

// Buffer describes the frame buffer on the destination side of a link
type Buffer struct {
	Selector string `yaml:"selector,omitempty" hcl:"selector,optional"` // sequential, recent or lowhigh
	Every    int    `yaml:"every,omitempty" hcl:"every,optional"`
	Low      int    `yaml:"low,omitempty" hcl:"low,optional"`
	High     int    `yaml:"high,omitempty" hcl:"high,optional"`

	Policy     string `yaml:"policy,omitempty" hcl:"policy,optional"` // greedy or lru
	Frames     int    `yaml:"frames" hcl:"frames"`                     // In memory
	DiskFrames int    `yaml:"disk_frames,omitempty" hcl:"disk_frames,optional"`
	Dir        string `yaml:"dir,omitempty" hcl:"dir,optional"`
}

// Validate reports every problem of the buffer
func (b *Buffer) Validate() error {
	var result *multierror.Error
	if _, err := stream.ParseSelector(b.Selector, b.Every, b.Low, b.High); err != nil {
		result = multierror.Append(result, err)
	}
	if _, err := stream.ParsePolicy(b.Policy); err != nil {
		result = multierror.Append(result, err)
	}
	if b.Frames < 1 {
		result = multierror.Append(result, fmt.Errorf("buffer frames %d must be positive", b.Frames))
	}
	if b.DiskFrames < 0 {
		result = multierror.Append(result, fmt.Errorf("buffer disk frames %d must not be negative", b.DiskFrames))
	}
	return result.ErrorOrNil()
}

// Stream builds the buffer of rank c.Rank() of group g: memory first, then
// disk when DiskFrames is set
func (b *Buffer) Stream(c comm.Communicator, g comm.Group, opts ...stream.Option) (*stream.Stream, error) {
	if err := b.Validate(); err != nil {
		return nil, err
	}
	sel, _ := stream.ParseSelector(b.Selector, b.Every, b.Low, b.High)
	policy, _ := stream.ParsePolicy(b.Policy)
	storages := []stream.Storage{stream.NewMemoryStorage(b.Frames)}
	if b.DiskFrames > 0 {
		storages = append(storages, stream.NewFileStorage(b.Dir, c.Rank(), b.DiskFrames))
	}
	return stream.New(c, g, sel, stream.NewCollection(policy, storages...), opts...)
}

// Validate reports every problem of the link
func (l Link) Validate() error {
	var result *multierror.Error
	add := func(format string, args ...any) {
		result = multierror.Append(result, fmt.Errorf(format, args...))
	}
	if l.SourceFirst < 0 || l.SourceCount < 1 {
		add("source ranks [%d,+%d) are invalid", l.SourceFirst, l.SourceCount)
	}
	if l.DestFirst < 0 || l.DestCount < 1 {
		add("destination ranks [%d,+%d) are invalid", l.DestFirst, l.DestCount)
	}
	strategy, err := partitions.ParseStrategy(l.Strategy)
	if err != nil {
		result = multierror.Append(result, err)
	}
	if _, err := partitions.ParseCommMethod(l.CommMethod); err != nil {
		result = multierror.Append(result, err)
	}
	if _, err := redist.ParseMergeMethod(l.MergeMethod); err != nil {
		result = multierror.Append(result, err)
	}
	if err == nil && strategy == partitions.Proc && l.SourceCount > 0 && l.DestCount > 0 {
		if _, err := partitions.ProcReceptions(l.SourceCount, l.DestCount); err != nil {
			result = multierror.Append(result, err)
		}
	}
	switch len(l.Slices) {
	case 0:
	case 3:
		for d, s := range l.Slices {
			if s < 1 {
				add("slice count %d on axis %d must be positive", s, d)
			}
		}
	default:
		add("slices needs 3 values, got %d", len(l.Slices))
	}
	switch len(l.BBox) {
	case 0:
	case 6:
		for d := 0; d < 3; d++ {
			if l.BBox[d] > l.BBox[d+3] {
				add("bbox axis %d: min %g above max %g", d, l.BBox[d], l.BBox[d+3])
			}
		}
	default:
		add("bbox needs 6 values, got %d", len(l.BBox))
	}
	if l.Buffer != nil {
		if err := l.Buffer.Validate(); err != nil {
			result = multierror.Append(result, err)
		}
	}

	if err := result.ErrorOrNil(); err != nil {
		return fmt.Errorf("link %q: %w", l.Name, err)
	}
	return nil
}

// RedistConfig converts a valid link to the component configuration
func (l Link) RedistConfig() (redist.Config, error) {
	if err := l.Validate(); err != nil {
		return redist.Config{}, err
	}
	strategy, _ := partitions.ParseStrategy(l.Strategy)
	method, _ := partitions.ParseCommMethod(l.CommMethod)
	merge, _ := redist.ParseMergeMethod(l.MergeMethod)
	cfg := redist.Config{
		SourceFirst: l.SourceFirst,
		SourceCount: l.SourceCount,
		DestFirst:   l.DestFirst,
		DestCount:   l.DestCount,
		Strategy:    strategy,
		CommMethod:  method,
		MergeMethod: merge,
	}
	if len(l.Slices) == 3 {
		cfg.Slices = [3]int(l.Slices)
	}
	if len(l.BBox) == 6 {
		cfg.BBox = partitions.Bounds{Min: [3]float32(l.BBox[:3]), Max: [3]float32(l.BBox[3:])}
	}
	return cfg, nil
}

// Validate checks every link and the uniqueness of their names
func (f *File) Validate() error {
	var result *multierror.Error
	seen := make(map[string]bool, len(f.Links))
	for _, l := range f.Links {
		if l.Name == "" {
			result = multierror.Append(result, fmt.Errorf("link without a name"))
		} else if seen[l.Name] {
			result = multierror.Append(result, fmt.Errorf("duplicate link %q", l.Name))
		}
		seen[l.Name] = true
		if err := l.Validate(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

// Link returns the link called name
func (f *File) Link(name string) (Link, bool) {
	for _, l := range f.Links {
		if l.Name == name {
			return l, true
		}
	}
	return Link{}, false
}

// LoadLinksYAML decodes and validates a YAML link file
func LoadLinksYAML(data []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse links: %w", err)
	}
	if err := f.Validate(); err != nil {
		return nil, fmt.Errorf("invalid links: %w", err)
	}
	return &f, nil
}

// LoadLinksHCL decodes and validates an HCL link file. name is used in
// diagnostics only.
func LoadLinksHCL(data []byte, name string) (*File, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCL(data, name)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse HCL links %s: %s", name, diags.Error())
	}
	var f File
	if diags := gohcl.DecodeBody(file.Body, nil, &f); diags.HasErrors() {
		return nil, fmt.Errorf("failed to decode HCL links %s: %s", name, diags.Error())
	}
	if err := f.Validate(); err != nil {
		return nil, fmt.Errorf("invalid links: %w", err)
	}
	return &f, nil
}

// Load reads a link file, HCL for the .hcl extension and YAML otherwise
func Load(ctx context.Context, path string) (*File, error) {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("Loading link file.", "path", path)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read link file: %w", err)
	}
	var f *File
	if strings.EqualFold(filepath.Ext(path), ".hcl") {
		f, err = LoadLinksHCL(data, path)
	} else {
		f, err = LoadLinksYAML(data)
	}
	if err != nil {
		return nil, err
	}
	logger.Debug("Loaded link file.", "path", path, "links", len(f.Links))
	return f, nil
}
