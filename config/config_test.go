package config

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notargets/DGFlow/comm"
	"github.com/notargets/DGFlow/container"
	"github.com/notargets/DGFlow/field"
	"github.com/notargets/DGFlow/partitions"
	"github.com/notargets/DGFlow/redist"
	"github.com/notargets/DGFlow/stream"
)

const linksYAML = `
logging:
  level: debug
  format: json
links:
  - name: particles
    source_first: 0
    source_count: 3
    dest_first: 3
    dest_count: 2
    strategy: zcurve
    comm_method: p2p
    merge_method: once
    slices: [4, 4, 2]
    bbox: [0, 0, 0, 1, 2, 3]
    buffer:
      selector: lowhigh
      low: 10
      high: 2
      policy: lru
      frames: 4
  - name: grid
    source_first: 0
    source_count: 4
    dest_first: 4
    dest_count: 2
    strategy: proc
`

const linksHCL = `
logging {
  level = "warn"
}

link "particles" {
  source_first = 0
  source_count = 3
  dest_first   = 3
  dest_count   = 2
  strategy     = "zcurve"
  comm_method  = "p2p"
  merge_method = "once"
  slices       = [4, 4, 2]
  bbox         = [0, 0, 0, 1, 2, 3]

  buffer {
    selector = "lowhigh"
    low      = 10
    high     = 2
    policy   = "lru"
    frames   = 4
  }
}

link "grid" {
  source_first = 0
  source_count = 4
  dest_first   = 4
  dest_count   = 2
  strategy     = "proc"
}
`

func TestLoadLinksFormatsAgree(t *testing.T) {
	fromYAML, err := LoadLinksYAML([]byte(linksYAML))
	require.NoError(t, err)
	fromHCL, err := LoadLinksHCL([]byte(linksHCL), "links.hcl")
	require.NoError(t, err)
	assert.Equal(t, fromYAML.Links, fromHCL.Links)
	require.NotNil(t, fromHCL.Links[0].Buffer)
	assert.Equal(t, Buffer{Selector: "lowhigh", Low: 10, High: 2, Policy: "lru", Frames: 4}, *fromHCL.Links[0].Buffer)
	assert.Nil(t, fromHCL.Links[1].Buffer)

	l, ok := fromHCL.Link("particles")
	require.True(t, ok)
	cfg, err := l.RedistConfig()
	require.NoError(t, err)
	assert.Equal(t, redist.Config{
		SourceFirst: 0, SourceCount: 3, DestFirst: 3, DestCount: 2,
		Strategy:    partitions.ZCurve,
		CommMethod:  partitions.P2P,
		MergeMethod: redist.OnceMerge,
		Slices:      [3]int{4, 4, 2},
		BBox:        partitions.Bounds{Max: [3]float32{1, 2, 3}},
	}, cfg)

	grid, ok := fromYAML.Link("grid")
	require.True(t, ok)
	cfg, err = grid.RedistConfig()
	require.NoError(t, err)
	assert.Equal(t, partitions.Proc, cfg.Strategy)
	assert.Equal(t, partitions.Collective, cfg.CommMethod)
	assert.Equal(t, redist.StepMerge, cfg.MergeMethod)

	_, ok = fromYAML.Link("missing")
	assert.False(t, ok)
}

func TestLinkValidate(t *testing.T) {
	bad := Link{
		Name:        "broken",
		SourceCount: 0,
		DestFirst:   -1,
		DestCount:   2,
		Strategy:    "metis",
		CommMethod:  "gossip",
		Slices:      []int{1, 2},
		BBox:        []float32{1, 0, 0, 0, 1, 1},
		Buffer:      &Buffer{Selector: "oldest", Policy: "fifo", Frames: 0, DiskFrames: -1},
	}
	err := bad.Validate()
	require.Error(t, err)
	for _, want := range []string{
		`link "broken"`, "source ranks", "destination ranks", "metis", "gossip",
		"slices needs 3 values", "bbox axis 0",
		`frame selector "oldest"`, "fifo", "buffer frames 0", "buffer disk frames -1",
	} {
		assert.Contains(t, err.Error(), want)
	}

	proc := Link{Name: "p", SourceCount: 3, DestCount: 2, Strategy: "proc"}
	assert.ErrorContains(t, proc.Validate(), "do not divide")
	_, err = proc.RedistConfig()
	assert.Error(t, err)
}

func TestBufferStream(t *testing.T) {
	b := &Buffer{Frames: 1, DiskFrames: 1, Dir: t.TempDir()}
	w := comm.NewLocalWorld(1)
	s, err := b.Stream(w.Rank(0), comm.Group{First: 0, Count: 1},
		stream.WithLogger(NewLogger("error", "text", io.Discard)))
	require.NoError(t, err)

	ctx := context.Background()
	for i, want := range []bool{true, true, false} {
		c := container.New()
		require.NoError(t, c.Append("v", field.NewArray([]int32{int32(i)}, 1),
			field.NoFlag, field.Private, field.SplitDefault, field.MergeAppendValues))
		ok, err := s.Put(ctx, c)
		require.NoError(t, err)
		assert.Equal(t, want, ok, "frame %d", i)
	}
	assert.Equal(t, 2, s.Len())

	// The second frame went to disk and comes back intact
	_, _, ok, err := s.Next(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	got, id, ok, err := s.Next(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint64(1), id)
	v, ok := container.ArrayField[int32](got, "v")
	require.True(t, ok)
	assert.Equal(t, []int32{1}, v.Values())

	_, err = (&Buffer{Selector: "lowhigh", Frames: 1}).Stream(w.Rank(0), comm.Group{First: 0, Count: 1})
	assert.Error(t, err)
}

func TestFileValidate(t *testing.T) {
	f := File{Links: []Link{
		{Name: "a", SourceCount: 1, DestCount: 1, Strategy: "count"},
		{Name: "a", SourceCount: 1, DestCount: 1, Strategy: "round"},
		{SourceCount: 1, DestCount: 1, Strategy: "block"},
	}}
	err := f.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), `duplicate link "a"`)
	assert.Contains(t, err.Error(), "link without a name")

	_, err = LoadLinksHCL([]byte(`link "x" { strategy = }`), "bad.hcl")
	assert.ErrorContains(t, err, "failed to parse HCL links bad.hcl")
	_, err = LoadLinksHCL([]byte(`link "x" { strategy = "count" }`), "short.hcl")
	assert.ErrorContains(t, err, "failed to decode HCL links short.hcl")
	_, err = LoadLinksYAML([]byte("links: [oops"))
	assert.ErrorContains(t, err, "failed to parse links")
}

func TestLoadByExtension(t *testing.T) {
	dir := t.TempDir()
	hclPath := filepath.Join(dir, "links.HCL")
	yamlPath := filepath.Join(dir, "links.yaml")
	require.NoError(t, os.WriteFile(hclPath, []byte(linksHCL), 0o600))
	require.NoError(t, os.WriteFile(yamlPath, []byte(linksYAML), 0o600))

	ctx := context.Background()
	f, err := Load(ctx, hclPath)
	require.NoError(t, err)
	assert.Equal(t, "warn", f.Logging.Level)
	f, err = Load(ctx, yamlPath)
	require.NoError(t, err)
	assert.Len(t, f.Links, 2)
	_, err = Load(ctx, filepath.Join(dir, "none.yaml"))
	assert.ErrorContains(t, err, "failed to read link file")
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	f, err := LoadLinksYAML([]byte(linksYAML))
	require.NoError(t, err)
	logger := f.Logger(&buf)
	logger.Debug("hello", "rank", 3)

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "hello", rec["msg"])
	assert.Equal(t, "DEBUG", rec["level"])
	assert.Equal(t, float64(3), rec["rank"])

	buf.Reset()
	text := NewLogger("bogus", "text", &buf)
	text.Debug("hidden")
	text.Info("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "msg=shown")

	buf.Reset()
	(&File{}).Logger(&buf).Info("default")
	assert.Contains(t, buf.String(), "level=INFO")
}
