package hexlut

import (
	"bytes"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/sbl8/canlut/core"
	"github.com/sbl8/canlut/model"
)

func newCodec(t *testing.T, opts ...Option) *Codec {
	t.Helper()
	c, err := New(core.DefaultFixedPoint, opts...)
	require.NoError(t, err)
	return c
}

func build(t *testing.T, trees map[int][]model.Node, order ...int) *model.Forest {
	t.Helper()
	b := model.NewBuilder()
	for _, id := range order {
		for _, n := range trees[id] {
			require.NoError(t, b.Add(id, n))
		}
	}
	f, err := b.Build()
	require.NoError(t, err)
	return f
}

// threeAndFour is a forest of a 3-node and a 4-node tree.
func threeAndFour(t *testing.T) *model.Forest {
	return build(t, map[int][]model.Node{
		0: {
			model.NewSplit(0, model.DataEntropy, 1.5, 1, 2),
			model.NewLeaf(1, 0),
			model.NewLeaf(2, 1),
		},
		1: {
			model.NewSplit(0, model.ArbitrationID, 0x191, 1, 3),
			model.NewLeaf(1, 1),
			model.NewLeaf(2, 0),
			model.NewLeaf(3, 0),
		},
	}, 0, 1)
}

func TestFormatRow(t *testing.T) {
	t.Parallel()
	c := newCodec(t)
	split, err := c.NodeRow(0, model.NewSplit(0, model.DataEntropy, 1.5, 1, 2), 0)
	require.NoError(t, err)
	assert.Equal(t, "0002000180000102FF", c.FormatRow(split))

	leaf, err := c.NodeRow(3, model.NewLeaf(1, 1), 0)
	require.NoError(t, err)
	assert.Equal(t, "03FF00000000FFFF01", c.FormatRow(leaf))

	neg, err := c.NodeRow(0, model.NewSplit(0, model.InterArrivalTime, -0.5, 1, 2), 0)
	require.NoError(t, err)
	assert.Equal(t, "0001FFFF80000102FF", c.FormatRow(neg))

	q8, err := New(core.FixedPoint{FracBits: 8, Width: core.Width16}, WithDelimiter(","))
	require.NoError(t, err)
	assert.Equal(t, 14, q8.RowWidth())
	split, err = q8.NodeRow(0, model.NewSplit(0, model.DataEntropy, 1.5, 1, 2), 0)
	require.NoError(t, err)
	assert.Equal(t, "00,02,0180,01,02,FF", q8.FormatRow(split))
}

func TestRebasedTable(t *testing.T) {
	t.Parallel()
	c := newCodec(t)
	f := threeAndFour(t)

	var buf bytes.Buffer
	require.NoError(t, c.WriteTable(&buf, f))
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 7)

	rows := make([]Row, len(lines))
	for i, l := range lines {
		r, err := c.ParseRow(l)
		require.NoError(t, err)
		rows[i] = r
	}

	// The first tree is untouched.
	assert.Equal(t, uint8(1), rows[0].Left)
	assert.Equal(t, uint8(2), rows[0].Right)

	// The second tree's children move by the three rows before it.
	assert.Equal(t, uint8(1), rows[3].Tree)
	assert.Equal(t, uint8(1+3), rows[3].Left)
	assert.Equal(t, uint8(3+3), rows[3].Right)

	// Absent sentinels are never rebased.
	for _, r := range rows[4:] {
		assert.Equal(t, uint8(Absent), r.Left)
		assert.Equal(t, uint8(Absent), r.Right)
	}

	got, err := c.ReadTable(strings.NewReader(buf.String()))
	require.NoError(t, err)
	require.Equal(t, 2, got.TreeCount())
	for i, tr := range f.Trees() {
		if diff := cmp.Diff(tr.Nodes(), got.Trees()[i].Nodes()); diff != "" {
			t.Errorf("tree %d mismatch (-want +got):\n%s", i, diff)
		}
	}
}

func TestThresholdPrecision(t *testing.T) {
	t.Parallel()
	c := newCodec(t)
	f := build(t, map[int][]model.Node{
		0: {model.NewSplit(0, model.InterArrivalTime, 0.1, 1, 2), model.NewLeaf(1, 0), model.NewLeaf(2, 1)},
	}, 0)

	var buf bytes.Buffer
	require.NoError(t, c.WriteTable(&buf, f))
	got, err := c.ReadTable(&buf)
	require.NoError(t, err)

	root, err := got.Node(0, 0)
	require.NoError(t, err)
	assert.InDelta(t, 0.1, root.Threshold, c.Scheme().Resolution()/2)
	assert.Equal(t, model.InterArrivalTime, root.Feature)
}

func TestWriteTableRejects(t *testing.T) {
	t.Parallel()
	c := newCodec(t)

	sparse := build(t, map[int][]model.Node{
		0: {model.NewSplit(0, model.DataLength, 4, 1, 5), model.NewLeaf(1, 0), model.NewLeaf(5, 1)},
	}, 0)
	err := c.WriteTable(&bytes.Buffer{}, sparse)
	assert.True(t, errors.Is(err, model.ErrInvalidNode), "got %v", err)

	wide := build(t, map[int][]model.Node{
		0: {model.NewSplit(0, model.ArbitrationID, 40000, 1, 2), model.NewLeaf(1, 0), model.NewLeaf(2, 1)},
	}, 0)
	err = c.WriteTable(&bytes.Buffer{}, wide)
	assert.True(t, errors.Is(err, model.ErrThresholdRange), "got %v", err)

	b := model.NewBuilder()
	for id := 0; id < 256; id++ {
		require.NoError(t, b.Add(id, model.NewLeaf(0, id%2)))
	}
	full, err := b.Build()
	require.NoError(t, err)
	err = c.WriteTable(&bytes.Buffer{}, full)
	assert.True(t, errors.Is(err, model.ErrIndexRange), "got %v", err)
}

func TestReadTableRejects(t *testing.T) {
	t.Parallel()
	c := newCodec(t)
	tests := []struct {
		name    string
		table   string
		wantErr error
	}{
		{"short row", "0002000180000102F\n", model.ErrMalformedToken},
		{"long row", "0002000180000102FF0\n", model.ErrMalformedToken},
		{"not hex", "00020001800G0102FF\n", model.ErrMalformedToken},
		{"empty", "\n\n", model.ErrMalformedToken},
		{"split with absent child", "000200018000FF02FF\n", model.ErrInvalidNode},
		{"embedded space", "00020001800001020 1\n", model.ErrMalformedToken},
		{"split carrying label", "000200018000010201\n", model.ErrInvalidNode},
		{"leaf without label", "00FF00000000FFFFFF\n", model.ErrInvalidNode},
		{"unknown feature", "0007000180000102FF\n", model.ErrUnknownFeatureCode},
		{
			name:    "tree rows interleaved",
			table:   "00FF00000000FFFF01\n01FF00000000FFFF00\n00FF00000000FFFF01\n",
			wantErr: model.ErrInvalidNode,
		},
		{
			name:    "rebased child below offset",
			table:   "00FF00000000FFFF01\n0102000180000002FF\n",
			wantErr: model.ErrIndexRange,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := c.ReadTable(strings.NewReader(tt.table))
			assert.Nil(t, f)
			assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
		})
	}
}

func TestDelimitedRows(t *testing.T) {
	t.Parallel()
	c := newCodec(t, WithDelimiter(" "))
	f := threeAndFour(t)

	var buf bytes.Buffer
	require.NoError(t, c.WriteTable(&buf, f))
	assert.True(t, strings.HasPrefix(buf.String(), "00 02 00018000 01 02 FF\n"))

	got, err := c.ReadTable(&buf)
	require.NoError(t, err)
	assert.Equal(t, 7, got.NodeCount())

	_, err = c.ParseRow("00 02 0180 01 02 FF")
	assert.True(t, errors.Is(err, model.ErrMalformedToken))
	_, err = c.ParseRow("00 02 00018000 01 02")
	assert.True(t, errors.Is(err, model.ErrMalformedToken))

	_, err = New(core.DefaultFixedPoint, WithDelimiter("A"))
	assert.Error(t, err)
}

func TestSchemeAnnotation(t *testing.T) {
	t.Parallel()
	c := newCodec(t, WithAnnotation(true))

	var buf bytes.Buffer
	require.NoError(t, c.WriteTable(&buf, threeAndFour(t)))
	assert.True(t, strings.HasPrefix(buf.String(), "# scheme=q16.16\n"))
	table := buf.String()

	_, err := c.ReadTable(strings.NewReader(table))
	require.NoError(t, err)

	other, err := New(core.FixedPoint{FracBits: 24, Width: core.Width32})
	require.NoError(t, err)
	_, err = other.ReadTable(strings.NewReader(table))
	assert.True(t, errors.Is(err, model.ErrSchemeMismatch), "got %v", err)

	_, err = other.ReadTable(strings.NewReader("# exported by hand\n00FF00000000FFFF01\n"))
	assert.NoError(t, err)

	// An annotating codec does not guess the scheme of a bare table.
	_, err = c.ReadTable(strings.NewReader("# exported by hand\n00FF00000000FFFF01\n"))
	assert.True(t, errors.Is(err, model.ErrSchemeMismatch), "got %v", err)
	assert.Contains(t, err.Error(), "line 2")
}

func TestCSVSchemeAnnotation(t *testing.T) {
	t.Parallel()
	c := newCodec(t, WithAnnotation(true))
	f := build(t, map[int][]model.Node{
		0: {model.NewSplit(0, model.InterArrivalTime, 0.5, 1, 2), model.NewLeaf(1, 0), model.NewLeaf(2, 1)},
	}, 0)

	var buf bytes.Buffer
	require.NoError(t, c.WriteCSV(&buf, f))
	dump := buf.String()
	assert.True(t, strings.HasPrefix(dump, "# scheme=q16.16\nTree,Node,"))

	got, err := c.ReadCSV(strings.NewReader(dump))
	require.NoError(t, err)
	root, err := got.Node(0, 0)
	require.NoError(t, err)
	assert.Equal(t, 0.5, root.Threshold)

	q24, err := New(core.FixedPoint{FracBits: 8, Width: core.Width32}, WithAnnotation(true))
	require.NoError(t, err)
	_, err = q24.ReadCSV(strings.NewReader(dump))
	assert.True(t, errors.Is(err, model.ErrSchemeMismatch), "got %v", err)

	bare := strings.TrimPrefix(dump, "# scheme=q16.16\n")
	_, err = c.ReadCSV(strings.NewReader(bare))
	assert.True(t, errors.Is(err, model.ErrSchemeMismatch), "got %v", err)

	// Without annotation the configured scheme is trusted.
	plain := newCodec(t)
	_, err = plain.ReadCSV(strings.NewReader(bare))
	assert.NoError(t, err)

	bad := "# scheme=q16.16\n# note\nTree,Node,Feature,Threshold,Left_Child,Right_Child,Prediction\n00,00,03,0004,01,02,FF\n"
	_, err = c.ReadCSV(strings.NewReader(bad))
	assert.True(t, errors.Is(err, model.ErrMalformedToken), "got %v", err)
	assert.Contains(t, err.Error(), "line 4")
}

func TestDump(t *testing.T) {
	t.Parallel()
	fs := afero.NewMemMapFs()
	c := newCodec(t)
	f := threeAndFour(t)

	m, err := c.Dump(fs, "/lut", f)
	require.NoError(t, err)
	assert.Equal(t, "q16.16", m.Scheme)
	assert.Equal(t, 7, m.TotalNodes)
	assert.Equal(t, []ManifestFile{
		{Name: "tree_00.hex", Tree: 0, Nodes: 3},
		{Name: "tree_01.hex", Tree: 1, Nodes: 4},
	}, m.Files)

	// Per-tree files are not rebased.
	second, err := afero.ReadFile(fs, "/lut/tree_01.hex")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(second), "010001910000"+"0103FF\n"))

	got, err := c.LoadDump(fs, "/lut")
	require.NoError(t, err)
	for i, tr := range f.Trees() {
		assert.Empty(t, cmp.Diff(tr.Nodes(), got.Trees()[i].Nodes()))
	}

	other, err := New(core.FixedPoint{FracBits: 8, Width: core.Width32})
	require.NoError(t, err)
	_, err = other.LoadDump(fs, "/lut")
	assert.True(t, errors.Is(err, model.ErrSchemeMismatch))

	m.Files[1].Nodes = 5
	m.TotalNodes = 8
	out, err := yaml.Marshal(m)
	require.NoError(t, err)
	require.NoError(t, afero.WriteFile(fs, "/lut/"+ManifestName, out, 0o644))
	_, err = c.LoadDump(fs, "/lut")
	assert.ErrorContains(t, err, "manifest lists")

	_, err = c.LoadDump(fs, "/missing")
	assert.Error(t, err)
}

func TestCSV(t *testing.T) {
	t.Parallel()
	c := newCodec(t)
	f := build(t, map[int][]model.Node{
		2: {model.NewSplit(0, model.DataLength, 4, 7, 9), model.NewLeaf(7, 0), model.NewLeaf(9, 1)},
		5: {model.NewLeaf(0, 1)},
	}, 2, 5)

	var buf bytes.Buffer
	require.NoError(t, c.WriteCSV(&buf, f))
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 5)
	assert.Equal(t, "Tree,Node,Feature,Threshold,Left_Child,Right_Child,Prediction", lines[0])
	assert.Equal(t, "02,00,03,00040000,07,09,FF", lines[1])
	assert.Equal(t, "05,00,FF,00000000,FF,FF,01", lines[4])

	got, err := c.ReadCSV(&buf)
	require.NoError(t, err)
	require.Equal(t, 2, got.TreeCount())
	assert.Equal(t, 2, got.Trees()[0].ID())
	assert.Empty(t, cmp.Diff(f.Trees()[0].Nodes(), got.Trees()[0].Nodes()))

	bad := "Tree,Node,Feature,Threshold,Left_Child,Right_Child,Prediction\n02,00,03,0004,07,09,FF\n"
	_, err = c.ReadCSV(strings.NewReader(bad))
	assert.True(t, errors.Is(err, model.ErrMalformedToken))
}
