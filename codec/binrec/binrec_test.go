package binrec

import (
	"bytes"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sbl8/canlut/core"
	"github.com/sbl8/canlut/model"
)

func testForest(t *testing.T, ids ...int) *model.Forest {
	t.Helper()
	b := model.NewBuilder()
	for i, id := range ids {
		nodes := []model.Node{
			model.NewSplit(0, model.ArbitrationID, 512, 1, 2),
			model.NewSplit(1, model.InterArrivalTime, 0.015625*float64(i+1), 3, 4),
			model.NewLeaf(2, 1),
			model.NewLeaf(3, 0),
			model.NewLeaf(4, 1),
		}
		for _, n := range nodes {
			require.NoError(t, b.Add(id, n))
		}
	}
	f, err := b.Build()
	require.NoError(t, err)
	return f
}

func assertSameTrees(t *testing.T, want, got *model.Forest, compareIDs bool) {
	t.Helper()
	require.Equal(t, want.TreeCount(), got.TreeCount())
	wt, gt := want.Trees(), got.Trees()
	for i := range wt {
		if compareIDs {
			assert.Equal(t, wt[i].ID(), gt[i].ID())
		}
		if diff := cmp.Diff(wt[i].Nodes(), gt[i].Nodes()); diff != "" {
			t.Errorf("tree %d mismatch (-want +got):\n%s", i, diff)
		}
	}
}

func TestRecordLayout(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		node model.Node
		want []byte
	}{
		{
			name: "split",
			node: model.NewSplit(3, model.DataEntropy, 1.5, 4, 5),
			want: []byte{
				0x03, 0x00,
				0x02,
				0x00, 0x00, 0xC0, 0x3F,
				0x04, 0x00,
				0x05, 0x00,
				0xFF,
				0x00, 0x00, 0x00, 0x00,
			},
		},
		{
			name: "leaf",
			node: model.NewLeaf(0x0102, 1),
			want: []byte{
				0x02, 0x01,
				0xFF,
				0x00, 0x00, 0x00, 0x00,
				0x00, 0x00,
				0x00, 0x00,
				0x01,
				0x00, 0x00, 0x00, 0x00,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := FromNode(tt.node)
			require.NoError(t, err)
			got, err := r.MarshalBinary()
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)

			var back Record
			require.NoError(t, back.UnmarshalBinary(got))
			n, err := back.Node()
			require.NoError(t, err)
			assert.Equal(t, tt.node, n)
		})
	}
}

func TestRecordPadding(t *testing.T) {
	t.Parallel()
	assert.Equal(t, 16, RecordSize)
	assert.Equal(t, core.AlignSize(PayloadSize, core.RecordAlign), RecordSize)

	r, err := FromNode(model.NewSplit(7, model.DataLength, 4, 8, 9))
	require.NoError(t, err)
	want, err := r.MarshalBinary()
	require.NoError(t, err)
	require.Len(t, want, RecordSize)
	assert.Equal(t, make([]byte, RecordSize-PayloadSize), want[PayloadSize:])

	// MarshalTo overwrites stale padding of a reused buffer.
	dirty := bytes.Repeat([]byte{0xAA}, RecordSize+2)
	r.MarshalTo(dirty)
	assert.Equal(t, want, dirty[:RecordSize])
	assert.Equal(t, []byte{0xAA, 0xAA}, dirty[RecordSize:])
}

func TestRecordRejects(t *testing.T) {
	t.Parallel()
	_, err := FromNode(model.NewLeaf(70000, 0))
	assert.True(t, errors.Is(err, model.ErrIndexRange))

	_, err = FromNode(model.NewLeaf(1, 255))
	assert.True(t, errors.Is(err, model.ErrIndexRange))

	_, err = FromNode(model.NewSplit(0, model.DataLength, 1, 1, 1<<17))
	assert.True(t, errors.Is(err, model.ErrIndexRange))

	_, err = FromNode(model.NewSplit(0, model.ArbitrationID, 1e40, 1, 2))
	assert.True(t, errors.Is(err, model.ErrThresholdRange))

	tests := []struct {
		name    string
		rec     Record
		wantErr error
	}{
		{"leaf without label", Record{Feature: LeafCode, Prediction: NoLabel}, model.ErrInvalidNode},
		{"split with label", Record{Feature: 1, Left: 1, Right: 2, Prediction: 0}, model.ErrInvalidNode},
		{"unknown feature", Record{Feature: 9, Left: 1, Right: 2, Prediction: NoLabel}, model.ErrUnknownFeatureCode},
	}
	for _, tt := range tests {
		_, err := tt.rec.Node()
		assert.True(t, errors.Is(err, tt.wantErr), "%s: got %v", tt.name, err)
	}

	var r Record
	assert.True(t, errors.Is(r.UnmarshalBinary(make([]byte, 7)), model.ErrTruncatedRecord))
}

func TestStreamRoundTrip(t *testing.T) {
	t.Parallel()
	f := testForest(t, 0, 1, 2)

	var buf bytes.Buffer
	enc := NewEncoder(&buf)
	require.NoError(t, enc.WriteForest(f))
	assert.Equal(t, 15, enc.Count())
	assert.Equal(t, 15*RecordSize, buf.Len())

	got, err := ReadForest(&buf)
	require.NoError(t, err)
	assertSameTrees(t, f, got, true)
}

func TestStreamWritesRootFirst(t *testing.T) {
	t.Parallel()
	b := model.NewBuilder()
	require.NoError(t, b.Add(0, model.NewLeaf(2, 1)))
	require.NoError(t, b.Add(0, model.NewLeaf(1, 0)))
	require.NoError(t, b.Add(0, model.NewSplit(0, model.DataLength, 4, 1, 2)))
	require.NoError(t, b.Add(1, model.NewLeaf(0, 1)))
	f, err := b.Build()
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, NewEncoder(&buf).WriteForest(f))
	got, err := ReadForest(&buf)
	require.NoError(t, err)
	require.Equal(t, 2, got.TreeCount())

	root, err := got.Node(0, 0)
	require.NoError(t, err)
	assert.Equal(t, model.DataLength, root.Feature)
	assert.Equal(t, 3, got.Trees()[0].Len())
}

func TestTruncatedStream(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	require.NoError(t, NewEncoder(&buf).WriteForest(testForest(t, 0, 1)))
	data := buf.Bytes()

	for _, cut := range []int{1, RecordSize / 2, RecordSize - 1} {
		f, err := ReadForest(bytes.NewReader(data[:len(data)-cut]))
		assert.Nil(t, f)
		assert.True(t, errors.Is(err, model.ErrTruncatedRecord), "cut %d: got %v", cut, err)
	}

	_, err := ReadForest(bytes.NewReader(nil))
	assert.True(t, errors.Is(err, model.ErrTruncatedRecord))
}

func TestStreamMustOpenWithRoot(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	require.NoError(t, NewEncoder(&buf).WriteNode(model.NewLeaf(3, 1)))
	_, err := ReadForest(&buf)
	assert.True(t, errors.Is(err, model.ErrInvalidNode))
}

func TestFiles(t *testing.T) {
	t.Parallel()
	fs := afero.NewMemMapFs()
	f := testForest(t, 0, 1)

	paths, err := WriteFiles(fs, "/out", f)
	require.NoError(t, err)
	assert.Equal(t, []string{"/out/tree_00.bin", "/out/tree_01.bin"}, paths)

	info, err := fs.Stat(paths[0])
	require.NoError(t, err)
	assert.Equal(t, int64(5*RecordSize), info.Size())

	got, err := LoadDir(fs, "/out")
	require.NoError(t, err)
	assertSameTrees(t, f, got, true)

	reversed, err := LoadFiles(fs, []string{paths[1], paths[0]})
	require.NoError(t, err)
	assert.Equal(t, 0.03125, mustNode(t, reversed, 0, 1).Threshold)

	require.NoError(t, afero.WriteFile(fs, "/bad/tree_00.bin", make([]byte, RecordSize+3), 0o644))
	_, err = LoadDir(fs, "/bad")
	assert.Error(t, err)

	_, err = LoadDir(fs, "/empty")
	assert.Error(t, err)
}

func mustNode(t *testing.T, f *model.Forest, tree, node int) model.Node {
	t.Helper()
	n, err := f.Node(tree, node)
	require.NoError(t, err)
	return n
}

func TestBundleRoundTrip(t *testing.T) {
	t.Parallel()
	f := testForest(t, 4, 2, 9)
	data, err := MarshalBundle(f)
	require.NoError(t, err)
	assert.Len(t, data, BundleHeaderSize+3*bundleEntrySize+15*RecordSize)

	got, err := UnmarshalBundle(data)
	require.NoError(t, err)
	assertSameTrees(t, f, got, true)

	var buf bytes.Buffer
	require.NoError(t, WriteBundle(&buf, f))
	again, err := ReadBundle(&buf)
	require.NoError(t, err)
	assertSameTrees(t, f, again, true)
}

func TestBundleRejects(t *testing.T) {
	t.Parallel()
	data, err := MarshalBundle(testForest(t, 0, 1))
	require.NoError(t, err)

	corrupt := append([]byte(nil), data...)
	corrupt[len(corrupt)-RecordSize+3] ^= 0x40
	_, err = UnmarshalBundle(corrupt)
	assert.ErrorContains(t, err, "checksum")

	badMagic := append([]byte(nil), data...)
	badMagic[0] = 'X'
	_, err = UnmarshalBundle(badMagic)
	assert.ErrorContains(t, err, "magic")

	badVersion := append([]byte(nil), data...)
	badVersion[4] = 9
	_, err = UnmarshalBundle(badVersion)
	assert.ErrorContains(t, err, "version")

	_, err = UnmarshalBundle(data[:len(data)-4])
	assert.True(t, errors.Is(err, model.ErrTruncatedRecord))

	_, err = UnmarshalBundle(data[:10])
	assert.True(t, errors.Is(err, model.ErrTruncatedRecord))

	_, err = UnmarshalBundle(append(append([]byte(nil), data...), 0))
	assert.ErrorContains(t, err, "trailing")
}

func TestLayout(t *testing.T) {
	t.Parallel()
	l := Layout(BundleHeaderSize, 10)
	assert.Equal(t, BundleHeaderSize+10*RecordSize, l.TotalSize)
	assert.Equal(t, 10*(RecordSize-PayloadSize), l.PaddingSize)
}

func TestBundleLayoutMatchesEncoding(t *testing.T) {
	t.Parallel()
	f := testForest(t, 4, 9)
	data, err := MarshalBundle(f)
	require.NoError(t, err)
	l := BundleLayout(f.TreeCount(), f.NodeCount())
	assert.Equal(t, len(data), l.TotalSize)
}
