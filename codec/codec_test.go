package codec

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sbl8/canlut/model"
)

// portable builds a forest every format can hold exactly.
func portable(t *testing.T) *model.Forest {
	t.Helper()
	b := model.NewBuilder()
	trees := [][]model.Node{
		{
			model.NewSplit(0, model.ArbitrationID, 700, 1, 2),
			model.NewLeaf(1, 0),
			model.NewSplit(2, model.DataEntropy, 2.75, 3, 4),
			model.NewLeaf(3, 1),
			model.NewLeaf(4, 0),
		},
		{
			model.NewSplit(0, model.InterArrivalTime, 0.0625, 1, 2),
			model.NewLeaf(1, 1),
			model.NewLeaf(2, 0),
		},
	}
	for id, nodes := range trees {
		for _, n := range nodes {
			require.NoError(t, b.Add(id, n))
		}
	}
	f, err := b.Build()
	require.NoError(t, err)
	return f
}

func TestSaveLoadEveryFormat(t *testing.T) {
	t.Parallel()
	f := portable(t)
	opts := DefaultOptions()

	for _, format := range Formats {
		format := format
		t.Run(format.String(), func(t *testing.T) {
			t.Parallel()
			fs := afero.NewMemMapFs()
			path := "/out/forest." + format.String()
			if format.IsDir() {
				path = "/out/" + format.String()
			}

			paths, err := Save(fs, path, format, f, opts)
			require.NoError(t, err)
			require.NotEmpty(t, paths)

			got, detected, err := Load(fs, path, opts)
			require.NoError(t, err)
			assert.Equal(t, format, detected)
			require.Equal(t, f.TreeCount(), got.TreeCount())
			for i, tr := range f.Trees() {
				if diff := cmp.Diff(tr.Nodes(), got.Trees()[i].Nodes()); diff != "" {
					t.Errorf("tree %d mismatch (-want +got):\n%s", i, diff)
				}
			}
		})
	}
}

func TestBinaryDirectory(t *testing.T) {
	t.Parallel()
	fs := afero.NewMemMapFs()
	f := portable(t)
	paths, err := Save(fs, "/per-tree", BinaryDir, f, DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, []string{"/per-tree/tree_00.bin", "/per-tree/tree_01.bin"}, paths)

	format, err := Detect(fs, "/per-tree")
	require.NoError(t, err)
	assert.Equal(t, BinaryDir, format)

	one, err := LoadAs(fs, "/per-tree/tree_01.bin", Binary, DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, 3, one.NodeCount())
}

func TestStrictLoad(t *testing.T) {
	t.Parallel()
	b := model.NewBuilder()
	require.NoError(t, b.Add(0, model.NewSplit(0, model.DataEntropy, 1, 1, 9)))
	require.NoError(t, b.Add(0, model.NewLeaf(1, 0)))
	broken, err := b.Build()
	require.NoError(t, err)

	fs := afero.NewMemMapFs()
	_, err = Save(fs, "/broken.lutb", Bundle, broken, DefaultOptions())
	require.NoError(t, err)

	_, _, err = Load(fs, "/broken.lutb", DefaultOptions())
	require.NoError(t, err, "damaged trees load and fail at traversal")

	strict := DefaultOptions()
	strict.Strict = true
	_, _, err = Load(fs, "/broken.lutb", strict)
	assert.True(t, errors.Is(err, model.ErrCorruptTree), "got %v", err)
}

func TestDetect(t *testing.T) {
	t.Parallel()
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/a/model.pkl", []byte{1}, 0o644))
	require.NoError(t, fs.MkdirAll("/empty", 0o755))

	_, err := Detect(fs, "/a/model.pkl")
	assert.Error(t, err)
	_, err = Detect(fs, "/empty")
	assert.Error(t, err)
	_, err = Detect(fs, "/missing")
	assert.Error(t, err)

	assert.Equal(t, HexTable, FormatFromPath("LUTModel_hex.HEX"))
	assert.Equal(t, Unknown, FormatFromPath("forest"))
}

func TestParseFormat(t *testing.T) {
	t.Parallel()
	for _, f := range Formats {
		got, err := ParseFormat(f.String())
		require.NoError(t, err)
		assert.Equal(t, f, got)
	}
	_, err := ParseFormat("pkl")
	assert.Error(t, err)
	assert.True(t, MIF.IsDir())
	assert.True(t, BinaryDir.IsDir())
	assert.False(t, Bundle.IsDir())
}
