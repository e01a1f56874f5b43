package bitfield

import (
	"bytes"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/afero"

	"github.com/sbl8/canlut/model"
)

// Layout selects the text form of a row file.
type Layout int

const (
	// MIF wraps rows in a memory initialization header.
	MIF Layout = iota
	// RawBits writes one binary row per line.
	RawBits
)

// Ext returns the file extension of the layout.
func (l Layout) Ext() string {
	if l == RawBits {
		return ".bits"
	}
	return ".mif"
}

// FileName is the file name of one tree's rows.
func FileName(treeID int, l Layout) string {
	return fmt.Sprintf("tree_%02d%s", treeID, l.Ext())
}

// WriteTree encodes t in the given layout.
func (c *Codec) WriteTree(t *model.Tree, l Layout) ([]byte, error) {
	var buf bytes.Buffer
	var err error
	if l == RawBits {
		err = c.WriteBits(&buf, t)
	} else {
		err = c.WriteMIF(&buf, t)
	}
	return buf.Bytes(), err
}

// WriteDir writes one file per tree into dir and returns the paths.
func (c *Codec) WriteDir(fs afero.Fs, dir string, f *model.Forest, l Layout) ([]string, error) {
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "creating %s", dir)
	}
	var paths []string
	for _, t := range f.Trees() {
		data, err := c.WriteTree(t, l)
		if err != nil {
			return nil, err
		}
		p := filepath.Join(dir, FileName(t.ID(), l))
		if err := afero.WriteFile(fs, p, data, 0o644); err != nil {
			return nil, errors.Wrapf(err, "writing %s", p)
		}
		paths = append(paths, p)
	}
	return paths, nil
}

// LoadFiles decodes one tree per file, choosing the layout by extension. A
// file named tree_NN keeps id NN; any other name takes its position in paths.
func (c *Codec) LoadFiles(fs afero.Fs, paths []string) (*model.Forest, error) {
	b := model.NewBuilder()
	for i, p := range paths {
		data, err := afero.ReadFile(fs, p)
		if err != nil {
			return nil, errors.Wrapf(err, "reading %s", p)
		}
		var nodes []model.Node
		if strings.EqualFold(filepath.Ext(p), RawBits.Ext()) {
			nodes, err = c.ReadBits(bytes.NewReader(data))
		} else {
			nodes, err = c.ReadMIF(bytes.NewReader(data))
		}
		if err != nil {
			return nil, errors.Wrap(err, p)
		}

		id := treeIDFromName(p, i)
		for _, n := range nodes {
			if err := b.Add(id, n); err != nil {
				return nil, errors.Wrap(err, p)
			}
		}
	}
	return b.Build()
}

// LoadDir decodes every .mif and .bits file of dir, ordered by name.
func (c *Codec) LoadDir(fs afero.Fs, dir string) (*model.Forest, error) {
	var paths []string
	for _, l := range []Layout{MIF, RawBits} {
		matches, err := afero.Glob(fs, filepath.Join(dir, "*"+l.Ext()))
		if err != nil {
			return nil, errors.Wrapf(err, "listing %s", dir)
		}
		paths = append(paths, matches...)
	}
	if len(paths) == 0 {
		return nil, errors.Errorf("no row files in %s", dir)
	}
	sort.Strings(paths)
	return c.LoadFiles(fs, paths)
}

func treeIDFromName(p string, fallback int) int {
	var id int
	base := strings.TrimSuffix(filepath.Base(p), filepath.Ext(p))
	if n, err := fmt.Sscanf(base, "tree_%d", &id); err == nil && n == 1 && id >= 0 {
		return id
	}
	return fallback
}
