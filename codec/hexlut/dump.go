package hexlut

import (
	"bytes"
	"fmt"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	"github.com/sbl8/canlut/model"
)

// ManifestName is the node-count log written next to per-tree dump files.
const ManifestName = "manifest.yaml"

// Manifest records how a forest was dumped: the scheme its thresholds use
// and the node count of every file.
type Manifest struct {
	Scheme     string         `yaml:"scheme"`
	Delimiter  string         `yaml:"delimiter,omitempty"`
	TotalNodes int            `yaml:"total_nodes"`
	Files      []ManifestFile `yaml:"files"`
}

// ManifestFile is one entry of a Manifest.
type ManifestFile struct {
	Name  string `yaml:"name"`
	Tree  int    `yaml:"tree"`
	Nodes int    `yaml:"nodes"`
}

// DumpFileName is the file name of one tree's dump.
func DumpFileName(treeID int) string {
	return fmt.Sprintf("tree_%02d.hex", treeID)
}

// Dump writes one unrebased hex file per tree into dir, plus the manifest.
func (c *Codec) Dump(fs afero.Fs, dir string, f *model.Forest) (*Manifest, error) {
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "creating %s", dir)
	}
	m := &Manifest{Scheme: c.fp.String(), Delimiter: c.delimiter}
	for _, t := range f.Trees() {
		var buf bytes.Buffer
		if err := c.WriteTree(&buf, f, t.ID()); err != nil {
			return nil, err
		}
		name := DumpFileName(t.ID())
		if err := afero.WriteFile(fs, filepath.Join(dir, name), buf.Bytes(), 0o644); err != nil {
			return nil, errors.Wrapf(err, "writing %s", name)
		}
		m.Files = append(m.Files, ManifestFile{Name: name, Tree: t.ID(), Nodes: t.Len()})
		m.TotalNodes += t.Len()
	}

	out, err := yaml.Marshal(m)
	if err != nil {
		return nil, errors.Wrap(err, "encoding manifest")
	}
	if err := afero.WriteFile(fs, filepath.Join(dir, ManifestName), out, 0o644); err != nil {
		return nil, errors.Wrap(err, "writing manifest")
	}
	return m, nil
}

// ReadManifest loads the manifest of a dump directory.
func ReadManifest(fs afero.Fs, dir string) (*Manifest, error) {
	data, err := afero.ReadFile(fs, filepath.Join(dir, ManifestName))
	if err != nil {
		return nil, errors.Wrap(err, "reading manifest")
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, errors.Wrap(err, "decoding manifest")
	}
	return &m, nil
}

// LoadDump reads a directory written by Dump. The manifest's scheme and
// delimiter must match the Codec, and every file must hold the node count
// the manifest lists for it.
func (c *Codec) LoadDump(fs afero.Fs, dir string) (*model.Forest, error) {
	m, err := ReadManifest(fs, dir)
	if err != nil {
		return nil, err
	}
	if err := c.fp.Check(m.Scheme); err != nil {
		return nil, err
	}
	if m.Delimiter != c.delimiter {
		return nil, errors.Errorf("manifest delimiter %q, configured %q", m.Delimiter, c.delimiter)
	}
	if len(m.Files) == 0 {
		return nil, errors.New("manifest lists no files")
	}

	b := model.NewBuilder()
	total := 0
	for _, entry := range m.Files {
		sub, err := c.loadDumpFile(fs, filepath.Join(dir, entry.Name))
		if err != nil {
			return nil, err
		}
		if sub.TreeCount() != 1 {
			return nil, errors.Errorf("%s holds %d trees", entry.Name, sub.TreeCount())
		}
		t := sub.Trees()[0]
		if t.ID() != entry.Tree || t.Len() != entry.Nodes {
			return nil, errors.Errorf("%s holds tree %d with %d nodes, manifest lists tree %d with %d",
				entry.Name, t.ID(), t.Len(), entry.Tree, entry.Nodes)
		}
		for _, n := range t.Nodes() {
			if err := b.Add(t.ID(), n); err != nil {
				return nil, errors.Wrap(err, entry.Name)
			}
		}
		total += t.Len()
	}
	if total != m.TotalNodes {
		return nil, errors.Errorf("files hold %d nodes, manifest total %d", total, m.TotalNodes)
	}
	return b.Build()
}

func (c *Codec) loadDumpFile(fs afero.Fs, p string) (*model.Forest, error) {
	f, err := fs.Open(p)
	if err != nil {
		return nil, errors.Wrapf(err, "opening %s", p)
	}
	defer f.Close()
	forest, err := c.ReadTable(f)
	return forest, errors.Wrap(err, p)
}
