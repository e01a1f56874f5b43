package binrec

import (
	"bufio"
	"fmt"
	"io"
	"path/filepath"
	"sort"

	"github.com/pkg/errors"
	"github.com/spf13/afero"

	"github.com/sbl8/canlut/model"
)

// Encoder writes records to a stream.
type Encoder struct {
	w     io.Writer
	buf   []byte
	count int
}

// NewEncoder returns an Encoder writing to w.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w, buf: make([]byte, RecordSize)}
}

// Count returns the number of records written.
func (e *Encoder) Count() int {
	return e.count
}

// WriteNode encodes one node.
func (e *Encoder) WriteNode(n model.Node) error {
	r, err := FromNode(n)
	if err != nil {
		return errors.Wrapf(err, "record %d", e.count)
	}
	r.MarshalTo(e.buf)
	if _, err := e.w.Write(e.buf); err != nil {
		return errors.Wrapf(err, "writing record %d", e.count)
	}
	e.count++
	return nil
}

// WriteTree encodes a tree root first, then the remaining nodes in order. A
// reader of a concatenated stream relies on node 0 opening every tree.
func (e *Encoder) WriteTree(t *model.Tree) error {
	root, ok := t.Root()
	if !ok {
		return errors.Wrapf(model.ErrNodeNotFound, "tree %d has no root", t.ID())
	}
	if err := e.WriteNode(root); err != nil {
		return errors.Wrapf(err, "tree %d", t.ID())
	}
	for _, n := range t.Nodes() {
		if n.ID == 0 {
			continue
		}
		if err := e.WriteNode(n); err != nil {
			return errors.Wrapf(err, "tree %d", t.ID())
		}
	}
	return nil
}

// WriteForest writes every tree back to back. Tree ids are not stored; a
// concatenated stream reads back as trees 0..n-1.
func (e *Encoder) WriteForest(f *model.Forest) error {
	for _, t := range f.Trees() {
		if err := e.WriteTree(t); err != nil {
			return err
		}
	}
	return nil
}

// Decoder reads records from a stream.
type Decoder struct {
	r     io.Reader
	buf   []byte
	index int
}

// NewDecoder returns a Decoder reading from r.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: bufio.NewReader(r), buf: make([]byte, RecordSize)}
}

// Next returns the next record. It returns io.EOF at a clean end of stream
// and ErrTruncatedRecord when the stream stops inside a record.
func (d *Decoder) Next() (Record, error) {
	n, err := io.ReadFull(d.r, d.buf)
	switch {
	case err == io.EOF:
		return Record{}, io.EOF
	case err == io.ErrUnexpectedEOF:
		return Record{}, errors.Wrapf(model.ErrTruncatedRecord, "record %d: %d of %d bytes", d.index, n, RecordSize)
	case err != nil:
		return Record{}, errors.Wrapf(err, "reading record %d", d.index)
	}
	var r Record
	if err := r.UnmarshalBinary(d.buf); err != nil {
		return Record{}, err
	}
	d.index++
	return r, nil
}

// NextNode returns the next record as a model node.
func (d *Decoder) NextNode() (model.Node, error) {
	r, err := d.Next()
	if err != nil {
		return model.Node{}, err
	}
	n, err := r.Node()
	if err != nil {
		return model.Node{}, errors.Wrapf(err, "record %d", d.index-1)
	}
	return n, nil
}

// ReadForest decodes a concatenated stream. Each record with node id 0 opens
// the next tree; trees are numbered from 0 in stream order. Any decode error
// discards the whole stream.
func ReadForest(r io.Reader) (*model.Forest, error) {
	b := model.NewBuilder()
	d := NewDecoder(r)
	tree := -1
	for {
		n, err := d.NextNode()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if n.ID == 0 {
			tree++
		}
		if tree < 0 {
			return nil, errors.Wrapf(model.ErrInvalidNode, "stream opens with node %d, not a root", n.ID)
		}
		if err := b.Add(tree, n); err != nil {
			return nil, err
		}
	}
	if tree < 0 {
		return nil, errors.Wrap(model.ErrTruncatedRecord, "stream holds no records")
	}
	return b.Build()
}

// readTree decodes a single-tree stream into b under treeID.
func readTree(r io.Reader, treeID int, b *model.Builder) error {
	d := NewDecoder(r)
	for {
		n, err := d.NextNode()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		if err := b.Add(treeID, n); err != nil {
			return err
		}
	}
	if b.TreeLen(treeID) == 0 {
		return errors.Wrapf(model.ErrTruncatedRecord, "tree %d: no records", treeID)
	}
	return nil
}

// LoadFiles decodes one tree per file; the tree id is the file's position in
// paths.
func LoadFiles(fs afero.Fs, paths []string) (*model.Forest, error) {
	b := model.NewBuilder()
	for i, p := range paths {
		if err := loadFile(fs, p, i, b); err != nil {
			return nil, err
		}
	}
	return b.Build()
}

func loadFile(fs afero.Fs, p string, treeID int, b *model.Builder) error {
	f, err := fs.Open(p)
	if err != nil {
		return errors.Wrapf(err, "opening %s", p)
	}
	defer f.Close()
	return errors.Wrap(readTree(f, treeID, b), p)
}

// TreeFileName is the per-tree file name used by WriteFiles.
func TreeFileName(treeID int) string {
	return fmt.Sprintf("tree_%02d.bin", treeID)
}

// WriteFiles writes one stream per tree into dir and returns the paths.
func WriteFiles(fs afero.Fs, dir string, f *model.Forest) ([]string, error) {
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "creating %s", dir)
	}
	var paths []string
	for _, t := range f.Trees() {
		p := filepath.Join(dir, TreeFileName(t.ID()))
		if err := writeTreeFile(fs, p, t); err != nil {
			return nil, err
		}
		paths = append(paths, p)
	}
	return paths, nil
}

func writeTreeFile(fs afero.Fs, p string, t *model.Tree) error {
	out, err := fs.Create(p)
	if err != nil {
		return errors.Wrapf(err, "creating %s", p)
	}
	w := bufio.NewWriter(out)
	if err := NewEncoder(w).WriteTree(t); err != nil {
		out.Close()
		return err
	}
	if err := w.Flush(); err != nil {
		out.Close()
		return errors.Wrapf(err, "writing %s", p)
	}
	return errors.Wrapf(out.Close(), "closing %s", p)
}

// LoadDir decodes every *.bin file in dir, ordered by name.
func LoadDir(fs afero.Fs, dir string) (*model.Forest, error) {
	paths, err := afero.Glob(fs, filepath.Join(dir, "*.bin"))
	if err != nil {
		return nil, errors.Wrapf(err, "listing %s", dir)
	}
	if len(paths) == 0 {
		return nil, errors.Errorf("no .bin files in %s", dir)
	}
	sort.Strings(paths)
	return LoadFiles(fs, paths)
}
