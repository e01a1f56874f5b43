package hexlut

import (
	"bufio"
	"io"
	"strings"

	"github.com/pkg/errors"

	"github.com/sbl8/canlut/model"
)

const schemeComment = "# scheme="

// WriteTable writes every tree of f into one flat table. Child indices of
// each tree are rebased by the number of rows emitted before it, so that
// they address rows of the table.
func (c *Codec) WriteTable(w io.Writer, f *model.Forest) error {
	total := f.NodeCount()
	if total > MaxRows {
		return errors.Wrapf(model.ErrIndexRange, "%d rows exceed the table capacity of %d", total, MaxRows)
	}

	bw := bufio.NewWriter(w)
	if c.annotate {
		if _, err := bw.WriteString(schemeComment + c.fp.String() + "\n"); err != nil {
			return err
		}
	}
	offset := 0
	for _, t := range f.Trees() {
		if !t.Dense() {
			return errors.Wrapf(model.ErrInvalidNode, "tree %d: node ids are not 0..%d in order", t.ID(), t.Len()-1)
		}
		for _, n := range t.Nodes() {
			r, err := c.NodeRow(t.ID(), n, offset)
			if err != nil {
				return errors.Wrapf(err, "tree %d", t.ID())
			}
			if _, err := bw.WriteString(c.FormatRow(r) + "\n"); err != nil {
				return err
			}
		}
		offset += t.Len()
	}
	return bw.Flush()
}

// ReadTable decodes a flat table written by WriteTable. Rows of one tree must
// be contiguous; the first row of each tree fixes the offset that is removed
// from its children. A table holding a single tree is a per-tree dump file.
// An annotating Codec requires the scheme comment before the first row.
func (c *Codec) ReadTable(r io.Reader) (*model.Forest, error) {
	b := model.NewBuilder()
	seen := make(map[uint8]bool)
	current := -1
	offset, row := 0, 0
	annotated := false

	scanner := bufio.NewScanner(r)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		if strings.HasPrefix(text, "#") {
			scheme, err := c.checkComment(text)
			if err != nil {
				return nil, errors.Wrapf(err, "line %d", line)
			}
			annotated = annotated || scheme
			continue
		}
		if row == 0 && c.annotate && !annotated {
			return nil, errors.Wrapf(model.ErrSchemeMismatch, "line %d: no %s annotation", line, strings.TrimSpace(schemeComment))
		}

		parsed, err := c.ParseRow(text)
		if err != nil {
			return nil, errors.Wrapf(err, "line %d", line)
		}
		if int(parsed.Tree) != current {
			if seen[parsed.Tree] {
				return nil, errors.Wrapf(model.ErrInvalidNode, "line %d: rows of tree %d are not contiguous", line, parsed.Tree)
			}
			seen[parsed.Tree] = true
			current = int(parsed.Tree)
			offset = row
		}
		if row > MaxIndex {
			return nil, errors.Wrapf(model.ErrIndexRange, "line %d: table exceeds %d rows", line, MaxRows)
		}

		n, err := c.RowNode(parsed, row-offset, offset)
		if err != nil {
			return nil, errors.Wrapf(err, "line %d", line)
		}
		if err := b.Add(current, n); err != nil {
			return nil, errors.Wrapf(err, "line %d", line)
		}
		row++
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "reading table")
	}
	if row == 0 {
		return nil, errors.Wrap(model.ErrMalformedToken, "table holds no rows")
	}
	return b.Build()
}

// WriteTree writes a single tree without rebasing.
func (c *Codec) WriteTree(w io.Writer, f *model.Forest, treeID int) error {
	sub, err := f.Subset([]int{treeID})
	if err != nil {
		return err
	}
	return c.WriteTable(w, sub)
}

// checkComment verifies a scheme annotation and reports whether text was
// one; other comments are ignored.
func (c *Codec) checkComment(text string) (bool, error) {
	if !strings.HasPrefix(text, schemeComment) {
		return false, nil
	}
	return true, c.fp.Check(strings.TrimPrefix(text, schemeComment))
}
