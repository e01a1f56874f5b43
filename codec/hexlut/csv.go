package hexlut

import (
	"bufio"
	"io"
	"strings"

	"github.com/gocarina/gocsv"
	"github.com/pkg/errors"

	"github.com/sbl8/canlut/model"
)

// csvRow is one line of the CSV dump. Values are the row's hex tokens; the
// node id is explicit, so trees need not be dense and are never rebased.
type csvRow struct {
	Tree       string `csv:"Tree"`
	Node       string `csv:"Node"`
	Feature    string `csv:"Feature"`
	Threshold  string `csv:"Threshold"`
	LeftChild  string `csv:"Left_Child"`
	RightChild string `csv:"Right_Child"`
	Prediction string `csv:"Prediction"`
}

// WriteCSV writes every node of f as one CSV row. An annotating Codec puts
// the scheme comment above the header.
func (c *Codec) WriteCSV(w io.Writer, f *model.Forest) error {
	rows := make([]*csvRow, 0, f.NodeCount())
	for _, t := range f.Trees() {
		for _, n := range t.Nodes() {
			if n.ID > MaxIndex {
				return errors.Wrapf(model.ErrIndexRange, "tree %d: node id %d", t.ID(), n.ID)
			}
			r, err := c.NodeRow(t.ID(), n, 0)
			if err != nil {
				return errors.Wrapf(err, "tree %d", t.ID())
			}
			tok := c.Tokens(r)
			rows = append(rows, &csvRow{
				Tree:       tok[0],
				Node:       hexToken(uint32(n.ID), 2),
				Feature:    tok[1],
				Threshold:  tok[2],
				LeftChild:  tok[3],
				RightChild: tok[4],
				Prediction: tok[5],
			})
		}
	}
	if c.annotate {
		if _, err := io.WriteString(w, schemeComment+c.fp.String()+"\n"); err != nil {
			return errors.Wrap(err, "writing csv dump")
		}
	}
	return errors.Wrap(gocsv.Marshal(&rows, w), "encoding csv dump")
}

// ReadCSV decodes a CSV dump. Comment lines above the header are checked
// like table comments.
func (c *Codec) ReadCSV(r io.Reader) (*model.Forest, error) {
	br := bufio.NewReader(r)
	comments, annotated, err := c.readComments(br)
	if err != nil {
		return nil, err
	}
	if c.annotate && !annotated {
		return nil, errors.Wrapf(model.ErrSchemeMismatch, "csv dump has no %s annotation", strings.TrimSpace(schemeComment))
	}

	rows := []*csvRow{}
	if err := gocsv.Unmarshal(br, &rows); err != nil {
		return nil, errors.Wrap(err, "decoding csv dump")
	}
	if len(rows) == 0 {
		return nil, errors.Wrap(model.ErrMalformedToken, "csv dump holds no rows")
	}

	b := model.NewBuilder()
	for i, cr := range rows {
		// The header follows the comments.
		line := comments + i + 2
		tokens := []string{cr.Tree, cr.Feature, cr.Threshold, cr.LeftChild, cr.RightChild, cr.Prediction}
		widths := []int{2, 2, c.fp.Digits(), 2, 2, 2}
		values := make([]uint32, len(tokens))
		for j, tok := range tokens {
			v, err := parseToken(tok, widths[j])
			if err != nil {
				return nil, errors.Wrapf(err, "line %d", line)
			}
			values[j] = v
		}
		id, err := parseToken(cr.Node, 2)
		if err != nil {
			return nil, errors.Wrapf(err, "line %d: node", line)
		}
		if id == Absent {
			return nil, errors.Wrapf(model.ErrInvalidNode, "line %d: node id FF is reserved", line)
		}

		row := Row{
			Tree:       uint8(values[0]),
			Feature:    uint8(values[1]),
			Threshold:  values[2],
			Left:       uint8(values[3]),
			Right:      uint8(values[4]),
			Prediction: uint8(values[5]),
		}
		n, err := c.RowNode(row, int(id), 0)
		if err != nil {
			return nil, errors.Wrapf(err, "line %d", line)
		}
		if err := b.Add(int(row.Tree), n); err != nil {
			return nil, errors.Wrapf(err, "line %d", line)
		}
	}
	return b.Build()
}

// readComments consumes the leading '#' lines of br. It returns how many it
// read and whether one of them was a scheme annotation.
func (c *Codec) readComments(br *bufio.Reader) (int, bool, error) {
	n, annotated := 0, false
	for {
		next, err := br.Peek(1)
		if err != nil || next[0] != '#' {
			return n, annotated, nil
		}
		text, err := br.ReadString('\n')
		if err != nil && err != io.EOF {
			return n, annotated, errors.Wrap(err, "reading csv dump")
		}
		n++
		scheme, err := c.checkComment(strings.TrimSpace(text))
		if err != nil {
			return n, annotated, errors.Wrapf(err, "line %d", n)
		}
		annotated = annotated || scheme
	}
}
