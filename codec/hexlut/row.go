// Package hexlut implements the hex-text LUT codec.
//
// A row encodes one node as six upper-case hex tokens:
//
//	tree(2) feature(2) threshold(4|8) left(2) right(2) prediction(2)
//
// Tokens are positional unless the Codec has a delimiter. Node ids are not
// stored: a node's id is its row position within its tree, so trees must use
// dense ids 0..n-1. FF marks an absent field: the feature of a leaf, the
// children of a leaf and the prediction of a split. Leaf thresholds are zero.
//
// Thresholds use the Codec's fixed-point scheme. Flat tables concatenate
// trees and rebase child indices so that they address rows of the whole table.
package hexlut

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/sbl8/canlut/core"
	"github.com/sbl8/canlut/model"
)

const (
	// Absent is the reserved token value for fields that do not apply.
	Absent = 0xFF

	// MaxIndex is the largest child index or row a table can address.
	MaxIndex = Absent - 1

	// MaxRows is the row capacity of one table.
	MaxRows = MaxIndex + 1

	leafCode = 0xFF
)

// Row is one decoded line before node ids and rebasing are resolved.
type Row struct {
	Tree       uint8
	Feature    uint8
	Threshold  uint32
	Left       uint8
	Right      uint8
	Prediction uint8
}

// IsLeaf reports whether the row carries the leaf feature code.
func (r Row) IsLeaf() bool {
	return r.Feature == leafCode
}

// Codec encodes and decodes rows under one threshold scheme and delimiter.
type Codec struct {
	fp        core.FixedPoint
	delimiter string
	annotate  bool
}

// Option configures a Codec.
type Option func(*Codec)

// WithDelimiter joins tokens with d instead of writing them positionally.
func WithDelimiter(d string) Option {
	return func(c *Codec) { c.delimiter = d }
}

// WithAnnotation makes tables and CSV dumps open with a comment naming the
// threshold scheme, and makes readers refuse input without one.
func WithAnnotation(on bool) Option {
	return func(c *Codec) { c.annotate = on }
}

// New returns a Codec for the given threshold scheme.
func New(fp core.FixedPoint, opts ...Option) (*Codec, error) {
	if err := fp.Validate(); err != nil {
		return nil, err
	}
	c := &Codec{fp: fp}
	for _, o := range opts {
		o(c)
	}
	if strings.ContainsAny(c.delimiter, "0123456789abcdefABCDEF#\r\n") {
		return nil, errors.Errorf("delimiter %q collides with row content", c.delimiter)
	}
	return c, nil
}

// Scheme returns the threshold scheme.
func (c *Codec) Scheme() core.FixedPoint {
	return c.fp
}

// Delimiter returns the token delimiter, empty for positional rows.
func (c *Codec) Delimiter() string {
	return c.delimiter
}

// RowWidth returns the length of a positional row.
func (c *Codec) RowWidth() int {
	return 10 + c.fp.Digits()
}

// NodeRow converts a node into a row, adding offset to every child index.
func (c *Codec) NodeRow(treeID int, n model.Node, offset int) (Row, error) {
	if treeID < 0 || treeID > 0xFF {
		return Row{}, errors.Wrapf(model.ErrIndexRange, "tree id %d does not fit one byte", treeID)
	}
	if err := n.Validate(); err != nil {
		return Row{}, err
	}
	r := Row{Tree: uint8(treeID)}
	if n.IsLeaf() {
		if n.Prediction > MaxIndex {
			return Row{}, errors.Wrapf(model.ErrIndexRange, "node %d: label %d", n.ID, n.Prediction)
		}
		r.Feature = leafCode
		r.Left, r.Right = Absent, Absent
		r.Prediction = uint8(n.Prediction)
		return r, nil
	}

	left, right := n.Left+offset, n.Right+offset
	if left > MaxIndex || right > MaxIndex {
		return Row{}, errors.Wrapf(model.ErrIndexRange, "node %d: children %d/%d exceed %d", n.ID, left, right, MaxIndex)
	}
	raw, err := c.fp.Encode(n.Threshold)
	if err != nil {
		return Row{}, errors.Wrapf(err, "node %d", n.ID)
	}
	r.Feature = uint8(n.Feature)
	r.Threshold = raw
	r.Left, r.Right = uint8(left), uint8(right)
	r.Prediction = Absent
	return r, nil
}

// RowNode converts a row back into node id, removing offset from children.
func (c *Codec) RowNode(r Row, id, offset int) (model.Node, error) {
	if r.IsLeaf() {
		if r.Prediction == Absent {
			return model.Node{}, errors.Wrapf(model.ErrInvalidNode, "leaf %d has no label", id)
		}
		return model.NewLeaf(id, int(r.Prediction)), nil
	}
	if r.Prediction != Absent {
		return model.Node{}, errors.Wrapf(model.ErrInvalidNode, "split %d carries label %02X", id, r.Prediction)
	}
	if r.Left == Absent || r.Right == Absent {
		return model.Node{}, errors.Wrapf(model.ErrInvalidNode, "split %d has an absent child", id)
	}
	left, right := int(r.Left)-offset, int(r.Right)-offset
	if left < 0 || right < 0 {
		return model.Node{}, errors.Wrapf(model.ErrIndexRange, "split %d: children %02X/%02X precede its tree", id, r.Left, r.Right)
	}
	threshold, err := c.fp.Decode(r.Threshold)
	if err != nil {
		return model.Node{}, errors.Wrapf(err, "node %d", id)
	}
	n := model.NewSplit(id, model.Feature(r.Feature), threshold, left, right)
	if err := n.Validate(); err != nil {
		return model.Node{}, err
	}
	return n, nil
}

// Tokens returns the six hex tokens of r.
func (c *Codec) Tokens(r Row) []string {
	return []string{
		hexToken(uint32(r.Tree), 2),
		hexToken(uint32(r.Feature), 2),
		hexToken(r.Threshold, c.fp.Digits()),
		hexToken(uint32(r.Left), 2),
		hexToken(uint32(r.Right), 2),
		hexToken(uint32(r.Prediction), 2),
	}
}

// FormatRow renders r as one line without a newline.
func (c *Codec) FormatRow(r Row) string {
	return strings.Join(c.Tokens(r), c.delimiter)
}

// ParseRow decodes one line. Token widths are checked strictly.
func (c *Codec) ParseRow(line string) (Row, error) {
	var tokens []string
	if c.delimiter != "" {
		tokens = strings.Split(line, c.delimiter)
		if len(tokens) != 6 {
			return Row{}, errors.Wrapf(model.ErrMalformedToken, "%d tokens, want 6", len(tokens))
		}
	} else {
		if len(line) != c.RowWidth() {
			return Row{}, errors.Wrapf(model.ErrMalformedToken, "row is %d characters, want %d", len(line), c.RowWidth())
		}
		d := c.fp.Digits()
		tokens = []string{line[0:2], line[2:4], line[4 : 4+d], line[4+d : 6+d], line[6+d : 8+d], line[8+d : 10+d]}
	}

	widths := []int{2, 2, c.fp.Digits(), 2, 2, 2}
	values := make([]uint32, len(tokens))
	for i, tok := range tokens {
		v, err := parseToken(tok, widths[i])
		if err != nil {
			return Row{}, errors.Wrapf(err, "%s field", rowFields[i])
		}
		values[i] = v
	}
	return Row{
		Tree:       uint8(values[0]),
		Feature:    uint8(values[1]),
		Threshold:  values[2],
		Left:       uint8(values[3]),
		Right:      uint8(values[4]),
		Prediction: uint8(values[5]),
	}, nil
}

var rowFields = []string{"tree", "feature", "threshold", "left", "right", "prediction"}

func hexToken(v uint32, digits int) string {
	return fmt.Sprintf("%0*X", digits, v)
}

// parseToken accepts exactly digits hex characters, in either case.
func parseToken(tok string, digits int) (uint32, error) {
	if len(tok) != digits {
		return 0, errors.Wrapf(model.ErrMalformedToken, "%q is %d digits, want %d", tok, len(tok), digits)
	}
	for _, c := range tok {
		if !strings.ContainsRune("0123456789abcdefABCDEF", c) {
			return 0, errors.Wrapf(model.ErrMalformedToken, "%q is not hex", tok)
		}
	}
	v, err := strconv.ParseUint(tok, 16, 32)
	if err != nil {
		return 0, errors.Wrapf(model.ErrMalformedToken, "%q: %v", tok, err)
	}
	return uint32(v), nil
}
