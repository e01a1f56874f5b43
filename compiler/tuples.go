package compiler

import (
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/gocarina/gocsv"
	"github.com/pkg/errors"

	"github.com/sbl8/canlut/model"
)

// Tuple is one node of a fitted ensemble as exported by the trainer.
type Tuple struct {
	Tree       int
	Node       int
	Feature    model.Feature
	Threshold  float64
	Left       int
	Right      int
	Prediction int
}

// ModelNode converts the tuple to a canonical node.
func (tp Tuple) ModelNode() model.Node {
	if tp.Feature == model.Leaf {
		return model.NewLeaf(tp.Node, tp.Prediction)
	}
	return model.NewSplit(tp.Node, tp.Feature, tp.Threshold, tp.Left, tp.Right)
}

// tupleRow is the decimal training export. Pandas writes integer columns
// that contain blanks as floats, so every field is read as text.
type tupleRow struct {
	Tree       string `csv:"Tree"`
	Node       string `csv:"Node"`
	Feature    string `csv:"Feature"`
	Threshold  string `csv:"Threshold"`
	Left       string `csv:"Left_Child"`
	Right      string `csv:"Right_Child"`
	Prediction string `csv:"Prediction"`
}

// ReadTuples parses a training export. A row is a leaf when its feature is a
// leaf marker (blank, N/A, -1, -2); leaves must carry a prediction and splits
// must carry a threshold and both children. Nothing defaults to zero.
func ReadTuples(r io.Reader) ([]Tuple, error) {
	var rows []tupleRow
	if err := gocsv.Unmarshal(r, &rows); err != nil {
		return nil, errors.Wrap(err, "reading tuples")
	}
	if len(rows) == 0 {
		return nil, errors.New("tuple export has no rows")
	}

	tuples := make([]Tuple, 0, len(rows))
	for i, row := range rows {
		tp, err := row.tuple()
		if err != nil {
			// Header is line 1.
			return nil, errors.Wrapf(err, "line %d", i+2)
		}
		tuples = append(tuples, tp)
	}
	return tuples, nil
}

func (row tupleRow) tuple() (Tuple, error) {
	var tp Tuple
	var err error
	if tp.Tree, err = parseIndex("Tree", row.Tree); err != nil {
		return tp, err
	}
	if tp.Node, err = parseIndex("Node", row.Node); err != nil {
		return tp, err
	}
	if tp.Feature, err = model.ParseFeature(row.Feature); err != nil {
		return tp, err
	}

	if tp.Feature == model.Leaf {
		tp.Left, tp.Right = model.NoChild, model.NoChild
		tp.Prediction, err = parseIndex("Prediction", row.Prediction)
		return tp, err
	}

	tp.Prediction = model.NoPrediction
	if tp.Threshold, err = parseDecimal("Threshold", row.Threshold); err != nil {
		return tp, err
	}
	if tp.Left, err = parseIndex("Left_Child", row.Left); err != nil {
		return tp, err
	}
	tp.Right, err = parseIndex("Right_Child", row.Right)
	return tp, err
}

func parseDecimal(field, s string) (float64, error) {
	s = strings.TrimSpace(s)
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, errors.Wrapf(model.ErrMalformedToken, "%s %q", field, s)
	}
	return v, nil
}

// parseIndex accepts "7" as well as the "7.0" pandas writes for float columns.
func parseIndex(field, s string) (int, error) {
	v, err := parseDecimal(field, s)
	if err != nil {
		return 0, err
	}
	if v != math.Trunc(v) || v < 0 || v > math.MaxInt32 {
		return 0, errors.Wrapf(model.ErrIndexRange, "%s %q", field, s)
	}
	return int(v), nil
}

// Tuples flattens f in tree and node order.
func Tuples(f *model.Forest) []Tuple {
	var out []Tuple
	for _, t := range f.Trees() {
		for _, n := range t.Nodes() {
			out = append(out, Tuple{
				Tree:       t.ID(),
				Node:       n.ID,
				Feature:    n.Feature,
				Threshold:  n.Threshold,
				Left:       n.Left,
				Right:      n.Right,
				Prediction: n.Prediction,
			})
		}
	}
	return out
}

// WriteTuples writes tuples in the training export layout, leaving the
// fields that do not apply to a node blank.
func WriteTuples(w io.Writer, tuples []Tuple) error {
	rows := make([]tupleRow, len(tuples))
	for i, tp := range tuples {
		row := tupleRow{
			Tree: strconv.Itoa(tp.Tree),
			Node: strconv.Itoa(tp.Node),
		}
		if tp.Feature == model.Leaf {
			row.Feature = "N/A"
			row.Prediction = strconv.Itoa(tp.Prediction)
		} else {
			row.Feature = tp.Feature.String()
			row.Threshold = strconv.FormatFloat(tp.Threshold, 'g', -1, 64)
			row.Left = strconv.Itoa(tp.Left)
			row.Right = strconv.Itoa(tp.Right)
		}
		rows[i] = row
	}
	return errors.Wrap(gocsv.Marshal(rows, w), "writing tuples")
}
