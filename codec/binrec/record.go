// Package binrec implements the packed binary node record codec.
//
// Every node occupies RecordSize bytes, little-endian:
//
//	offset  size  field
//	0       2     node id
//	2       1     feature code (0xFF = leaf)
//	3       4     threshold, IEEE-754 binary32
//	7       2     left child
//	9       2     right child
//	11      1     prediction (0xFF = split)
//	12      4     zero padding
//
// Leaves carry a zero threshold and zero children. A plain stream is a bare
// sequence of records; a bundle (see bundle.go) adds a checksummed header.
package binrec

import (
	"encoding/binary"
	"math"

	"github.com/pkg/errors"

	"github.com/sbl8/canlut/core"
	"github.com/sbl8/canlut/model"
)

const (
	// PayloadSize is the number of meaningful bytes in a record.
	PayloadSize = 12

	// LeafCode is the feature byte of a leaf record.
	LeafCode = 0xFF

	// NoLabel is the prediction byte of a split record.
	NoLabel = 0xFF

	maxIndex = math.MaxUint16
	maxLabel = NoLabel - 1
)

// RecordSize is the fixed size of one encoded node: the payload padded to
// the record alignment.
var RecordSize = core.AlignSize(PayloadSize, core.RecordAlign)

// Record is the decoded, still wire-typed form of one node.
type Record struct {
	NodeID     uint16
	Feature    uint8
	Threshold  float32
	Left       uint16
	Right      uint16
	Prediction uint8
}

// IsLeaf reports whether r carries the leaf feature code.
func (r Record) IsLeaf() bool {
	return r.Feature == LeafCode
}

// FromNode converts a model node into its record form.
func FromNode(n model.Node) (Record, error) {
	if err := n.Validate(); err != nil {
		return Record{}, err
	}
	if n.ID > maxIndex {
		return Record{}, errors.Wrapf(model.ErrIndexRange, "node id %d exceeds %d", n.ID, maxIndex)
	}
	r := Record{NodeID: uint16(n.ID)}
	if n.IsLeaf() {
		if n.Prediction > maxLabel {
			return Record{}, errors.Wrapf(model.ErrIndexRange, "node %d: label %d exceeds %d", n.ID, n.Prediction, maxLabel)
		}
		r.Feature = LeafCode
		r.Prediction = uint8(n.Prediction)
		return r, nil
	}

	if n.Left > maxIndex || n.Right > maxIndex {
		return Record{}, errors.Wrapf(model.ErrIndexRange, "node %d: children %d/%d exceed %d", n.ID, n.Left, n.Right, maxIndex)
	}
	if math.Abs(n.Threshold) > math.MaxFloat32 {
		return Record{}, errors.Wrapf(model.ErrThresholdRange, "node %d: %g does not fit binary32", n.ID, n.Threshold)
	}
	r.Feature = uint8(n.Feature)
	r.Threshold = float32(n.Threshold)
	r.Left = uint16(n.Left)
	r.Right = uint16(n.Right)
	r.Prediction = NoLabel
	return r, nil
}

// Node converts r back into a model node, checking the leaf/split invariant.
func (r Record) Node() (model.Node, error) {
	var n model.Node
	if r.IsLeaf() {
		if r.Prediction == NoLabel {
			return model.Node{}, errors.Wrapf(model.ErrInvalidNode, "leaf %d has no label", r.NodeID)
		}
		n = model.NewLeaf(int(r.NodeID), int(r.Prediction))
	} else {
		if r.Prediction != NoLabel {
			return model.Node{}, errors.Wrapf(model.ErrInvalidNode, "split %d carries label %d", r.NodeID, r.Prediction)
		}
		n = model.NewSplit(int(r.NodeID), model.Feature(r.Feature), float64(r.Threshold), int(r.Left), int(r.Right))
	}
	if err := n.Validate(); err != nil {
		return model.Node{}, err
	}
	return n, nil
}

// MarshalTo writes r into the first RecordSize bytes of buf, padding included.
func (r Record) MarshalTo(buf []byte) {
	_ = buf[RecordSize-1]
	copy(buf, r.pad())
}

// MarshalBinary returns the RecordSize-byte encoding of r.
func (r Record) MarshalBinary() ([]byte, error) {
	return r.pad(), nil
}

func (r Record) pad() []byte {
	buf := make([]byte, PayloadSize)
	binary.LittleEndian.PutUint16(buf[0:], r.NodeID)
	buf[2] = r.Feature
	binary.LittleEndian.PutUint32(buf[3:], math.Float32bits(r.Threshold))
	binary.LittleEndian.PutUint16(buf[7:], r.Left)
	binary.LittleEndian.PutUint16(buf[9:], r.Right)
	buf[11] = r.Prediction
	return core.PadToAlignment(buf, core.RecordAlign)
}

// UnmarshalBinary decodes exactly one record.
func (r *Record) UnmarshalBinary(buf []byte) error {
	if len(buf) < RecordSize {
		return errors.Wrapf(model.ErrTruncatedRecord, "%d of %d bytes", len(buf), RecordSize)
	}
	if len(buf) > RecordSize {
		return errors.Errorf("record is %d bytes, want %d", len(buf), RecordSize)
	}
	r.NodeID = binary.LittleEndian.Uint16(buf[0:])
	r.Feature = buf[2]
	r.Threshold = math.Float32frombits(binary.LittleEndian.Uint32(buf[3:]))
	r.Left = binary.LittleEndian.Uint16(buf[7:])
	r.Right = binary.LittleEndian.Uint16(buf[9:])
	r.Prediction = buf[11]
	return nil
}

// Layout returns the footprint of n records with a header of the given size.
func Layout(header, n int) core.Layout {
	return core.AnalyzeLayout(header, RecordSize, PayloadSize, n)
}
