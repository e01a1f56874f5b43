// Package bitfield implements the 95-bit memory row codec used to preload
// hardware lookup memories.
//
// A row packs one node, most significant field first:
//
//	bits  field
//	9     node id
//	2     feature code (11 = leaf)
//	64    threshold, IEEE-754 binary64 bit pattern
//	9     left child
//	9     right child
//	2     prediction (00 = class 0, 01 = class 1, 11 = split)
//
// Feature codes 00, 01 and 10 index a three-slot feature table; a feature
// that has no slot cannot be encoded. Leaves carry a zero threshold and zero
// children. Prediction 10 is never written and is rejected on decode.
package bitfield

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/sbl8/canlut/model"
)

const (
	// RowBits is the width of one row.
	RowBits = 95

	// MaxID is the largest node id or child index a row can hold.
	MaxID = 1<<9 - 1

	// HexDigits is the number of hex digits of a zero-padded row.
	HexDigits = 24

	// ThresholdEncoding names the threshold representation in MIF headers.
	ThresholdEncoding = "ieee754-binary64"

	leafCode  = 0b11
	splitPred = 0b11
	badPred   = 0b10

	loThresholdBits = 44
)

// DefaultSlots is the feature table used when none is configured.
var DefaultSlots = [3]model.Feature{model.ArbitrationID, model.InterArrivalTime, model.DataEntropy}

// Word holds a row: bits 64..94 in Hi, bits 0..63 in Lo.
type Word struct {
	Hi uint32
	Lo uint64
}

// Fields is a row split into its fields.
type Fields struct {
	NodeID     uint16
	Feature    uint8
	Threshold  uint64
	Left       uint16
	Right      uint16
	Prediction uint8
}

// Pack assembles fields into a word. Fields wider than their slot are masked.
func (f Fields) Pack() Word {
	lo := uint64(f.Prediction&0b11) |
		uint64(f.Right&MaxID)<<2 |
		uint64(f.Left&MaxID)<<11 |
		(f.Threshold&(1<<loThresholdBits-1))<<20
	hi := uint32(f.Threshold>>loThresholdBits) |
		uint32(f.Feature&0b11)<<20 |
		uint32(f.NodeID&MaxID)<<22
	return Word{Hi: hi, Lo: lo}
}

// Unpack splits w into its fields.
func (w Word) Unpack() Fields {
	return Fields{
		Prediction: uint8(w.Lo & 0b11),
		Right:      uint16(w.Lo>>2) & MaxID,
		Left:       uint16(w.Lo>>11) & MaxID,
		Threshold:  w.Lo>>20 | uint64(w.Hi&(1<<20-1))<<loThresholdBits,
		Feature:    uint8(w.Hi>>20) & 0b11,
		NodeID:     uint16(w.Hi>>22) & MaxID,
	}
}

// Bits renders w as a 95-character binary string.
func (w Word) Bits() string {
	return fmt.Sprintf("%031b%064b", w.Hi, w.Lo)
}

// Hex renders w as 24 zero-padded upper-case hex digits.
func (w Word) Hex() string {
	return fmt.Sprintf("%08X%016X", w.Hi, w.Lo)
}

// ParseBits decodes a 95-character binary string. Embedded spaces are
// ignored.
func ParseBits(s string) (Word, error) {
	bits := strings.ReplaceAll(strings.TrimSpace(s), " ", "")
	if len(bits) != RowBits {
		return Word{}, errors.Wrapf(model.ErrInvalidRowWidth, "%d bits, want %d", len(bits), RowBits)
	}
	for _, c := range bits {
		if c != '0' && c != '1' {
			return Word{}, errors.Wrapf(model.ErrMalformedToken, "%q is not binary", c)
		}
	}
	hi, err := strconv.ParseUint(bits[:RowBits-64], 2, 32)
	if err != nil {
		return Word{}, errors.Wrap(model.ErrMalformedToken, err.Error())
	}
	lo, err := strconv.ParseUint(bits[RowBits-64:], 2, 64)
	if err != nil {
		return Word{}, errors.Wrap(model.ErrMalformedToken, err.Error())
	}
	return Word{Hi: uint32(hi), Lo: lo}, nil
}

// ParseHex decodes up to 24 hex digits. Shorter values are zero-extended,
// as older tools wrote rows without leading zeros; values needing more than
// 95 bits are rejected.
func ParseHex(s string) (Word, error) {
	digits := strings.TrimSpace(s)
	if digits == "" {
		return Word{}, errors.Wrap(model.ErrMalformedToken, "empty row")
	}
	if len(digits) > HexDigits {
		return Word{}, errors.Wrapf(model.ErrInvalidRowWidth, "%d hex digits, want at most %d", len(digits), HexDigits)
	}
	for _, c := range digits {
		if !strings.ContainsRune("0123456789abcdefABCDEF", c) {
			return Word{}, errors.Wrapf(model.ErrMalformedToken, "%q is not hex", digits)
		}
	}
	digits = strings.Repeat("0", HexDigits-len(digits)) + digits
	hi, _ := strconv.ParseUint(digits[:8], 16, 32)
	lo, _ := strconv.ParseUint(digits[8:], 16, 64)
	if hi>>31 != 0 {
		return Word{}, errors.Wrapf(model.ErrInvalidRowWidth, "0x%s exceeds %d bits", digits, RowBits)
	}
	return Word{Hi: uint32(hi), Lo: lo}, nil
}

// Codec maps model nodes onto rows through a feature slot table.
type Codec struct {
	slots [3]model.Feature
}

// New returns a Codec whose codes 00, 01 and 10 select slots[0..2].
func New(slots [3]model.Feature) (*Codec, error) {
	seen := make(map[model.Feature]bool)
	for i, f := range slots {
		if f == model.Leaf || !f.Valid() {
			return nil, errors.Wrapf(model.ErrUnknownFeatureCode, "slot %d: %s", i, f)
		}
		if seen[f] {
			return nil, errors.Errorf("slot %d: %s assigned twice", i, f)
		}
		seen[f] = true
	}
	return &Codec{slots: slots}, nil
}

// Slots returns the feature table.
func (c *Codec) Slots() [3]model.Feature {
	return c.slots
}

func (c *Codec) code(f model.Feature) (uint8, bool) {
	for i, s := range c.slots {
		if s == f {
			return uint8(i), true
		}
	}
	return 0, false
}

// Encode packs n into a row.
func (c *Codec) Encode(n model.Node) (Word, error) {
	if err := n.Validate(); err != nil {
		return Word{}, err
	}
	if n.ID > MaxID {
		return Word{}, errors.Wrapf(model.ErrIndexRange, "node id %d exceeds %d", n.ID, MaxID)
	}
	f := Fields{NodeID: uint16(n.ID)}
	if n.IsLeaf() {
		if n.Prediction > 1 {
			return Word{}, errors.Wrapf(model.ErrIndexRange, "node %d: label %d has no prediction code", n.ID, n.Prediction)
		}
		f.Feature = leafCode
		f.Prediction = uint8(n.Prediction)
		return f.Pack(), nil
	}

	code, ok := c.code(n.Feature)
	if !ok {
		return Word{}, errors.Wrapf(model.ErrUnknownFeatureCode, "node %d: %s has no feature slot", n.ID, n.Feature)
	}
	if n.Left > MaxID || n.Right > MaxID {
		return Word{}, errors.Wrapf(model.ErrIndexRange, "node %d: children %d/%d exceed %d", n.ID, n.Left, n.Right, MaxID)
	}
	f.Feature = code
	f.Threshold = math.Float64bits(n.Threshold)
	f.Left = uint16(n.Left)
	f.Right = uint16(n.Right)
	f.Prediction = splitPred
	return f.Pack(), nil
}

// Decode unpacks a row into a node.
func (c *Codec) Decode(w Word) (model.Node, error) {
	f := w.Unpack()
	id := int(f.NodeID)
	if f.Prediction == badPred {
		return model.Node{}, errors.Wrapf(model.ErrInvalidNode, "node %d: prediction code 10", id)
	}

	var n model.Node
	if f.Feature == leafCode {
		if f.Prediction == splitPred {
			return model.Node{}, errors.Wrapf(model.ErrInvalidNode, "leaf %d has no label", id)
		}
		n = model.NewLeaf(id, int(f.Prediction))
	} else {
		if f.Prediction != splitPred {
			return model.Node{}, errors.Wrapf(model.ErrInvalidNode, "split %d carries label %d", id, f.Prediction)
		}
		n = model.NewSplit(id, c.slots[f.Feature], math.Float64frombits(f.Threshold), int(f.Left), int(f.Right))
	}
	if err := n.Validate(); err != nil {
		return model.Node{}, err
	}
	return n, nil
}
