// Package core holds the numeric and layout primitives shared by the codecs.
//
//   - FixedPoint: the threshold scheme of the text codecs
//   - AlignSize / PadToAlignment: fixed-size record padding
//   - Layout: footprint analysis of a record-oriented artifact
package core

// RecordAlign is the alignment of one binary node record.
const RecordAlign = 16

// AlignSize rounds size up to the specified power-of-two alignment boundary.
func AlignSize(size, align int) int {
	return (size + align - 1) &^ (align - 1)
}

// PadToAlignment zero-extends data to the next multiple of align.
func PadToAlignment(data []byte, align int) []byte {
	currentLen := len(data)
	alignedLen := AlignSize(currentLen, align)
	if alignedLen == currentLen {
		return data
	}

	padded := make([]byte, alignedLen)
	copy(padded, data)
	return padded
}

// Layout describes how an artifact's bytes divide between header, payload
// and padding.
type Layout struct {
	TotalSize   int
	HeaderSize  int
	RecordSize  int
	Records     int
	PayloadSize int
	PaddingSize int
	Overhead    float64
}

// AnalyzeLayout computes the layout of an artifact made of a header followed
// by records fixed-size records, each carrying payload meaningful bytes.
func AnalyzeLayout(header, recordSize, payload, records int) Layout {
	l := Layout{
		HeaderSize: header,
		RecordSize: recordSize,
		Records:    records,
	}
	l.PayloadSize = payload * records
	l.PaddingSize = (recordSize - payload) * records
	l.TotalSize = header + recordSize*records

	// Overhead is everything that is not node payload, as a percentage.
	if l.TotalSize > 0 {
		l.Overhead = float64(l.TotalSize-l.PayloadSize) / float64(l.TotalSize) * 100.0
	}
	return l
}
