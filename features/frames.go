package features

import (
	"bufio"
	"io"
	"math"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/gocarina/gocsv"
	"github.com/pkg/errors"
	"github.com/spf13/afero"

	"github.com/sbl8/canlut/model"
)

// frameRow is one line of the frame CSV. The timestamp stays text until it
// is parsed, so a blank cell is an error instead of time zero.
type frameRow struct {
	Timestamp     string `csv:"timestamp"`
	ArbitrationID string `csv:"arbitration_id"`
	Data          string `csv:"data_field"`
}

// ReadFrames decodes a frame CSV with the header
// timestamp,arbitration_id,data_field. Other columns are ignored.
func ReadFrames(r io.Reader) ([]Frame, error) {
	rows := []*frameRow{}
	if err := gocsv.Unmarshal(r, &rows); err != nil {
		return nil, errors.Wrap(err, "decoding frame csv")
	}
	out := make([]Frame, len(rows))
	for i, row := range rows {
		ts, err := ParseTimestamp(row.Timestamp)
		if err != nil {
			return nil, errors.Wrapf(err, "line %d", i+2)
		}
		out[i] = Frame{Timestamp: ts, ArbitrationID: row.ArbitrationID, Data: row.Data}
	}
	return out, nil
}

// ParseTimestamp parses a frame timestamp in seconds. Blank, NaN and
// infinite values are rejected.
func ParseTimestamp(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, errors.Wrap(model.ErrMalformedToken, "blank timestamp")
	}
	ts, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(ts) || math.IsInf(ts, 0) {
		return 0, errors.Wrapf(model.ErrMalformedToken, "timestamp %q", s)
	}
	return ts, nil
}

// WriteFrames encodes frames in the ReadFrames layout.
func WriteFrames(w io.Writer, frames []Frame) error {
	rows := make([]*frameRow, len(frames))
	for i, f := range frames {
		rows[i] = &frameRow{
			Timestamp:     strconv.FormatFloat(f.Timestamp, 'f', -1, 64),
			ArbitrationID: f.ArbitrationID,
			Data:          f.Data,
		}
	}
	return errors.Wrap(gocsv.Marshal(&rows, w), "encoding frame csv")
}

// logLine matches the capture tool's text dump, e.g.
//
//	Timestamp: 1479121434.850202  ID: 0350    000    DLC: 8    05 28 84 66 6d 00 00 a2
var logLine = regexp.MustCompile(`Timestamp:\s+(\d+(?:\.\d+)?)\s+ID:\s+([0-9A-Fa-f]+)\s+\d+\s+DLC:\s+(\d+)\s*([0-9A-Fa-f\s]*)$`)

// ReadLog decodes a text capture. Lines that do not look like frames are
// skipped; a frame line whose DLC disagrees with its payload is an error.
func ReadLog(r io.Reader) ([]Frame, error) {
	var frames []Frame
	scanner := bufio.NewScanner(r)
	line := 0
	for scanner.Scan() {
		line++
		m := logLine.FindStringSubmatch(strings.TrimSpace(scanner.Text()))
		if m == nil {
			continue
		}
		ts, err := ParseTimestamp(m[1])
		if err != nil {
			return nil, errors.Wrapf(err, "line %d", line)
		}
		dlc, err := strconv.Atoi(m[3])
		if err != nil {
			return nil, errors.Wrapf(err, "line %d: dlc", line)
		}
		data := normalizePayload(m[4])
		if len(data) != 2*dlc {
			return nil, errors.Errorf("line %d: dlc %d but %d payload digits", line, dlc, len(data))
		}
		frames = append(frames, Frame{Timestamp: ts, ArbitrationID: m[2], Data: data})
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "reading capture")
	}
	return frames, nil
}

// LoadFrames reads a frame source from fs, choosing the decoder by extension:
// .csv files are frame CSVs, anything else is a text capture.
func LoadFrames(fs afero.Fs, path string) ([]Frame, error) {
	f, err := fs.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "opening %s", path)
	}
	defer f.Close()

	if strings.EqualFold(filepath.Ext(path), ".csv") {
		return ReadFrames(f)
	}
	return ReadLog(f)
}

// SaveFrames writes frames to path as a frame CSV.
func SaveFrames(fs afero.Fs, path string, frames []Frame) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := fs.MkdirAll(dir, 0o755); err != nil {
			return errors.Wrapf(err, "creating %s", dir)
		}
	}
	out, err := fs.Create(path)
	if err != nil {
		return errors.Wrapf(err, "creating %s", path)
	}
	w := bufio.NewWriter(out)
	if err := WriteFrames(w, frames); err != nil {
		out.Close()
		return err
	}
	if err := w.Flush(); err != nil {
		out.Close()
		return errors.Wrapf(err, "writing %s", path)
	}
	return errors.Wrapf(out.Close(), "closing %s", path)
}
