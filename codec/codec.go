// Package codec selects among the artifact formats and moves forests between
// them and storage.
//
// Every format decodes fully into a model.Forest before returning, so a
// partially decoded artifact is never handed to the runtime.
package codec

import (
	"bytes"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/afero"

	"github.com/sbl8/canlut/codec/binrec"
	"github.com/sbl8/canlut/codec/bitfield"
	"github.com/sbl8/canlut/codec/hexlut"
	"github.com/sbl8/canlut/core"
	"github.com/sbl8/canlut/model"
)

// Format identifies an artifact format.
type Format int

const (
	Unknown Format = iota
	Binary         // concatenated binary records (.bin)
	BinaryDir      // directory of per-tree .bin files
	Bundle         // checksummed binary bundle (.lutb)
	HexTable       // flat, rebased hex table (.hex)
	HexDump        // directory of per-tree .hex files plus manifest.yaml
	CSV            // hex-token CSV dump (.csv)
	MIF            // directory of per-tree memory initialization files
	Bits           // directory of per-tree raw 95-bit row files
)

var formatNames = map[Format]string{
	Binary:    "bin",
	BinaryDir: "bindir",
	Bundle:    "lutb",
	HexTable:  "hex",
	HexDump:   "hexdump",
	CSV:       "csv",
	MIF:       "mif",
	Bits:      "bits",
}

// Formats lists every known format in declaration order.
var Formats = []Format{Binary, BinaryDir, Bundle, HexTable, HexDump, CSV, MIF, Bits}

func (f Format) String() string {
	if name, ok := formatNames[f]; ok {
		return name
	}
	return "unknown"
}

// IsDir reports whether the format is stored as a directory.
func (f Format) IsDir() bool {
	return f == BinaryDir || f == HexDump || f == MIF || f == Bits
}

// ParseFormat resolves a format name.
func ParseFormat(name string) (Format, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	for f, fn := range formatNames {
		if fn == n {
			return f, nil
		}
	}
	return Unknown, errors.Errorf("unknown format %q", name)
}

// FormatFromPath guesses a single-file format from its extension.
func FormatFromPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".bin":
		return Binary
	case ".lutb":
		return Bundle
	case ".hex", ".txt":
		return HexTable
	case ".csv":
		return CSV
	case ".mif":
		return MIF
	case ".bits":
		return Bits
	}
	return Unknown
}

// Options carries the per-deployment encoding parameters.
type Options struct {
	Threshold core.FixedPoint
	Delimiter string
	Annotate  bool
	Slots     [3]model.Feature

	// Strict runs Forest.Validate after decoding.
	Strict bool
}

// DefaultOptions returns Q16.16 thresholds, positional hex rows and the
// default bit-field slot table.
func DefaultOptions() Options {
	return Options{
		Threshold: core.DefaultFixedPoint,
		Annotate:  true,
		Slots:     bitfield.DefaultSlots,
	}
}

// Hex returns the text codec for these options.
func (o Options) Hex() (*hexlut.Codec, error) {
	return hexlut.New(o.Threshold, hexlut.WithDelimiter(o.Delimiter), hexlut.WithAnnotation(o.Annotate))
}

// Bitfield returns the bit-field codec for these options.
func (o Options) Bitfield() (*bitfield.Codec, error) {
	return bitfield.New(o.Slots)
}

// Detect returns the format of the artifact at path. Directories are
// recognized by their contents.
func Detect(fs afero.Fs, path string) (Format, error) {
	info, err := fs.Stat(path)
	if err != nil {
		return Unknown, errors.Wrapf(err, "inspecting %s", path)
	}
	if !info.IsDir() {
		if f := FormatFromPath(path); f != Unknown {
			return f, nil
		}
		return Unknown, errors.Errorf("cannot tell the format of %s", path)
	}

	if ok, _ := afero.Exists(fs, filepath.Join(path, hexlut.ManifestName)); ok {
		return HexDump, nil
	}
	for _, candidate := range []struct {
		pattern string
		format  Format
	}{
		{"*.mif", MIF},
		{"*.bits", Bits},
		{"*.bin", BinaryDir},
	} {
		matches, err := afero.Glob(fs, filepath.Join(path, candidate.pattern))
		if err != nil {
			return Unknown, errors.Wrapf(err, "listing %s", path)
		}
		if len(matches) > 0 {
			return candidate.format, nil
		}
	}
	return Unknown, errors.Errorf("no artifacts in %s", path)
}

// Load decodes the artifact at path, detecting its format.
func Load(fs afero.Fs, path string, opts Options) (*model.Forest, Format, error) {
	format, err := Detect(fs, path)
	if err != nil {
		return nil, Unknown, err
	}
	f, err := LoadAs(fs, path, format, opts)
	return f, format, err
}

// LoadAs decodes the artifact at path in the given format.
func LoadAs(fs afero.Fs, path string, format Format, opts Options) (*model.Forest, error) {
	f, err := load(fs, path, format, opts)
	if err != nil {
		return nil, errors.Wrapf(err, "loading %s as %s", path, format)
	}
	if opts.Strict {
		if err := f.Validate(); err != nil {
			return nil, errors.Wrapf(err, "validating %s", path)
		}
	}
	return f, nil
}

func load(fs afero.Fs, path string, format Format, opts Options) (*model.Forest, error) {
	switch format {
	case HexDump:
		c, err := opts.Hex()
		if err != nil {
			return nil, err
		}
		return c.LoadDump(fs, path)
	case MIF, Bits:
		c, err := opts.Bitfield()
		if err != nil {
			return nil, err
		}
		if isDir, _ := afero.IsDir(fs, path); isDir {
			return c.LoadDir(fs, path)
		}
		return c.LoadFiles(fs, []string{path})
	case BinaryDir:
		return binrec.LoadDir(fs, path)
	case Unknown:
		return nil, errors.New("unknown format")
	}

	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, err
	}
	switch format {
	case Binary:
		return binrec.ReadForest(bytes.NewReader(data))
	case Bundle:
		return binrec.ReadBundle(bytes.NewReader(data))
	case HexTable, CSV:
		c, err := opts.Hex()
		if err != nil {
			return nil, err
		}
		if format == CSV {
			return c.ReadCSV(bytes.NewReader(data))
		}
		return c.ReadTable(bytes.NewReader(data))
	}
	return nil, errors.Errorf("format %s cannot be loaded from a file", format)
}

// Save encodes f in the given format at path: a file for single-file
// formats, a directory for the others. It returns the paths written.
func Save(fs afero.Fs, path string, format Format, f *model.Forest, opts Options) ([]string, error) {
	paths, err := save(fs, path, format, f, opts)
	return paths, errors.Wrapf(err, "saving %s as %s", path, format)
}

func save(fs afero.Fs, path string, format Format, f *model.Forest, opts Options) ([]string, error) {
	switch format {
	case HexDump:
		c, err := opts.Hex()
		if err != nil {
			return nil, err
		}
		m, err := c.Dump(fs, path, f)
		if err != nil {
			return nil, err
		}
		paths := []string{filepath.Join(path, hexlut.ManifestName)}
		for _, file := range m.Files {
			paths = append(paths, filepath.Join(path, file.Name))
		}
		return paths, nil
	case MIF, Bits:
		c, err := opts.Bitfield()
		if err != nil {
			return nil, err
		}
		layout := bitfield.MIF
		if format == Bits {
			layout = bitfield.RawBits
		}
		return c.WriteDir(fs, path, f, layout)
	case BinaryDir:
		return binrec.WriteFiles(fs, path, f)
	}

	var buf bytes.Buffer
	switch format {
	case Binary:
		if err := binrec.NewEncoder(&buf).WriteForest(f); err != nil {
			return nil, err
		}
	case Bundle:
		if err := binrec.WriteBundle(&buf, f); err != nil {
			return nil, err
		}
	case HexTable, CSV:
		c, err := opts.Hex()
		if err != nil {
			return nil, err
		}
		if format == CSV {
			err = c.WriteCSV(&buf, f)
		} else {
			err = c.WriteTable(&buf, f)
		}
		if err != nil {
			return nil, err
		}
	default:
		return nil, errors.Errorf("format %s cannot be saved", format)
	}

	if dir := filepath.Dir(path); dir != "" {
		if err := fs.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	if err := afero.WriteFile(fs, path, buf.Bytes(), 0o644); err != nil {
		return nil, err
	}
	return []string{path}, nil
}
