package core

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/sbl8/canlut/model"
)

// Supported fixed-point field widths in bits.
const (
	Width16 = 16
	Width32 = 32
)

// FixedPoint is the threshold representation used by the text codecs: a
// two's complement integer round(v * 2^FracBits) stored in Width bits.
type FixedPoint struct {
	FracBits int
	Width    int
}

// DefaultFixedPoint is Q16.16 in a 32-bit field.
var DefaultFixedPoint = FixedPoint{FracBits: 16, Width: Width32}

// Validate rejects widths other than 16 or 32 and fraction sizes that leave
// no room for the sign bit.
func (fp FixedPoint) Validate() error {
	if fp.Width != Width16 && fp.Width != Width32 {
		return errors.Errorf("fixed-point width %d: must be %d or %d", fp.Width, Width16, Width32)
	}
	if fp.FracBits < 0 || fp.FracBits >= fp.Width {
		return errors.Errorf("fixed-point fraction bits %d: must be in [0, %d)", fp.FracBits, fp.Width)
	}
	return nil
}

// Digits returns the number of hex digits one encoded value occupies.
func (fp FixedPoint) Digits() int {
	return fp.Width / 4
}

// Resolution returns the smallest representable step, 2^-FracBits.
func (fp FixedPoint) Resolution() float64 {
	return math.Ldexp(1, -fp.FracBits)
}

// Range returns the smallest and largest representable values.
func (fp FixedPoint) Range() (float64, float64) {
	lo := -math.Ldexp(1, fp.Width-1)
	hi := math.Ldexp(1, fp.Width-1) - 1
	return math.Ldexp(lo, -fp.FracBits), math.Ldexp(hi, -fp.FracBits)
}

func (fp FixedPoint) mask() uint64 {
	return 1<<uint(fp.Width) - 1
}

// Encode scales v by 2^FracBits, rounds half away from zero and returns the
// two's complement bit pattern. Values that do not fit are an error rather
// than being masked.
func (fp FixedPoint) Encode(v float64) (uint32, error) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, errors.Wrapf(model.ErrThresholdRange, "%v", v)
	}
	scaled := math.Round(math.Ldexp(v, fp.FracBits))
	lo := -math.Ldexp(1, fp.Width-1)
	hi := math.Ldexp(1, fp.Width-1) - 1
	if scaled < lo || scaled > hi {
		lo, hi = fp.Range()
		return 0, errors.Wrapf(model.ErrThresholdRange, "%g outside %s range [%g, %g]", v, fp, lo, hi)
	}
	return uint32(uint64(int64(scaled)) & fp.mask()), nil
}

// Decode sign-extends a Width-bit pattern and scales it back.
func (fp FixedPoint) Decode(raw uint32) (float64, error) {
	if uint64(raw) > fp.mask() {
		return 0, errors.Wrapf(model.ErrThresholdRange, "0x%X wider than %d bits", raw, fp.Width)
	}
	v := int64(raw)
	if v&(1<<uint(fp.Width-1)) != 0 {
		v -= 1 << uint(fp.Width)
	}
	return math.Ldexp(float64(v), -fp.FracBits), nil
}

// Quantize returns v as it reads back after an Encode/Decode round trip.
func (fp FixedPoint) Quantize(v float64) (float64, error) {
	raw, err := fp.Encode(v)
	if err != nil {
		return 0, err
	}
	return fp.Decode(raw)
}

// String returns the scheme name, q<integer bits>.<fraction bits>.
func (fp FixedPoint) String() string {
	return fmt.Sprintf("q%d.%d", fp.Width-fp.FracBits, fp.FracBits)
}

// ParseFixedPoint parses a scheme name produced by String.
func ParseFixedPoint(s string) (FixedPoint, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	if !strings.HasPrefix(name, "q") {
		return FixedPoint{}, errors.Wrapf(model.ErrSchemeMismatch, "scheme %q", s)
	}
	intPart, fracPart, ok := strings.Cut(name[1:], ".")
	if !ok {
		return FixedPoint{}, errors.Wrapf(model.ErrSchemeMismatch, "scheme %q", s)
	}
	i, err := strconv.Atoi(intPart)
	if err != nil {
		return FixedPoint{}, errors.Wrapf(model.ErrSchemeMismatch, "scheme %q", s)
	}
	k, err := strconv.Atoi(fracPart)
	if err != nil {
		return FixedPoint{}, errors.Wrapf(model.ErrSchemeMismatch, "scheme %q", s)
	}
	fp := FixedPoint{FracBits: k, Width: i + k}
	if err := fp.Validate(); err != nil {
		return FixedPoint{}, errors.Wrapf(model.ErrSchemeMismatch, "scheme %q: %v", s, err)
	}
	return fp, nil
}

// Check returns ErrSchemeMismatch unless the named scheme equals fp.
func (fp FixedPoint) Check(name string) error {
	other, err := ParseFixedPoint(name)
	if err != nil {
		return err
	}
	if other != fp {
		return errors.Wrapf(model.ErrSchemeMismatch, "artifact uses %s, configured %s", other, fp)
	}
	return nil
}
