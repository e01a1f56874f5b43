package features

import (
	"encoding/hex"
	"math"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/sbl8/canlut/model"
)

// Frame is one raw CAN frame as delivered by the ingestion side: a timestamp
// in seconds, the hex arbitration id and the hex payload.
type Frame struct {
	Timestamp     float64
	ArbitrationID string
	Data          string
}

// Extract derives the feature vector of f and records its timestamp in h.
// A malformed identifier is reported before h is touched, so a rejected frame
// never shifts the inter-arrival time of the next one.
func Extract(f Frame, h *History) (model.FeatureVector, error) {
	id, err := ParseIdentifier(f.ArbitrationID)
	if err != nil {
		return model.FeatureVector{}, err
	}

	payload := normalizePayload(f.Data)
	vec := model.FeatureVector{
		ArbitrationID: id,
		DataLength:    len(payload) / 2,
	}
	if raw, ok := DecodePayload(payload); ok {
		vec.DataEntropy = Entropy(raw)
	}
	vec.InterArrivalTime = h.Observe(id, f.Timestamp)
	return vec, nil
}

// ParseIdentifier parses a base-16 arbitration id, with or without a 0x
// prefix. Extended 29-bit ids fit; anything wider than 32 bits does not.
func ParseIdentifier(s string) (uint32, error) {
	digits := strings.TrimSpace(s)
	if strings.HasPrefix(digits, "0x") || strings.HasPrefix(digits, "0X") {
		digits = digits[2:]
	}
	if digits == "" {
		return 0, errors.Wrapf(model.ErrMalformedIdentifier, "empty identifier %q", s)
	}
	for _, c := range digits {
		if !isHexDigit(c) {
			return 0, errors.Wrapf(model.ErrMalformedIdentifier, "identifier %q", s)
		}
	}
	id, err := strconv.ParseUint(digits, 16, 32)
	if err != nil {
		return 0, errors.Wrapf(model.ErrMalformedIdentifier, "identifier %q: %v", s, err)
	}
	return uint32(id), nil
}

// DecodePayload decodes a hex payload, ignoring whitespace between bytes. It
// reports false for odd-length or non-hex input.
func DecodePayload(s string) ([]byte, bool) {
	raw, err := hex.DecodeString(normalizePayload(s))
	if err != nil {
		return nil, false
	}
	return raw, true
}

// Entropy returns the Shannon entropy of b in bits per byte, in [0, 8].
func Entropy(b []byte) float64 {
	if len(b) == 0 {
		return 0
	}
	var counts [256]int
	for _, c := range b {
		counts[c]++
	}
	total := float64(len(b))
	var e float64
	for _, n := range counts {
		if n == 0 {
			continue
		}
		p := float64(n) / total
		e -= p * math.Log2(p)
	}
	return e
}

func normalizePayload(s string) string {
	return strings.Join(strings.Fields(s), "")
}

func isHexDigit(c rune) bool {
	return ('0' <= c && c <= '9') || ('a' <= c && c <= 'f') || ('A' <= c && c <= 'F')
}
