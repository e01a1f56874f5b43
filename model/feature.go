package model

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// Feature identifies the FeatureVector field a split node tests.
type Feature uint8

// Feature codes. Leaf is the reserved sentinel for terminal nodes.
const (
	ArbitrationID    Feature = 0
	InterArrivalTime Feature = 1
	DataEntropy      Feature = 2
	DataLength       Feature = 3

	Leaf Feature = 0xFF
)

// Features lists the split features in code order.
var Features = []Feature{ArbitrationID, InterArrivalTime, DataEntropy, DataLength}

var featureNames = map[Feature]string{
	ArbitrationID:    "arbitration_id",
	InterArrivalTime: "inter_arrival_time",
	DataEntropy:      "data_entropy",
	DataLength:       "data_length",
	Leaf:             "leaf",
}

// featureAliases maps every spelling the training export and the older LUT
// tools used onto the canonical code.
var featureAliases = map[string]Feature{
	"arbitration_id":     ArbitrationID,
	"a_id":               ArbitrationID,
	"id":                 ArbitrationID,
	"00":                 ArbitrationID,
	"inter_arrival_time": InterArrivalTime,
	"t_a":                InterArrivalTime,
	"iat":                InterArrivalTime,
	"01":                 InterArrivalTime,
	"data_entropy":       DataEntropy,
	"d_e":                DataEntropy,
	"entropy":            DataEntropy,
	"10":                 DataEntropy,
	"data_length":        DataLength,
	"dls":                DataLength,
	"dlc":                DataLength,
	"11":                 DataLength,
	"":                   Leaf,
	"leaf":               Leaf,
	"n/a":                Leaf,
	"nan":                Leaf,
	"-1":                 Leaf,
	"-2":                 Leaf,
	"ff":                 Leaf,
}

// String returns the canonical feature name.
func (f Feature) String() string {
	if name, ok := featureNames[f]; ok {
		return name
	}
	return fmt.Sprintf("feature(%d)", uint8(f))
}

// Valid reports whether f is a split feature or the leaf sentinel.
func (f Feature) Valid() bool {
	_, ok := featureNames[f]
	return ok
}

// ParseFeature resolves a feature name, alias or two-character code.
func ParseFeature(name string) (Feature, error) {
	f, ok := featureAliases[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return 0, errors.Wrapf(ErrUnknownFeatureCode, "feature %q", name)
	}
	return f, nil
}

// FeatureVector holds the four decision features derived from one frame.
type FeatureVector struct {
	ArbitrationID    uint32
	InterArrivalTime float64
	DataEntropy      float64
	DataLength       int
}

// Value returns the field selected by f.
func (v FeatureVector) Value(f Feature) (float64, error) {
	switch f {
	case ArbitrationID:
		return float64(v.ArbitrationID), nil
	case InterArrivalTime:
		return v.InterArrivalTime, nil
	case DataEntropy:
		return v.DataEntropy, nil
	case DataLength:
		return float64(v.DataLength), nil
	}
	return 0, errors.Wrapf(ErrUnknownFeatureCode, "cannot resolve %s", f)
}
