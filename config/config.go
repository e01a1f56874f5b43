// Package config loads the per-deployment settings shared by the tools:
// built-in defaults, then an optional YAML file, then CANLUT_* environment
// variables.
package config

import (
	goruntime "runtime"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"github.com/tomazk/envcfg"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/sbl8/canlut/codec"
	"github.com/sbl8/canlut/core"
	"github.com/sbl8/canlut/model"
)

// Config is the complete tool configuration.
type Config struct {
	Threshold ThresholdConfig `yaml:"threshold"`
	Hex       HexConfig       `yaml:"hex"`
	Bitfield  BitfieldConfig  `yaml:"bitfield"`
	Runtime   RuntimeConfig   `yaml:"runtime"`
	Log       LogConfig       `yaml:"log"`
}

// ThresholdConfig selects the fixed-point scheme of the hex codecs.
type ThresholdConfig struct {
	FracBits int `yaml:"frac_bits"`
	Width    int `yaml:"width"`
}

type HexConfig struct {
	// Delimiter separates row tokens; empty means positional rows.
	Delimiter string `yaml:"delimiter"`
	// Annotate writes the scheme comment and requires it when reading.
	// Turn it off to read bare tables under the configured scheme.
	Annotate  bool   `yaml:"annotate"`
}

// BitfieldConfig names the features held by the 2-bit codes 00, 01 and 10.
type BitfieldConfig struct {
	Features []string `yaml:"features"`
}

type RuntimeConfig struct {
	Workers         int  `yaml:"workers"`
	HistoryCapacity int  `yaml:"history_capacity"`
	Strict          bool `yaml:"strict"`
}

type LogConfig struct {
	Level string `yaml:"level"`
	Type  string `yaml:"type"`
}

// environ lists the variables that override the file.
type environ struct {
	FracBits        int    `envcfg:"CANLUT_FRAC_BITS"`
	Width           int    `envcfg:"CANLUT_THRESHOLD_WIDTH"`
	Delimiter       string `envcfg:"CANLUT_HEX_DELIMITER"`
	Workers         int    `envcfg:"CANLUT_WORKERS"`
	HistoryCapacity int    `envcfg:"CANLUT_HISTORY_CAPACITY"`
	LogLevel        string `envcfg:"CANLUT_LOG_LEVEL"`
	LogType         string `envcfg:"CANLUT_LOG_TYPE"`
}

// Default returns Q16.16 thresholds, positional annotated hex rows, the
// default bit-field slots and one worker per CPU.
func Default() Config {
	return Config{
		Threshold: ThresholdConfig{
			FracBits: core.DefaultFixedPoint.FracBits,
			Width:    core.DefaultFixedPoint.Width,
		},
		Hex: HexConfig{Annotate: true},
		Bitfield: BitfieldConfig{
			Features: []string{
				model.ArbitrationID.String(),
				model.InterArrivalTime.String(),
				model.DataEntropy.String(),
			},
		},
		Runtime: RuntimeConfig{Workers: goruntime.GOMAXPROCS(0)},
		Log:     LogConfig{Level: "info", Type: "auto"},
	}
}

// Load builds the configuration from the defaults, the YAML file at path
// when path is not empty, and the environment, then validates it.
func Load(fs afero.Fs, path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := afero.ReadFile(fs, path)
		if err != nil {
			return Config{}, errors.Wrapf(err, "reading %s", path)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, errors.Wrapf(err, "parsing %s", path)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// applyEnv overlays the CANLUT_* variables that are set. envcfg leaves
// fields without a variable untouched, so the struct starts from cfg.
func (c *Config) applyEnv() error {
	env := environ{
		FracBits:        c.Threshold.FracBits,
		Width:           c.Threshold.Width,
		Delimiter:       c.Hex.Delimiter,
		Workers:         c.Runtime.Workers,
		HistoryCapacity: c.Runtime.HistoryCapacity,
		LogLevel:        c.Log.Level,
		LogType:         c.Log.Type,
	}
	if err := envcfg.Unmarshal(&env); err != nil {
		return errors.Wrap(err, "reading environment")
	}
	c.Threshold.FracBits = env.FracBits
	c.Threshold.Width = env.Width
	c.Hex.Delimiter = env.Delimiter
	c.Runtime.Workers = env.Workers
	c.Runtime.HistoryCapacity = env.HistoryCapacity
	c.Log.Level = env.LogLevel
	c.Log.Type = env.LogType
	return nil
}

// Validate checks every field that has a constrained domain.
func (c Config) Validate() error {
	if _, err := c.CodecOptions(); err != nil {
		return err
	}
	if c.Runtime.Workers < 1 {
		return errors.Errorf("runtime.workers %d: must be at least 1", c.Runtime.Workers)
	}
	if c.Runtime.HistoryCapacity < 0 {
		return errors.Errorf("runtime.history_capacity %d: must not be negative", c.Runtime.HistoryCapacity)
	}
	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		return errors.Wrap(err, "log.level")
	}
	switch strings.ToLower(c.Log.Type) {
	case "auto", "dev", "prod":
	default:
		return errors.Errorf("log.type %q: want auto, dev or prod", c.Log.Type)
	}
	return nil
}

// Scheme returns the configured fixed-point threshold scheme.
func (c Config) Scheme() (core.FixedPoint, error) {
	fp := core.FixedPoint{FracBits: c.Threshold.FracBits, Width: c.Threshold.Width}
	if err := fp.Validate(); err != nil {
		return fp, errors.Wrap(err, "threshold")
	}
	return fp, nil
}

// Slots resolves the bit-field feature table.
func (c Config) Slots() ([3]model.Feature, error) {
	var slots [3]model.Feature
	if len(c.Bitfield.Features) != len(slots) {
		return slots, errors.Errorf("bitfield.features: want %d names, got %d",
			len(slots), len(c.Bitfield.Features))
	}
	for i, name := range c.Bitfield.Features {
		f, err := model.ParseFeature(name)
		if err != nil {
			return slots, errors.Wrap(err, "bitfield.features")
		}
		if f == model.Leaf {
			return slots, errors.Errorf("bitfield.features: slot %d cannot hold the leaf marker", i)
		}
		slots[i] = f
	}
	return slots, nil
}

// CodecOptions converts the configuration into codec parameters.
func (c Config) CodecOptions() (codec.Options, error) {
	fp, err := c.Scheme()
	if err != nil {
		return codec.Options{}, err
	}
	slots, err := c.Slots()
	if err != nil {
		return codec.Options{}, err
	}
	opts := codec.Options{
		Threshold: fp,
		Delimiter: c.Hex.Delimiter,
		Annotate:  c.Hex.Annotate,
		Slots:     slots,
		Strict:    c.Runtime.Strict,
	}
	if _, err := opts.Hex(); err != nil {
		return codec.Options{}, err
	}
	if _, err := opts.Bitfield(); err != nil {
		return codec.Options{}, err
	}
	return opts, nil
}
