package config

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sbl8/canlut/core"
	"github.com/sbl8/canlut/model"
)

func TestDefault(t *testing.T) {
	t.Parallel()
	cfg := Default()
	require.NoError(t, cfg.Validate())

	opts, err := cfg.CodecOptions()
	require.NoError(t, err)
	assert.Equal(t, core.DefaultFixedPoint, opts.Threshold)
	assert.Equal(t, [3]model.Feature{model.ArbitrationID, model.InterArrivalTime, model.DataEntropy}, opts.Slots)
	assert.True(t, opts.Annotate)
	assert.Empty(t, opts.Delimiter)
	assert.GreaterOrEqual(t, cfg.Runtime.Workers, 1)
}

func TestLoadFile(t *testing.T) {
	t.Parallel()
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/etc/canlut.yaml", []byte(`
threshold:
  frac_bits: 8
  width: 16
hex:
  delimiter: ","
bitfield:
  features: [dls, t_a, d_e]
runtime:
  workers: 2
  history_capacity: 4096
  strict: true
log:
  level: debug
  type: dev
`), 0o644))

	cfg, err := Load(fs, "/etc/canlut.yaml")
	require.NoError(t, err)
	assert.Equal(t, ThresholdConfig{FracBits: 8, Width: 16}, cfg.Threshold)
	assert.Equal(t, 2, cfg.Runtime.Workers)
	assert.Equal(t, 4096, cfg.Runtime.HistoryCapacity)
	assert.True(t, cfg.Hex.Annotate, "unset fields keep their defaults")

	opts, err := cfg.CodecOptions()
	require.NoError(t, err)
	assert.Equal(t, "q8.8", opts.Threshold.String())
	assert.Equal(t, ",", opts.Delimiter)
	assert.Equal(t, model.DataLength, opts.Slots[0])
	assert.True(t, opts.Strict)
}

func TestLoadRejects(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		body string
	}{
		{"bad width", "threshold: {width: 24}"},
		{"fraction fills field", "threshold: {frac_bits: 16, width: 16}"},
		{"zero workers", "runtime: {workers: 0}"},
		{"negative history", "runtime: {history_capacity: -1}"},
		{"unknown feature", "bitfield: {features: [speed, t_a, d_e]}"},
		{"two slots", "bitfield: {features: [t_a, d_e]}"},
		{"leaf slot", "bitfield: {features: [n/a, t_a, d_e]}"},
		{"hex delimiter", "hex: {delimiter: \"A\"}"},
		{"log level", "log: {level: loud}"},
		{"log type", "log: {type: syslog}"},
		{"not yaml", "threshold: ["},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			fs := afero.NewMemMapFs()
			require.NoError(t, afero.WriteFile(fs, "/c.yaml", []byte(tt.body), 0o644))
			_, err := Load(fs, "/c.yaml")
			assert.Error(t, err)
		})
	}

	_, err := Load(afero.NewMemMapFs(), "/missing.yaml")
	assert.Error(t, err)
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("CANLUT_WORKERS", "3")
	t.Setenv("CANLUT_FRAC_BITS", "12")
	t.Setenv("CANLUT_LOG_LEVEL", "warn")

	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/c.yaml", []byte("runtime: {workers: 8, history_capacity: 16}\n"), 0o644))

	cfg, err := Load(fs, "/c.yaml")
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Runtime.Workers, "environment wins over the file")
	assert.Equal(t, 16, cfg.Runtime.HistoryCapacity, "unset variables leave the file value")
	assert.Equal(t, 12, cfg.Threshold.FracBits)
	assert.Equal(t, 32, cfg.Threshold.Width)
	assert.Equal(t, "warn", cfg.Log.Level)

	cfg, err = Load(fs, "")
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Runtime.Workers)
}

func TestEnvironmentInvalid(t *testing.T) {
	t.Setenv("CANLUT_THRESHOLD_WIDTH", "64")
	_, err := Load(afero.NewMemMapFs(), "")
	assert.Error(t, err)
}
