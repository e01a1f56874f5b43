package runtime

import (
	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/sbl8/canlut/codec"
	"github.com/sbl8/canlut/model"
)

// Load decodes the artifact at path in full, whatever its format.
func Load(fs afero.Fs, path string, opts codec.Options) (*model.Forest, codec.Format, error) {
	return codec.Load(fs, path, opts)
}

// LoadFile decodes an artifact from the local filesystem.
func LoadFile(path string, opts codec.Options) (*model.Forest, codec.Format, error) {
	return Load(afero.NewOsFs(), path, opts)
}

// LoadEngine decodes the artifact at path and prepares an engine for it.
func LoadEngine(fs afero.Fs, path string, codecOpts codec.Options, opts EngineOptions) (*Engine, error) {
	f, format, err := Load(fs, path, codecOpts)
	if err != nil {
		return nil, err
	}
	e, err := NewEngine(f, opts)
	if err != nil {
		return nil, err
	}
	e.log.Info("forest loaded",
		zap.String("path", path),
		zap.String("format", format.String()))
	return e, nil
}
