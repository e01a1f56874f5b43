// Package logging builds the zap loggers used by the command line tools.
package logging

import (
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger styles.
const (
	TypeAuto = "auto"
	TypeDev  = "dev"
	TypeProd = "prod"
)

// Setup creates a logger at level in the given style. The dev style is
// human oriented with coloured levels; prod emits JSON with ISO8601 times.
// Auto picks dev for debug logging and prod otherwise.
func Setup(level, kind string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, errors.Wrapf(err, "log level %q", level)
	}

	lt, err := resolveType(kind, lvl)
	if err != nil {
		return nil, err
	}

	var config zap.Config
	if lt == TypeDev {
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		config = zap.NewProductionConfig()
		config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}
	config.Level = zap.NewAtomicLevelAt(lvl)

	log, err := config.Build(zap.AddStacktrace(zapcore.ErrorLevel))
	if err != nil {
		return nil, errors.Wrap(err, "building logger")
	}
	log.Debug("logging configured", zap.String("type", lt), zap.Stringer("level", lvl))
	return log, nil
}

func resolveType(kind string, lvl zapcore.Level) (string, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "", TypeAuto:
		if lvl == zapcore.DebugLevel {
			return TypeDev, nil
		}
		return TypeProd, nil
	case TypeDev, "development":
		return TypeDev, nil
	case TypeProd, "production":
		return TypeProd, nil
	}
	return "", errors.Errorf("unknown log type %q, try [dev|prod|auto]", kind)
}
