// Package logger builds the process-wide zap logger.
package logger

import (
	"os"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New returns a JSON logger writing to stderr, or a console logger when
// development is set. Extra write syncers receive the same entries.
func New(level string, development bool, extra ...zapcore.WriteSyncer) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid log level %q", level)
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = func(ts time.Time, enc zapcore.PrimitiveArrayEncoder) {
		enc.AppendString(ts.UTC().Format(time.RFC3339))
	}

	var encoder zapcore.Encoder
	if development {
		encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encCfg)
	} else {
		encoder = zapcore.NewJSONEncoder(encCfg)
	}

	ws := zapcore.NewMultiWriteSyncer(append(extra, zapcore.Lock(os.Stderr))...)
	opts := []zap.Option{zap.AddCaller()}
	if development {
		opts = append(opts, zap.Development())
	}
	return zap.New(zapcore.NewCore(encoder, ws, lvl), opts...), nil
}
