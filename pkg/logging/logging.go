// Package logging builds the zap logger shared by the CLI and server.
package logging

import (
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config selects the level and encoder.
type Config struct {
	Level  string
	Format string
	Output io.Writer
}

// New creates a logger. Format is "json" (default) or "console"; output
// defaults to stderr so command output on stdout stays clean.
func New(cfg Config) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if cfg.Level != "" {
		if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
		}
	}

	var out io.Writer = os.Stderr
	if cfg.Output != nil {
		out = cfg.Output
	}

	encoder, err := newEncoder(cfg.Format)
	if err != nil {
		return nil, err
	}
	core := zapcore.NewCore(encoder, zapcore.AddSync(out), level)
	return zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel)), nil
}

// newEncoder creates JSON or console encoder.
func newEncoder(format string) (zapcore.Encoder, error) {
	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	switch format {
	case "", "json":
		return zapcore.NewJSONEncoder(encoderCfg), nil
	case "console":
		return zapcore.NewConsoleEncoder(encoderCfg), nil
	default:
		return nil, fmt.Errorf("invalid log format %q", format)
	}
}
