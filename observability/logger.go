// Package observability contains logging setup shared by the library and
// the command-line tools.
package observability

import (
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogConfig selects the level, format, and outputs of the process logger.
type LogConfig struct {
	// Level is one of debug, info, warn, error. Empty means info.
	Level string

	// Format is console or json. Empty means console.
	Format string

	// Outputs lists sinks: stdout, stderr, or file paths. Empty means
	// stderr.
	Outputs []string

	// Development enables colored levels and development panics.
	Development bool
}

// SetupLogger builds a zap.Logger from the provided configuration, sets it
// as the global logger, and redirects the stdlib log package. The caller
// should defer logger.Sync().
func SetupLogger(c LogConfig) (*zap.Logger, error) {
	level := zap.NewAtomicLevel()
	switch strings.ToLower(c.Level) {
	case "debug":
		level.SetLevel(zap.DebugLevel)
	case "info", "":
		level.SetLevel(zap.InfoLevel)
	case "warn", "warning":
		level.SetLevel(zap.WarnLevel)
	case "error":
		level.SetLevel(zap.ErrorLevel)
	default:
		level.SetLevel(zap.InfoLevel)
	}

	encCfg := defaultEncoderConfig(c.Development)
	var encoder zapcore.Encoder
	if strings.ToLower(c.Format) == "json" {
		encoder = zapcore.NewJSONEncoder(encCfg)
	} else {
		encoder = zapcore.NewConsoleEncoder(encCfg)
	}

	outputs := c.Outputs
	if len(outputs) == 0 {
		outputs = []string{"stderr"}
	}

	var cores []zapcore.Core
	for _, out := range outputs {
		switch strings.ToLower(out) {
		case "stdout":
			cores = append(cores,
				zapcore.NewCore(encoder, zapcore.AddSync(os.Stdout), level))
		case "stderr":
			cores = append(cores,
				zapcore.NewCore(encoder, zapcore.AddSync(os.Stderr), level))
		default:
			if dir := dirOf(out); dir != "" {
				_ = os.MkdirAll(dir, 0o755)
			}

			f, err := os.OpenFile(
				out, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)

			var ws zapcore.WriteSyncer
			if err != nil {
				// Fall back to stderr so logging never kills a run.
				ws = zapcore.AddSync(os.Stderr)
			} else {
				ws = zapcore.AddSync(f)
			}

			cores = append(cores, zapcore.NewCore(encoder, ws, level))
		}
	}

	core := zapcore.NewTee(cores...)
	opts := []zap.Option{
		zap.AddCaller(),
		zap.AddStacktrace(zap.ErrorLevel),
	}
	if c.Development {
		opts = append(opts, zap.Development())
	}

	logger := zap.New(core, opts...)
	zap.ReplaceGlobals(logger)
	_, _ = zap.RedirectStdLogAt(logger, zap.InfoLevel)

	return logger, nil
}

func defaultEncoderConfig(dev bool) zapcore.EncoderConfig {
	if dev {
		cfg := zap.NewDevelopmentEncoderConfig()
		cfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		return cfg
	}

	return zap.NewProductionEncoderConfig()
}

func dirOf(path string) string {
	i := strings.LastIndexAny(path, "/\\")
	if i <= 0 {
		return ""
	}

	return path[:i]
}
