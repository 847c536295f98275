// Package logging builds the logr.Logger shared by the CLI and the planner.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/go-logr/logr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	crzap "sigs.k8s.io/controller-runtime/pkg/log/zap"
)

// Levels lists the accepted --log-level values.
var Levels = []string{"debug", "info", "warn", "error"}

// Options tune the logger beyond its level.
type Options struct {
	// Output defaults to os.Stderr so plan output on stdout stays clean.
	Output io.Writer
	// JSON switches from the console encoder to structured JSON lines.
	JSON bool
}

// New returns a zap-backed logr.Logger for the given level string.
func New(level string, opts Options) (logr.Logger, error) {
	zapLevel, development, err := parseLevel(level)
	if err != nil {
		return logr.Logger{}, err
	}
	out := opts.Output
	if out == nil {
		out = os.Stderr
	}
	atomic := zap.NewAtomicLevelAt(zapLevel)
	crOpts := crzap.Options{
		Development: development && !opts.JSON,
		Level:       &atomic,
		DestWriter:  out,
	}
	if !opts.JSON {
		crOpts.Encoder = zapcore.NewConsoleEncoder(consoleEncoderConfig())
	}
	return crzap.New(crzap.UseFlagOptions(&crOpts)), nil
}

func parseLevel(level string) (zapcore.Level, bool, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		// logr V(1) maps to zap level -1, so debug must admit it.
		return zapcore.Level(-1), true, nil
	case "info", "":
		return zapcore.InfoLevel, false, nil
	case "warn", "warning":
		return zapcore.WarnLevel, false, nil
	case "error":
		return zapcore.ErrorLevel, false, nil
	default:
		return 0, false, fmt.Errorf("unknown log level %q (expected %s)", level, strings.Join(Levels, ", "))
	}
}

func consoleEncoderConfig() zapcore.EncoderConfig {
	cfg := zap.NewDevelopmentEncoderConfig()
	cfg.TimeKey = ""
	cfg.CallerKey = ""
	cfg.StacktraceKey = ""
	cfg.EncodeLevel = zapcore.CapitalLevelEncoder
	return cfg
}
