// Package log configures the zap loggers used by the twotier CLI.
package log

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Format is the output encoding of log lines.
type Format string

const (
	// FormatJSON writes one JSON object per line.
	FormatJSON Format = "json"
	// FormatConsole writes human readable lines.
	FormatConsole Format = "console"
)

// AvailableFormats lists every supported Format.
var AvailableFormats = []Format{FormatJSON, FormatConsole}

func (f *Format) String() string { return string(*f) }

// Set implements pflag.Value.
func (f *Format) Set(s string) error {
	for _, candidate := range AvailableFormats {
		if strings.EqualFold(s, string(candidate)) {
			*f = candidate
			return nil
		}
	}
	return fmt.Errorf("invalid log format %q, must be one of %v", s, AvailableFormats)
}

// Type implements pflag.Value.
func (f *Format) Type() string { return "format" }

// Options holds the logging flags.
type Options struct {
	// Debug enables debug level output.
	Debug bool
	// Format selects the encoder.
	Format Format
}

// NewDefaultOptions returns console logging at info level.
func NewDefaultOptions() Options {
	return Options{Format: FormatConsole}
}

// AddFlags registers the logging flags on fs.
func (o *Options) AddFlags(fs *pflag.FlagSet) {
	fs.BoolVar(&o.Debug, "debug", o.Debug, "Enable debug logging")
	fs.Var(&o.Format, "log-format", fmt.Sprintf("Log format, one of %v", AvailableFormats))
}

// Validate checks the options.
func (o Options) Validate() error {
	for _, f := range AvailableFormats {
		if o.Format == f {
			return nil
		}
	}
	return fmt.Errorf("invalid log format %q", o.Format)
}

// New creates a logger writing to stderr. Stdout is reserved for templates and
// other command output.
func New(debug bool, format Format) *zap.Logger {
	return NewWithSink(debug, format, zapcore.Lock(os.Stderr))
}

// NewWithSink creates a logger writing to the given sink.
func NewWithSink(debug bool, format Format, sink zapcore.WriteSyncer) *zap.Logger {
	level := zap.NewAtomicLevelAt(zap.InfoLevel)
	if debug {
		level.SetLevel(zap.DebugLevel)
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "time"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var enc zapcore.Encoder
	if format == FormatJSON {
		enc = zapcore.NewJSONEncoder(encCfg)
	} else {
		encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		enc = zapcore.NewConsoleEncoder(encCfg)
	}

	opts := []zap.Option{zap.AddCaller()}
	if debug {
		opts = append(opts, zap.AddStacktrace(zap.ErrorLevel))
	}
	return zap.New(zapcore.NewCore(enc, sink, level), opts...)
}

// NewNop returns a logger that discards everything.
func NewNop() *zap.SugaredLogger {
	return zap.NewNop().Sugar()
}
