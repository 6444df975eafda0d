// Package logging creates named zap loggers on top of go-log's subsystem
// registry. All output goes to stderr so stdout stays free for the
// program's own output.
package logging

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/ipfs/go-log/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/term"
)

// FormatEnv selects the log format. "json" forces JSON even on a terminal.
const FormatEnv = "NANOGEN_LOG_FMT"

func init() {
	log.SetPrimaryCore(zapcore.NewCore(newEncoder(os.Getenv(FormatEnv), term.IsTerminal(int(os.Stderr.Fd()))), os.Stderr, zap.NewAtomicLevelAt(zapcore.DebugLevel)))
}

func newEncoder(format string, tty bool) zapcore.Encoder {
	cfg := zap.NewProductionEncoderConfig()
	cfg.MessageKey = "msg"
	cfg.LevelKey = "lvl"
	cfg.TimeKey = "ts"
	cfg.NameKey = "log"
	cfg.EncodeTime = func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
		enc.AppendString(t.UTC().Format(time.RFC3339))
	}

	if !tty || strings.EqualFold(strings.TrimSpace(format), "json") {
		return zapcore.NewJSONEncoder(cfg)
	}

	cfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
	return zapcore.NewConsoleEncoder(cfg)
}

// New creates a named logger at level. It panics on an unknown level.
func New(subsystem, level string) *zap.Logger {
	l, err := NewErr(subsystem, level)
	if err != nil {
		panic(err)
	}
	return l
}

// NewErr is like [New] but returns an error instead of panicking.
func NewErr(subsystem, level string) (*zap.Logger, error) {
	l := log.Logger(subsystem).Desugar()

	if err := log.SetLogLevel(subsystem, level); err != nil {
		return nil, fmt.Errorf("%s %s: %w", subsystem, level, err)
	}

	return l, nil
}

// SetLogLevel changes the level of an existing named logger.
func SetLogLevel(subsystem, level string) error {
	return log.SetLogLevel(subsystem, level)
}

// GetLogLevel returns the current log level for the given logger.
func GetLogLevel(subsystem string) zapcore.Level {
	return log.Logger(subsystem).Level()
}

// ListLogNames returns the registered subsystems, sorted.
func ListLogNames() []string {
	logs := log.GetSubsystems()
	sort.Strings(logs)
	return logs
}
