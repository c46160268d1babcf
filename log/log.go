package log

import (
	"github.com/mattn/go-isatty"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"os"
	"time"
)

var Logger = zap.NewNop()

// InitLogger builds the process wide logger. level is a zap level name ("debug",
// "info", ...); an empty level means info.
func InitLogger(level string) error {
	lvl := zapcore.InfoLevel
	if level != "" {
		if err := lvl.UnmarshalText([]byte(level)); err != nil {
			return err
		}
	}

	config := zap.NewProductionConfig()
	config.Level = zap.NewAtomicLevelAt(lvl)
	config.Encoding = "console"
	config.EncoderConfig.EncodeTime = func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
		enc.AppendString(t.Format(time.RFC3339))
	}
	config.EncoderConfig.EncodeLevel = levelEncoder(os.Stderr.Fd())

	logger, err := config.Build()
	if err != nil {
		return err
	}
	Logger = logger
	return nil
}

// colors only make sense on a terminal
func levelEncoder(fd uintptr) zapcore.LevelEncoder {
	if isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd) {
		return zapcore.CapitalColorLevelEncoder
	}
	return zapcore.CapitalLevelEncoder
}
