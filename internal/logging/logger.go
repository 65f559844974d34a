package logging

import (
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New creates a zap logger that writes JSON to logPath and a console
// rendering to stderr. The account name and PID are attached to every entry.
func New(logPath, account string, level zapcore.Level) (*zap.Logger, error) {
	return build(logPath, account, level, true)
}

// NewFile is New without the stderr copy, for interactive commands that
// own the terminal.
func NewFile(logPath, account string, level zapcore.Level) (*zap.Logger, error) {
	return build(logPath, account, level, false)
}

func build(logPath, account string, level zapcore.Level, console bool) (*zap.Logger, error) {
	if err := os.MkdirAll(filepath.Dir(logPath), 0700); err != nil {
		return nil, err
	}

	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return nil, err
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	core := zapcore.NewCore(zapcore.NewJSONEncoder(encoderCfg), zapcore.AddSync(file), level)
	if console {
		stderrCore := zapcore.NewCore(zapcore.NewConsoleEncoder(encoderCfg), zapcore.AddSync(os.Stderr), level)
		core = zapcore.NewTee(core, stderrCore)
	}

	return zap.New(core,
		zap.Fields(
			zap.String("account", account),
			zap.Int("pid", os.Getpid()),
		),
	), nil
}
