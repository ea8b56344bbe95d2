// Package logger builds the broker's structured logger: zap for
// structured, leveled logging (as chenquan-lighthouse's server wires it),
// with an optional lumberjack-backed rotating file sink.
package logger

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/golang-io/vibemq/config"
)

// New builds a *zap.Logger from a config.Log block. When File is set, logs
// are written to a lumberjack-rotated file; otherwise to stderr. In both
// cases output is also duplicated to stderr when File is set, so an
// operator tailing the process still sees activity.
func New(cfg config.Log) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(levelOrDefault(cfg.Level))
	if err != nil {
		return nil, err
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encoder := zapcore.NewJSONEncoder(encoderCfg)

	var core zapcore.Core
	if cfg.File != "" {
		rotator := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    nonZero(cfg.MaxSizeMB, 100),
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   cfg.Compress,
		}
		fileCore := zapcore.NewCore(encoder, zapcore.AddSync(rotator), level)
		stderrCore := zapcore.NewCore(encoder, zapcore.Lock(zapcore.AddSync(os.Stderr)), level)
		core = zapcore.NewTee(fileCore, stderrCore)
	} else {
		core = zapcore.NewCore(encoder, zapcore.Lock(zapcore.AddSync(os.Stderr)), level)
	}

	return zap.New(core, zap.AddCaller()), nil
}

func levelOrDefault(level string) string {
	if level == "" {
		return "info"
	}
	return level
}

func nonZero(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}
