// Package logging provides the structured logger used by every service
// in the pipeline. It wraps zap behind a small interface so the rest of
// the tree never imports zap directly.
package logging

import (
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

// Field is a structured logging field.
type Field = zap.Field

// Logger is the logging surface every component depends on.
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)
	With(fields ...Field) Logger
	Sync() error
}

type zapLogger struct {
	l *zap.Logger
}

// Config controls where logs are written and how verbose they are.
type Config struct {
	// Level is one of debug, info, warn, error. Empty defaults to info.
	Level string
	// FilePath, if non-empty, also writes logs to a rotated file via lumberjack.
	FilePath   string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// New builds a root logger for a service, writing to stderr and
// optionally to a rotating file.
func New(cfg Config) Logger {
	level := parseLevel(cfg.Level)

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	cores := []zapcore.Core{
		zapcore.NewCore(zapcore.NewJSONEncoder(encoderCfg), zapcore.AddSync(os.Stderr), level),
	}
	if cfg.FilePath != "" {
		rotator := &lumberjack.Logger{
			Filename:   cfg.FilePath,
			MaxSize:    orDefault(cfg.MaxSizeMB, 100),
			MaxBackups: orDefault(cfg.MaxBackups, 3),
			MaxAge:     orDefault(cfg.MaxAgeDays, 28),
		}
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(encoderCfg), zapcore.AddSync(rotator), level))
	}

	core := zapcore.NewTee(cores...)
	return &zapLogger{l: zap.New(core, zap.AddCaller())}
}

// Nop returns a logger that discards everything; useful in tests.
func Nop() Logger {
	return &zapLogger{l: zap.NewNop()}
}

func (z *zapLogger) Debug(msg string, fields ...Field) { z.l.Debug(msg, fields...) }
func (z *zapLogger) Info(msg string, fields ...Field)  { z.l.Info(msg, fields...) }
func (z *zapLogger) Warn(msg string, fields ...Field)  { z.l.Warn(msg, fields...) }
func (z *zapLogger) Error(msg string, fields ...Field) { z.l.Error(msg, fields...) }
func (z *zapLogger) With(fields ...Field) Logger       { return &zapLogger{l: z.l.With(fields...)} }
func (z *zapLogger) Sync() error                       { return z.l.Sync() }

// Field constructors, re-exported so callers never import zap directly.
func Err(err error) Field               { return zap.Error(err) }
func String(k, v string) Field          { return zap.String(k, v) }
func Int(k string, v int) Field         { return zap.Int(k, v) }
func Uint32(k string, v uint32) Field   { return zap.Uint32(k, v) }
func Uint64(k string, v uint64) Field   { return zap.Uint64(k, v) }
func Stringer(k string, v fmt.Stringer) Field { return zap.Stringer(k, v) }
func Duration(k string, v time.Duration) Field { return zap.Duration(k, v) }
func Bool(k string, v bool) Field       { return zap.Bool(k, v) }

func parseLevel(s string) zapcore.Level {
	switch s {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

func orDefault(v, d int) int {
	if v <= 0 {
		return d
	}
	return v
}
