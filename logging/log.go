package logging

import (
	"context"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

type LoggerKey struct{}

func NewContext(ctx context.Context, logger *zap.Logger) context.Context {
	return context.WithValue(ctx, LoggerKey{}, logger)
}

func FromContext(ctx context.Context) *zap.Logger {
	if logger, ok := ctx.Value(LoggerKey{}).(*zap.Logger); ok {
		return logger
	}
	return New(zap.DebugLevel, false, nil)
}

// File configures the rotated log file. The file always records debug level.
type File struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
}

func New(level zapcore.LevelEnabler, json bool, file *File) *zap.Logger {
	encoderConfig := zap.NewDevelopmentEncoderConfig()
	var encoder zapcore.Encoder
	if json {
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	} else {
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	}

	consoleSyncer := zapcore.Lock(os.Stdout)
	var cores []zapcore.Core
	cores = append(cores, zapcore.NewCore(encoder, consoleSyncer, level))

	if file != nil && file.Path != "" {
		fileLogger := &lumberjack.Logger{
			Filename:   file.Path,
			MaxSize:    file.MaxSizeMB,
			MaxBackups: file.MaxBackups,
			MaxAge:     28,
			Compress:   true,
		}
		cores = append(cores, zapcore.NewCore(encoder, zapcore.AddSync(fileLogger), zap.DebugLevel))
	}

	return zap.New(zapcore.NewTee(cores...))
}
