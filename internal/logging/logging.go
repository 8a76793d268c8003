// Package logging provides category-tagged logging for the worker.
// All logging goes through a shared zap logger; the wrappers here keep call
// sites short and make the category a first-class field.
package logging

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Category constants for consistent logging categories.
const (
	CategoryApp        = "App"
	CategoryWorker     = "Worker"
	CategoryJob        = "Job"
	CategoryCapture    = "Capture"
	CategoryTranscribe = "Transcribe"
	CategoryTranslate  = "Translate"
	CategoryTopic      = "Topic"
	CategorySession    = "Session"
	CategoryDeliver    = "Deliver"
)

var (
	mu     sync.RWMutex
	logger = zap.NewNop().Sugar()
)

// Init initializes logging with default configuration.
func Init() {
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "console"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	l, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		// Fall back to the example logger rather than refusing to start.
		l = zap.NewExample()
	}
	mu.Lock()
	logger = l.Sugar()
	mu.Unlock()
}

// Shutdown flushes buffered log entries.
func Shutdown(ctx context.Context) {
	mu.RLock()
	l := logger
	mu.RUnlock()
	_ = l.Sync()
}

func get() *zap.SugaredLogger {
	mu.RLock()
	defer mu.RUnlock()
	return logger
}

// Debug logs a debug message.
func Debug(category, msg string, params ...interface{}) {
	get().With("category", category).Debugf(msg, params...)
}

// Info logs an info message.
func Info(category, msg string, params ...interface{}) {
	get().With("category", category).Infof(msg, params...)
}

// Warning logs a warning message.
func Warning(category, msg string, params ...interface{}) {
	get().With("category", category).Warnf(msg, params...)
}

// Error logs an error message.
func Error(category, msg string, params ...interface{}) {
	get().With("category", category).Errorf(msg, params...)
}

// Fail logs a failure that the caller treats as fatal to startup.
func Fail(category, msg string, params ...interface{}) {
	get().With("category", category).Errorf(msg, params...)
}
