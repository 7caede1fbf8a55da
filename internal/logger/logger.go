// Package logger provides the process-wide structured logger. Every
// package logs through Get or With; until Init runs those return a logger
// that drops everything, so library code and tests need no setup.
package logger

import (
	"fmt"
	"sync"
)

var (
	mu      sync.RWMutex
	current Logger = nullLogger{}
	owned   bool
)

// Init 建立全域 logger；先前由 Init 建立的 logger 會被關閉並取代
func Init(config Config) error {
	l, err := NewSlogLogger(config)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}

	mu.Lock()
	previous, wasOwned := current, owned
	current, owned = l, true
	mu.Unlock()

	if wasOwned {
		return previous.Shutdown()
	}
	return nil
}

// Get 取得全域 logger
func Get() Logger {
	mu.RLock()
	defer mu.RUnlock()
	return current
}

// With 建立帶 key/value 的子 logger，例如 With("identifier", id)
func With(args ...any) Logger {
	return Get().With(args...)
}

// Shutdown 關閉全域 logger 並退回 no-op logger；可重複呼叫
func Shutdown() error {
	mu.Lock()
	previous, wasOwned := current, owned
	current, owned = nullLogger{}, false
	mu.Unlock()

	if !wasOwned {
		return nil
	}
	return previous.Shutdown()
}

// nullLogger 丟棄所有紀錄
type nullLogger struct{}

func (nullLogger) Debug(string, ...any) {}
func (nullLogger) Info(string, ...any)  {}
func (nullLogger) Warn(string, ...any)  {}
func (nullLogger) Error(string, ...any) {}
func (n nullLogger) With(...any) Logger { return n }
func (nullLogger) Shutdown() error      { return nil }
