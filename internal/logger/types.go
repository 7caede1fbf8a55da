package logger

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// Logger 統一日誌介面；args 為 slog 風格的 key/value
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
	With(args ...any) Logger
	Shutdown() error // 關閉檔案輸出
}

// ParseLevel 解析設定檔中的 log.level（不分大小寫）
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

// Format 終端輸出格式
type Format int

const (
	FormatText Format = iota
	FormatJSON
	// FormatPretty 彩色終端輸出；檔案輸出會退回 text
	FormatPretty
)

func (f Format) String() string {
	switch f {
	case FormatJSON:
		return "json"
	case FormatPretty:
		return "pretty"
	default:
		return "text"
	}
}

// ParseFormat 解析設定檔中的 log.format（不分大小寫）
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "text":
		return FormatText, nil
	case "json":
		return FormatJSON, nil
	case "pretty", "console":
		return FormatPretty, nil
	default:
		return FormatText, fmt.Errorf("unknown log format %q", s)
	}
}

// Config 日誌配置
//
// 上傳報告寫在 stdout，所以日誌只寫到 Console（通常是 stderr）
// 與選用的輪替檔案。
type Config struct {
	Level  slog.Level
	Format Format

	// Console 為 nil 時不輸出到終端
	Console io.Writer

	// File.Path 為空時不寫檔
	File FileConfig
}

// FileConfig 檔案日誌配置（lumberjack 輪替）
type FileConfig struct {
	Path       string
	MaxSizeMB  int
	MaxAgeDays int
	MaxBackups int
	Compress   bool
}
