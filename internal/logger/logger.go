package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	// Log is the global structured logger
	Log *slog.Logger
	// logWriter is the rotating log writer, nil when logging to stderr
	logWriter *lumberjack.Logger
	// LogPath is the path to the current log file
	LogPath string

	mu sync.Mutex
)

// LogLevel represents the logging level
type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
)

// StderrPath selects human-readable logging to stderr instead of a file.
const StderrPath = "-"

// ParseLevel converts a level name such as "debug" or "WARN" to a LogLevel.
func ParseLevel(name string) (LogLevel, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return LevelDebug, nil
	case "", "info":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	default:
		return LevelInfo, fmt.Errorf("unknown log level %q", name)
	}
}

func (l LogLevel) slogLevel() slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// InitLogger initializes the global logger with the specified level and optional path.
// If logPath is empty, defaults to ~/.config/suite224/suite-db.log. A path of
// StderrPath writes text records to stderr.
func InitLogger(level LogLevel, logPath string) {
	opts := &slog.HandlerOptions{
		Level: level.slogLevel(),
	}

	mu.Lock()
	defer mu.Unlock()

	closeWriter()

	if logPath == StderrPath {
		LogPath = logPath
		Log = slog.New(slog.NewTextHandler(os.Stderr, opts))
		slog.SetDefault(Log)
		return
	}

	if logPath == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			homeDir = os.TempDir()
		}
		logDir := filepath.Join(homeDir, ".config", "suite224")
		_ = os.MkdirAll(logDir, 0755)
		logPath = filepath.Join(logDir, "suite-db.log")
	}

	LogPath = logPath

	// Use lumberjack for log rotation
	logWriter = &lumberjack.Logger{
		Filename:   logPath,
		MaxSize:    10, // MB
		MaxBackups: 3,
		MaxAge:     7, // days
		Compress:   true,
	}

	Log = slog.New(slog.NewJSONHandler(logWriter, opts))
	slog.SetDefault(Log)
}

// InitWriter points the global logger at w. Tests use it to capture output.
func InitWriter(level LogLevel, w io.Writer) {
	mu.Lock()
	defer mu.Unlock()

	closeWriter()
	LogPath = ""
	Log = slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level.slogLevel()}))
}

// Close closes the log file
func Close() {
	mu.Lock()
	defer mu.Unlock()
	closeWriter()
}

func closeWriter() {
	if logWriter != nil {
		logWriter.Close()
		logWriter = nil
	}
}

// getLogger returns the global logger, or the default slog logger if not initialized.
func getLogger() *slog.Logger {
	if l := Log; l != nil {
		return l
	}
	return slog.Default()
}

// Debug logs a debug message
func Debug(msg string, args ...any) {
	getLogger().Debug(msg, args...)
}

// Info logs an info message
func Info(msg string, args ...any) {
	getLogger().Info(msg, args...)
}

// Warn logs a warning message
func Warn(msg string, args ...any) {
	getLogger().Warn(msg, args...)
}

// Error logs an error message
func Error(msg string, args ...any) {
	getLogger().Error(msg, args...)
}
