package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/killallgit/atelier/pkg/config"
	"github.com/sirupsen/logrus"
)

// LogLevel represents the logging level
type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
)

// String returns the string representation of the log level
func (l LogLevel) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

func (l LogLevel) logrus() logrus.Level {
	switch l {
	case LevelDebug:
		return logrus.DebugLevel
	case LevelWarn:
		return logrus.WarnLevel
	case LevelError:
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}

// Logger provides a unified logging interface
type Logger struct {
	entry *logrus.Entry
	file  *os.File
}

var defaultLogger *Logger

// Init initializes the logger with configuration from global config
func Init() error {
	if defaultLogger != nil {
		return nil
	}

	settings := config.Get()
	logger, err := New(ParseLevel(settings.Logging.Level), settings.Logging.LogFile, settings.Logging.Persist)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	defaultLogger = logger
	return nil
}

// New creates a new Logger writing to logFile
func New(level LogLevel, logFile string, persist bool) (*Logger, error) {
	logPath := logFile
	if !filepath.IsAbs(logPath) {
		logPath = config.BuildSettingsPath(filepath.Base(logPath))
	}

	if err := os.MkdirAll(filepath.Dir(logPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	flags := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	if persist {
		flags = os.O_CREATE | os.O_WRONLY | os.O_APPEND
	}
	file, err := os.OpenFile(logPath, flags, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}

	l := NewWithWriter(level, file)
	l.file = file
	return l, nil
}

// NewWithWriter creates a Logger that writes to w. Useful in tests.
func NewWithWriter(level LogLevel, w io.Writer) *Logger {
	base := logrus.New()
	base.SetOutput(w)
	base.SetLevel(level.logrus())
	base.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
		DisableColors: true,
	})
	return &Logger{entry: logrus.NewEntry(base)}
}

// Close closes the log file
func (l *Logger) Close() error {
	if l.file != nil {
		return l.file.Close()
	}
	return nil
}

// ParseLevel converts a string level to LogLevel
func ParseLevel(levelStr string) LogLevel {
	switch levelStr {
	case "debug":
		return LevelDebug
	case "info":
		return LevelInfo
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// WithComponent returns a child logger tagged with the component name
func (l *Logger) WithComponent(name string) *Logger {
	return &Logger{entry: l.entry.WithField("component", name)}
}

func (l *Logger) Debug(format string, args ...interface{}) {
	l.entry.Debugf(format, args...)
}

func (l *Logger) Info(format string, args ...interface{}) {
	l.entry.Infof(format, args...)
}

func (l *Logger) Warn(format string, args ...interface{}) {
	l.entry.Warnf(format, args...)
}

// Error logs an error message and echoes it to stderr
func (l *Logger) Error(format string, args ...interface{}) {
	l.entry.Errorf(format, args...)
	if out := l.entry.Logger.Out; out != os.Stderr && out != io.Discard {
		fmt.Fprintf(os.Stderr, "[ERROR] "+format+"\n", args...)
	}
}

// Package-level convenience functions using the default logger

// WithComponent returns a component logger derived from the default logger.
// Before Init it returns a logger that discards everything.
func WithComponent(name string) *Logger {
	if defaultLogger == nil {
		return NewWithWriter(LevelError, io.Discard).WithComponent(name)
	}
	return defaultLogger.WithComponent(name)
}

func Debug(format string, args ...interface{}) {
	if defaultLogger == nil {
		return
	}
	defaultLogger.Debug(format, args...)
}

func Info(format string, args ...interface{}) {
	if defaultLogger == nil {
		return
	}
	defaultLogger.Info(format, args...)
}

func Warn(format string, args ...interface{}) {
	if defaultLogger == nil {
		return
	}
	defaultLogger.Warn(format, args...)
}

func Error(format string, args ...interface{}) {
	if defaultLogger == nil {
		return
	}
	defaultLogger.Error(format, args...)
}

// SetOutput sets the output writer for the logger (useful for testing)
func SetOutput(w io.Writer) {
	if defaultLogger != nil {
		defaultLogger.entry.Logger.SetOutput(w)
	}
}

// Close closes the default logger
func Close() error {
	if defaultLogger != nil {
		return defaultLogger.Close()
	}
	return nil
}
