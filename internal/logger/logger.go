package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"
)

// Level represents logging levels
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

var (
	mu           sync.RWMutex
	currentLevel Level     = LevelInfo
	output       io.Writer = os.Stdout
	logFile      *os.File
	logger       zerolog.Logger
)

func (l Level) String() string {
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

// SetOutputFile sends all log output to filename, creating its directory if needed
func SetOutputFile(filename string) error {
	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}

	f, err := os.OpenFile(filename, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}

	mu.Lock()
	logFile = f
	output = f
	initLogger()
	mu.Unlock()
	return nil
}

// SetOutput redirects log output to w. Colors are disabled for anything but stdout.
func SetOutput(w io.Writer) {
	mu.Lock()
	output = w
	initLogger()
	mu.Unlock()
}

// CloseLogFile closes the log file if it's open and falls back to stdout
func CloseLogFile() {
	mu.Lock()
	defer mu.Unlock()
	if logFile != nil {
		logFile.Close()
		logFile = nil
		output = os.Stdout
		initLogger()
	}
}

// initLogger must be called with mu held
func initLogger() {
	consoleWriter := zerolog.ConsoleWriter{
		Out:        output,
		TimeFormat: "15:04:05.000",
		NoColor:    output != os.Stdout,
	}

	logger = zerolog.New(consoleWriter).With().Timestamp().Logger()
}

func init() {
	initLogger()
}

// SetLevel sets the global log level
func SetLevel(level string) {
	mu.Lock()
	defer mu.Unlock()
	switch level {
	case "debug":
		currentLevel = LevelDebug
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "warn":
		currentLevel = LevelWarn
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		currentLevel = LevelError
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		currentLevel = LevelInfo
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}

// GetCurrentLevel returns the current logging level
func GetCurrentLevel() Level {
	mu.RLock()
	defer mu.RUnlock()
	return currentLevel
}

// With returns a child logger tagged with the given component and key/value string pairs.
// Used where a long-lived object (a streaming session) wants its id on every line.
func With(component string, kv ...string) zerolog.Logger {
	mu.RLock()
	ctx := logger.With().Str("component", component)
	mu.RUnlock()
	for i := 0; i+1 < len(kv); i += 2 {
		ctx = ctx.Str(kv[i], kv[i+1])
	}
	return ctx.Logger()
}

func get() *zerolog.Logger {
	mu.RLock()
	l := logger
	mu.RUnlock()
	return &l
}

// Debug logs a debug message
func Debug(msg string) {
	get().Debug().Msg(msg)
}

// Debugf logs a debug message with formatting
func Debugf(format string, v ...interface{}) {
	get().Debug().Msgf(format, v...)
}

// Info logs an info message
func Info(msg string) {
	get().Info().Msg(msg)
}

// Infof logs an info message with formatting
func Infof(format string, v ...interface{}) {
	get().Info().Msgf(format, v...)
}

// Warn logs a warning message
func Warn(msg string) {
	get().Warn().Msg(msg)
}

// Warnf logs a warning message with formatting
func Warnf(format string, v ...interface{}) {
	get().Warn().Msgf(format, v...)
}

// Error logs an error message with the error object
func Error(msg string, err error) {
	get().Error().Err(err).Msg(msg)
}

// Errorf logs an error message with formatting and the error object
func Errorf(format string, err error, v ...interface{}) {
	get().Error().Err(err).Msgf(format, v...)
}
