package observability

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
)

// LogLevel represents the severity of a log message
type LogLevel int

const (
	DebugLevel LogLevel = iota
	InfoLevel
	WarnLevel
	ErrorLevel
	CriticalLevel
)

// levelCritical sits above slog.LevelError so handlers filter it correctly.
const levelCritical = slog.LevelError + 4

func (l LogLevel) String() string {
	switch l {
	case DebugLevel:
		return "DEBUG"
	case InfoLevel:
		return "INFO"
	case WarnLevel:
		return "WARN"
	case ErrorLevel:
		return "ERROR"
	case CriticalLevel:
		return "CRITICAL"
	default:
		return "INFO"
	}
}

// toSlogLevel converts LogLevel to slog.Level
func (l LogLevel) toSlogLevel() slog.Level {
	switch l {
	case DebugLevel:
		return slog.LevelDebug
	case InfoLevel:
		return slog.LevelInfo
	case WarnLevel:
		return slog.LevelWarn
	case ErrorLevel:
		return slog.LevelError
	case CriticalLevel:
		return levelCritical
	default:
		return slog.LevelInfo
	}
}

// LoggerOptions tunes NewLoggerWithOptions.
type LoggerOptions struct {
	// SensitiveKeys overrides DefaultSensitiveKeys when non-empty.
	SensitiveKeys []string
	// Disabled discards every record.
	Disabled bool
}

// Logger provides structured JSON logging using stdlib slog.
// Attributes whose key contains a sensitive substring are redacted before
// they reach the output.
type Logger struct {
	logger   *slog.Logger
	level    LogLevel
	redactor *Redactor
}

// NewLogger creates a new structured logger using slog
func NewLogger(level LogLevel, output io.Writer) *Logger {
	return NewLoggerWithOptions(level, output, LoggerOptions{})
}

// NewLoggerWithOptions creates a logger with a custom sensitive key list.
func NewLoggerWithOptions(level LogLevel, output io.Writer, opts LoggerOptions) *Logger {
	if output == nil {
		output = os.Stdout
	}
	if opts.Disabled {
		output = io.Discard
	}

	redactor := NewRedactor(opts.SensitiveKeys)
	handlerOpts := &slog.HandlerOptions{
		Level: level.toSlogLevel(),
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.LevelKey && len(groups) == 0 {
				if lvl, ok := a.Value.Any().(slog.Level); ok && lvl >= levelCritical {
					return slog.String(slog.LevelKey, CriticalLevel.String())
				}
				return a
			}
			return redactor.Attr(a)
		},
	}

	return &Logger{
		logger:   slog.New(slog.NewJSONHandler(output, handlerOpts)),
		level:    level,
		redactor: redactor,
	}
}

// NopLogger returns a logger that writes nothing.
func NopLogger() *Logger {
	return NewLoggerWithOptions(ErrorLevel, io.Discard, LoggerOptions{Disabled: true})
}

func (l *Logger) with(args ...interface{}) *Logger {
	return &Logger{
		logger:   l.logger.With(args...),
		level:    l.level,
		redactor: l.redactor,
	}
}

// WithField adds a field to the logger context
func (l *Logger) WithField(key string, value interface{}) *Logger {
	return l.with(key, value)
}

// WithFields adds multiple fields to the logger context
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	args := make([]interface{}, 0, len(fields)*2)
	for k, v := range fields {
		args = append(args, k, v)
	}
	return l.with(args...)
}

// WithError adds an error to the logger context
func (l *Logger) WithError(err error) *Logger {
	if err == nil {
		return l
	}
	return l.WithField("error", err.Error())
}

// Redactor returns the redactor applied to this logger's attributes.
func (l *Logger) Redactor() *Redactor {
	return l.redactor
}

// Log writes a message at the given level.
func (l *Logger) Log(level LogLevel, message string) {
	l.logger.Log(context.Background(), level.toSlogLevel(), message)
}

// Debug logs a debug message
func (l *Logger) Debug(message string) {
	l.logger.Debug(message)
}

// Debugf logs a formatted debug message
func (l *Logger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// Info logs an info message
func (l *Logger) Info(message string) {
	l.logger.Info(message)
}

// Infof logs a formatted info message
func (l *Logger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

// Warn logs a warning message
func (l *Logger) Warn(message string) {
	l.logger.Warn(message)
}

// Warnf logs a formatted warning message
func (l *Logger) Warnf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

// Error logs an error message
func (l *Logger) Error(message string) {
	l.logger.Error(message)
}

// Errorf logs a formatted error message
func (l *Logger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

// Critical logs a message that needs operator attention
func (l *Logger) Critical(message string) {
	l.Log(CriticalLevel, message)
}

// contextKey is the type for context keys
type contextKey string

const (
	// RequestIDKey is the context key for request ID
	RequestIDKey contextKey = "request_id"
	// UserIDKey is the context key for user ID
	UserIDKey contextKey = "user_id"
	// LoggerKey is the context key for the logger
	LoggerKey contextKey = "logger"
)

// WithRequestID adds a request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// GetRequestID retrieves the request ID from context
func GetRequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(RequestIDKey).(string); ok {
		return requestID
	}
	return ""
}

// WithUserID adds a user ID to the context
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, UserIDKey, userID)
}

// GetUserID retrieves the user ID from context
func GetUserID(ctx context.Context) string {
	if userID, ok := ctx.Value(UserIDKey).(string); ok {
		return userID
	}
	return ""
}

// WithLogger adds a logger to the context
func WithLogger(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, LoggerKey, logger)
}

// GetLogger retrieves the logger from context
func GetLogger(ctx context.Context) *Logger {
	if logger, ok := ctx.Value(LoggerKey).(*Logger); ok {
		return logger
	}
	return NewLogger(InfoLevel, os.Stdout)
}

// FromContext creates a logger with request ID and user ID from context
func FromContext(ctx context.Context) *Logger {
	logger := GetLogger(ctx)

	if requestID := GetRequestID(ctx); requestID != "" {
		logger = logger.WithField("request_id", requestID)
	}

	if userID := GetUserID(ctx); userID != "" {
		logger = logger.WithField("user_id", userID)
	}

	return logger
}

// ParseLogLevel parses a level name; unknown names map to InfoLevel.
func ParseLogLevel(level string) LogLevel {
	switch level {
	case "debug", "DEBUG":
		return DebugLevel
	case "info", "INFO":
		return InfoLevel
	case "warn", "warning", "WARN", "WARNING":
		return WarnLevel
	case "error", "ERROR":
		return ErrorLevel
	case "critical", "CRITICAL":
		return CriticalLevel
	default:
		return InfoLevel
	}
}
