package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/mdobak/go-xerrors"
	slogmulti "github.com/samber/slog-multi"
	"github.com/spf13/afero"
)

// SecurityLogEntry is a structured record of a trust related event such as
// a revoked certificate or a pinned CA bundle that failed to match.
type SecurityLogEntry struct {
	Timestamp   time.Time `json:"timestamp"`
	Severity    string    `json:"severity"`
	Category    string    `json:"category"`
	Description string    `json:"description"`
	Details     string    `json:"details,omitempty"`
	Source      string    `json:"source,omitempty"`
	Subject     string    `json:"subject,omitempty"`
}

const (
	LevelTrace    = slog.Level(-8)
	LevelFatal    = slog.Level(12)
	LevelSecurity = slog.Level(16)

	SeverityLow      = "Low"
	SeverityMedium   = "Medium"
	SeverityHigh     = "High"
	SeverityCritical = "Critical"

	CategoryAuthentication  = "Authentication"
	CategoryAuthorization   = "Authorization"
	CategorySystemIntegrity = "System Integrity"

	SourceAgent = "agent"
	SourceCA    = "certificate_authority"
)

type Logger struct {
	logger *slog.Logger
}

// Returns a debug logger that writes text to STDOUT
func DefaultLogger() *Logger {
	return NewLogger(slog.LevelDebug, nil)
}

// Returns a logger that discards everything. Used by tests and by
// commands that must keep STDOUT clean.
func DiscardLogger() *Logger {
	return &Logger{
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

// Creates a new logger. JSON records are written to the log file when one is
// provided. In debug mode, text records are also written to STDOUT.
func NewLogger(level slog.Level, logFile afero.File) *Logger {

	options := &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: replaceAttr,
	}

	if logFile == nil {
		return &Logger{
			logger: slog.New(slog.NewTextHandler(os.Stdout, options)),
		}
	}

	logfileHandler := slog.NewJSONHandler(logFile, options)

	if level > slog.LevelDebug {
		return &Logger{logger: slog.New(logfileHandler)}
	}

	textHandler := slog.NewTextHandler(os.Stdout, options)

	return &Logger{
		logger: slog.New(
			slogmulti.Fanout(logfileHandler, textHandler),
		),
	}
}

// Creates a logger over an arbitrary writer
func NewWriterLogger(level slog.Level, w io.Writer) *Logger {
	return &Logger{
		logger: slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
			Level:       level,
			ReplaceAttr: replaceAttr,
		})),
	}
}

// Enabled reports whether records at level are emitted
func (l *Logger) Enabled(level slog.Level) bool {
	return l.logger.Enabled(context.Background(), level)
}

// Debug
func (l *Logger) Debug(message string, args ...any) {
	l.logger.Debug(message, args...)
}

func (l *Logger) Debugf(message string, args ...any) {
	l.logger.Debug(fmt.Sprintf(message, args...))
}

// Info
func (l *Logger) Info(message string, args ...any) {
	l.logger.Info(message, args...)
}

func (l *Logger) Infof(message string, args ...any) {
	l.logger.Info(fmt.Sprintf(message, args...))
}

// Warn
func (l *Logger) Warn(message string, args ...any) {
	l.logger.Warn(message, args...)
}

func (l *Logger) Warnf(message string, args ...any) {
	l.logger.Warn(fmt.Sprintf(message, args...))
}

// Error
func (l *Logger) Error(err error, args ...any) {
	if l == nil || l.logger == nil {
		// Error occurred before the logger was
		// initialized
		slog.Error(err.Error(), args...)
		return
	}
	xerr := xerrors.New(err)
	l.logger.Error(err.Error(), append(args, slog.Any("error", xerr))...)
}

func (l *Logger) Errorf(message string, args ...any) {
	l.logger.Error(fmt.Sprintf(message, args...))
}

// Logs errors that are expected during normal operation, such as a
// refresh that failed while cached material is still usable.
func (l *Logger) MaybeError(err error, args ...any) {
	l.logger.Warn(err.Error(), args...)
}

// Fatal
func (l *Logger) Fatal(message string, args ...any) {
	l.logger.Log(context.Background(), LevelFatal, message, args...)
	os.Exit(-1)
}

func (l *Logger) Fatalf(message string, args ...any) {
	l.Fatal(fmt.Sprintf(message, args...))
}

func (l *Logger) FatalError(err error) {
	l.Error(err)
	os.Exit(-1)
}

// Logs a security event with standardized fields so it can be
// picked up by external systems.
func (l *Logger) Security(entry SecurityLogEntry) {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
	l.logger.LogAttrs(
		context.Background(),
		LevelSecurity,
		"security_log",
		slog.Time("timestamp", entry.Timestamp),
		slog.String("severity", entry.Severity),
		slog.String("category", entry.Category),
		slog.String("description", entry.Description),
		slog.String("details", entry.Details),
		slog.String("source", entry.Source),
		slog.String("subject", entry.Subject),
	)
}
