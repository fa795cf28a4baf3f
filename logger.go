package phx

import (
	"fmt"
	"log"
)

// LoggerLevel is the severity of one log call, from most to least
// verbose.
type LoggerLevel int

const (
	LogDebug   LoggerLevel = 0
	LogInfo    LoggerLevel = 1
	LogWarning LoggerLevel = 2
	LogError   LoggerLevel = 3
)

// Logger is the logging capability Socket and Channel write through.
// kind identifies the subsystem emitting the line ("socket", "channel",
// "push", ...).
type Logger interface {
	Print(level LoggerLevel, kind string, v ...any)
	Println(level LoggerLevel, kind string, v ...any)
	Printf(level LoggerLevel, kind string, format string, v ...any)
}

// NoopLogger discards every line. It's the default on a fresh Socket.
type NoopLogger int

func NewNoopLogger() *NoopLogger {
	return new(NoopLogger)
}

func (l *NoopLogger) Print(_ LoggerLevel, _ string, _ ...any)            {}
func (l *NoopLogger) Println(_ LoggerLevel, _ string, _ ...any)          {}
func (l *NoopLogger) Printf(_ LoggerLevel, _ string, _ string, _ ...any) {}

// CustomLogger writes through a stdlib *log.Logger, filtering out
// anything below logLevel.
type CustomLogger struct {
	logLevel LoggerLevel
	logger   *log.Logger
}

func NewCustomLogger(level LoggerLevel, logger *log.Logger) *CustomLogger {
	return &CustomLogger{
		logLevel: level,
		logger:   logger,
	}
}

func (l *CustomLogger) formatLevel(level LoggerLevel) string {
	switch level {
	case LogDebug:
		return "[DEBUG]"
	case LogInfo:
		return "[INFO]"
	case LogWarning:
		return "[WARNING]"
	case LogError:
		return "[ERROR]"
	}
	return "[UNK]"
}

func (l *CustomLogger) formatKind(kind string) string {
	return fmt.Sprintf("<%s>", kind)
}

func (l *CustomLogger) Print(level LoggerLevel, kind string, v ...any) {
	if level >= l.logLevel {
		l.logger.Print(append([]any{l.formatLevel(level), l.formatKind(kind)}, v...)...)
	}
}

func (l *CustomLogger) Println(level LoggerLevel, kind string, v ...any) {
	if level >= l.logLevel {
		l.logger.Println(append([]any{l.formatLevel(level), l.formatKind(kind)}, v...)...)
	}
}

func (l *CustomLogger) Printf(level LoggerLevel, kind string, format string, v ...any) {
	if level >= l.logLevel {
		l.logger.Printf(fmt.Sprintf("%s %s %s", l.formatLevel(level), l.formatKind(kind), format), v...)
	}
}

// NewSimpleLogger returns a CustomLogger writing through log.Default(),
// filtering below logLevel.
func NewSimpleLogger(logLevel LoggerLevel) *CustomLogger {
	return &CustomLogger{
		logLevel: logLevel,
		logger:   log.Default(),
	}
}
