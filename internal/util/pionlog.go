package util

import (
	"fmt"
	"strings"

	"github.com/pion/logging"
	"github.com/pterm/pterm"
)

// PionLoggerFactory routes pion's internal logging through the pterm logger.
// Scopes listed in Verbose log at debug/trace level; every other scope is
// capped at warnings so ICE and DTLS chatter stays out of the call output.
type PionLoggerFactory struct {
	Verbose []string
}

var _ logging.LoggerFactory = (*PionLoggerFactory)(nil)

// NewLogger implements logging.LoggerFactory.
func (f *PionLoggerFactory) NewLogger(scope string) logging.LeveledLogger {
	level := logging.LogLevelWarn
	for _, s := range f.Verbose {
		if s == scope || s == "all" {
			level = logging.LogLevelTrace
			break
		}
	}
	return &pionLogger{scope: scope, level: level}
}

type pionLogger struct {
	scope string
	level logging.LogLevel
}

func (l *pionLogger) log(at logging.LogLevel, msg string) {
	if at > l.level {
		return
	}
	msg = fmt.Sprintf("[pion/%s] %s", l.scope, strings.TrimRight(msg, "\n"))
	switch at {
	case logging.LogLevelError:
		pterm.DefaultLogger.Error(msg)
	case logging.LogLevelWarn:
		pterm.DefaultLogger.Warn(msg)
	case logging.LogLevelInfo:
		pterm.DefaultLogger.Info(msg)
	case logging.LogLevelDebug:
		pterm.DefaultLogger.Debug(msg)
	default:
		pterm.DefaultLogger.Trace(msg)
	}
}

func (l *pionLogger) Trace(msg string) { l.log(logging.LogLevelTrace, msg) }
func (l *pionLogger) Tracef(format string, args ...interface{}) {
	l.log(logging.LogLevelTrace, fmt.Sprintf(format, args...))
}
func (l *pionLogger) Debug(msg string) { l.log(logging.LogLevelDebug, msg) }
func (l *pionLogger) Debugf(format string, args ...interface{}) {
	l.log(logging.LogLevelDebug, fmt.Sprintf(format, args...))
}
func (l *pionLogger) Info(msg string) { l.log(logging.LogLevelInfo, msg) }
func (l *pionLogger) Infof(format string, args ...interface{}) {
	l.log(logging.LogLevelInfo, fmt.Sprintf(format, args...))
}
func (l *pionLogger) Warn(msg string) { l.log(logging.LogLevelWarn, msg) }
func (l *pionLogger) Warnf(format string, args ...interface{}) {
	l.log(logging.LogLevelWarn, fmt.Sprintf(format, args...))
}
func (l *pionLogger) Error(msg string) { l.log(logging.LogLevelError, msg) }
func (l *pionLogger) Errorf(format string, args ...interface{}) {
	l.log(logging.LogLevelError, fmt.Sprintf(format, args...))
}
