package coordinator

import (
	"go.uber.org/zap"
)

// Level is the severity of a provider diagnostic.
type Level int

const (
	LevelError Level = iota
	LevelWarning
	LevelInfo
	LevelVerbose
)

func (l Level) String() string {
	switch l {
	case LevelError:
		return "error"
	case LevelWarning:
		return "warning"
	case LevelInfo:
		return "info"
	default:
		return "verbose"
	}
}

// RedactedMessage replaces the content of diagnostics that carry personal data
// or secret material.
const RedactedMessage = "[redacted: message contains personal or secret data]"

// DiagnosticFunc is the callback providers invoke for each diagnostic.
type DiagnosticFunc func(level Level, message string, containsPII bool)

// DiagnosticSink receives provider diagnostics after redaction.
type DiagnosticSink interface {
	Diagnostic(level Level, message string, containsPII bool)
}

// DiagnosticSinkFunc adapts a function to DiagnosticSink.
type DiagnosticSinkFunc func(level Level, message string, containsPII bool)

func (f DiagnosticSinkFunc) Diagnostic(level Level, message string, containsPII bool) {
	f(level, message, containsPII)
}

// Redacting returns the callback registered with providers. Messages flagged
// as containing PII never reach sink.
func Redacting(sink DiagnosticSink) DiagnosticFunc {
	return func(level Level, message string, containsPII bool) {
		if sink == nil {
			return
		}
		if containsPII {
			message = RedactedMessage
		}
		sink.Diagnostic(level, message, containsPII)
	}
}

// ZapSink writes diagnostics to a zap logger.
type ZapSink struct {
	log *zap.SugaredLogger
}

// NewZapSink returns a sink logging through log. A nil logger discards.
func NewZapSink(log *zap.SugaredLogger) *ZapSink {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &ZapSink{log: log}
}

// Diagnostic drops the message content itself when containsPII is set, so the
// sink is safe even when called directly.
func (s *ZapSink) Diagnostic(level Level, message string, containsPII bool) {
	if containsPII {
		message = RedactedMessage
	}
	fields := []interface{}{"source", "provider", "pii", containsPII}
	switch level {
	case LevelError:
		s.log.Errorw(message, fields...)
	case LevelWarning:
		s.log.Warnw(message, fields...)
	case LevelInfo:
		s.log.Infow(message, fields...)
	default:
		s.log.Debugw(message, fields...)
	}
}
