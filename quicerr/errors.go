// Package quicerr is a drop-in-flavored replacement for Go's stdlib errors
// package, carrying severity and call-site information the way the
// teacher's common/errors does.
//
// Grounded on github.com/xtls/xray-core's common/errors/errors.go: an
// *Error struct with a message, an optional inner error, the caller's
// function name (captured via runtime.Caller), and a severity. The
// teacher's version also threads a protobuf-backed log.Severity enum and a
// context-carried session ID (common/ctx, common/serial); both supporting
// packages were filtered out of the retrieval pack, so this version defines
// its own small Severity type and Sink interface instead and drops the
// per-connection-ID log prefix feature.
package quicerr

import (
	"runtime"
	"strings"
)

// Severity orders log-worthiness from most to least verbose.
type Severity int

const (
	SeverityDebug Severity = iota
	SeverityInfo
	SeverityWarning
	SeverityError
)

func (s Severity) String() string {
	switch s {
	case SeverityDebug:
		return "Debug"
	case SeverityInfo:
		return "Info"
	case SeverityWarning:
		return "Warning"
	case SeverityError:
		return "Error"
	default:
		return "Unknown"
	}
}

type hasSeverity interface {
	Severity() Severity
}

// Error is an error object carrying its originating call site, severity and
// an optional wrapped error.
type Error struct {
	message  []interface{}
	caller   string
	inner    error
	severity Severity
}

// modulePrefix is the module's own import path, stripped from a caller's
// fully-qualified function name so log lines read "congestion.(*Cubic)..."
// instead of "github.com/xtls/xquic/congestion.(*Cubic)...".
const modulePrefix = "github.com/xtls/xquic/"

// New returns a new Error with a message formed from the given arguments,
// capturing the immediate caller as the Error's origin.
func New(msg ...interface{}) *Error {
	pc, _, _, _ := runtime.Caller(1)
	return &Error{message: msg, severity: SeverityInfo, caller: callerName(pc)}
}

func callerPC(skip int) uintptr {
	pc, _, _, _ := runtime.Caller(skip)
	return pc
}

func callerName(pc uintptr) string {
	details := runtime.FuncForPC(pc).Name()
	if strings.HasPrefix(details, modulePrefix) {
		details = details[len(modulePrefix):]
	}
	if i := strings.Index(details, "."); i > 0 {
		// Drop any leading directories of the package path so the tag
		// starts at the package name; the receiver and function name are
		// kept.
		if j := strings.LastIndex(details[:i], "/"); j >= 0 {
			details = details[j+1:]
		}
	}
	return details
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	if e.caller != "" {
		b.WriteString(e.caller)
		b.WriteString(": ")
	}
	writeMessage(&b, e.message)
	if e.inner != nil {
		b.WriteString(" > ")
		b.WriteString(e.inner.Error())
	}
	return b.String()
}

func writeMessage(b *strings.Builder, parts []interface{}) {
	for i, p := range parts {
		if i > 0 {
			b.WriteByte(' ')
		}
		if err, ok := p.(error); ok {
			b.WriteString(err.Error())
			continue
		}
		if s, ok := p.(string); ok {
			b.WriteString(s)
			continue
		}
		b.WriteString(stringify(p))
	}
}

// Unwrap implements the errors.Unwrap protocol.
func (e *Error) Unwrap() error { return e.inner }

// Base attaches an inner error that this Error wraps.
func (e *Error) Base(inner error) *Error {
	e.inner = inner
	return e
}

func (e *Error) atSeverity(s Severity) *Error {
	e.severity = s
	return e
}

// AtDebug sets the severity to debug.
func (e *Error) AtDebug() *Error { return e.atSeverity(SeverityDebug) }

// AtInfo sets the severity to info.
func (e *Error) AtInfo() *Error { return e.atSeverity(SeverityInfo) }

// AtWarning sets the severity to warning.
func (e *Error) AtWarning() *Error { return e.atSeverity(SeverityWarning) }

// AtError sets the severity to error.
func (e *Error) AtError() *Error { return e.atSeverity(SeverityError) }

// Severity returns the effective severity, deferring to the innermost
// wrapped *Error's severity when it is lower than this one's, mirroring
// the teacher's behavior of letting the root cause set the floor.
func (e *Error) Severity() Severity {
	if inner, ok := e.inner.(hasSeverity); ok {
		if s := inner.Severity(); s < e.severity {
			return s
		}
	}
	return e.severity
}
