// Package xlog is a drop-in-flavored replacement for ad-hoc error handling:
// every error carries a Kind (the taxonomy from spec.md §7), an optional
// wrapped cause, a severity, and the name of the function that raised it.
// It plays the role the teacher's common/errors package plays for
// xray-core, generalized from "log severity only" to "log severity plus an
// explicit recovery-relevant Kind".
package xlog

import (
	"runtime"
	"strings"

	"github.com/nsblast/nsblast/internal/xlog/log"
)

// Kind classifies an Error for the propagation policy in spec.md §7.
type Kind int

const (
	KindUnspecified Kind = iota
	KindMalformed
	KindTruncated
	KindNotFound
	KindAlreadyExists
	KindConstraint
	KindConflict
	KindDenied
	KindInternal
	KindTimeout
)

func (k Kind) String() string {
	switch k {
	case KindMalformed:
		return "Malformed"
	case KindTruncated:
		return "Truncated"
	case KindNotFound:
		return "NotFound"
	case KindAlreadyExists:
		return "AlreadyExists"
	case KindConstraint:
		return "Constraint"
	case KindConflict:
		return "Conflict"
	case KindDenied:
		return "Denied"
	case KindInternal:
		return "Internal"
	case KindTimeout:
		return "Timeout"
	default:
		return "Unspecified"
	}
}

const trim = len("github.com/nsblast/nsblast/")

// Error is the error value every nsblast package returns.
type Error struct {
	message  []interface{}
	caller   string
	inner    error
	kind     Kind
	severity log.Severity
}

// New returns a new Error formed from msg, tagged with the caller's package
// and function for correlation in logs.
func New(msg ...interface{}) *Error {
	pc, _, _, _ := runtime.Caller(1)
	details := runtime.FuncForPC(pc).Name()
	if len(details) >= trim {
		details = details[trim:]
	}
	if i := strings.Index(details, "."); i > 0 {
		details = details[:i]
	}
	return &Error{message: msg, severity: log.SeverityInfo, caller: details}
}

// Base attaches an underlying cause.
func (e *Error) Base(err error) *Error {
	e.inner = err
	return e
}

// WithKind tags the error with a recovery-relevant Kind.
func (e *Error) WithKind(k Kind) *Error {
	e.kind = k
	return e
}

func (e *Error) AtDebug() *Error   { e.severity = log.SeverityDebug; return e }
func (e *Error) AtInfo() *Error    { e.severity = log.SeverityInfo; return e }
func (e *Error) AtWarning() *Error { e.severity = log.SeverityWarning; return e }
func (e *Error) AtError() *Error   { e.severity = log.SeverityError; return e }

// Kind returns the tagged Kind, walking inner errors if this one is
// unspecified.
func (e *Error) Kind() Kind {
	if e.kind != KindUnspecified {
		return e.kind
	}
	var inner *Error
	if As(e.inner, &inner) {
		return inner.Kind()
	}
	return KindUnspecified
}

func (e *Error) Severity() log.Severity {
	if e.inner == nil {
		return e.severity
	}
	var inner *Error
	if As(e.inner, &inner) {
		if s := inner.Severity(); s < e.severity {
			return s
		}
	}
	return e.severity
}

func (e *Error) Error() string {
	b := strings.Builder{}
	if e.kind != KindUnspecified {
		b.WriteByte('[')
		b.WriteString(e.kind.String())
		b.WriteString("] ")
	}
	if len(e.caller) > 0 {
		b.WriteString(e.caller)
		b.WriteString(": ")
	}
	b.WriteString(concat(e.message...))
	if e.inner != nil {
		b.WriteString(" > ")
		b.WriteString(e.inner.Error())
	}
	return b.String()
}

func (e *Error) String() string { return e.Error() }

// Unwrap lets errors.Is/errors.As walk the cause chain.
func (e *Error) Unwrap() error { return e.inner }

// WriteToLog records the error through the shared log registry.
func (e *Error) WriteToLog() {
	log.Record(&log.GeneralMessage{Severity: e.Severity(), Content: e})
}

func concat(values ...interface{}) string {
	b := strings.Builder{}
	for _, v := range values {
		if s, ok := v.(string); ok {
			b.WriteString(s)
			continue
		}
		if err, ok := v.(error); ok {
			b.WriteString(err.Error())
			continue
		}
		b.WriteString(toString(v))
	}
	return b.String()
}
