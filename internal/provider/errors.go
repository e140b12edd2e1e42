package provider

import (
	"errors"
	"fmt"
)

// ErrorKind classifies adapter failures. Only KindTransient is retryable.
type ErrorKind string

const (
	// KindTranslation marks malformed internal input, e.g. a ToolCall
	// without an id.
	KindTranslation ErrorKind = "translation"

	// KindUpstreamProtocol marks a provider response shape the translator
	// cannot parse.
	KindUpstreamProtocol ErrorKind = "upstream_protocol"

	// KindTransient marks timeouts, throttling and 5xx-equivalent failures.
	KindTransient ErrorKind = "transient"

	// KindAuth marks credential rejections; never retried.
	KindAuth ErrorKind = "auth"

	// KindConfig marks invalid local configuration; never retried.
	KindConfig ErrorKind = "config"

	// KindCanceled marks caller-initiated aborts, reported distinctly from
	// retryable failures.
	KindCanceled ErrorKind = "canceled"
)

// Error is the provider-agnostic failure container. It always names the
// backend and pipeline stage so user-visible failures identify where the
// exchange broke.
type Error struct {
	Backend  Backend
	Stage    string // translate, request, stream, retry
	Kind     ErrorKind
	Message  string
	Attempts int
	Cause    error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Cause != nil {
		msg = e.Cause.Error()
	}
	if e.Attempts > 1 {
		return fmt.Sprintf("%s %s: %s (%d attempts)", e.Backend, e.Stage, msg, e.Attempts)
	}
	return fmt.Sprintf("%s %s: %s", e.Backend, e.Stage, msg)
}

func (e *Error) Unwrap() error { return e.Cause }

// Errf builds an Error with a formatted message.
func Errf(backend Backend, stage string, kind ErrorKind, format string, args ...any) *Error {
	return &Error{Backend: backend, Stage: stage, Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WrapErr builds an Error around an underlying cause.
func WrapErr(backend Backend, stage string, kind ErrorKind, cause error) *Error {
	return &Error{Backend: backend, Stage: stage, Kind: kind, Cause: cause}
}

// AsError extracts an *Error from an error chain.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsRetryable reports whether the failure is classifier-confirmed transient.
// Unclassified errors are not retried.
func IsRetryable(err error) bool {
	if e, ok := AsError(err); ok {
		return e.Kind == KindTransient
	}
	return false
}
