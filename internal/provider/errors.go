package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/me/batchpoll/pkg/model"
)

// Error is returned by every provider call. Retryable separates transient
// failures (network, timeouts, 5xx, 429) from permanent ones.
type Error struct {
	// Op is the operation that failed, e.g. "openai.batches.get".
	Op string

	// StatusCode is the HTTP status, zero when no response was received.
	StatusCode int

	// Message is a short human-readable description.
	Message string

	// Retryable reports whether the same call may succeed later.
	Retryable bool

	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	switch {
	case e.StatusCode != 0:
		return fmt.Sprintf("%s: HTTP %d: %s", e.Op, e.StatusCode, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Message, e.Err)
	default:
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// IsRetryable returns true if err is a provider error marked transient, or a
// bare timeout or network error that escaped classification.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return isTransport(err)
}

// retryableStatus reports whether an HTTP status is worth retrying.
func retryableStatus(code int) bool {
	return code >= 500 || code == http.StatusTooManyRequests
}

// httpError classifies a non-success response.
func httpError(op string, code int, body string) *Error {
	msg := body
	if msg == "" {
		msg = http.StatusText(code)
	}
	return &Error{Op: op, StatusCode: code, Message: msg, Retryable: retryableStatus(code)}
}

// transportError classifies a failure where no usable response arrived.
func transportError(op string, err error) *Error {
	msg := "request failed"
	if errors.Is(err, context.DeadlineExceeded) {
		msg = "timeout"
	}
	return &Error{Op: op, Message: msg, Retryable: isTransport(err), Err: err}
}

// malformed reports a response the client could not interpret.
func malformed(op, format string, args ...any) *Error {
	return &Error{Op: op, Message: "malformed response: " + fmt.Sprintf(format, args...)}
}

// wrongCredential reports a credential the client cannot use, including nil.
func wrongCredential(op string, cred model.Credential) *Error {
	if cred == nil {
		return &Error{Op: op, Message: "no credential supplied"}
	}
	return &Error{Op: op, Message: fmt.Sprintf("credential kind %s not accepted", cred.Kind())}
}

func isTransport(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
