package resilience

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
)

// maxErrorBody caps how much of a failed response is kept in the error.
const maxErrorBody = 4 << 10

// TransientError marks an upstream failure that may succeed on a later attempt.
type TransientError struct {
	Err        error
	StatusCode int
	// RetryAfter is the server's requested delay, zero when absent.
	RetryAfter time.Duration
}

func (e *TransientError) Error() string { return e.Err.Error() }

func (e *TransientError) Unwrap() error { return e.Err }

// NewTransientError wraps err as transient. statusCode is 0 for network failures.
func NewTransientError(err error, statusCode int) *TransientError {
	return &TransientError{Err: err, StatusCode: statusCode}
}

// googleError is the google.rpc.Status envelope returned by Google APIs.
type googleError struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

// ResponseError builds the error for a non-200 response and consumes up to
// maxErrorBody bytes of its body. Retryable statuses come back as
// *TransientError carrying any Retry-After delay.
func ResponseError(service string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	err := statusError(service, resp.StatusCode, body)
	if !IsTransientHTTPStatus(resp.StatusCode) {
		return err
	}
	return &TransientError{
		Err:        err,
		StatusCode: resp.StatusCode,
		RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"), time.Now()),
	}
}

func statusError(service string, statusCode int, body []byte) error {
	var ge googleError
	if json.Unmarshal(body, &ge) == nil && ge.Error.Message != "" {
		if ge.Error.Status != "" {
			return eris.Errorf("%s: status %d %s: %s", service, statusCode, ge.Error.Status, ge.Error.Message)
		}
		return eris.Errorf("%s: status %d: %s", service, statusCode, ge.Error.Message)
	}
	return eris.Errorf("%s: status %d: %s", service, statusCode, strings.TrimSpace(string(body)))
}

// parseRetryAfter accepts delay-seconds or an HTTP date.
func parseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil && t.After(now) {
		return t.Sub(now)
	}
	return 0
}

// IsTransient reports whether err, or anything it wraps, is worth retrying.
// Cancellation never is.
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}

	var te *TransientError
	if errors.As(err, &te) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	return errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) ||
		errors.Is(err, io.ErrUnexpectedEOF)
}

// IsTransientHTTPStatus reports whether an HTTP status is retryable: 408,
// 429 and every 5xx except 501.
func IsTransientHTTPStatus(statusCode int) bool {
	switch {
	case statusCode == http.StatusRequestTimeout, statusCode == http.StatusTooManyRequests:
		return true
	case statusCode == http.StatusNotImplemented:
		return false
	default:
		return statusCode >= 500 && statusCode < 600
	}
}

// retryAfter returns the server-requested delay carried by err, if any.
func retryAfter(err error) time.Duration {
	var te *TransientError
	if errors.As(err, &te) {
		return te.RetryAfter
	}
	return 0
}
