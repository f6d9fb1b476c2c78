package resilience

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"
)

// Retryable is implemented by errors that know whether sending the same
// request again can succeed.
type Retryable interface {
	Retryable() bool
}

// TransientStatus reports provider body statuses that clear on their own:
// per-second quota bursts and server-side hiccups. The Maps web services
// return them with HTTP 200.
func TransientStatus(status string) bool {
	switch status {
	case "OVER_QUERY_LIMIT", "UNKNOWN_ERROR", "RESOURCE_EXHAUSTED":
		return true
	default:
		return false
	}
}

// HTTPError is a response whose HTTP status is not 200.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.StatusCode, e.Body)
}

// Retryable reports whether the status is one a later attempt may clear.
func (e *HTTPError) Retryable() bool {
	return IsTransientHTTPStatus(e.StatusCode)
}

type retryError struct {
	err error
}

func (e *retryError) Error() string   { return e.err.Error() }
func (e *retryError) Unwrap() error   { return e.err }
func (e *retryError) Retryable() bool { return true }

// Retry marks err as worth another attempt whatever its type.
func Retry(err error) error {
	if err == nil {
		return nil
	}
	return &retryError{err: err}
}

// IsTransient reports whether err is worth retrying. An error in the chain
// implementing Retryable decides; otherwise network timeouts and dropped
// connections are transient and everything else is permanent.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var r Retryable
	if errors.As(err, &r) {
		return r.Retryable()
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNABORTED) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, p := range []string{
		"connection reset by peer",
		"broken pipe",
		"temporary failure in name resolution",
		"tls handshake timeout",
		"i/o timeout",
		"server closed idle connection",
	} {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

// IsTransientHTTPStatus reports HTTP statuses that are safe to retry.
func IsTransientHTTPStatus(statusCode int) bool {
	switch statusCode {
	case 408, 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}
