// Package resilience classifies failures so run summaries can tell a flaky
// source from a broken one. Nothing here retries: a failed provider cycle is
// picked up again by the next scheduled run.
package resilience

import (
	"context"
	"errors"
	"net"
	"strings"
	"syscall"

	"github.com/jackc/pgx/v5/pgconn"
)

// Class labels a failure for reporting.
type Class string

// Failure classes.
const (
	ClassTransient Class = "transient"
	ClassPermanent Class = "permanent"
)

// TransientError wraps an error that is expected to clear on its own
// (e.g., 429, 5xx, network timeout).
type TransientError struct {
	Err        error
	StatusCode int
}

func (e *TransientError) Error() string {
	return e.Err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// NewTransientError wraps an error as transient with an optional HTTP status code.
func NewTransientError(err error, statusCode int) *TransientError {
	return &TransientError{Err: err, StatusCode: statusCode}
}

// httpStatuser is implemented by errors that carry an HTTP response status.
type httpStatuser interface {
	HTTPStatus() int
}

// ClassifyError returns the class of err, or "" for nil.
func ClassifyError(err error) Class {
	if err == nil {
		return ""
	}
	if IsTransient(err) {
		return ClassTransient
	}
	return ClassPermanent
}

// IsTransient returns true if the error (or any error in its chain) is a
// TransientError, an HTTP status or database condition that usually clears,
// a deadline, or matches common transient network patterns.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var te *TransientError
	if errors.As(err, &te) {
		return true
	}

	var hs httpStatuser
	if errors.As(err, &hs) {
		return IsTransientHTTPStatus(hs.HTTPStatus())
	}

	if errors.Is(err, context.DeadlineExceeded) || pgconn.Timeout(err) {
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return isTransientSQLState(pgErr.Code)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) {
		return true
	}

	msg := strings.ToLower(err.Error())
	transientPatterns := []string{
		"connection reset by peer",
		"broken pipe",
		"temporary failure in name resolution",
		"no such host",
		"tls handshake timeout",
		"i/o timeout",
		"server closed idle connection",
		"transport connection broken",
	}
	for _, p := range transientPatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}

	return false
}

// isTransientSQLState reports connection exceptions (08), transaction
// rollbacks such as deadlocks (40), insufficient resources (53) and operator
// intervention (57) as transient.
func isTransientSQLState(code string) bool {
	if len(code) < 2 {
		return false
	}
	switch code[:2] {
	case "08", "40", "53", "57":
		return true
	}
	return false
}

// IsTransientHTTPStatus returns true if the HTTP status code indicates a
// transient server-side issue.
func IsTransientHTTPStatus(statusCode int) bool {
	switch statusCode {
	case 408, // Request Timeout
		429, // Too Many Requests
		500, // Internal Server Error
		502, // Bad Gateway
		503, // Service Unavailable
		504: // Gateway Timeout
		return true
	default:
		return false
	}
}
