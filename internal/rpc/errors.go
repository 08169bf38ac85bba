// Package rpc implements the HTTP client for the coordination server: typed
// wrappers over the server endpoints, exponential-backoff retry on
// transport errors, and sentinel-error classification of server logical
// errors.
package rpc

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors for server logical-error classification.
// Use errors.Is(err, rpc.ErrFileDeleted) to check.
var (
	ErrInvalidAuth          = errors.New("rpc: invalid auth")
	ErrExpiredAuth          = errors.New("rpc: expired auth")
	ErrUsernameTaken        = errors.New("rpc: username taken")
	ErrFileNotFound         = errors.New("rpc: file not found")
	ErrFileDeleted          = errors.New("rpc: file deleted")
	ErrPathTaken            = errors.New("rpc: path taken")
	ErrIncorrectOldVersion  = errors.New("rpc: incorrect old version")
	ErrParentDoesNotExist   = errors.New("rpc: parent does not exist")
	ErrWrongFileType        = errors.New("rpc: wrong file type")
	ErrFileIDTaken          = errors.New("rpc: file id taken")
	ErrThrottled            = errors.New("rpc: throttled")
	ErrServerError          = errors.New("rpc: server error")
	ErrTransport            = errors.New("rpc: transport error")
	ErrTimeout              = errors.New("rpc: timeout")
)

// ServerError wraps a sentinel error with the HTTP status code and the raw
// server-supplied error code string, for debugging and user-facing messages.
type ServerError struct {
	StatusCode int
	Code       string
	Err        error
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("rpc: HTTP %d (%s)", e.StatusCode, e.Code)
}

func (e *ServerError) Unwrap() error {
	return e.Err
}

// classifyLogicalError maps a server-supplied error code to a sentinel.
func classifyLogicalError(code string) error {
	switch code {
	case "invalid_auth":
		return ErrInvalidAuth
	case "expired_auth":
		return ErrExpiredAuth
	case "username_taken":
		return ErrUsernameTaken
	case "file_not_found":
		return ErrFileNotFound
	case "deleted":
		return ErrFileDeleted
	case "file_path_taken":
		return ErrPathTaken
	case "incorrect_old_version":
		return ErrIncorrectOldVersion
	case "parent_does_not_exist":
		return ErrParentDoesNotExist
	case "wrong_file_type":
		return ErrWrongFileType
	case "file_id_taken":
		return ErrFileIDTaken
	default:
		return ErrServerError
	}
}

// classifyStatus maps a bare HTTP status with no parseable error body to a
// sentinel, for transport-layer failures the server can't describe itself.
func classifyStatus(code int) error {
	switch {
	case code == http.StatusTooManyRequests:
		return ErrThrottled
	case code == http.StatusUnauthorized:
		return ErrInvalidAuth
	case code == http.StatusConflict:
		return ErrIncorrectOldVersion
	case code == http.StatusGone:
		return ErrFileDeleted
	case code >= http.StatusInternalServerError:
		return ErrServerError
	default:
		return ErrServerError
	}
}

// isRetryable reports whether a transport-level failure (no HTTP response,
// or a 5xx/429 response) should be retried. Logical errors (4xx other than
// 429) are never retried.
func isRetryable(statusCode int) bool {
	switch statusCode {
	case 0, http.StatusRequestTimeout, http.StatusTooManyRequests,
		http.StatusInternalServerError, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}
