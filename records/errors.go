package records

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ValidationError is a malformed or missing request body
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string {
	return e.Msg
}

// PersistenceError is a failed read or write of the record store
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s failed: %s", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// ConfigurationError is a missing required setting or credential
type ConfigurationError struct {
	Msg string
}

func (e *ConfigurationError) Error() string {
	return e.Msg
}

// Upstream operations
const (
	OpFetch  = "fetch"
	OpCommit = "commit"
)

// UpstreamError is a non-2xx response from the source-control host,
// including a rejected commit because of a stale sha
type UpstreamError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("github %s failed with status %d: %s", e.Op, e.StatusCode, e.Body)
}

// IsConflict returns true if the host rejected a write because the file
// changed since it was read
func (e *UpstreamError) IsConflict() bool {
	return e.StatusCode == http.StatusConflict || e.StatusCode == http.StatusUnprocessableEntity
}

// MethodNotAllowedError is an unsupported method on a known route
type MethodNotAllowedError struct {
	Method  string
	Allowed []string
}

func (e *MethodNotAllowedError) Error() string {
	return fmt.Sprintf("method %s not allowed, use %s", e.Method, e.AllowHeader())
}

// AllowHeader returns the value for the Allow header
func (e *MethodNotAllowedError) AllowHeader() string {
	return strings.Join(e.Allowed, ", ")
}

// HTTPStatus maps an error to the status code returned to the client
func HTTPStatus(err error) int {
	var ve *ValidationError
	var ue *UpstreamError
	var me *MethodNotAllowedError
	switch {
	case err == nil:
		return http.StatusOK
	case errors.As(err, &ve):
		return http.StatusBadRequest
	case errors.As(err, &me):
		return http.StatusMethodNotAllowed
	case errors.As(err, &ue):
		if ue.StatusCode >= 400 {
			return ue.StatusCode
		}
		return http.StatusBadGateway
	}
	// PersistenceError, ConfigurationError and anything unexpected
	return http.StatusInternalServerError
}
