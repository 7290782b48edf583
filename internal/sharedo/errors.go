// errors.go defines the error types raised by the Sharedo platform client. Callers
// branch on the typed errors' status codes (a 400 on template creation means the
// definition was rejected, a 404 on deletion means the template never existed), so
// each carries the remote status and body verbatim.
package sharedo

import (
	"errors"
	"fmt"
)

// ErrNoUploadedFiles is returned when the platform accepts an upload but
// reports zero stored file descriptors.
var ErrNoUploadedFiles = errors.New("platform returned no uploaded file descriptors")

// AuthenticationError represents a failed token exchange with the identity server
type AuthenticationError struct {
	StatusCode int
	Message    string
	Err        error
}

func (e *AuthenticationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("sharedo authentication failed: %s: %v", e.Message, e.Err)
	}
	return fmt.Sprintf("sharedo authentication failed: %s", e.Message)
}

func (e *AuthenticationError) Unwrap() error {
	return e.Err
}

// UploadError represents a failed document upload to the platform repository
type UploadError struct {
	StatusCode int
	Body       string
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("sharedo document upload failed: HTTP %d: %s", e.StatusCode, e.Body)
}

// TemplateCreationError represents a rejected template-admin create call.
// StatusCode 400 means the platform considered the definition invalid.
type TemplateCreationError struct {
	StatusCode int
	Body       string
}

func (e *TemplateCreationError) Error() string {
	return fmt.Sprintf("sharedo template creation failed: HTTP %d: %s", e.StatusCode, e.Body)
}

// InvalidDefinition reports whether the platform rejected the template
// definition itself rather than failing for some other reason.
func (e *TemplateCreationError) InvalidDefinition() bool {
	return e.StatusCode == 400
}

// APIError represents any other non-2xx response from the platform API
type APIError struct {
	StatusCode int
	Message    string
	Err        error
}

func (e *APIError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// NewAPIError creates a new API error
func NewAPIError(statusCode int, message string, err error) *APIError {
	return &APIError{
		StatusCode: statusCode,
		Message:    message,
		Err:        err,
	}
}
