package client

import (
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"

	v "github.com/go-ozzo/ozzo-validation/v4"
)

// ErrUnauthorized is returned for 401 responses. The session must be
// re-established; callers never retry it.
var ErrUnauthorized = errors.New("authentication required")

// IsAuth reports whether err means the session is no longer valid.
func IsAuth(err error) bool {
	return errors.Is(err, ErrUnauthorized)
}

// NetworkError is a transport-level failure (connection refused, reset, DNS).
type NetworkError struct {
	Op  string
	URL string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// RemoteError is a non-2xx response, carrying the server's error message.
type RemoteError struct {
	Status  int
	Message string
}

func (e *RemoteError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server returned %d", e.Status)
	}
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
}

// Is makes errors.Is(err, ErrUnauthorized) hold for 401 responses.
func (e *RemoteError) Is(target error) bool {
	return target == ErrUnauthorized && e.Status == http.StatusUnauthorized
}

// AsRemote checks if an error is a RemoteError and returns it.
func AsRemote(err error) (*RemoteError, bool) {
	var re *RemoteError
	if errors.As(err, &re) {
		return re, true
	}
	return nil, false
}

// ValidationError is returned for input rejected before any request is made.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// NewValidationError creates a ValidationError.
func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// AsValidation checks if an error is a ValidationError and returns it.
func AsValidation(err error) (*ValidationError, bool) {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve, true
	}
	return nil, false
}

// FromValidation converts an ozzo-validation result into a ValidationError.
func FromValidation(field string, err error) error {
	if err == nil {
		return nil
	}
	var errs v.Errors
	if errors.As(err, &errs) {
		for name, fieldErr := range errs {
			return &ValidationError{Field: name, Reason: fieldErr.Error()}
		}
	}
	return &ValidationError{Field: field, Reason: err.Error()}
}

// ResourceError is an image fetch or decode failure.
type ResourceError struct {
	Locator string
	Err     error
}

func (e *ResourceError) Error() string {
	return fmt.Sprintf("load image %s: %v", e.Locator, e.Err)
}

func (e *ResourceError) Unwrap() error {
	return e.Err
}

var folderNameRe = regexp.MustCompile(`^[^/\\]+$`)

// ValidateFolderName checks a user-supplied folder name.
func ValidateFolderName(name string) error {
	name = strings.TrimSpace(name)
	err := v.Validate(name,
		v.Required.Error("folder name is required"),
		v.Length(1, 128),
		v.Match(folderNameRe).Error("folder name must not contain slashes"),
		v.NotIn(allFolderName).Error("folder name is reserved"),
	)
	return FromValidation("name", err)
}

const allFolderName = "all"
