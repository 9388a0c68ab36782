// Package protocol defines the screenshot API request/response types.
package protocol

import "github.com/adamskus05/screenie/pkg/models"

// Operation is a per-item mutation kind.
type Operation string

const (
	OpMove   Operation = "move"
	OpCopy   Operation = "copy"
	OpDelete Operation = "delete"
)

// Valid reports whether op is a known operation.
func (op Operation) Valid() bool {
	switch op {
	case OpMove, OpCopy, OpDelete:
		return true
	}
	return false
}

// Past returns the past-tense verb used in user messages.
func (op Operation) Past() string {
	switch op {
	case OpMove:
		return "moved"
	case OpCopy:
		return "copied"
	case OpDelete:
		return "deleted"
	}
	return string(op)
}

// FoldersResponse is returned by GET /folders
type FoldersResponse struct {
	Folders       []models.Folder `json:"folders"`
	DefaultFolder string          `json:"default_folder"`
}

// CreateFolderRequest is the body for POST /folder
type CreateFolderRequest struct {
	Name string `json:"name"`
}

// MoveRequest is the body for POST /move_screenshot
type MoveRequest struct {
	SourceFolder string    `json:"source_folder"`
	TargetFolder string    `json:"target_folder"`
	Filename     string    `json:"filename"`
	Operation    Operation `json:"operation"`
}

// LoginRequest is the body for POST /login
type LoginRequest struct {
	Username  string `json:"username"`
	Password  string `json:"password"`
	Permanent bool   `json:"_permanent"`
}

// AuthStatusResponse is returned by GET /check-auth
type AuthStatusResponse struct {
	Authenticated bool `json:"authenticated"`
}

// MutationResponse is the generic body of mutation endpoints.
type MutationResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
}

// UploadResponse is returned by POST /upload
type UploadResponse struct {
	Success bool   `json:"success"`
	Path    string `json:"path"`
	Error   string `json:"error,omitempty"`
}

// LoginResponse is returned by POST /login
type LoginResponse struct {
	Success bool   `json:"success"`
	UserID  int    `json:"user_id"`
	Error   string `json:"error,omitempty"`
}

// ErrorResponse is returned on API errors.
type ErrorResponse struct {
	Error string `json:"error"`
}
