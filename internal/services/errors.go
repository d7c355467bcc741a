package services

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a configuration is absent or owned by another user.
	ErrNotFound = errors.New("configuration not found")
	// ErrDuplicateServerName is returned when the user already has a server with that name.
	ErrDuplicateServerName = errors.New("a server with this name already exists")
	// ErrDecryption is returned when a stored token cannot be decrypted with the current key.
	ErrDecryption = errors.New("token decryption failed")
	// ErrConflict is returned when an update carries a stale revision.
	ErrConflict = errors.New("configuration was modified concurrently")

	ErrTokenEncryptionFailed = errors.New("token encryption failed")
	ErrInvalidEncryptionKey  = errors.New("invalid encryption key")
)

// ValidationError reports malformed input. It is raised before any side effect.
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

// UnsafeURLError reports a URL rejected by the SSRF policy.
type UnsafeURLError struct {
	URL    string
	Reason string
}

func (e *UnsafeURLError) Error() string {
	return fmt.Sprintf("unsafe url: %s", e.Reason)
}

// IsValidationError reports whether err is a ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsUnsafeURLError reports whether err is an UnsafeURLError.
func IsUnsafeURLError(err error) bool {
	var ue *UnsafeURLError
	return errors.As(err, &ue)
}

// UserMessage converts an error from the store into text that is safe to show
// to the requesting user. Unknown errors collapse to a generic message.
func UserMessage(err error) string {
	var ve *ValidationError
	var ue *UnsafeURLError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &ve):
		return ve.Error()
	case errors.As(err, &ue):
		return "That URL is not allowed: " + ue.Reason
	case errors.Is(err, ErrDuplicateServerName):
		return "You already have a server with that name."
	case errors.Is(err, ErrNotFound):
		return "Server configuration not found."
	case errors.Is(err, ErrConflict):
		return "The configuration changed while you were editing it. Please reload and try again."
	}
	return "Something went wrong. Please try again later."
}
