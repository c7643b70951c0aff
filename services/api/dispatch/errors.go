package dispatch

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	ErrServiceDisabled     = errors.New("dispatch API is disabled")
	ErrUnauthorized        = errors.New("invalid API key")
	ErrMethodNotAllowed    = errors.New("method not allowed")
	ErrInvalidAction       = errors.New("invalid action")
	ErrTransmissionNotOpen = errors.New("transmission not found or already closed")
	ErrMissingAudioFile    = errors.New("audio file missing")
	ErrPayloadTooLarge     = errors.New("audio file too large")
)

// MissingFieldError lists required fields that were missing, null or empty.
type MissingFieldError struct {
	Fields []string
}

func (e *MissingFieldError) Error() string {
	return "missing required fields: " + strings.Join(e.Fields, ", ")
}

// InvalidFieldError reports a field that is present but malformed.
type InvalidFieldError struct {
	Field  string
	Reason string
}

func (e *InvalidFieldError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// UploadError is a transfer failure reported by the multipart reader.
type UploadError struct {
	Err error
}

func (e *UploadError) Error() string {
	return "audio upload failed: " + e.Err.Error()
}

func (e *UploadError) Unwrap() error { return e.Err }

// StorageWriteError means the audio file could not be persisted.
type StorageWriteError struct {
	Path string
	Err  error
}

func (e *StorageWriteError) Error() string {
	return fmt.Sprintf("save audio file %s: %v", e.Path, e.Err)
}

func (e *StorageWriteError) Unwrap() error { return e.Err }

// IsValidation reports whether err is a client-side validation failure.
func IsValidation(err error) bool {
	var missing *MissingFieldError
	var invalid *InvalidFieldError
	var upload *UploadError
	switch {
	case errors.As(err, &missing), errors.As(err, &invalid), errors.As(err, &upload):
		return true
	case errors.Is(err, ErrInvalidAction),
		errors.Is(err, ErrTransmissionNotOpen),
		errors.Is(err, ErrMissingAudioFile),
		errors.Is(err, ErrPayloadTooLarge):
		return true
	}
	return false
}

// StatusCode maps an ingestion error onto the HTTP status returned to the
// field device.
func StatusCode(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrServiceDisabled):
		return http.StatusServiceUnavailable
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, ErrMethodNotAllowed):
		return http.StatusMethodNotAllowed
	case IsValidation(err):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
