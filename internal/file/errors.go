package file

import "errors"

var (
	// ErrFileTooLarge signals that the upload exceeds configured limits.
	ErrFileTooLarge = errors.New("file too large")
	// ErrQuotaExceeded signals that the upload would take the owner past
	// the storage quota.
	ErrQuotaExceeded = errors.New("storage quota exceeded")
)
