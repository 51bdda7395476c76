package content

import "errors"

var (
	// ErrFragmentNotFound is returned when no fragment exists for an ID.
	ErrFragmentNotFound = errors.New("fragment not found")
	// ErrFileNotFound is returned when no file row exists for an ID.
	ErrFileNotFound = errors.New("file not found")
	// ErrFileTooLarge is returned when an upload exceeds the per-file size cap.
	ErrFileTooLarge = errors.New("file exceeds maximum size")
	// ErrQuotaExceeded is returned when an operation would exceed a resource
	// quota.
	ErrQuotaExceeded = errors.New("quota exceeded")

	errIDRequired         = errors.New("ID is required")
	errFragmentTitleEmpty = errors.New("title cannot be empty")
	errFileNameEmpty      = errors.New("file name cannot be empty")
	errOCRTransition      = errors.New("invalid ocr state transition")
)
