package identity

import "errors"

// Shared error constants for identity services.
var (
	errUserIDEmpty      = errors.New("user id cannot be empty")
	errUserIDRequired   = errors.New("id is required")
	errEmailEmpty       = errors.New("email is required")
	errEmailPwdRequired = errors.New("email and password are required")

	// ErrUserNotFound is returned when no user matches the lookup.
	ErrUserNotFound = errors.New("user not found")
	// ErrUserExists is returned when creating a user whose email is taken.
	ErrUserExists = errors.New("user already exists")
	// ErrInvalidCredentials is returned on authentication failure.
	ErrInvalidCredentials = errors.New("invalid credentials")
)
