package app

import "errors"

var (
	// ErrInvalidCredentials covers both unknown identifier and wrong password.
	// One message for both, so callers cannot probe which accounts exist.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrInvalidRefreshToken is returned for unknown, expired or revoked tokens.
	ErrInvalidRefreshToken = errors.New("invalid refresh token")

	// ErrLastAdmin blocks deleting the sole remaining admin of an institute.
	ErrLastAdmin = errors.New("cannot delete the last admin of the institute")
)
