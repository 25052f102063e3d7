package captoken

import "errors"

var (
	// ErrSecretTooShort is returned when the signing secret is under
	// the 32-byte minimum.
	ErrSecretTooShort = errors.New("token secret too short")

	// ErrInvalidToken covers every structural or signature failure.
	ErrInvalidToken = errors.New("invalid token")

	// ErrTokenExpired is returned for well-formed, correctly signed
	// tokens past their expiry.
	ErrTokenExpired = errors.New("token expired")

	// ErrBadCapability is returned for unknown capability wire forms.
	ErrBadCapability = errors.New("unknown capability")
)
