package vault

import "errors"

var (
	// ErrEmptyAddress is returned when sealing a blank wallet address.
	ErrEmptyAddress = errors.New("empty wallet address")

	// ErrOpen is returned when a handle fails authentication. It means
	// the handle was tampered with or was sealed by a previous process
	// incarnation; either way it is unrecoverable.
	ErrOpen = errors.New("vault open failed")
)
