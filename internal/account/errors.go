package account

import "errors"

var (
	ErrNotFound            = errors.New("account not found")
	ErrBadAddress          = errors.New("invalid wallet address")
	ErrBadInteractionCount = errors.New("interaction count must be positive")
)
