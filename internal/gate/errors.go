package gate

import "errors"

var (
	ErrConfig         = errors.New("invalid gate config")
	ErrConfigNotFound = errors.New("gate config not found")
	ErrNoSession      = errors.New("no active session")
	ErrNoPending      = errors.New("no pending verification for invite")
	ErrPollNotFound   = errors.New("poll not found")
	ErrPollClosed     = errors.New("poll closed")
	ErrBadOption      = errors.New("invalid poll option")
	ErrScoreTooLow    = errors.New("score below required level")
	ErrNotAdmin       = errors.New("admin only")
	ErrRateLimited    = errors.New("rate limited")
)
