package ledger

import "errors"

var (
	// ErrScoreUnavailable wraps transient score API failures.
	ErrScoreUnavailable = errors.New("live score unavailable")

	// ErrSubmitFailed wraps ledger submission failures; the sync queue
	// retries these up to its ceiling.
	ErrSubmitFailed = errors.New("ledger submit failed")
)
