package syncq

import "errors"

var (
	ErrNilClient = errors.New("nil ledger client")
	ErrConfig    = errors.New("invalid syncq config")
	ErrQueueFull = errors.New("sync queue full")
)
