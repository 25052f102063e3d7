package telegram

import "errors"

var (
	ErrNoToken = errors.New("missing telegram bot token")
	ErrAPICall = errors.New("telegram api call failed")
)
