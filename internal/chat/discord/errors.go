package discord

import "errors"

var (
	ErrNoToken    = errors.New("missing discord bot token")
	ErrNoGuild    = errors.New("missing discord guild id")
	ErrAPICall    = errors.New("discord api call failed")
	ErrGateway    = errors.New("discord gateway failure")
	ErrReidentify = errors.New("gateway asked for a new session")
)
