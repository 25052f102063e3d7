// Package chat defines the contract between the admission-control core
// and a chat platform. Adapters (telegram, discord) implement Messenger
// and feed platform events into the gate manager; the core never talks
// to a platform API directly.
package chat

import "context"

// Messenger is the side-effect surface of one chat platform.
//
// GateID identifies the gated channel in platform terms (telegram chat
// id, discord guild/channel id). SubjectID identifies a member within
// that channel. Neither is ever linked to a wallet address outside a
// live session.
type Messenger interface {
	// GrantWrite lifts the platform mute for a member.
	GrantWrite(ctx context.Context, gateID, subjectID string) error

	// RevokeWrite mutes a member.
	RevokeWrite(ctx context.Context, gateID, subjectID string) error

	// Send posts a message to the channel and returns the platform
	// message id (used to bind poll votes to the poll post).
	Send(ctx context.Context, gateID, text string) (messageID string, err error)

	// SendTo posts a message addressed at one member.
	SendTo(ctx context.Context, gateID, subjectID, text string) error

	// CreateInvite creates a fresh single-use invite link for the
	// channel. Each link is consumed by exactly one join.
	CreateInvite(ctx context.Context, gateID string) (inviteLink string, err error)

	// IsAdmin reports whether the member administers the channel.
	IsAdmin(ctx context.Context, gateID, subjectID string) (bool, error)
}
