package chat

import "context"

// Handler receives platform events. The gate manager implements it;
// adapters translate raw platform updates into these calls and nothing
// else.
type Handler interface {
	// OnJoin fires when a member enters a gated channel. inviteLink is
	// the link that admitted them.
	OnJoin(ctx context.Context, gateID, subjectID, inviteLink string) error

	// OnLeave fires when a member leaves or is removed.
	OnLeave(ctx context.Context, gateID, subjectID string)

	// OnMessage fires for every channel message. replyToID is the id of
	// the message being replied to, or empty.
	OnMessage(ctx context.Context, gateID, subjectID, text, replyToID string)
}
