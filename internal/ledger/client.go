// Package ledger defines the contracts to the external ledger and the
// live score API. Both are collaborators: this repo decides when to
// call them, never how they work inside.
package ledger

import "context"

// Client submits resonance updates to the external ledger.
//
// Submissions for a given signer must be serialized by the caller: the
// ledger requires strictly monotonic per-signer sequence numbers, and
// concurrent submissions corrupt that sequence. The sync queue holds a
// global submission lock around every call.
type Client interface {
	// SubmitUpdate writes targetScore for the wallet and returns the
	// transaction id once the ledger confirms it. Implementations must
	// bound the confirmation wait themselves or honor ctx.
	SubmitUpdate(ctx context.Context, walletAddress string, targetScore int) (txID string, err error)

	// GetScore reads the value the ledger currently holds.
	GetScore(ctx context.Context, walletAddress string) (int, error)
}

// ScoreSource returns the externally computed live resonance for a
// wallet. Failures are transient and non-fatal; callers fall back to
// their cached value.
type ScoreSource interface {
	GetLiveScore(ctx context.Context, walletAddress string) (int, error)
}
