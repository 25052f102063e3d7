// Package account persists per-wallet score state: the decimal own
// score, follower edges, and the cached value last committed to the
// external ledger.
//
// Wallet addresses are stored lowercased. Sessions and pending tokens
// are deliberately NOT persisted here; only score state survives a
// restart.
package account

import (
	"context"
	"time"
)

// ScoreState is one wallet's stored reputation state.
type ScoreState struct {
	Address        string
	Score          float64
	FollowerCount  int
	LedgerScore    int
	LastLedgerSync time.Time
}

// Store is the persistence boundary for score state.
type Store interface {
	// Ensure creates the account with the initial score if it does not
	// exist and returns the current state either way.
	Ensure(ctx context.Context, address string, initialScore float64) (ScoreState, error)

	// Get returns the account state. ErrNotFound if unknown.
	Get(ctx context.Context, address string) (ScoreState, error)

	// ApplyInteractions applies n interactions through the tiered
	// growth model atomically and returns the new state.
	ApplyInteractions(ctx context.Context, address string, n int) (ScoreState, error)

	// SetScore overwrites the own score (administrative correction).
	SetScore(ctx context.Context, address string, score float64) error

	// AddFollower records a follow edge; idempotent.
	AddFollower(ctx context.Context, owner, follower string) error

	// FollowerScores returns the CURRENT scores of all followers of
	// owner, reading each follower's live account row. Followers with
	// no account row are skipped.
	FollowerScores(ctx context.Context, owner string) ([]float64, error)

	// MarkSynced records a committed ledger value for the address.
	MarkSynced(ctx context.Context, address string, ledgerScore int, at time.Time) error

	// Close releases store resources.
	Close() error
}
