package gate

import (
	"time"

	"resogate/internal/vault"
)

// Session is one verified member in one gated channel. It lives only in
// memory; the wallet address inside it exists only as a sealed handle.
type Session struct {
	GateID    string
	SubjectID string

	// Wallet is the sealed wallet address. Opening it requires the
	// process-local vault key; a failure to open means the handle was
	// tampered with and the session must die.
	Wallet     vault.Handle
	WalletHash string

	LastKnownScore int
	CanWrite       bool

	StartedAt      time.Time
	LastActivity   time.Time
	LastScoreCheck time.Time
	ExpiresAt      time.Time
}

// Expired reports whether the session passed its idle deadline.
func (s *Session) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// Extend pushes the idle deadline out by the gate's session timeout.
func (s *Session) Extend(now time.Time, timeout time.Duration) {
	s.LastActivity = now
	s.ExpiresAt = now.Add(timeout)
}

// RefreshDue reports whether enough time has passed since the last live
// score check. The throttle keeps a chatty member from turning every
// message into an upstream score request.
func (s *Session) RefreshDue(now time.Time, interval time.Duration) bool {
	return now.Sub(s.LastScoreCheck) >= interval
}

// Remaining returns the time until expiry.
func (s *Session) Remaining(now time.Time) time.Duration {
	return s.ExpiresAt.Sub(now)
}
