package gate

import (
	"sync"
	"time"
)

// pendingJoin is a wallet verification waiting for its owner to use the
// invite link. It is the only place a wallet address exists in
// plaintext, and only until the join (or expiry) consumes it.
type pendingJoin struct {
	gateID        string
	walletAddress string
	initialScore  int
	expiresAt     time.Time
}

// pendingStore maps single-use invite links to pending verifications.
// RAM-only: a restart drops every pending join, matching the session
// lifecycle.
type pendingStore struct {
	mu     sync.Mutex
	byLink map[string]pendingJoin
}

func newPendingStore() *pendingStore {
	return &pendingStore{byLink: make(map[string]pendingJoin)}
}

func (p *pendingStore) put(inviteLink string, pj pendingJoin) {
	p.mu.Lock()
	p.byLink[inviteLink] = pj
	p.mu.Unlock()
}

// claim removes and returns the pending join for a link. Exactly one
// caller can ever succeed for a given link; expired entries are treated
// as absent.
func (p *pendingStore) claim(inviteLink string, now time.Time) (pendingJoin, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	pj, ok := p.byLink[inviteLink]
	if !ok {
		return pendingJoin{}, false
	}
	delete(p.byLink, inviteLink)
	if now.After(pj.expiresAt) {
		return pendingJoin{}, false
	}
	return pj, true
}

// sweep drops expired entries and returns how many were removed.
func (p *pendingStore) sweep(now time.Time) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	var n int
	for link, pj := range p.byLink {
		if now.After(pj.expiresAt) {
			delete(p.byLink, link)
			n++
		}
	}
	return n
}

func (p *pendingStore) len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.byLink)
}
