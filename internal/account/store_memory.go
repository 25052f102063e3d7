package account

import (
	"context"
	"strings"
	"sync"
	"time"

	"resogate/internal/score"
)

// MemoryStore is the fallback when no database is configured. It keeps
// the same semantics as the postgres store, including current-score
// follower reads.
type MemoryStore struct {
	mu        sync.Mutex
	accounts  map[string]*ScoreState
	followers map[string]map[string]struct{} // owner -> set of follower addresses
}

// NewMemoryStore constructs an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts:  make(map[string]*ScoreState),
		followers: make(map[string]map[string]struct{}),
	}
}

// Close implements Store (noop).
func (s *MemoryStore) Close() error { return nil }

func normalize(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}

// Ensure implements Store.
func (s *MemoryStore) Ensure(ctx context.Context, address string, initialScore float64) (ScoreState, error) {
	if err := ctx.Err(); err != nil {
		return ScoreState{}, err
	}
	addr := normalize(address)
	if addr == "" {
		return ScoreState{}, ErrBadAddress
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if st, ok := s.accounts[addr]; ok {
		return s.snapshot(st), nil
	}
	st := &ScoreState{Address: addr, Score: score.Round2(initialScore)}
	s.accounts[addr] = st
	return s.snapshot(st), nil
}

// Get implements Store.
func (s *MemoryStore) Get(ctx context.Context, address string) (ScoreState, error) {
	if err := ctx.Err(); err != nil {
		return ScoreState{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.accounts[normalize(address)]
	if !ok {
		return ScoreState{}, ErrNotFound
	}
	return s.snapshot(st), nil
}

// ApplyInteractions implements Store.
func (s *MemoryStore) ApplyInteractions(ctx context.Context, address string, n int) (ScoreState, error) {
	if err := ctx.Err(); err != nil {
		return ScoreState{}, err
	}
	if n <= 0 {
		return ScoreState{}, ErrBadInteractionCount
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.accounts[normalize(address)]
	if !ok {
		return ScoreState{}, ErrNotFound
	}
	st.Score = score.ApplyInteractions(st.Score, n)
	return s.snapshot(st), nil
}

// SetScore implements Store.
func (s *MemoryStore) SetScore(ctx context.Context, address string, v float64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.accounts[normalize(address)]
	if !ok {
		return ErrNotFound
	}
	st.Score = score.Round2(v)
	return nil
}

// AddFollower implements Store.
func (s *MemoryStore) AddFollower(ctx context.Context, owner, follower string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	o, f := normalize(owner), normalize(follower)
	if o == "" || f == "" || o == f {
		return ErrBadAddress
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	set, ok := s.followers[o]
	if !ok {
		set = make(map[string]struct{})
		s.followers[o] = set
	}
	set[f] = struct{}{}
	return nil
}

// FollowerScores implements Store.
func (s *MemoryStore) FollowerScores(ctx context.Context, owner string) ([]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	set := s.followers[normalize(owner)]
	if len(set) == 0 {
		return nil, nil
	}
	out := make([]float64, 0, len(set))
	for f := range set {
		if st, ok := s.accounts[f]; ok {
			out = append(out, st.Score)
		}
	}
	return out, nil
}

// MarkSynced implements Store.
func (s *MemoryStore) MarkSynced(ctx context.Context, address string, ledgerScore int, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.accounts[normalize(address)]
	if !ok {
		return ErrNotFound
	}
	st.LedgerScore = ledgerScore
	st.LastLedgerSync = at
	return nil
}

// snapshot copies state and fills the derived follower count.
// Caller must hold s.mu.
func (s *MemoryStore) snapshot(st *ScoreState) ScoreState {
	out := *st
	out.FollowerCount = len(s.followers[st.Address])
	return out
}
