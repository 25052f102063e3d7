package gate

import (
	"context"
	"sync"
	"time"

	"resogate/internal/captoken"
)

// Config is the per-gate admission policy. It survives restarts through
// a ConfigStore; sessions do not.
type Config struct {
	GateID string

	// MinScoreForWrite is the live resonance required to post.
	MinScoreForWrite int

	// SessionTimeout is the idle lifetime of a verified session.
	SessionTimeout time.Duration

	// PollScoreLevels are the score thresholds polls can be gated at.
	PollScoreLevels []int

	// Welcome replaces the default greeting in the join DM when set.
	Welcome string
}

// DefaultConfig returns the policy a gate starts with before an admin
// tunes it.
func DefaultConfig(gateID string) Config {
	return Config{
		GateID:           gateID,
		MinScoreForWrite: 50,
		SessionTimeout:   30 * time.Minute,
		PollScoreLevels:  []int{50, 55, 60, 65, 70, 75, 80, 85, 90, 95, 100},
	}
}

// Validate reports whether the config is usable.
func (c Config) Validate() error {
	if c.GateID == "" || c.MinScoreForWrite < 0 || c.SessionTimeout <= 0 {
		return ErrConfig
	}
	for _, l := range c.PollScoreLevels {
		if l < 0 {
			return ErrConfig
		}
	}
	return nil
}

// Thresholds adapts the config to capability derivation.
func (c Config) Thresholds() captoken.GateThresholds {
	return captoken.GateThresholds{
		MinScoreForWrite: c.MinScoreForWrite,
		PollScoreLevels:  c.PollScoreLevels,
	}
}

// ConfigStore persists per-gate policy.
type ConfigStore interface {
	// Load returns the stored config for a gate, or ErrConfigNotFound.
	Load(ctx context.Context, gateID string) (Config, error)

	// Save upserts a gate's config.
	Save(ctx context.Context, cfg Config) error
}

// MemoryConfigStore is the in-memory ConfigStore used in tests and
// single-node deployments without a database.
type MemoryConfigStore struct {
	mu   sync.Mutex
	byID map[string]Config
}

// NewMemoryConfigStore constructs an empty store.
func NewMemoryConfigStore() *MemoryConfigStore {
	return &MemoryConfigStore{byID: make(map[string]Config)}
}

// Load implements ConfigStore.
func (s *MemoryConfigStore) Load(_ context.Context, gateID string) (Config, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg, ok := s.byID[gateID]
	if !ok {
		return Config{}, ErrConfigNotFound
	}
	return cfg, nil
}

// Save implements ConfigStore.
func (s *MemoryConfigStore) Save(_ context.Context, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	s.byID[cfg.GateID] = cfg
	s.mu.Unlock()
	return nil
}
