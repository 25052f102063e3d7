package gate

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresConfigStore persists gate policy in PostgreSQL.
//
// Expected table (schema defaults to "resogate"):
//
//	gate_configs(gate_id text primary key, min_score integer not null,
//	             session_timeout_seconds integer not null,
//	             poll_levels integer[] not null,
//	             welcome text not null default '')
type PostgresConfigStore struct {
	pool   *pgxpool.Pool
	schema string
}

// ConfigStoreOption configures PostgresConfigStore.
type ConfigStoreOption func(*PostgresConfigStore) error

// WithConfigSchema sets the DB schema (default: "resogate").
func WithConfigSchema(schema string) ConfigStoreOption {
	return func(s *PostgresConfigStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return ErrConfig
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresConfigStore constructs a PostgresConfigStore.
// The pool is owned by the caller.
func NewPostgresConfigStore(pool *pgxpool.Pool, opts ...ConfigStoreOption) (*PostgresConfigStore, error) {
	if pool == nil {
		return nil, errors.New("nil pool")
	}
	st := &PostgresConfigStore{pool: pool, schema: "resogate"}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	return st, nil
}

func (s *PostgresConfigStore) table() string {
	return pgx.Identifier{s.schema, "gate_configs"}.Sanitize()
}

// Load implements ConfigStore.
func (s *PostgresConfigStore) Load(ctx context.Context, gateID string) (Config, error) {
	var cfg Config
	var timeoutSeconds int
	err := s.pool.QueryRow(ctx,
		`SELECT gate_id, min_score, session_timeout_seconds, poll_levels, welcome
		   FROM `+s.table()+`
		  WHERE gate_id = $1`,
		gateID,
	).Scan(&cfg.GateID, &cfg.MinScoreForWrite, &timeoutSeconds, &cfg.PollScoreLevels, &cfg.Welcome)
	if errors.Is(err, pgx.ErrNoRows) {
		return Config{}, ErrConfigNotFound
	}
	if err != nil {
		return Config{}, err
	}
	cfg.SessionTimeout = time.Duration(timeoutSeconds) * time.Second
	return cfg, nil
}

// Save implements ConfigStore.
func (s *PostgresConfigStore) Save(ctx context.Context, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO `+s.table()+` (gate_id, min_score, session_timeout_seconds, poll_levels, welcome)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (gate_id) DO UPDATE
		    SET min_score = EXCLUDED.min_score,
		        session_timeout_seconds = EXCLUDED.session_timeout_seconds,
		        poll_levels = EXCLUDED.poll_levels,
		        welcome = EXCLUDED.welcome`,
		cfg.GateID, cfg.MinScoreForWrite, int(cfg.SessionTimeout/time.Second), cfg.PollScoreLevels, cfg.Welcome,
	)
	return err
}
