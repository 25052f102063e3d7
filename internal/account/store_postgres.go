package account

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"resogate/internal/score"
)

// PostgresStore persists score state in PostgreSQL.
//
// Expected tables (schema defaults to "resogate"):
//
//	accounts(address text primary key, score numeric not null,
//	         ledger_score integer not null default 0,
//	         last_ledger_sync timestamptz)
//	followers(owner_address text, follower_address text,
//	          primary key (owner_address, follower_address))
//	gate_configs(gate_id text primary key, min_score integer,
//	             session_timeout_seconds integer, poll_levels integer[],
//	             welcome text)
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// StoreOption configures PostgresStore.
type StoreOption func(*PostgresStore) error

// WithSchema sets the DB schema used by the store (default: "resogate").
func WithSchema(schema string) StoreOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return ErrBadAddress
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore constructs a PostgresStore.
// The pool is owned by the caller; Close here is a no-op.
func NewPostgresStore(pool *pgxpool.Pool, opts ...StoreOption) (*PostgresStore, error) {
	if pool == nil {
		return nil, errors.New("nil pool")
	}
	st := &PostgresStore{pool: pool, schema: "resogate"}
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

// Close implements Store. The pool belongs to the app.
func (s *PostgresStore) Close() error { return nil }

func pgIdent(schema, table string) string {
	return pgx.Identifier{schema, table}.Sanitize()
}

// Ensure implements Store.
func (s *PostgresStore) Ensure(ctx context.Context, address string, initialScore float64) (ScoreState, error) {
	addr := normalize(address)
	if addr == "" {
		return ScoreState{}, ErrBadAddress
	}
	accounts := pgIdent(s.schema, "accounts")

	_, err := s.pool.Exec(ctx,
		`INSERT INTO `+accounts+` (address, score, ledger_score)
		 VALUES ($1, $2, 0)
		 ON CONFLICT (address) DO NOTHING`,
		addr, score.Round2(initialScore),
	)
	if err != nil {
		return ScoreState{}, err
	}
	return s.Get(ctx, addr)
}

// Get implements Store.
func (s *PostgresStore) Get(ctx context.Context, address string) (ScoreState, error) {
	addr := normalize(address)
	if addr == "" {
		return ScoreState{}, ErrBadAddress
	}
	accounts := pgIdent(s.schema, "accounts")
	followers := pgIdent(s.schema, "followers")

	var st ScoreState
	var lastSync *time.Time
	err := s.pool.QueryRow(ctx,
		`SELECT a.address, a.score, a.ledger_score, a.last_ledger_sync,
		        (SELECT COUNT(*) FROM `+followers+` f WHERE f.owner_address = a.address)
		   FROM `+accounts+` a
		  WHERE a.address = $1`,
		addr,
	).Scan(&st.Address, &st.Score, &st.LedgerScore, &lastSync, &st.FollowerCount)
	if errors.Is(err, pgx.ErrNoRows) {
		return ScoreState{}, ErrNotFound
	}
	if err != nil {
		return ScoreState{}, err
	}
	if lastSync != nil {
		st.LastLedgerSync = *lastSync
	}
	return st, nil
}

// ApplyInteractions implements Store. The row is locked for the
// read-modify-write so concurrent interactions for one wallet cannot
// lose updates.
func (s *PostgresStore) ApplyInteractions(ctx context.Context, address string, n int) (ScoreState, error) {
	addr := normalize(address)
	if addr == "" {
		return ScoreState{}, ErrBadAddress
	}
	if n <= 0 {
		return ScoreState{}, ErrBadInteractionCount
	}
	accounts := pgIdent(s.schema, "accounts")

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return ScoreState{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var current float64
	err = tx.QueryRow(ctx,
		`SELECT score FROM `+accounts+` WHERE address = $1 FOR UPDATE`, addr,
	).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return ScoreState{}, ErrNotFound
	}
	if err != nil {
		return ScoreState{}, err
	}

	updated := score.ApplyInteractions(current, n)
	if _, err := tx.Exec(ctx,
		`UPDATE `+accounts+` SET score = $2 WHERE address = $1`, addr, updated,
	); err != nil {
		return ScoreState{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return ScoreState{}, err
	}
	return s.Get(ctx, addr)
}

// SetScore implements Store.
func (s *PostgresStore) SetScore(ctx context.Context, address string, v float64) error {
	addr := normalize(address)
	if addr == "" {
		return ErrBadAddress
	}
	accounts := pgIdent(s.schema, "accounts")

	tag, err := s.pool.Exec(ctx,
		`UPDATE `+accounts+` SET score = $2 WHERE address = $1`, addr, score.Round2(v),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// AddFollower implements Store.
func (s *PostgresStore) AddFollower(ctx context.Context, owner, follower string) error {
	o, f := normalize(owner), normalize(follower)
	if o == "" || f == "" || o == f {
		return ErrBadAddress
	}
	followers := pgIdent(s.schema, "followers")

	_, err := s.pool.Exec(ctx,
		`INSERT INTO `+followers+` (owner_address, follower_address)
		 VALUES ($1, $2)
		 ON CONFLICT DO NOTHING`,
		o, f,
	)
	return err
}

// FollowerScores implements Store. Scores come from the followers'
// current account rows, never from values cached on the follow edge.
func (s *PostgresStore) FollowerScores(ctx context.Context, owner string) ([]float64, error) {
	o := normalize(owner)
	if o == "" {
		return nil, ErrBadAddress
	}
	accounts := pgIdent(s.schema, "accounts")
	followers := pgIdent(s.schema, "followers")

	rows, err := s.pool.Query(ctx,
		`SELECT a.score
		   FROM `+followers+` f
		   JOIN `+accounts+` a ON a.address = f.follower_address
		  WHERE f.owner_address = $1`,
		o,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []float64
	for rows.Next() {
		var v float64
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// MarkSynced implements Store.
func (s *PostgresStore) MarkSynced(ctx context.Context, address string, ledgerScore int, at time.Time) error {
	addr := normalize(address)
	if addr == "" {
		return ErrBadAddress
	}
	accounts := pgIdent(s.schema, "accounts")

	tag, err := s.pool.Exec(ctx,
		`UPDATE `+accounts+`
		    SET ledger_score = $2, last_ledger_sync = $3
		  WHERE address = $1`,
		addr, ledgerScore, at,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
