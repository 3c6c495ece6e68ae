package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/atmx/wager-engine/internal/amount"
	"github.com/atmx/wager-engine/internal/model"
)

// Schema creates the tables used by PostgresStore. Amounts are NUMERIC(39,0),
// wide enough for the full 2^127 range.
const Schema = `
CREATE TABLE IF NOT EXISTS ledger_config (
	singleton      BOOLEAN PRIMARY KEY DEFAULT TRUE CHECK (singleton),
	currency       TEXT NOT NULL,
	operator       TEXT NOT NULL,
	initialized_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS propositions (
	id          BIGINT PRIMARY KEY,
	yes_pool    NUMERIC(39,0) NOT NULL DEFAULT 0,
	no_pool     NUMERIC(39,0) NOT NULL DEFAULT 0,
	state       TEXT NOT NULL,
	outcome     TEXT NOT NULL DEFAULT '',
	created_at  TIMESTAMPTZ NOT NULL,
	resolved_at TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS stakes (
	proposition_id BIGINT NOT NULL REFERENCES propositions (id),
	participant    TEXT NOT NULL,
	seq            INTEGER NOT NULL,
	entry_no       BIGSERIAL,
	id             TEXT NOT NULL UNIQUE,
	side           TEXT NOT NULL,
	amount         NUMERIC(39,0) NOT NULL CHECK (amount > 0),
	placed_at      TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (proposition_id, participant, seq)
);

CREATE TABLE IF NOT EXISTS settlements (
	proposition_id BIGINT NOT NULL REFERENCES propositions (id),
	participant    TEXT NOT NULL,
	amount         NUMERIC(39,0) NOT NULL,
	reference      TEXT NOT NULL,
	settled_at     TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (proposition_id, participant)
);
`

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact precision.
type PostgresStore struct {
	pgRepo
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pgRepo: pgRepo{q: pool}, pool: pool}
}

// Migrate applies Schema. It is idempotent.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// Atomic runs fn in a single database transaction. Propositions read through
// the transaction's Repo are locked FOR UPDATE until commit.
func (s *PostgresStore) Atomic(ctx context.Context, fn func(r Repo) error) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		return fn(&pgRepo{q: tx, forUpdate: true})
	})
}

type pgRepo struct {
	q         querier
	forUpdate bool
}

func (r *pgRepo) GetConfig(ctx context.Context) (*model.LedgerConfig, error) {
	var cfg model.LedgerConfig
	err := r.q.QueryRow(ctx,
		`SELECT currency, operator, initialized_at FROM ledger_config WHERE singleton`).
		Scan(&cfg.Currency, &cfg.Operator, &cfg.InitializedAt)
	if err != nil {
		return nil, wrapErr("get ledger config", err)
	}
	return &cfg, nil
}

func (r *pgRepo) InsertConfig(ctx context.Context, cfg *model.LedgerConfig) error {
	_, err := r.q.Exec(ctx,
		`INSERT INTO ledger_config (currency, operator, initialized_at) VALUES ($1, $2, $3)`,
		cfg.Currency, cfg.Operator, cfg.InitializedAt)
	return wrapErr("insert ledger config", err)
}

func (r *pgRepo) InsertProposition(ctx context.Context, p *model.Proposition) error {
	_, err := r.q.Exec(ctx,
		`INSERT INTO propositions (id, yes_pool, no_pool, state, outcome, created_at, resolved_at)
		 VALUES ($1, $2::NUMERIC, $3::NUMERIC, $4, $5, $6, $7)`,
		int64(p.ID), p.YesPool.String(), p.NoPool.String(),
		string(p.State), string(p.Outcome), p.CreatedAt, p.ResolvedAt,
	)
	return wrapErr(fmt.Sprintf("insert proposition %d", p.ID), err)
}

func (r *pgRepo) GetProposition(ctx context.Context, id model.PropositionID) (*model.Proposition, error) {
	q := `SELECT id, yes_pool::TEXT, no_pool::TEXT, state, outcome, created_at, resolved_at
	      FROM propositions WHERE id = $1`
	if r.forUpdate {
		q += ` FOR UPDATE`
	}
	p, err := scanProposition(r.q.QueryRow(ctx, q, int64(id)))
	if err != nil {
		return nil, wrapErr(fmt.Sprintf("get proposition %d", id), err)
	}
	return p, nil
}

func (r *pgRepo) UpdateProposition(ctx context.Context, p *model.Proposition) error {
	tag, err := r.q.Exec(ctx,
		`UPDATE propositions
		 SET yes_pool = $2::NUMERIC, no_pool = $3::NUMERIC,
		     state = $4, outcome = $5, resolved_at = $6
		 WHERE id = $1`,
		int64(p.ID), p.YesPool.String(), p.NoPool.String(),
		string(p.State), string(p.Outcome), p.ResolvedAt,
	)
	if err != nil {
		return wrapErr(fmt.Sprintf("update proposition %d", p.ID), err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update proposition %d: %w", p.ID, ErrNotFound)
	}
	return nil
}

func (r *pgRepo) ListPropositions(ctx context.Context) ([]model.Proposition, error) {
	rows, err := r.q.Query(ctx,
		`SELECT id, yes_pool::TEXT, no_pool::TEXT, state, outcome, created_at, resolved_at
		 FROM propositions ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var props []model.Proposition
	for rows.Next() {
		p, err := scanProposition(rows)
		if err != nil {
			return nil, err
		}
		props = append(props, *p)
	}
	return props, rows.Err()
}

func (r *pgRepo) AppendStake(ctx context.Context, id model.PropositionID, participant string, e *model.StakeEntry) error {
	// seq is derived under the proposition row lock taken by GetProposition.
	_, err := r.q.Exec(ctx,
		`INSERT INTO stakes (proposition_id, participant, seq, id, side, amount, placed_at)
		 VALUES ($1, $2,
		         (SELECT COALESCE(MAX(seq), 0) + 1 FROM stakes WHERE proposition_id = $1 AND participant = $2),
		         $3, $4, $5::NUMERIC, $6)`,
		int64(id), participant, e.ID, string(e.Side), e.Amount.String(), e.PlacedAt,
	)
	return wrapErr(fmt.Sprintf("append stake %d/%s", id, participant), err)
}

func (r *pgRepo) GetStakes(ctx context.Context, id model.PropositionID, participant string) ([]model.StakeEntry, error) {
	rows, err := r.q.Query(ctx,
		`SELECT id, side, amount::TEXT, placed_at
		 FROM stakes WHERE proposition_id = $1 AND participant = $2 ORDER BY seq`,
		int64(id), participant)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := []model.StakeEntry{}
	for rows.Next() {
		var e model.StakeEntry
		var side, amt string
		if err := rows.Scan(&e.ID, &side, &amt, &e.PlacedAt); err != nil {
			return nil, err
		}
		e.Side = model.Side(side)
		if e.Amount, err = amount.Parse(amt); err != nil {
			return nil, fmt.Errorf("stake %s: %w", e.ID, err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (r *pgRepo) ListParticipants(ctx context.Context, id model.PropositionID) ([]string, error) {
	rows, err := r.q.Query(ctx,
		`SELECT participant FROM stakes WHERE proposition_id = $1
		 GROUP BY participant ORDER BY MIN(entry_no)`, int64(id))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	participants := []string{}
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		participants = append(participants, p)
	}
	return participants, rows.Err()
}

func (r *pgRepo) InsertSettlement(ctx context.Context, s *model.Settlement) error {
	_, err := r.q.Exec(ctx,
		`INSERT INTO settlements (proposition_id, participant, amount, reference, settled_at)
		 VALUES ($1, $2, $3::NUMERIC, $4, $5)`,
		int64(s.PropositionID), s.Participant, s.Amount.String(), s.Reference, s.SettledAt,
	)
	return wrapErr(fmt.Sprintf("insert settlement %d/%s", s.PropositionID, s.Participant), err)
}

func (r *pgRepo) GetSettlement(ctx context.Context, id model.PropositionID, participant string) (*model.Settlement, error) {
	s := model.Settlement{PropositionID: id, Participant: participant}
	var amt string
	err := r.q.QueryRow(ctx,
		`SELECT amount::TEXT, reference, settled_at
		 FROM settlements WHERE proposition_id = $1 AND participant = $2`,
		int64(id), participant).
		Scan(&amt, &s.Reference, &s.SettledAt)
	if err != nil {
		return nil, wrapErr(fmt.Sprintf("get settlement %d/%s", id, participant), err)
	}
	if s.Amount, err = amount.Parse(amt); err != nil {
		return nil, err
	}
	return &s, nil
}

func scanProposition(row pgx.Row) (*model.Proposition, error) {
	var p model.Proposition
	var id int64
	var yes, no, state, outcome string
	var resolvedAt *time.Time

	if err := row.Scan(&id, &yes, &no, &state, &outcome, &p.CreatedAt, &resolvedAt); err != nil {
		return nil, err
	}

	var err error
	p.ID = model.PropositionID(id)
	if p.YesPool, err = amount.Parse(yes); err != nil {
		return nil, err
	}
	if p.NoPool, err = amount.Parse(no); err != nil {
		return nil, err
	}
	p.State = model.State(state)
	p.Outcome = model.Outcome(outcome)
	p.ResolvedAt = resolvedAt
	return &p, nil
}

// wrapErr maps driver errors onto the store sentinels.
func wrapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" { // unique_violation
		return fmt.Errorf("%s: %w", op, ErrConflict)
	}
	return fmt.Errorf("%s: %w", op, err)
}

var (
	_ Store = (*PostgresStore)(nil)
	_ Repo  = (*pgRepo)(nil)
)
