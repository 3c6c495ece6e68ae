// Package store defines the persistence interface for the wager engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
package store

import (
	"context"
	"errors"

	"github.com/atmx/wager-engine/internal/model"
)

var (
	// ErrNotFound is returned when no record exists under the requested key.
	ErrNotFound = errors.New("store: record not found")

	// ErrConflict is returned when an insert collides with an existing key.
	ErrConflict = errors.New("store: record already exists")
)

// Repo exposes get/set per logical entity. Every record is addressed by its
// exact key; nothing requires a scan.
type Repo interface {
	// --- Bootstrap ---

	// GetConfig returns the ledger configuration or ErrNotFound.
	GetConfig(ctx context.Context) (*model.LedgerConfig, error)

	// InsertConfig writes the configuration once; ErrConflict afterwards.
	InsertConfig(ctx context.Context, cfg *model.LedgerConfig) error

	// --- Propositions ---

	// InsertProposition persists a new proposition; ErrConflict on duplicates.
	InsertProposition(ctx context.Context, p *model.Proposition) error

	// GetProposition retrieves a proposition by id. Inside Atomic the
	// implementation locks the record for the rest of the transaction.
	GetProposition(ctx context.Context, id model.PropositionID) (*model.Proposition, error)

	// UpdateProposition overwrites pools, state and outcome.
	UpdateProposition(ctx context.Context, p *model.Proposition) error

	// ListPropositions returns all propositions ordered by id.
	ListPropositions(ctx context.Context) ([]model.Proposition, error)

	// --- Stake history ---

	// AppendStake appends an entry to a participant's history.
	AppendStake(ctx context.Context, id model.PropositionID, participant string, entry *model.StakeEntry) error

	// GetStakes returns a participant's history in placement order.
	// Unknown participants yield an empty slice.
	GetStakes(ctx context.Context, id model.PropositionID, participant string) ([]model.StakeEntry, error)

	// ListParticipants returns everyone who staked on id, in order of first stake.
	ListParticipants(ctx context.Context, id model.PropositionID) ([]string, error)

	// --- Settlement markers ---

	// InsertSettlement records a settlement; ErrConflict if one exists.
	InsertSettlement(ctx context.Context, s *model.Settlement) error

	// GetSettlement returns the settlement marker or ErrNotFound.
	GetSettlement(ctx context.Context, id model.PropositionID, participant string) (*model.Settlement, error)
}

// Store is a Repo that can run a group of operations atomically.
type Store interface {
	Repo

	// Atomic runs fn inside a transaction. If fn returns an error none of
	// its writes become visible; otherwise all of them do.
	Atomic(ctx context.Context, fn func(r Repo) error) error
}
