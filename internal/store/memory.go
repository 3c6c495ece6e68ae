package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/atmx/wager-engine/internal/model"
)

type stakeKey struct {
	id          model.PropositionID
	participant string
}

// memState is the committed content of a MemoryStore.
type memState struct {
	config       *model.LedgerConfig
	propositions map[model.PropositionID]model.Proposition
	stakes       map[stakeKey][]model.StakeEntry
	participants map[model.PropositionID][]string
	settlements  map[stakeKey]model.Settlement
}

func newMemState() memState {
	return memState{
		propositions: make(map[model.PropositionID]model.Proposition),
		stakes:       make(map[stakeKey][]model.StakeEntry),
		participants: make(map[model.PropositionID][]string),
		settlements:  make(map[stakeKey]model.Settlement),
	}
}

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu    sync.RWMutex
	state memState
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{state: newMemState()}
}

// Atomic serializes transactions behind the store mutex. Writes are staged
// in an overlay and applied only when fn succeeds.
func (s *MemoryStore) Atomic(ctx context.Context, fn func(r Repo) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := newMemTx(&s.state)
	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	tx.commit()
	return nil
}

// read runs fn against committed state under the read lock.
func (s *MemoryStore) read(fn func(tx *memTx) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(newMemTx(&s.state))
}

func (s *MemoryStore) GetConfig(ctx context.Context) (cfg *model.LedgerConfig, err error) {
	err = s.read(func(tx *memTx) error {
		cfg, err = tx.GetConfig(ctx)
		return err
	})
	return cfg, err
}

func (s *MemoryStore) InsertConfig(ctx context.Context, cfg *model.LedgerConfig) error {
	return s.Atomic(ctx, func(r Repo) error { return r.InsertConfig(ctx, cfg) })
}

func (s *MemoryStore) InsertProposition(ctx context.Context, p *model.Proposition) error {
	return s.Atomic(ctx, func(r Repo) error { return r.InsertProposition(ctx, p) })
}

func (s *MemoryStore) GetProposition(ctx context.Context, id model.PropositionID) (p *model.Proposition, err error) {
	err = s.read(func(tx *memTx) error {
		p, err = tx.GetProposition(ctx, id)
		return err
	})
	return p, err
}

func (s *MemoryStore) UpdateProposition(ctx context.Context, p *model.Proposition) error {
	return s.Atomic(ctx, func(r Repo) error { return r.UpdateProposition(ctx, p) })
}

func (s *MemoryStore) ListPropositions(ctx context.Context) (ps []model.Proposition, err error) {
	err = s.read(func(tx *memTx) error {
		ps, err = tx.ListPropositions(ctx)
		return err
	})
	return ps, err
}

func (s *MemoryStore) AppendStake(ctx context.Context, id model.PropositionID, participant string, entry *model.StakeEntry) error {
	return s.Atomic(ctx, func(r Repo) error { return r.AppendStake(ctx, id, participant, entry) })
}

func (s *MemoryStore) GetStakes(ctx context.Context, id model.PropositionID, participant string) (entries []model.StakeEntry, err error) {
	err = s.read(func(tx *memTx) error {
		entries, err = tx.GetStakes(ctx, id, participant)
		return err
	})
	return entries, err
}

func (s *MemoryStore) ListParticipants(ctx context.Context, id model.PropositionID) (ps []string, err error) {
	err = s.read(func(tx *memTx) error {
		ps, err = tx.ListParticipants(ctx, id)
		return err
	})
	return ps, err
}

func (s *MemoryStore) InsertSettlement(ctx context.Context, st *model.Settlement) error {
	return s.Atomic(ctx, func(r Repo) error { return r.InsertSettlement(ctx, st) })
}

func (s *MemoryStore) GetSettlement(ctx context.Context, id model.PropositionID, participant string) (st *model.Settlement, err error) {
	err = s.read(func(tx *memTx) error {
		st, err = tx.GetSettlement(ctx, id, participant)
		return err
	})
	return st, err
}

// memTx reads through a write overlay onto committed state.
type memTx struct {
	base         *memState
	config       *model.LedgerConfig
	propositions map[model.PropositionID]model.Proposition
	stakes       map[stakeKey][]model.StakeEntry
	participants map[model.PropositionID][]string
	settlements  map[stakeKey]model.Settlement
}

func newMemTx(base *memState) *memTx {
	return &memTx{
		base:         base,
		propositions: make(map[model.PropositionID]model.Proposition),
		stakes:       make(map[stakeKey][]model.StakeEntry),
		participants: make(map[model.PropositionID][]string),
		settlements:  make(map[stakeKey]model.Settlement),
	}
}

func (tx *memTx) commit() {
	if tx.config != nil {
		tx.base.config = tx.config
	}
	for id, p := range tx.propositions {
		tx.base.propositions[id] = p
	}
	for k, v := range tx.stakes {
		tx.base.stakes[k] = v
	}
	for id, v := range tx.participants {
		tx.base.participants[id] = v
	}
	for k, v := range tx.settlements {
		tx.base.settlements[k] = v
	}
}

func (tx *memTx) lookupProposition(id model.PropositionID) (model.Proposition, bool) {
	if p, ok := tx.propositions[id]; ok {
		return p, true
	}
	p, ok := tx.base.propositions[id]
	return p, ok
}

func (tx *memTx) lookupStakes(k stakeKey) []model.StakeEntry {
	if v, ok := tx.stakes[k]; ok {
		return v
	}
	return tx.base.stakes[k]
}

func (tx *memTx) lookupParticipants(id model.PropositionID) []string {
	if v, ok := tx.participants[id]; ok {
		return v
	}
	return tx.base.participants[id]
}

func (tx *memTx) lookupSettlement(k stakeKey) (model.Settlement, bool) {
	if v, ok := tx.settlements[k]; ok {
		return v, true
	}
	v, ok := tx.base.settlements[k]
	return v, ok
}

func (tx *memTx) GetConfig(_ context.Context) (*model.LedgerConfig, error) {
	cfg := tx.config
	if cfg == nil {
		cfg = tx.base.config
	}
	if cfg == nil {
		return nil, fmt.Errorf("ledger config: %w", ErrNotFound)
	}
	c := *cfg
	return &c, nil
}

func (tx *memTx) InsertConfig(ctx context.Context, cfg *model.LedgerConfig) error {
	if _, err := tx.GetConfig(ctx); err == nil {
		return fmt.Errorf("ledger config: %w", ErrConflict)
	}
	c := *cfg
	tx.config = &c
	return nil
}

func (tx *memTx) InsertProposition(_ context.Context, p *model.Proposition) error {
	if _, ok := tx.lookupProposition(p.ID); ok {
		return fmt.Errorf("proposition %d: %w", p.ID, ErrConflict)
	}
	// Store a copy to avoid external mutation.
	tx.propositions[p.ID] = cloneProposition(p)
	return nil
}

func (tx *memTx) GetProposition(_ context.Context, id model.PropositionID) (*model.Proposition, error) {
	p, ok := tx.lookupProposition(id)
	if !ok {
		return nil, fmt.Errorf("proposition %d: %w", id, ErrNotFound)
	}
	c := cloneProposition(&p)
	return &c, nil
}

func (tx *memTx) UpdateProposition(_ context.Context, p *model.Proposition) error {
	if _, ok := tx.lookupProposition(p.ID); !ok {
		return fmt.Errorf("proposition %d: %w", p.ID, ErrNotFound)
	}
	tx.propositions[p.ID] = cloneProposition(p)
	return nil
}

func (tx *memTx) ListPropositions(_ context.Context) ([]model.Proposition, error) {
	seen := make(map[model.PropositionID]bool)
	result := make([]model.Proposition, 0, len(tx.base.propositions)+len(tx.propositions))
	for id, p := range tx.propositions {
		seen[id] = true
		result = append(result, cloneProposition(&p))
	}
	for id, p := range tx.base.propositions {
		if !seen[id] {
			result = append(result, cloneProposition(&p))
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (tx *memTx) AppendStake(_ context.Context, id model.PropositionID, participant string, entry *model.StakeEntry) error {
	k := stakeKey{id: id, participant: participant}
	prev := tx.lookupStakes(k)

	// Copy-on-write so a rolled back transaction never touches committed slices.
	next := make([]model.StakeEntry, len(prev), len(prev)+1)
	copy(next, prev)
	tx.stakes[k] = append(next, *entry)

	if len(prev) == 0 {
		ps := tx.lookupParticipants(id)
		nps := make([]string, len(ps), len(ps)+1)
		copy(nps, ps)
		tx.participants[id] = append(nps, participant)
	}
	return nil
}

func (tx *memTx) GetStakes(_ context.Context, id model.PropositionID, participant string) ([]model.StakeEntry, error) {
	entries := tx.lookupStakes(stakeKey{id: id, participant: participant})
	result := make([]model.StakeEntry, len(entries))
	copy(result, entries)
	return result, nil
}

func (tx *memTx) ListParticipants(_ context.Context, id model.PropositionID) ([]string, error) {
	ps := tx.lookupParticipants(id)
	result := make([]string, len(ps))
	copy(result, ps)
	return result, nil
}

func (tx *memTx) InsertSettlement(_ context.Context, s *model.Settlement) error {
	k := stakeKey{id: s.PropositionID, participant: s.Participant}
	if _, ok := tx.lookupSettlement(k); ok {
		return fmt.Errorf("settlement %d/%s: %w", s.PropositionID, s.Participant, ErrConflict)
	}
	tx.settlements[k] = *s
	return nil
}

func (tx *memTx) GetSettlement(_ context.Context, id model.PropositionID, participant string) (*model.Settlement, error) {
	s, ok := tx.lookupSettlement(stakeKey{id: id, participant: participant})
	if !ok {
		return nil, fmt.Errorf("settlement %d/%s: %w", id, participant, ErrNotFound)
	}
	return &s, nil
}

func cloneProposition(p *model.Proposition) model.Proposition {
	c := *p
	if p.ResolvedAt != nil {
		t := *p.ResolvedAt
		c.ResolvedAt = &t
	}
	return c
}

var (
	_ Store = (*MemoryStore)(nil)
	_ Repo  = (*memTx)(nil)
)
