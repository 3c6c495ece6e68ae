package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/atmx/wager-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache. Writes go to the primary store and invalidate the cache; reads
// check Redis first then fall back to the primary.
type CachedStore struct {
	primary Store
	rdb     redis.Cmdable
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb redis.Cmdable, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// Atomic delegates to the primary store and drops every key the transaction
// wrote once it has committed.
func (s *CachedStore) Atomic(ctx context.Context, fn func(r Repo) error) error {
	var touched []string
	err := s.primary.Atomic(ctx, func(r Repo) error {
		// Reads inside a transaction bypass the cache so locks are honoured.
		return fn(&invalidatingRepo{Repo: r, touched: &touched})
	})
	if err != nil {
		return err
	}
	s.invalidate(ctx, touched...)
	return nil
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) InsertConfig(ctx context.Context, cfg *model.LedgerConfig) error {
	if err := s.primary.InsertConfig(ctx, cfg); err != nil {
		return err
	}
	s.invalidate(ctx, configKey())
	return nil
}

func (s *CachedStore) InsertProposition(ctx context.Context, p *model.Proposition) error {
	if err := s.primary.InsertProposition(ctx, p); err != nil {
		return err
	}
	s.invalidate(ctx, propositionKey(p.ID))
	return nil
}

func (s *CachedStore) UpdateProposition(ctx context.Context, p *model.Proposition) error {
	if err := s.primary.UpdateProposition(ctx, p); err != nil {
		return err
	}
	// Invalidate cache; next read will re-populate.
	s.invalidate(ctx, propositionKey(p.ID))
	return nil
}

func (s *CachedStore) AppendStake(ctx context.Context, id model.PropositionID, participant string, e *model.StakeEntry) error {
	if err := s.primary.AppendStake(ctx, id, participant, e); err != nil {
		return err
	}
	s.invalidate(ctx, stakesKey(id, participant))
	return nil
}

func (s *CachedStore) InsertSettlement(ctx context.Context, st *model.Settlement) error {
	return s.primary.InsertSettlement(ctx, st)
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetConfig(ctx context.Context) (*model.LedgerConfig, error) {
	var cfg model.LedgerConfig
	if s.load(ctx, configKey(), &cfg) {
		return &cfg, nil
	}

	c, err := s.primary.GetConfig(ctx)
	if err != nil {
		return nil, err
	}
	s.save(ctx, configKey(), c)
	return c, nil
}

func (s *CachedStore) GetProposition(ctx context.Context, id model.PropositionID) (*model.Proposition, error) {
	var p model.Proposition
	if s.load(ctx, propositionKey(id), &p) {
		return &p, nil
	}

	// Cache miss: read from primary.
	fresh, err := s.primary.GetProposition(ctx, id)
	if err != nil {
		return nil, err
	}
	s.save(ctx, propositionKey(id), fresh)
	return fresh, nil
}

func (s *CachedStore) GetStakes(ctx context.Context, id model.PropositionID, participant string) ([]model.StakeEntry, error) {
	var entries []model.StakeEntry
	if s.load(ctx, stakesKey(id, participant), &entries) {
		return entries, nil
	}

	entries, err := s.primary.GetStakes(ctx, id, participant)
	if err != nil {
		return nil, err
	}
	s.save(ctx, stakesKey(id, participant), entries)
	return entries, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) ListPropositions(ctx context.Context) ([]model.Proposition, error) {
	return s.primary.ListPropositions(ctx)
}

func (s *CachedStore) ListParticipants(ctx context.Context, id model.PropositionID) ([]string, error) {
	return s.primary.ListParticipants(ctx, id)
}

func (s *CachedStore) GetSettlement(ctx context.Context, id model.PropositionID, participant string) (*model.Settlement, error) {
	return s.primary.GetSettlement(ctx, id, participant)
}

// --- Cache helpers ---

func (s *CachedStore) load(ctx context.Context, key string, dst any) bool {
	data, err := s.rdb.Get(ctx, key).Bytes()
	if err != nil {
		return false
	}
	return json.Unmarshal(data, dst) == nil
}

func (s *CachedStore) save(ctx context.Context, key string, v any) {
	if data, err := json.Marshal(v); err == nil {
		s.rdb.Set(ctx, key, data, s.ttl)
	}
}

func (s *CachedStore) invalidate(ctx context.Context, keys ...string) {
	if len(keys) > 0 {
		s.rdb.Del(ctx, keys...)
	}
}

// invalidatingRepo records the cache keys written through it.
type invalidatingRepo struct {
	Repo
	touched *[]string
}

func (r *invalidatingRepo) InsertConfig(ctx context.Context, cfg *model.LedgerConfig) error {
	*r.touched = append(*r.touched, configKey())
	return r.Repo.InsertConfig(ctx, cfg)
}

func (r *invalidatingRepo) InsertProposition(ctx context.Context, p *model.Proposition) error {
	*r.touched = append(*r.touched, propositionKey(p.ID))
	return r.Repo.InsertProposition(ctx, p)
}

func (r *invalidatingRepo) UpdateProposition(ctx context.Context, p *model.Proposition) error {
	*r.touched = append(*r.touched, propositionKey(p.ID))
	return r.Repo.UpdateProposition(ctx, p)
}

func (r *invalidatingRepo) AppendStake(ctx context.Context, id model.PropositionID, participant string, e *model.StakeEntry) error {
	*r.touched = append(*r.touched, stakesKey(id, participant))
	return r.Repo.AppendStake(ctx, id, participant, e)
}

func configKey() string { return "wager:config" }

func propositionKey(id model.PropositionID) string { return fmt.Sprintf("proposition:%d", id) }

func stakesKey(id model.PropositionID, participant string) string {
	return fmt.Sprintf("stakes:%d:%s", id, participant)
}

var _ Store = (*CachedStore)(nil)
