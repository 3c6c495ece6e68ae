package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/atmx/wager-engine/internal/amount"
	"github.com/atmx/wager-engine/internal/model"
)

func seedProposition(t *testing.T, s *MemoryStore, id model.PropositionID) {
	t.Helper()
	p := &model.Proposition{ID: id, State: model.StateOpen, CreatedAt: time.Now().UTC()}
	if err := s.InsertProposition(context.Background(), p); err != nil {
		t.Fatalf("failed to seed proposition: %v", err)
	}
}

func TestMemoryStore_InsertPropositionConflict(t *testing.T) {
	s := NewMemoryStore()
	seedProposition(t, s, 7)

	err := s.InsertProposition(context.Background(), &model.Proposition{ID: 7, State: model.StateOpen})
	if !errors.Is(err, ErrConflict) {
		t.Errorf("expected ErrConflict, got %v", err)
	}
}

func TestMemoryStore_GetPropositionNotFound(t *testing.T) {
	s := NewMemoryStore()
	if _, err := s.GetProposition(context.Background(), 99); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	s := NewMemoryStore()
	seedProposition(t, s, 1)
	ctx := context.Background()

	p, _ := s.GetProposition(ctx, 1)
	p.YesPool = amount.MustFromInt64(500)

	again, _ := s.GetProposition(ctx, 1)
	if !again.YesPool.IsZero() {
		t.Errorf("mutating a returned record leaked into the store: %s", again.YesPool)
	}
}

func TestMemoryStore_AtomicRollback(t *testing.T) {
	s := NewMemoryStore()
	seedProposition(t, s, 1)
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.Atomic(ctx, func(r Repo) error {
		p, err := r.GetProposition(ctx, 1)
		if err != nil {
			return err
		}
		p.YesPool = amount.MustFromInt64(100)
		if err := r.UpdateProposition(ctx, p); err != nil {
			return err
		}
		entry := &model.StakeEntry{ID: "s1", Side: model.SideYes, Amount: amount.MustFromInt64(100)}
		if err := r.AppendStake(ctx, 1, "alice", entry); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	p, _ := s.GetProposition(ctx, 1)
	if !p.YesPool.IsZero() {
		t.Errorf("pool should be untouched after rollback, got %s", p.YesPool)
	}
	stakes, _ := s.GetStakes(ctx, 1, "alice")
	if len(stakes) != 0 {
		t.Errorf("stake history should be empty after rollback, got %d entries", len(stakes))
	}
	participants, _ := s.ListParticipants(ctx, 1)
	if len(participants) != 0 {
		t.Errorf("participants should be empty after rollback, got %v", participants)
	}
}

func TestMemoryStore_AtomicReadYourWrites(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	err := s.Atomic(ctx, func(r Repo) error {
		if err := r.InsertProposition(ctx, &model.Proposition{ID: 3, State: model.StateOpen}); err != nil {
			return err
		}
		if _, err := r.GetProposition(ctx, 3); err != nil {
			t.Errorf("expected to read own insert: %v", err)
		}
		e := &model.StakeEntry{ID: "a", Side: model.SideNo, Amount: amount.MustFromInt64(5)}
		if err := r.AppendStake(ctx, 3, "bob", e); err != nil {
			return err
		}
		stakes, _ := r.GetStakes(ctx, 3, "bob")
		if len(stakes) != 1 {
			t.Errorf("expected 1 staged entry, got %d", len(stakes))
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestMemoryStore_StakeHistoryOrderAndParticipants(t *testing.T) {
	s := NewMemoryStore()
	seedProposition(t, s, 1)
	ctx := context.Background()

	appends := []struct {
		participant string
		id          string
		amt         int64
	}{
		{"alice", "a1", 50},
		{"bob", "b1", 10},
		{"alice", "a2", 70},
	}
	for _, a := range appends {
		e := &model.StakeEntry{ID: a.id, Side: model.SideYes, Amount: amount.MustFromInt64(a.amt)}
		if err := s.AppendStake(ctx, 1, a.participant, e); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	stakes, _ := s.GetStakes(ctx, 1, "alice")
	if len(stakes) != 2 || stakes[0].ID != "a1" || stakes[1].ID != "a2" {
		t.Errorf("expected [a1 a2], got %+v", stakes)
	}

	participants, _ := s.ListParticipants(ctx, 1)
	if len(participants) != 2 || participants[0] != "alice" || participants[1] != "bob" {
		t.Errorf("expected [alice bob], got %v", participants)
	}

	unknown, err := s.GetStakes(ctx, 1, "carol")
	if err != nil || len(unknown) != 0 {
		t.Errorf("unknown participant should have empty history, got %v, %v", unknown, err)
	}
}

func TestMemoryStore_SettlementOnce(t *testing.T) {
	s := NewMemoryStore()
	seedProposition(t, s, 1)
	ctx := context.Background()

	st := &model.Settlement{PropositionID: 1, Participant: "alice", Amount: amount.MustFromInt64(400)}
	if err := s.InsertSettlement(ctx, st); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	if err := s.InsertSettlement(ctx, st); !errors.Is(err, ErrConflict) {
		t.Errorf("expected ErrConflict on second insert, got %v", err)
	}
	if _, err := s.GetSettlement(ctx, 1, "bob"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStore_ConfigOnce(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	if _, err := s.GetConfig(ctx); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound before init, got %v", err)
	}
	cfg := &model.LedgerConfig{Currency: "XLM", Operator: "op"}
	if err := s.InsertConfig(ctx, cfg); err != nil {
		t.Fatalf("insert config: %v", err)
	}
	if err := s.InsertConfig(ctx, cfg); !errors.Is(err, ErrConflict) {
		t.Errorf("expected ErrConflict, got %v", err)
	}
}

func TestMemoryStore_ListPropositionsSorted(t *testing.T) {
	s := NewMemoryStore()
	for _, id := range []model.PropositionID{9, 2, 5} {
		seedProposition(t, s, id)
	}
	ps, _ := s.ListPropositions(context.Background())
	if len(ps) != 3 || ps[0].ID != 2 || ps[1].ID != 5 || ps[2].ID != 9 {
		t.Errorf("expected ids [2 5 9], got %+v", ps)
	}
}

func TestMemoryStore_AtomicCancelledContext(t *testing.T) {
	s := NewMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())

	err := s.Atomic(ctx, func(r Repo) error {
		if err := r.InsertProposition(ctx, &model.Proposition{ID: 1, State: model.StateOpen}); err != nil {
			return err
		}
		cancel()
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if _, err := s.GetProposition(context.Background(), 1); !errors.Is(err, ErrNotFound) {
		t.Errorf("cancelled transaction should not commit, got %v", err)
	}
}
