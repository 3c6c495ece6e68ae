package ledger

import (
	"errors"
	"testing"

	"github.com/atmx/wager-engine/internal/amount"
	"github.com/atmx/wager-engine/internal/model"
)

func amt(n int64) amount.Amount { return amount.MustFromInt64(n) }

func resolved(yes, no int64, outcome model.Outcome) *model.Proposition {
	return &model.Proposition{
		ID:      1,
		YesPool: amt(yes),
		NoPool:  amt(no),
		State:   model.StateResolved,
		Outcome: outcome,
	}
}

func stake(side model.Side, n int64) model.StakeEntry {
	return model.StakeEntry{Side: side, Amount: amt(n)}
}

func TestPayout(t *testing.T) {
	tests := []struct {
		name    string
		prop    *model.Proposition
		entries []model.StakeEntry
		want    int64
	}{
		{
			name:    "sole winner takes the pool",
			prop:    resolved(100, 300, model.OutcomeYesWon),
			entries: []model.StakeEntry{stake(model.SideYes, 100)},
			want:    400,
		},
		{
			name:    "loser gets nothing",
			prop:    resolved(100, 300, model.OutcomeYesWon),
			entries: []model.StakeEntry{stake(model.SideNo, 300)},
			want:    0,
		},
		{
			name:    "proportional share",
			prop:    resolved(300, 100, model.OutcomeYesWon),
			entries: []model.StakeEntry{stake(model.SideYes, 100)},
			want:    133, // floor(100*400/300)
		},
		{
			name:    "only winning side entries count",
			prop:    resolved(200, 200, model.OutcomeNoWon),
			entries: []model.StakeEntry{stake(model.SideYes, 50), stake(model.SideNo, 50), stake(model.SideNo, 50)},
			want:    200,
		},
		{
			name:    "no contest refunds both sides",
			prop:    resolved(0, 500, model.OutcomeYesWon),
			entries: []model.StakeEntry{stake(model.SideNo, 200), stake(model.SideNo, 30)},
			want:    230,
		},
		{
			name:    "empty history",
			prop:    resolved(10, 10, model.OutcomeYesWon),
			entries: nil,
			want:    0,
		},
		{
			name:    "empty proposition",
			prop:    resolved(0, 0, model.OutcomeNoWon),
			entries: nil,
			want:    0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Payout(tt.prop, tt.entries)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !got.Equal(amt(tt.want)) {
				t.Errorf("expected %d, got %s", tt.want, got)
			}
		})
	}
}

func TestPayout_OpenProposition(t *testing.T) {
	p := &model.Proposition{ID: 1, State: model.StateOpen}
	if _, err := Payout(p, nil); !errors.Is(err, ErrNotResolved) {
		t.Errorf("expected ErrNotResolved, got %v", err)
	}
}

func TestPayout_SumNeverExceedsPool(t *testing.T) {
	// Three equal winners over a pool that does not divide evenly.
	p := resolved(3, 7, model.OutcomeYesWon)
	sum := amount.Zero
	for i := 0; i < 3; i++ {
		got, err := Payout(p, []model.StakeEntry{stake(model.SideYes, 1)})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !got.Equal(amt(3)) {
			t.Errorf("expected floor(10/3)=3, got %s", got)
		}
		sum, _ = amount.Add(sum, got)
	}
	if sum.Cmp(amt(10)) > 0 {
		t.Errorf("payouts %s exceed pool 10", sum)
	}
}

func TestPayout_LargePools(t *testing.T) {
	half, err := amount.Parse("85070591730234615865843651857942052863") // (2^127-1)/2
	if err != nil {
		t.Fatal(err)
	}
	p := &model.Proposition{
		ID:      1,
		YesPool: half,
		NoPool:  half,
		State:   model.StateResolved,
		Outcome: model.OutcomeYesWon,
	}
	got, err := Payout(p, []model.StakeEntry{{Side: model.SideYes, Amount: half}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want, _ := amount.Add(half, half)
	if !got.Equal(want) {
		t.Errorf("expected %s, got %s", want, got)
	}
}
