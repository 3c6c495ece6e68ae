package custody

import (
	"context"
	"errors"
	"testing"

	"github.com/atmx/wager-engine/internal/amount"
)

func a(n int64) amount.Amount { return amount.MustFromInt64(n) }

func TestVault_CollectDrawsOnBalance(t *testing.T) {
	v := NewVault()
	v.Deposit("alice", a(100))

	err := v.Collect(context.Background(), Transfer{Participant: "alice", Amount: a(60), Reference: "r1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !v.Balance("alice").Equal(a(40)) {
		t.Errorf("expected balance 40, got %s", v.Balance("alice"))
	}
	if !v.Pool().Equal(a(60)) {
		t.Errorf("expected pool 60, got %s", v.Pool())
	}
}

func TestVault_InsufficientFunds(t *testing.T) {
	v := NewVault()
	v.Deposit("alice", a(10))

	err := v.Collect(context.Background(), Transfer{Participant: "alice", Amount: a(11), Reference: "r1"})
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	if !v.Balance("alice").Equal(a(10)) || !v.Pool().IsZero() {
		t.Error("failed collect must not move funds")
	}
}

func TestVault_OpenVaultHasUnlimitedFunds(t *testing.T) {
	v := NewOpenVault()
	if err := v.Collect(context.Background(), Transfer{Participant: "bob", Amount: a(1_000_000), Reference: "r1"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestVault_DisburseDedupesReference(t *testing.T) {
	v := NewVault()
	v.Deposit("alice", a(100))
	ctx := context.Background()
	v.Collect(ctx, Transfer{Participant: "alice", Amount: a(100), Reference: "stake"})

	payout := Transfer{Participant: "alice", Amount: a(100), Reference: "settle:1:alice"}
	if err := v.Disburse(ctx, payout); err != nil {
		t.Fatalf("first disburse: %v", err)
	}
	if err := v.Disburse(ctx, payout); err != nil {
		t.Fatalf("replayed disburse should be a no-op, got %v", err)
	}
	if !v.Balance("alice").Equal(a(100)) {
		t.Errorf("expected balance 100 after one disbursement, got %s", v.Balance("alice"))
	}
}

func TestVault_DisburseBeyondPool(t *testing.T) {
	v := NewVault()
	err := v.Disburse(context.Background(), Transfer{Participant: "alice", Amount: a(1), Reference: "x"})
	if !errors.Is(err, ErrPoolExhausted) {
		t.Errorf("expected ErrPoolExhausted, got %v", err)
	}
}
