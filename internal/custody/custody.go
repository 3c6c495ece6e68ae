// Package custody defines the value-transfer collaborator of the ledger.
//
// The engine never moves funds itself: it decides how much moves and asks a
// Custodian to do it. Vault is an in-memory custodian for development and
// tests; production deployments plug in a real transfer service.
package custody

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/atmx/wager-engine/internal/amount"
)

var (
	// ErrInsufficientFunds is returned when a participant's balance cannot
	// cover a collection.
	ErrInsufficientFunds = errors.New("custody: insufficient funds")

	// ErrPoolExhausted is returned when a disbursement exceeds what the
	// pool account holds.
	ErrPoolExhausted = errors.New("custody: pool balance exhausted")
)

// Transfer describes one movement between a participant and the pool.
// Reference is unique per logical movement so custodians can deduplicate
// replays.
type Transfer struct {
	Currency    string
	Participant string
	Amount      amount.Amount
	Reference   string
}

// Custodian moves value in and out of the pool. Both calls are synchronous;
// a returned error means nothing moved.
type Custodian interface {
	// Collect debits the participant and credits the pool.
	Collect(ctx context.Context, t Transfer) error

	// Disburse debits the pool and credits the participant.
	Disburse(ctx context.Context, t Transfer) error
}

// Vault is an in-memory Custodian. In strict mode collections draw on
// deposited balances; otherwise participants have unlimited funds.
type Vault struct {
	mu       sync.Mutex
	strict   bool
	balances map[string]amount.Amount
	pool     amount.Amount
	applied  map[string]bool // references already executed
}

// NewVault creates a strict vault. Fund participants with Deposit.
func NewVault() *Vault {
	return &Vault{
		strict:   true,
		balances: make(map[string]amount.Amount),
		applied:  make(map[string]bool),
	}
}

// NewOpenVault creates a vault whose participants never run out of funds.
// Used by the development server.
func NewOpenVault() *Vault {
	v := NewVault()
	v.strict = false
	return v
}

// Deposit credits a participant's balance.
func (v *Vault) Deposit(participant string, a amount.Amount) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	next, err := amount.Add(v.balances[participant], a)
	if err != nil {
		return err
	}
	v.balances[participant] = next
	return nil
}

// Balance returns a participant's balance.
func (v *Vault) Balance(participant string) amount.Amount {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.balances[participant]
}

// Pool returns the amount currently held on behalf of all propositions.
func (v *Vault) Pool() amount.Amount {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.pool
}

func (v *Vault) Collect(ctx context.Context, t Transfer) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.applied[t.Reference] {
		return nil
	}

	pool, err := amount.Add(v.pool, t.Amount)
	if err != nil {
		return err
	}
	if v.strict {
		bal, err := amount.Sub(v.balances[t.Participant], t.Amount)
		if err != nil {
			return fmt.Errorf("%w: %s needs %s", ErrInsufficientFunds, t.Participant, t.Amount)
		}
		v.balances[t.Participant] = bal
	}
	v.pool = pool
	v.applied[t.Reference] = true

	slog.Debug("custody collect", "participant", t.Participant, "amount", t.Amount.String(), "ref", t.Reference)
	return nil
}

func (v *Vault) Disburse(ctx context.Context, t Transfer) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.applied[t.Reference] {
		return nil
	}

	pool, err := amount.Sub(v.pool, t.Amount)
	if err != nil {
		return fmt.Errorf("%w: disbursing %s", ErrPoolExhausted, t.Amount)
	}
	bal, err := amount.Add(v.balances[t.Participant], t.Amount)
	if err != nil {
		return err
	}
	v.pool = pool
	v.balances[t.Participant] = bal
	v.applied[t.Reference] = true

	slog.Debug("custody disburse", "participant", t.Participant, "amount", t.Amount.String(), "ref", t.Reference)
	return nil
}

var _ Custodian = (*Vault)(nil)
