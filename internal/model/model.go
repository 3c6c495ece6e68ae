// Package model defines the core domain types shared across the wager engine.
// All monetary values use amount.Amount; never float64 for money.
package model

import (
	"fmt"
	"strconv"
	"time"

	"github.com/atmx/wager-engine/internal/amount"
)

// PropositionID identifies a proposition. Supplied by the operator on
// creation and immutable afterwards.
type PropositionID uint32

// ParsePropositionID parses a base-10 proposition id.
func ParsePropositionID(s string) (PropositionID, error) {
	n, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid proposition id %q", s)
	}
	return PropositionID(n), nil
}

func (id PropositionID) String() string {
	return strconv.FormatUint(uint64(id), 10)
}

// Side is the side of a proposition a stake backs.
type Side string

const (
	SideYes Side = "YES"
	SideNo  Side = "NO"
)

func (s Side) Valid() bool { return s == SideYes || s == SideNo }

// Outcome is the resolved result of a proposition.
type Outcome string

const (
	OutcomeYesWon Outcome = "YES_WON"
	OutcomeNoWon  Outcome = "NO_WON"
)

func (o Outcome) Valid() bool { return o == OutcomeYesWon || o == OutcomeNoWon }

// WinningSide returns the side that is paid out under o.
func (o Outcome) WinningSide() Side {
	if o == OutcomeYesWon {
		return SideYes
	}
	return SideNo
}

// State is the lifecycle state of a proposition. Open → Resolved only.
type State string

const (
	StateOpen     State = "open"
	StateResolved State = "resolved"
)

// Proposition is a binary wagering event with its two stake pools.
// Invariant: YesPool + NoPool equals the sum of every accepted stake.
type Proposition struct {
	ID         PropositionID `json:"id" db:"id"`
	YesPool    amount.Amount `json:"yes_pool" db:"yes_pool"`
	NoPool     amount.Amount `json:"no_pool" db:"no_pool"`
	State      State         `json:"state" db:"state"`
	Outcome    Outcome       `json:"outcome,omitempty" db:"outcome"` // set only when resolved
	CreatedAt  time.Time     `json:"created_at" db:"created_at"`
	ResolvedAt *time.Time    `json:"resolved_at,omitempty" db:"resolved_at"`
}

// IsOpen reports whether the proposition still accepts stakes.
func (p *Proposition) IsOpen() bool { return p.State == StateOpen }

// Pool returns the pool total for side.
func (p *Proposition) Pool(side Side) amount.Amount {
	if side == SideYes {
		return p.YesPool
	}
	return p.NoPool
}

// TotalPool returns YesPool + NoPool.
func (p *Proposition) TotalPool() (amount.Amount, error) {
	return amount.Add(p.YesPool, p.NoPool)
}

// StakeEntry is one immutable contribution in a participant's stake history.
// Once created, entries are never modified or deleted.
type StakeEntry struct {
	ID       string        `json:"id" db:"id"`
	Side     Side          `json:"side" db:"side"`
	Amount   amount.Amount `json:"amount" db:"amount"`
	PlacedAt time.Time     `json:"placed_at" db:"placed_at"`
}

// LedgerConfig is the one-time bootstrap record.
type LedgerConfig struct {
	Currency      string    `json:"currency" db:"currency"` // settlement currency reference
	Operator      string    `json:"operator" db:"operator"` // identity allowed to create and resolve
	InitializedAt time.Time `json:"initialized_at" db:"initialized_at"`
}

// Settlement marks that a participant's payout for a proposition has been
// handed to custody. At most one exists per (proposition, participant).
type Settlement struct {
	PropositionID PropositionID `json:"proposition_id" db:"proposition_id"`
	Participant   string        `json:"participant" db:"participant"`
	Amount        amount.Amount `json:"amount" db:"amount"`
	Reference     string        `json:"reference" db:"reference"` // idempotency key passed to custody
	SettledAt     time.Time     `json:"settled_at" db:"settled_at"`
}

// Payout is a participant's computed share of a resolved proposition.
type Payout struct {
	Participant string        `json:"participant"`
	Amount      amount.Amount `json:"amount"`
	Settled     bool          `json:"settled"`
}

// PayoutReport lists every participant's payout for one proposition.
type PayoutReport struct {
	PropositionID PropositionID `json:"proposition_id"`
	Outcome       Outcome       `json:"outcome"`
	TotalPool     amount.Amount `json:"total_pool"`
	WinningPool   amount.Amount `json:"winning_pool"`
	NoContest     bool          `json:"no_contest"` // nobody staked the winning side
	Payouts       []Payout      `json:"payouts"`
	Dust          amount.Amount `json:"dust"` // total pool minus the sum of payouts
}

// Summary is a read-only projection of a proposition.
type Summary struct {
	Proposition  Proposition    `json:"proposition"`
	TotalPool    amount.Amount  `json:"total_pool"`
	Participants int            `json:"participants"`
	WinningPool  *amount.Amount `json:"winning_pool,omitempty"`
	NoContest    bool           `json:"no_contest"`
}
