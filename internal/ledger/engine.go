// Package ledger implements the pool-accounting and settlement engine:
// the proposition registry, the stake ledger, resolution and pari-mutuel
// payout computation.
//
// Every mutating operation runs as one store transaction. Caller identity is
// verified upstream; the engine receives it as an explicit parameter and
// checks privileges against the configured operator before touching state.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/atmx/wager-engine/internal/amount"
	"github.com/atmx/wager-engine/internal/custody"
	"github.com/atmx/wager-engine/internal/model"
	"github.com/atmx/wager-engine/internal/store"
)

// Engine is the wager ledger. It is stateless apart from its collaborators;
// all state lives in the store.
type Engine struct {
	store   store.Store
	custody custody.Custodian
	now     func() time.Time
	newID   func() string
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine creates an engine over st that moves funds through cust.
func NewEngine(st store.Store, cust custody.Custodian, opts ...Option) *Engine {
	e := &Engine{
		store:   st,
		custody: cust,
		now:     func() time.Time { return time.Now().UTC() },
		newID:   func() string { return uuid.New().String() },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// StakeRequest carries the inputs of PlaceStake. Caller is the verified
// identity of whoever submitted the request.
type StakeRequest struct {
	Caller        string
	PropositionID model.PropositionID
	Participant   string
	Side          model.Side
	Amount        amount.Amount
}

// StakeReceipt is the result of an accepted stake.
type StakeReceipt struct {
	Proposition model.Proposition `json:"proposition"`
	Entry       model.StakeEntry  `json:"entry"`
}

// --- Bootstrap ---

// Initialize records the settlement currency and operator. It succeeds once.
func (e *Engine) Initialize(ctx context.Context, currency, operator string) (*model.LedgerConfig, error) {
	currency = strings.TrimSpace(currency)
	operator = strings.TrimSpace(operator)
	if currency == "" || operator == "" {
		return nil, fmt.Errorf("%w: currency and operator are required", ErrInvalidConfig)
	}

	cfg := &model.LedgerConfig{
		Currency:      currency,
		Operator:      operator,
		InitializedAt: e.now(),
	}
	err := e.store.Atomic(ctx, func(r store.Repo) error {
		if err := r.InsertConfig(ctx, cfg); err != nil {
			if errors.Is(err, store.ErrConflict) {
				return ErrAlreadyInitialized
			}
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	slog.Info("ledger initialized", "currency", currency, "operator", operator)
	return cfg, nil
}

// GetConfig returns the bootstrap record.
func (e *Engine) GetConfig(ctx context.Context) (*model.LedgerConfig, error) {
	return loadConfig(ctx, e.store)
}

// --- Proposition registry ---

// CreateProposition opens a new proposition with empty pools. Operator only.
func (e *Engine) CreateProposition(ctx context.Context, caller string, id model.PropositionID) (*model.Proposition, error) {
	p := &model.Proposition{
		ID:        id,
		YesPool:   amount.Zero,
		NoPool:    amount.Zero,
		State:     model.StateOpen,
		CreatedAt: e.now(),
	}

	err := e.store.Atomic(ctx, func(r store.Repo) error {
		if _, err := requireOperator(ctx, r, caller); err != nil {
			return err
		}
		if err := r.InsertProposition(ctx, p); err != nil {
			if errors.Is(err, store.ErrConflict) {
				return fmt.Errorf("proposition %d: %w", id, ErrAlreadyExists)
			}
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	slog.Info("proposition created", "id", id, "operator", caller)
	return p, nil
}

// GetProposition returns the proposition record.
func (e *Engine) GetProposition(ctx context.Context, id model.PropositionID) (*model.Proposition, error) {
	return loadProposition(ctx, e.store, id)
}

// ListPropositions returns every proposition ordered by id.
func (e *Engine) ListPropositions(ctx context.Context) ([]model.Proposition, error) {
	props, err := e.store.ListPropositions(ctx)
	if err != nil {
		return nil, err
	}
	if props == nil {
		props = []model.Proposition{}
	}
	return props, nil
}

// --- Stake ledger ---

// PlaceStake appends a stake to the participant's history, grows the matching
// pool and collects the funds through custody, all or nothing.
func (e *Engine) PlaceStake(ctx context.Context, req StakeRequest) (*StakeReceipt, error) {
	if req.Caller == "" || req.Caller != req.Participant {
		return nil, fmt.Errorf("%w: %q cannot stake on behalf of %q", ErrUnauthorized, req.Caller, req.Participant)
	}
	if !req.Side.Valid() {
		return nil, ErrInvalidSide
	}
	if !req.Amount.IsPositive() {
		return nil, fmt.Errorf("%w: stake must be positive", ErrInvalidAmount)
	}

	var (
		receipt   StakeReceipt
		transfer  custody.Transfer
		collected bool
	)
	err := e.store.Atomic(ctx, func(r store.Repo) error {
		cfg, err := loadConfig(ctx, r)
		if err != nil {
			return err
		}
		p, err := loadProposition(ctx, r, req.PropositionID)
		if err != nil {
			return err
		}
		if !p.IsOpen() {
			return fmt.Errorf("proposition %d: %w", p.ID, ErrMarketClosed)
		}

		pool, err := amount.Add(p.Pool(req.Side), req.Amount)
		if err != nil {
			return fmt.Errorf("proposition %d %s pool: %w", p.ID, req.Side, err)
		}
		if req.Side == model.SideYes {
			p.YesPool = pool
		} else {
			p.NoPool = pool
		}
		// The combined pool is the payout numerator and must stay representable.
		if _, err := p.TotalPool(); err != nil {
			return fmt.Errorf("proposition %d total pool: %w", p.ID, err)
		}

		entry := model.StakeEntry{
			ID:       e.newID(),
			Side:     req.Side,
			Amount:   req.Amount,
			PlacedAt: e.now(),
		}
		if err := r.AppendStake(ctx, p.ID, req.Participant, &entry); err != nil {
			return err
		}
		if err := r.UpdateProposition(ctx, p); err != nil {
			return err
		}

		// Custody goes last so that every local check has passed before
		// funds move.
		transfer = custody.Transfer{
			Currency:    cfg.Currency,
			Participant: req.Participant,
			Amount:      req.Amount,
			Reference:   "stake:" + entry.ID,
		}
		if err := e.custody.Collect(ctx, transfer); err != nil {
			return fmt.Errorf("collect stake: %w", err)
		}
		collected = true

		receipt = StakeReceipt{Proposition: *p, Entry: entry}
		return nil
	})
	if err != nil {
		if collected {
			e.refund(ctx, transfer, err)
		}
		return nil, err
	}

	slog.Info("stake placed",
		"proposition", req.PropositionID,
		"participant", req.Participant,
		"side", req.Side,
		"amount", req.Amount.String(),
		"yes_pool", receipt.Proposition.YesPool.String(),
		"no_pool", receipt.Proposition.NoPool.String(),
	)
	return &receipt, nil
}

// refund returns collected funds when the ledger commit failed afterwards.
func (e *Engine) refund(ctx context.Context, t custody.Transfer, cause error) {
	t.Reference = "refund:" + strings.TrimPrefix(t.Reference, "stake:")
	if err := e.custody.Disburse(context.WithoutCancel(ctx), t); err != nil {
		slog.Error("stake refund failed after commit error",
			"participant", t.Participant,
			"amount", t.Amount.String(),
			"ref", t.Reference,
			"commit_err", cause,
			"err", err,
		)
		return
	}
	slog.Warn("stake refunded after commit error",
		"participant", t.Participant,
		"amount", t.Amount.String(),
		"ref", t.Reference,
		"commit_err", cause,
	)
}

// GetStakes returns a participant's stake history on a proposition. An unknown
// participant has an empty history; only an unknown proposition is an error.
func (e *Engine) GetStakes(ctx context.Context, id model.PropositionID, participant string) ([]model.StakeEntry, error) {
	if _, err := loadProposition(ctx, e.store, id); err != nil {
		return nil, err
	}
	entries, err := e.store.GetStakes(ctx, id, participant)
	if err != nil {
		return nil, err
	}
	if entries == nil {
		entries = []model.StakeEntry{}
	}
	return entries, nil
}

// --- Resolution ---

// Resolve locks in the outcome of an open proposition. Operator only. A second
// call fails with ErrAlreadyResolved.
func (e *Engine) Resolve(ctx context.Context, caller string, id model.PropositionID, outcome model.Outcome) (*model.Proposition, error) {
	var resolved *model.Proposition
	err := e.store.Atomic(ctx, func(r store.Repo) error {
		if _, err := requireOperator(ctx, r, caller); err != nil {
			return err
		}
		if !outcome.Valid() {
			return ErrInvalidOutcome
		}
		p, err := loadProposition(ctx, r, id)
		if err != nil {
			return err
		}
		if !p.IsOpen() {
			return fmt.Errorf("proposition %d: %w", id, ErrAlreadyResolved)
		}

		now := e.now()
		p.State = model.StateResolved
		p.Outcome = outcome
		p.ResolvedAt = &now
		if err := r.UpdateProposition(ctx, p); err != nil {
			return err
		}
		resolved = p
		return nil
	})
	if err != nil {
		return nil, err
	}

	slog.Info("proposition resolved",
		"id", id,
		"outcome", outcome,
		"yes_pool", resolved.YesPool.String(),
		"no_pool", resolved.NoPool.String(),
	)
	return resolved, nil
}

// --- Payouts ---

// ComputePayout returns what participant is owed from a resolved proposition.
// It does not mutate anything. Reads run inside a transaction so the answer
// matches what Settle would pay, even behind a cache.
func (e *Engine) ComputePayout(ctx context.Context, id model.PropositionID, participant string) (amount.Amount, error) {
	owed := amount.Zero
	err := e.store.Atomic(ctx, func(r store.Repo) error {
		p, err := loadResolved(ctx, r, id)
		if err != nil {
			return err
		}
		entries, err := r.GetStakes(ctx, id, participant)
		if err != nil {
			return err
		}
		owed, err = Payout(p, entries)
		return err
	})
	if err != nil {
		return amount.Zero, err
	}
	return owed, nil
}

// Payouts computes every participant's payout for a resolved proposition.
func (e *Engine) Payouts(ctx context.Context, id model.PropositionID) (*model.PayoutReport, error) {
	var report *model.PayoutReport
	err := e.store.Atomic(ctx, func(r store.Repo) error {
		p, err := loadResolved(ctx, r, id)
		if err != nil {
			return err
		}
		report, err = payoutReport(ctx, r, p)
		return err
	})
	if err != nil {
		return nil, err
	}
	return report, nil
}

func payoutReport(ctx context.Context, r store.Repo, p *model.Proposition) (*model.PayoutReport, error) {
	total, err := p.TotalPool()
	if err != nil {
		return nil, err
	}
	participants, err := r.ListParticipants(ctx, p.ID)
	if err != nil {
		return nil, err
	}

	winning := p.Pool(p.Outcome.WinningSide())
	report := &model.PayoutReport{
		PropositionID: p.ID,
		Outcome:       p.Outcome,
		TotalPool:     total,
		WinningPool:   winning,
		NoContest:     winning.IsZero(),
		Payouts:       make([]model.Payout, 0, len(participants)),
	}

	paid := amount.Zero
	for _, participant := range participants {
		entries, err := r.GetStakes(ctx, p.ID, participant)
		if err != nil {
			return nil, err
		}
		owed, err := Payout(p, entries)
		if err != nil {
			return nil, err
		}
		settled, err := isSettled(ctx, r, p.ID, participant)
		if err != nil {
			return nil, err
		}
		if paid, err = amount.Add(paid, owed); err != nil {
			return nil, err
		}
		report.Payouts = append(report.Payouts, model.Payout{
			Participant: participant,
			Amount:      owed,
			Settled:     settled,
		})
	}

	// Flooring guarantees paid <= total; Sub fails loudly if that ever breaks.
	if report.Dust, err = amount.Sub(total, paid); err != nil {
		return nil, fmt.Errorf("proposition %d payouts exceed pool: %w", p.ID, err)
	}
	return report, nil
}

func isSettled(ctx context.Context, r store.Repo, id model.PropositionID, participant string) (bool, error) {
	_, err := r.GetSettlement(ctx, id, participant)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, store.ErrNotFound):
		return false, nil
	default:
		return false, err
	}
}

// --- Settlement ---

// SettlementReference is the idempotency key handed to custody for a payout.
func SettlementReference(id model.PropositionID, participant string) string {
	return fmt.Sprintf("settle:%d:%s", id, participant)
}

// Settle records the settlement marker for participant and instructs custody
// to disburse their payout, in one transaction. The operator or the
// participant may settle; a second call fails with ErrAlreadySettled.
func (e *Engine) Settle(ctx context.Context, caller string, id model.PropositionID, participant string) (*model.Settlement, error) {
	var settlement *model.Settlement
	err := e.store.Atomic(ctx, func(r store.Repo) error {
		cfg, err := loadConfig(ctx, r)
		if err != nil {
			return err
		}
		if caller == "" || (caller != cfg.Operator && caller != participant) {
			return fmt.Errorf("%w: %q cannot settle for %q", ErrUnauthorized, caller, participant)
		}
		p, err := loadResolved(ctx, r, id)
		if err != nil {
			return err
		}

		if _, err := r.GetSettlement(ctx, id, participant); err == nil {
			return fmt.Errorf("proposition %d participant %s: %w", id, participant, ErrAlreadySettled)
		} else if !errors.Is(err, store.ErrNotFound) {
			return err
		}

		entries, err := r.GetStakes(ctx, id, participant)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			return fmt.Errorf("proposition %d participant %s: %w", id, participant, ErrNoStake)
		}
		owed, err := Payout(p, entries)
		if err != nil {
			return err
		}

		s := &model.Settlement{
			PropositionID: id,
			Participant:   participant,
			Amount:        owed,
			Reference:     SettlementReference(id, participant),
			SettledAt:     e.now(),
		}
		if err := r.InsertSettlement(ctx, s); err != nil {
			if errors.Is(err, store.ErrConflict) {
				return fmt.Errorf("proposition %d participant %s: %w", id, participant, ErrAlreadySettled)
			}
			return err
		}

		if owed.IsPositive() {
			err := e.custody.Disburse(ctx, custody.Transfer{
				Currency:    cfg.Currency,
				Participant: participant,
				Amount:      owed,
				Reference:   s.Reference,
			})
			if err != nil {
				return fmt.Errorf("disburse payout: %w", err)
			}
		}
		settlement = s
		return nil
	})
	if err != nil {
		return nil, err
	}

	slog.Info("payout settled",
		"proposition", id,
		"participant", participant,
		"amount", settlement.Amount.String(),
		"ref", settlement.Reference,
	)
	return settlement, nil
}

// SettleAll settles every participant that has not been settled yet.
// Operator only. Each participant is settled in its own transaction, so on
// error the settlements completed so far are returned with it.
func (e *Engine) SettleAll(ctx context.Context, caller string, id model.PropositionID) ([]model.Settlement, error) {
	if _, err := requireOperator(ctx, e.store, caller); err != nil {
		return nil, err
	}
	if _, err := loadResolved(ctx, e.store, id); err != nil {
		return nil, err
	}
	participants, err := e.store.ListParticipants(ctx, id)
	if err != nil {
		return nil, err
	}

	settled := []model.Settlement{}
	for _, participant := range participants {
		s, err := e.Settle(ctx, caller, id, participant)
		if errors.Is(err, ErrAlreadySettled) {
			continue
		}
		if err != nil {
			return settled, err
		}
		settled = append(settled, *s)
	}
	return settled, nil
}

// --- Queries ---

// Summary returns a read-only projection of a proposition.
func (e *Engine) Summary(ctx context.Context, id model.PropositionID) (*model.Summary, error) {
	p, err := loadProposition(ctx, e.store, id)
	if err != nil {
		return nil, err
	}
	total, err := p.TotalPool()
	if err != nil {
		return nil, err
	}
	participants, err := e.store.ListParticipants(ctx, id)
	if err != nil {
		return nil, err
	}

	s := &model.Summary{
		Proposition:  *p,
		TotalPool:    total,
		Participants: len(participants),
	}
	if p.State == model.StateResolved {
		winning := p.Pool(p.Outcome.WinningSide())
		s.WinningPool = &winning
		s.NoContest = winning.IsZero()
	}
	return s, nil
}

// --- helpers ---

func loadConfig(ctx context.Context, r store.Repo) (*model.LedgerConfig, error) {
	cfg, err := r.GetConfig(ctx)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotInitialized
	}
	return cfg, err
}

func requireOperator(ctx context.Context, r store.Repo, caller string) (*model.LedgerConfig, error) {
	cfg, err := loadConfig(ctx, r)
	if err != nil {
		return nil, err
	}
	if caller == "" || caller != cfg.Operator {
		return nil, fmt.Errorf("%w: %q is not the operator", ErrUnauthorized, caller)
	}
	return cfg, nil
}

// loadResolved is loadProposition that also requires the proposition to be resolved.
func loadResolved(ctx context.Context, r store.Repo, id model.PropositionID) (*model.Proposition, error) {
	p, err := loadProposition(ctx, r, id)
	if err != nil {
		return nil, err
	}
	if p.State != model.StateResolved {
		return nil, fmt.Errorf("proposition %d: %w", id, ErrNotResolved)
	}
	return p, nil
}

func loadProposition(ctx context.Context, r store.Repo, id model.PropositionID) (*model.Proposition, error) {
	p, err := r.GetProposition(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("proposition %d: %w", id, ErrNotFound)
	}
	return p, err
}
