package ledger

import (
	"github.com/atmx/wager-engine/internal/amount"
	"github.com/atmx/wager-engine/internal/model"
)

// Payout computes a participant's pari-mutuel share of a resolved
// proposition from their stake history:
//
//	total   = yesPool + noPool
//	winning = pool of the winning side
//	w       = Σ participant stakes on the winning side
//	payout  = floor(w * total / winning)
//
// When winning is zero nobody backed the winning side and every participant
// is refunded their own stake on both sides. Flooring keeps the sum of all
// payouts at or below total.
func Payout(p *model.Proposition, entries []model.StakeEntry) (amount.Amount, error) {
	if p.State != model.StateResolved {
		return amount.Zero, ErrNotResolved
	}

	total, err := p.TotalPool()
	if err != nil {
		return amount.Zero, err
	}
	side := p.Outcome.WinningSide()
	winning := p.Pool(side)

	if winning.IsZero() {
		return stakeTotal(entries, func(model.Side) bool { return true })
	}

	w, err := stakeTotal(entries, func(s model.Side) bool { return s == side })
	if err != nil {
		return amount.Zero, err
	}
	if w.IsZero() {
		return amount.Zero, nil
	}
	return amount.MulDivFloor(w, total, winning)
}

// stakeTotal sums the entries whose side matches.
func stakeTotal(entries []model.StakeEntry, match func(model.Side) bool) (amount.Amount, error) {
	sum := amount.Zero
	for _, e := range entries {
		if !match(e.Side) {
			continue
		}
		var err error
		if sum, err = amount.Add(sum, e.Amount); err != nil {
			return amount.Zero, err
		}
	}
	return sum, nil
}
