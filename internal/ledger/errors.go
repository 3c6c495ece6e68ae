package ledger

import (
	"errors"

	"github.com/atmx/wager-engine/internal/amount"
)

// Sentinel errors. Compare with errors.Is.
var (
	// ErrUnauthorized is returned when the caller lacks the privilege an
	// operation requires. Checked before any mutation.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrNotFound is returned when the referenced proposition does not exist.
	ErrNotFound = errors.New("proposition not found")

	// ErrAlreadyExists is returned when creating a proposition id twice.
	ErrAlreadyExists = errors.New("proposition already exists")

	// ErrAlreadyInitialized is returned by a second Initialize.
	ErrAlreadyInitialized = errors.New("ledger already initialized")

	// ErrNotInitialized is returned when an operation needs the operator or
	// currency before Initialize has run.
	ErrNotInitialized = errors.New("ledger not initialized")

	// ErrAlreadyResolved is returned by a second Resolve. Resolution is not
	// idempotent so that replays are detectable.
	ErrAlreadyResolved = errors.New("proposition already resolved")

	// ErrMarketClosed is returned when staking on a resolved proposition.
	ErrMarketClosed = errors.New("proposition is closed for staking")

	// ErrNotResolved is returned when payouts are requested while open.
	ErrNotResolved = errors.New("proposition is not resolved")

	// ErrNoStake is returned when settling a participant with no stake history.
	ErrNoStake = errors.New("participant has no stake")

	// ErrAlreadySettled is returned when a participant's payout was already
	// handed to custody.
	ErrAlreadySettled = errors.New("payout already settled")

	// ErrInvalidSide is returned for a side other than YES or NO.
	ErrInvalidSide = errors.New("invalid side: must be YES or NO")

	// ErrInvalidOutcome is returned for an outcome other than YES_WON or NO_WON.
	ErrInvalidOutcome = errors.New("invalid outcome: must be YES_WON or NO_WON")

	// ErrInvalidConfig is returned by Initialize for an empty currency or operator.
	ErrInvalidConfig = errors.New("invalid ledger configuration")

	// ErrInvalidAmount is returned for non-positive or malformed amounts.
	ErrInvalidAmount = amount.ErrInvalid

	// ErrOverflow is returned when a pool would exceed the representable range.
	ErrOverflow = amount.ErrOverflow
)

// IsNotFound reports whether err means the referenced record is absent.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrNoStake)
}

// IsConflict reports whether err is a violation of a one-time transition or
// of the proposition's current state.
func IsConflict(err error) bool {
	for _, target := range []error{
		ErrAlreadyExists,
		ErrAlreadyInitialized,
		ErrAlreadyResolved,
		ErrAlreadySettled,
		ErrMarketClosed,
		ErrNotResolved,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// IsInvalid reports whether err is a malformed-input error.
func IsInvalid(err error) bool {
	for _, target := range []error{
		ErrInvalidAmount,
		ErrInvalidSide,
		ErrInvalidOutcome,
		ErrInvalidConfig,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
