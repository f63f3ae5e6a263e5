package reti

import (
	"errors"
)

var (
	// Authorization failures - wrong sender for a privileged call.
	ErrNotAuthorized    = errors.New("caller is not authorized for this operation")
	ErrUnexpectedCaller = errors.New("caller identity doesn't match expected contract identity")

	// Capacity failures.
	ErrPoolFull         = errors.New("pool is full - no empty ledger slot for new staker")
	ErrPoolMaxStake     = errors.New("stake would exceed this pool's maximum")
	ErrNoPoolsAvailable = errors.New("no pool with sufficient capacity for this stake")
	ErrTooManyPools     = errors.New("validator already has the maximum number of pools")

	// Insufficient-funds / invariant failures.
	ErrStakerNotFound           = errors.New("staker has no ledger slot in this pool")
	ErrInsufficientStake        = errors.New("withdrawal amount exceeds staked balance")
	ErrMinEntryStake            = errors.New("balance would drop below minimum entry stake - withdraw fully or stay above the minimum")
	ErrNotEnoughRewardAvailable = errors.New("reward available not at least 1 ALGO - skipping payout")
	ErrValidatorSunsetted       = errors.New("validator is past its sunset time - no new stake accepted")
	ErrStakeExceedsValidatorMax = errors.New("stake would push validator past the network maximum")

	// Timing failures.
	ErrEpochNotElapsed = errors.New("epoch payout interval hasn't elapsed since last payout")

	// Consistency / lookup failures.
	ErrValidatorNotFound  = errors.New("no validator with that id")
	ErrPoolNotFound       = errors.New("no pool with that id")
	ErrPoolNotInitialized = errors.New("pool storage not initialized")
	ErrInvalidConfig      = errors.New("validator config outside protocol constraints")
	ErrShortPayment       = errors.New("attached payment doesn't cover required amount")
)
