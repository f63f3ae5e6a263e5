package reti

import (
	"fmt"

	"github.com/algorand/go-algorand-sdk/v2/types"

	"github.com/TxnLab/reti-core/internal/lib/chain"
)

// EpochUpdateResult reports what one epoch balance update actually moved.
type EpochUpdateResult struct {
	EpochNumber     uint64
	AlgoCredited    uint64 // total added to staker balances (compounds)
	TokensCredited  uint64 // reward-token amounts credited to staker slots
	CommissionPaid  uint64 // paid to commission address (and/or manager top-off)
	ExcessToFeeSink uint64 // saturation excess swept to the fee sink
}

// EpochBalanceUpdate converts the pool's accrued surplus into staker balance
// increases, a validator commission payment, and optional reward-token
// credits - weighted by stake and fraction-of-epoch present, dampened once
// the validator is saturated.  Anyone may trigger it; the interval gating is
// the only protection needed since all math is against tracked state.
func (p *StakingPool) EpochBalanceUpdate(tx *chain.Txn) (EpochUpdateResult, error) {
	gs, err := p.globals(tx)
	if err != nil {
		return EpochUpdateResult{}, err
	}
	config, err := p.registry.GetValidatorConfig(tx, gs.ValidatorID)
	if err != nil {
		return EpochUpdateResult{}, err
	}
	state, err := p.registry.GetValidatorState(tx, gs.ValidatorID)
	if err != nil {
		return EpochUpdateResult{}, err
	}
	constraints := p.registry.GetProtocolConstraints(tx)

	now := tx.Now()
	epochSecs := config.EpochDurationSecs()

	// Very first call only establishes the payout baseline.
	if gs.LastPayout == 0 {
		gs.LastPayout = now
		gs.EpochNumber++
		p.saveGlobals(tx, gs)
		tx.Log("epoch_baseline", "pool_app_id", p.appID, "epoch", gs.EpochNumber)
		return EpochUpdateResult{EpochNumber: gs.EpochNumber}, nil
	}
	if gs.LastPayout+epochSecs > now {
		return EpochUpdateResult{}, fmt.Errorf("%w: next epoch at %d, now %d", ErrEpochNotElapsed, gs.LastPayout+epochSecs, now)
	}

	// Advance the epoch before any distribution so a zero-payout success
	// can never leave the pool stuck.
	gs.LastPayout = now
	gs.EpochNumber++

	// Token setup: refresh the cross-pool payout-ratio snapshot, proxying
	// through pool 1 when we aren't it (a single authenticated hop - only
	// pool 1 may call the registry's ratio-setter).
	var (
		ratio       PoolTokenPayoutRatio
		poolOneAddr types.Address
	)
	isTokenEligible := config.RewardTokenID != 0
	if isTokenEligible {
		if gs.PoolID != 1 {
			poolOneAppID, err := p.registry.GetPoolAppID(tx, gs.ValidatorID, 1)
			if err != nil {
				return EpochUpdateResult{}, err
			}
			poolOne, err := p.resolve(tx, poolOneAppID)
			if err != nil {
				return EpochUpdateResult{}, err
			}
			poolOneAddr = poolOne.Address()
			key := p.poolKey(gs)
			err = tx.InvokeFrom(p.Address(), func() error {
				ratio, err = poolOne.ProxiedSetTokenPayoutRatio(tx, key)
				return err
			})
			if err != nil {
				return EpochUpdateResult{}, err
			}
		} else {
			poolOneAddr = p.Address()
			err = tx.InvokeFrom(p.Address(), func() error {
				ratio, err = p.registry.SetTokenPayoutRatio(tx, gs.ValidatorID)
				return err
			})
			if err != nil {
				return EpochUpdateResult{}, err
			}
		}
	}

	algoRewardAvail := p.AvailableRewards(tx)
	result := EpochUpdateResult{EpochNumber: gs.EpochNumber}

	// Saturated validators get a dampened reward; the excess is swept to
	// the fee sink and the validator forfeits its commission this epoch.
	isSaturated := constraints.AmtConsideredSaturated > 0 && state.TotalAlgoStaked > constraints.AmtConsideredSaturated
	if isSaturated {
		diminished := mulDiv(algoRewardAvail, constraints.AmtConsideredSaturated, state.TotalAlgoStaked)
		result.ExcessToFeeSink = algoRewardAvail - diminished
		if err := tx.Transfer(p.Address(), chain.FeeSinkAddress, result.ExcessToFeeSink); err != nil {
			return EpochUpdateResult{}, err
		}
		algoRewardAvail = diminished
	} else if algoRewardAvail > 0 {
		validatorPay := mulDiv(algoRewardAvail, config.PercentToValidator, 1_000_000)
		algoRewardAvail -= validatorPay
		if validatorPay > 0 {
			// Divert part of the commission to the manager if it's too
			// low to keep paying for future epoch triggers.
			topOff := uint64(0)
			if tx.Spendable(config.Manager) < ManagerLowBalanceFloor {
				topOff = min(validatorPay, ManagerTopOffAmount)
				if err := tx.Transfer(p.Address(), config.Manager, topOff); err != nil {
					return EpochUpdateResult{}, err
				}
			}
			if rest := validatorPay - topOff; rest > 0 && config.ValidatorCommissionAddress != types.ZeroAddress {
				if err := tx.Transfer(p.Address(), config.ValidatorCommissionAddress, rest); err != nil {
					return EpochUpdateResult{}, err
				}
			}
			result.CommissionPaid = validatorPay
		}
	}

	// This pool's slice of the per-payout token amount, per the snapshot,
	// capped by what pool 1 actually still has free to pay.
	var tokenRewardAvail uint64
	if isTokenEligible && int(gs.PoolID) <= len(ratio.PoolPctOfWhole) {
		pct := ratio.PoolPctOfWhole[gs.PoolID-1]
		tokenRewardAvail = mulDiv(config.RewardPerPayout, pct, TokenPayoutRatioScale)
		custody := tx.AssetBalance(poolOneAddr, config.RewardTokenID)
		if custody < state.RewardTokenHeldBack {
			tokenRewardAvail = 0
		} else if free := custody - state.RewardTokenHeldBack; tokenRewardAvail > free {
			tokenRewardAvail = free
		}
	}

	// With no alternate reward this epoch, the algo reward must clear the
	// minimum floor - an epoch must always pay something.
	if tokenRewardAvail == 0 && algoRewardAvail < MinEpochAvailableReward {
		return EpochUpdateResult{}, ErrNotEnoughRewardAvailable
	}

	ledger, err := p.loadLedger(tx)
	if err != nil {
		return EpochUpdateResult{}, err
	}
	if err := tx.EnsureBudget(2 * len(ledger)); err != nil {
		return EpochUpdateResult{}, err
	}

	origStaked := gs.TotalStaked
	algoRemaining := algoRewardAvail
	tokenRemaining := tokenRewardAvail

	// Pass A: stakers present for only part of the epoch get a reward
	// scaled by time-in-pool, each payout immediately reducing the pool so
	// later stakers split what's left.  Entry times still in the future
	// (clock skew) are counted partial with zero reward.
	var partialStakersTotalStake uint64
	for i := range ledger {
		if err := tx.UseBudget(1); err != nil {
			return EpochUpdateResult{}, err
		}
		slot := &ledger[i]
		if slot.Account == types.ZeroAddress {
			continue
		}
		if slot.EntryTime > now {
			// hasn't even started accruing - skip payment but count as
			// partial so pass B doesn't split against their stake
			partialStakersTotalStake += slot.Balance
			continue
		}
		timeInPool := now - slot.EntryTime
		if timeInPool >= epochSecs {
			continue // full-epoch staker, handled in pass B
		}
		partialStakersTotalStake += slot.Balance
		// tenths-of-a-percent precision (0-1000)
		timePercentage := (timeInPool * 1000) / epochSecs
		stakedBal := slot.Balance
		if algoRemaining > 0 {
			reward := mulDiv3(stakedBal, algoRemaining, timePercentage, origStaked, 1000)
			slot.Balance += reward
			slot.TotalRewarded += reward
			algoRemaining -= reward
			result.AlgoCredited += reward
		}
		if tokenRemaining > 0 {
			tokenReward := mulDiv3(stakedBal, tokenRemaining, timePercentage, origStaked, 1000)
			slot.RewardTokenBalance += tokenReward
			tokenRemaining -= tokenReward
			result.TokensCredited += tokenReward
		}
	}

	// Pass B: whoever was present the whole epoch splits the remainder
	// against the total excluding partial stakers - rounding dust from
	// pass A lands here.  If everyone was partial nothing is distributed.
	if newPoolTotalStake := origStaked - partialStakersTotalStake; newPoolTotalStake > 0 {
		for i := range ledger {
			if err := tx.UseBudget(1); err != nil {
				return EpochUpdateResult{}, err
			}
			slot := &ledger[i]
			if slot.Account == types.ZeroAddress || slot.EntryTime > now {
				continue
			}
			if now-slot.EntryTime < epochSecs {
				continue
			}
			stakedBal := slot.Balance
			if algoRemaining > 0 {
				reward := mulDiv(stakedBal, algoRemaining, newPoolTotalStake)
				slot.Balance += reward
				slot.TotalRewarded += reward
				result.AlgoCredited += reward
			}
			if tokenRemaining > 0 {
				tokenReward := mulDiv(stakedBal, tokenRemaining, newPoolTotalStake)
				slot.RewardTokenBalance += tokenReward
				result.TokensCredited += tokenReward
			}
		}
	}

	// Credited rewards compound - they become tracked stake, never an
	// immediate transfer.
	gs.TotalStaked += result.AlgoCredited
	p.saveLedger(tx, ledger)
	p.saveGlobals(tx, gs)

	key := p.poolKey(gs)
	err = tx.InvokeFrom(p.Address(), func() error {
		return p.registry.StakeUpdatedViaRewards(tx, key,
			result.AlgoCredited, result.TokensCredited, result.CommissionPaid, result.ExcessToFeeSink)
	})
	if err != nil {
		return EpochUpdateResult{}, err
	}

	tx.Log("epoch_updated",
		"pool_app_id", p.appID,
		"epoch", gs.EpochNumber,
		"algo_credited", result.AlgoCredited,
		"tokens_credited", result.TokensCredited,
		"commission_paid", result.CommissionPaid,
		"excess_to_fee_sink", result.ExcessToFeeSink,
	)
	return result, nil
}
