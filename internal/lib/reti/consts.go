package reti

import (
	"bytes"
	"encoding/binary"

	"github.com/algorand/go-algorand-sdk/v2/types"

	"github.com/TxnLab/reti-core/internal/lib/chain"
)

const (
	MaxNodes        = 12
	MaxPoolsPerNode = 6
	MaxPools        = MaxNodes * MaxPoolsPerNode

	// Hard cap on stakers per pool - the ledger box is sized to this.
	MaxStakersPerPool = 200

	// Max number of different pools a single account can be staked in.
	MaxStakedPoolsPerAccount = 6

	// New/increased stake isn't seen as 'online' by the network until
	// ~320 rounds after confirmation (~2.8s avg block time), so entry time
	// is pushed forward by this amount and rewards are never computed for
	// stake the network hasn't yet observed.
	StakingBlockDelayRounds = 320
	AvgBlockTimeTenthsSecs  = 28
	EntryTimeDelaySecs      = StakingBlockDelayRounds * AvgBlockTimeTenthsSecs / 10

	// An epoch with no reward token configured must pay at least this much.
	MinEpochAvailableReward = 1_000_000 // 1 ALGO

	// If the manager account's spendable balance drops below the floor,
	// up to TopOffAmount of the epoch commission is diverted to it so it
	// can keep paying for future epoch triggers.
	ManagerLowBalanceFloor = 1_000_000 // 1 ALGO
	ManagerTopOffAmount    = 2_100_000 // 2.1 ALGO

	// Bounds enforced on validator configuration.
	MinEpochPayoutMins = 1
	MaxEpochPayoutMins = 60 * 24 * 365
	MaxPctToValidator  = 1_000_000 // 100% w/ four decimals
	MinEntryStakeFloor = 1_000_000 // 1 ALGO

	// Network-wide per-pool stake ceiling (keeps pools under incentive caps).
	MaxAlgoPerPoolCap = 70_000_000_000_000 // 70M ALGO

	// Saturation thresholds, percent of total network online stake.
	SaturationPctOfOnline   = 10
	HardMaxPctOfOnlineStake = 15

	// Token payout ratios are snapshotted w/ six decimals (1_000_000 = 100%).
	TokenPayoutRatioScale = 1_000_000
)

const (
	// Global state keys in the validator registry
	VldtrNumValidators = "numV"

	// Global state keys in each staking pool
	StakePoolCreatorApp    = "creatorApp"
	StakePoolValidatorID   = "validatorID"
	StakePoolPoolID        = "poolID"
	StakePoolNumStakers    = "numStakers"
	StakePoolStaked        = "staked"
	StakePoolMinEntryStake = "minEntryStake"
	StakePoolMaxStake      = "maxStake"
	StakePoolLastPayout    = "lastPayout"
	StakePoolEpochNumber   = "epochNumber"
	StakePoolAlgodVer      = "algodVer"
)

// GetValidatorListBoxName returns the registry box name holding everything
// for one validator (config, state, pools, payout ratio, node assignments).
func GetValidatorListBoxName(id uint64) []byte {
	prefix := []byte("v")
	ibytes := make([]byte, 8)
	binary.BigEndian.PutUint64(ibytes, id)
	return bytes.Join([][]byte{prefix, ibytes[:]}, nil)
}

// GetStakerPoolSetBoxName returns the registry box name tracking which pools
// an account is staked in.
func GetStakerPoolSetBoxName(stakerAccount types.Address) []byte {
	return bytes.Join([][]byte{[]byte("sps"), stakerAccount[:]}, nil)
}

// GetStakerLedgerBoxName returns the pool box name holding the stake ledger.
func GetStakerLedgerBoxName() []byte {
	return []byte("stakers")
}

// globalKey builds the persisted key for one global-state value of an app.
func globalKey(appID uint64, name string) []byte {
	key := make([]byte, 0, 2+8+1+len(name))
	key = append(key, 'g', '/')
	ibytes := make([]byte, 8)
	binary.BigEndian.PutUint64(ibytes, appID)
	key = append(key, ibytes...)
	key = append(key, '/')
	return append(key, name...)
}

// boxKey builds the persisted key for one box of an app.
func boxKey(appID uint64, name []byte) []byte {
	key := make([]byte, 0, 2+8+1+len(name))
	key = append(key, 'b', '/')
	ibytes := make([]byte, 8)
	binary.BigEndian.PutUint64(ibytes, appID)
	key = append(key, ibytes...)
	key = append(key, '/')
	return append(key, name...)
}

// boxMBR is the minimum balance locked for a box of the given name and
// content size.
func boxMBR(nameLen, contentLen int) uint64 {
	return chain.BoxFlatMBR + chain.BoxPerByteMBR*uint64(nameLen+contentLen)
}
