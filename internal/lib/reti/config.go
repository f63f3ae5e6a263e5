package reti

import (
	"fmt"
	"strings"

	"github.com/algorand/go-algorand-sdk/v2/types"

	"github.com/TxnLab/reti-core/internal/lib/algo"
)

type ValidatorConfig struct {
	// ID of this validator (sequentially assigned)
	ID uint64
	// Account that controls config - presumably cold-wallet
	Owner types.Address
	// Account that triggers/pays for payouts and keyreg transactions - needs to be hotwallet as node has to sign for the transactions
	Manager types.Address

	// Payout frequency in minutes - ie: 60, 1440, etc.
	PayoutEveryXMins uint64
	// Payout percentage expressed w/ four decimals - ie: 50000 = 5% -> .0005 -
	PercentToValidator uint64
	// account that receives the validation commission each epoch payout (can be ZeroAddress)
	ValidatorCommissionAddress types.Address
	// minimum stake required to enter pool - but must withdraw all if want to go below this amount as well(!)
	MinEntryStake uint64
	// maximum stake allowed per pool (to keep under incentive limits)
	MaxAlgoPerPool uint64
	// Number of pools to allow per node (max of 3 is recommended)
	PoolsPerNode uint64

	// Optional timestamp at which this validator stops accepting new stake
	SunsettingOn uint64
	// Optional validator id stakers are directed to instead once sunsetted
	SunsettingTo uint64

	// Optional secondary reward token (asset id) distributed alongside the
	// epoch stake-growth reward, and the amount paid out per full payout.
	RewardTokenID   uint64
	RewardPerPayout uint64
}

func (v *ValidatorConfig) String() string {
	var out strings.Builder

	out.WriteString(fmt.Sprintf("ID: %d\n", v.ID))
	out.WriteString(fmt.Sprintf("Owner: %s\n", v.Owner.String()))
	out.WriteString(fmt.Sprintf("Manager: %s\n", v.Manager.String()))
	out.WriteString(fmt.Sprintf("Validator Commission Address: %s\n", v.ValidatorCommissionAddress.String()))
	out.WriteString(fmt.Sprintf("%% to Validator: %.04f\n", float64(v.PercentToValidator)/10_000.0))
	out.WriteString(fmt.Sprintf("Payout Every %d mins\n", v.PayoutEveryXMins))
	out.WriteString(fmt.Sprintf("Min Entry Stake: %s\n", algo.FormattedAlgoAmount(v.MinEntryStake)))
	out.WriteString(fmt.Sprintf("Max Algo Per Pool: %s\n", algo.FormattedAlgoAmount(v.MaxAlgoPerPool)))
	out.WriteString(fmt.Sprintf("Max Pools per Node: %d\n", v.PoolsPerNode))
	if v.RewardTokenID != 0 {
		out.WriteString(fmt.Sprintf("Reward Token: %d, Per Payout: %d\n", v.RewardTokenID, v.RewardPerPayout))
	}
	if v.SunsettingOn != 0 {
		out.WriteString(fmt.Sprintf("Sunsetting On: %d, To: %d\n", v.SunsettingOn, v.SunsettingTo))
	}
	return out.String()
}

// EpochDurationSecs is the payout interval in seconds.
func (v *ValidatorConfig) EpochDurationSecs() uint64 {
	return v.PayoutEveryXMins * 60
}

type ValidatorCurState struct {
	NumPools        int    // current number of pools this validator has - capped at MaxPools
	TotalStakers    uint64 // total number of stakers across all pools
	TotalAlgoStaked uint64 // total amount staked to this validator across ALL of its pools
	// Amount of the reward token already credited to stakers but not yet
	// claimed - pool 1's token balance minus this is what's still payable.
	RewardTokenHeldBack uint64
}

func (v *ValidatorCurState) String() string {
	return fmt.Sprintf("NumPools: %d, TotalStakers: %d, TotalAlgoStaked: %d, RewardTokenHeldBack: %d",
		v.NumPools, v.TotalStakers, v.TotalAlgoStaked, v.RewardTokenHeldBack)
}

// ValidatorPoolKey is the capability token every cross-contract call carries
// to unambiguously identify which pool is speaking.
type ValidatorPoolKey struct {
	ID        uint64 // 0 is invalid - should start at 1 (but is direct key in box)
	PoolID    uint64 // 0 means INVALID ! - so 1 is index, technically of [0]
	PoolAppID uint64
}

func (v *ValidatorPoolKey) String() string {
	return fmt.Sprintf("ValidatorPoolKey{ID: %d, PoolID: %d, PoolAppID: %d}", v.ID, v.PoolID, v.PoolAppID)
}

type PoolInfo struct {
	PoolAppID       uint64 // The App ID of this staking pool contract instance
	TotalStakers    int
	TotalAlgoStaked uint64
}

// PoolTokenPayoutRatio is the per-epoch-cycle snapshot of each pool's share
// of the validator's whole stake (six decimals), refreshed by pool 1 before
// token rewards are computed so cross-pool distribution stays consistent
// even though pools update asynchronously.
type PoolTokenPayoutRatio struct {
	PoolPctOfWhole   []uint64
	UpdatedForPayout uint64 // epoch-cycle bin this snapshot was taken in
}

// NodePoolAssignmentConfig tracks which node hosts which pool app ids.
type NodePoolAssignmentConfig struct {
	Nodes [][]uint64
}

// validatorRecord is everything the registry persists for one validator,
// stored in the 'v'+id box.
type validatorRecord struct {
	Config              ValidatorConfig
	State               ValidatorCurState
	Pools               []PoolInfo
	TokenPayoutRatio    PoolTokenPayoutRatio
	NodePoolAssignments NodePoolAssignmentConfig
}

// ProtocolConstraints are network-level numbers the registry computes from
// current online stake and hands to pools for saturation checks.
type ProtocolConstraints struct {
	EpochPayoutMinsMin uint64
	EpochPayoutMinsMax uint64
	MaxPctToValidator  uint64
	MinEntryStake      uint64
	MaxAlgoPerPool     uint64
	MaxNodes           uint64
	MaxPoolsPerNode    uint64
	MaxStakersPerPool  uint64
	// Stake level at which a validator is considered saturated and epoch
	// rewards are dampened (percent of total network online stake).
	AmtConsideredSaturated uint64
	// Hard ceiling on aggregate stake per validator.
	MaxAlgoPerValidator uint64
}

type MbrAmounts struct {
	AddValidatorMbr uint64
	AddPoolMbr      uint64
	PoolInitMbr     uint64
	AddStakerMbr    uint64
}
