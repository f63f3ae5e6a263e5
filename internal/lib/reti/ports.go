package reti

import (
	"github.com/algorand/go-algorand-sdk/v2/types"

	"github.com/TxnLab/reti-core/internal/lib/chain"
)

// RegistryPort is the surface a staking pool relies on from its owning
// registry.  The state-changing callbacks authenticate the caller by
// recomputing the expected pool identity from the pool key and comparing
// against the current transaction sender.
type RegistryPort interface {
	chain.App

	GetProtocolConstraints(tx *chain.Txn) ProtocolConstraints
	GetValidatorConfig(tx *chain.Txn, validatorID uint64) (ValidatorConfig, error)
	GetValidatorState(tx *chain.Txn, validatorID uint64) (ValidatorCurState, error)
	GetPoolAppID(tx *chain.Txn, validatorID, poolID uint64) (uint64, error)
	GetOwnerAndManager(tx *chain.Txn, validatorID uint64) (types.Address, types.Address, error)

	SetTokenPayoutRatio(tx *chain.Txn, validatorID uint64) (PoolTokenPayoutRatio, error)
	StakeRemoved(tx *chain.Txn, key ValidatorPoolKey, staker types.Address, amountRemoved, tokenRemoved uint64, stakerFullyRemoved bool) error
	StakeUpdatedViaRewards(tx *chain.Txn, key ValidatorPoolKey, algoAdded, tokenPaid, commissionPaid, excessToFeeSink uint64) error
}

// PoolPort is the pool surface other components call into: the registry's
// stake hand-off, and the pool-1 token custody paths (one-hop ratio-refresh
// proxy and direct token payout).
type PoolPort interface {
	chain.App

	AddStake(tx *chain.Txn, payment chain.Payment, staker types.Address) (entryTime uint64, newEntry bool, err error)
	ProxiedSetTokenPayoutRatio(tx *chain.Txn, key ValidatorPoolKey) (PoolTokenPayoutRatio, error)
	PayTokenReward(tx *chain.Txn, staker types.Address, rewardTokenID, amount uint64) error
}

// PoolResolver locates a pool instance by app id within the current
// transaction - the in-process equivalent of "send a call to app X".
type PoolResolver func(tx *chain.Txn, poolAppID uint64) (PoolPort, error)
