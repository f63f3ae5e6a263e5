package reti

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/algorand/go-algorand-sdk/v2/types"
	"github.com/stretchr/testify/require"

	"github.com/TxnLab/reti-core/internal/lib/chain"
	"github.com/TxnLab/reti-core/internal/lib/store"
)

// fixture is a bootstrapped protocol over an in-memory store with a
// controllable clock.
type fixture struct {
	t        *testing.T
	env      *chain.Env
	protocol *Protocol
	now      time.Time
}

func newFixture(t *testing.T) *fixture {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	env := chain.NewEnv(store.NewMemory(), logger)
	f := &fixture{t: t, env: env, now: time.Unix(1_700_000_000, 0)}
	env.Clock = func() time.Time { return f.now }
	protocol, err := Bootstrap(env, logger)
	require.NoError(t, err)
	f.protocol = protocol
	return f
}

func (f *fixture) advance(d time.Duration) {
	f.now = f.now.Add(d)
}

func (f *fixture) addr(seed byte) types.Address {
	var a types.Address
	for i := range a {
		a[i] = seed
	}
	return a
}

func (f *fixture) fund(addr types.Address, amount uint64) {
	require.NoError(f.t, f.env.Fund(addr, amount))
}

// setOnlineStake brings one large account online so saturation and hard-cap
// constraints become non-zero.
func (f *fixture) setOnlineStake(total uint64) {
	big := f.addr(250)
	f.fund(big, total)
	require.NoError(f.t, f.env.Execute(big, func(tx *chain.Txn) error {
		tx.SetOnline(big, true)
		return nil
	}))
}

func (f *fixture) defaultConfig(owner, manager types.Address) ValidatorConfig {
	return ValidatorConfig{
		Owner:                      owner,
		Manager:                    manager,
		PayoutEveryXMins:           60,
		PercentToValidator:         100_000, // 10% w/ four decimals
		ValidatorCommissionAddress: f.addr(200),
		MinEntryStake:              1_000_000,
		PoolsPerNode:               3,
	}
}

func (f *fixture) createValidator(config ValidatorConfig) uint64 {
	r := f.protocol.Registry()
	var mbr uint64
	require.NoError(f.t, f.env.View(func(tx *chain.Txn) error {
		mbr = r.GetMbrAmounts(tx).AddValidatorMbr
		return nil
	}))
	f.fund(config.Owner, mbr+50_000_000)

	var id uint64
	err := f.env.Execute(config.Owner, func(tx *chain.Txn) error {
		var err error
		id, err = r.AddValidator(tx, chain.Payment{From: config.Owner, Amount: mbr}, config)
		return err
	})
	require.NoError(f.t, err)
	return id
}

// createPool adds the validator's next pool on nodeNum and initializes its
// storage, paying exactly the required MBR amounts so the pool starts with
// zero reward surplus.
func (f *fixture) createPool(validatorID, nodeNum uint64) ValidatorPoolKey {
	r := f.protocol.Registry()
	var config ValidatorConfig
	require.NoError(f.t, f.env.View(func(tx *chain.Txn) error {
		var err error
		config, err = r.GetValidatorConfig(tx, validatorID)
		return err
	}))
	f.fund(config.Owner, 10_000_000)

	var key ValidatorPoolKey
	err := f.env.Execute(config.Owner, func(tx *chain.Txn) error {
		var err error
		key, err = r.AddPool(tx, chain.Payment{From: config.Owner, Amount: chain.BaseAccountMBR}, validatorID, nodeNum)
		if err != nil {
			return err
		}
		pool, err := f.protocol.Pool(tx, key.PoolAppID)
		if err != nil {
			return err
		}
		pay := boxMBR(len(GetStakerLedgerBoxName()), ledgerBoxSize())
		if key.PoolID == 1 && config.RewardTokenID != 0 {
			pay += chain.AssetOptInMBR
		}
		return pool.InitStorage(tx, chain.Payment{From: config.Owner, Amount: pay})
	})
	require.NoError(f.t, err)
	return key
}

func (f *fixture) pool(key ValidatorPoolKey) *StakingPool {
	var pool *StakingPool
	require.NoError(f.t, f.env.View(func(tx *chain.Txn) error {
		var err error
		pool, err = f.protocol.Pool(tx, key.PoolAppID)
		return err
	}))
	return pool
}

// addStake funds the staker and deposits, topping the deposit up by the
// first-stake MBR when needed so exactly amount lands in the ledger.
func (f *fixture) addStake(staker types.Address, validatorID, amount uint64) ValidatorPoolKey {
	r := f.protocol.Registry()
	deposit := amount
	require.NoError(f.t, f.env.View(func(tx *chain.Txn) error {
		poolSet, err := r.GetStakedPoolsForAccount(tx, staker)
		if err != nil {
			return err
		}
		if len(poolSet) == 0 {
			deposit += r.GetMbrAmounts(tx).AddStakerMbr
		}
		return nil
	}))
	f.fund(staker, deposit)

	var key ValidatorPoolKey
	err := f.env.Execute(staker, func(tx *chain.Txn) error {
		var err error
		key, err = r.AddStake(tx, chain.Payment{From: staker, Amount: deposit}, validatorID)
		return err
	})
	require.NoError(f.t, err)
	return key
}

func (f *fixture) stakerInfo(key ValidatorPoolKey, staker types.Address) StakedInfo {
	pool := f.pool(key)
	var info StakedInfo
	require.NoError(f.t, f.env.View(func(tx *chain.Txn) error {
		var err error
		info, err = pool.GetStakerInfo(tx, staker)
		return err
	}))
	return info
}

func (f *fixture) validatorState(validatorID uint64) ValidatorCurState {
	var state ValidatorCurState
	require.NoError(f.t, f.env.View(func(tx *chain.Txn) error {
		var err error
		state, err = f.protocol.Registry().GetValidatorState(tx, validatorID)
		return err
	}))
	return state
}

func (f *fixture) epochUpdate(key ValidatorPoolKey, sender types.Address) (EpochUpdateResult, error) {
	pool := f.pool(key)
	var result EpochUpdateResult
	err := f.env.Execute(sender, func(tx *chain.Txn) error {
		var err error
		result, err = pool.EpochBalanceUpdate(tx)
		return err
	})
	return result, err
}

func (f *fixture) balance(addr types.Address) uint64 {
	var bal uint64
	require.NoError(f.t, f.env.View(func(tx *chain.Txn) error {
		bal = tx.Balance(addr)
		return nil
	}))
	return bal
}

func (f *fixture) assetBalance(addr types.Address, assetID uint64) uint64 {
	var bal uint64
	require.NoError(f.t, f.env.View(func(tx *chain.Txn) error {
		bal = tx.AssetBalance(addr, assetID)
		return nil
	}))
	return bal
}

func (f *fixture) availableRewards(key ValidatorPoolKey) uint64 {
	pool := f.pool(key)
	var avail uint64
	require.NoError(f.t, f.env.View(func(tx *chain.Txn) error {
		avail = pool.AvailableRewards(tx)
		return nil
	}))
	return avail
}
