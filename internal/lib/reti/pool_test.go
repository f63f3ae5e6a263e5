package reti

import (
	"crypto/rand"
	"testing"

	"github.com/algorand/go-algorand-sdk/v2/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TxnLab/reti-core/internal/lib/chain"
)

func TestPoolAddStakeRegistryOnly(t *testing.T) {
	f := newFixture(t)
	id := f.createValidator(f.defaultConfig(f.addr(1), f.addr(2)))
	key := f.createPool(id, 1)
	pool := f.pool(key)

	staker := f.addr(10)
	f.fund(staker, 10_000_000)
	err := f.env.Execute(staker, func(tx *chain.Txn) error {
		_, _, err := pool.AddStake(tx, chain.Payment{From: staker, Amount: 10_000_000}, staker)
		return err
	})
	assert.ErrorIs(t, err, ErrNotAuthorized)
}

func TestPoolCapacityBoundary(t *testing.T) {
	f := newFixture(t)
	id := f.createValidator(f.defaultConfig(f.addr(1), f.addr(2)))
	key := f.createPool(id, 1)
	pool := f.pool(key)
	registryAddr := f.protocol.Registry().Address()

	// distinct account per slot - the fixture's uniform-fill addresses only
	// cover 255 accounts
	slotAddr := func(i int) types.Address {
		var a types.Address
		a[0] = byte(i)
		a[1] = byte(i >> 8)
		a[31] = 1
		return a
	}

	for i := 0; i < MaxStakersPerPool; i++ {
		staker := slotAddr(i)
		err := f.env.Execute(registryAddr, func(tx *chain.Txn) error {
			_, newEntry, err := pool.AddStake(tx, chain.Payment{From: registryAddr, Amount: 1_000_000}, staker)
			if err == nil {
				require.True(t, newEntry)
			}
			return err
		})
		require.NoError(t, err)
	}

	// every slot occupied - the next new entrant is turned away
	extra := slotAddr(MaxStakersPerPool)
	err := f.env.Execute(registryAddr, func(tx *chain.Txn) error {
		_, _, err := pool.AddStake(tx, chain.Payment{From: registryAddr, Amount: 1_000_000}, extra)
		return err
	})
	assert.ErrorIs(t, err, ErrPoolFull)

	_ = f.env.View(func(tx *chain.Txn) error {
		info, err := pool.Info(tx)
		require.NoError(t, err)
		assert.Equal(t, MaxStakersPerPool, info.TotalStakers)
		assert.EqualValues(t, uint64(MaxStakersPerPool)*1_000_000, info.TotalAlgoStaked)
		_, err = pool.GetStakerInfo(tx, extra)
		assert.ErrorIs(t, err, ErrStakerNotFound)
		return nil
	})

	// a full ledger only blocks new entrants, existing stakers can top up
	err = f.env.Execute(registryAddr, func(tx *chain.Txn) error {
		_, newEntry, err := pool.AddStake(tx, chain.Payment{From: registryAddr, Amount: 1_000_000}, slotAddr(0))
		require.False(t, newEntry)
		return err
	})
	require.NoError(t, err)
	assert.EqualValues(t, 2_000_000, f.stakerInfo(key, slotAddr(0)).Balance)
}

func TestPoolLookupVerifiesCreator(t *testing.T) {
	f := newFixture(t)
	id := f.createValidator(f.defaultConfig(f.addr(1), f.addr(2)))
	key := f.createPool(id, 1)

	_ = f.env.View(func(tx *chain.Txn) error {
		_, err := f.protocol.Pool(tx, key.PoolAppID)
		assert.NoError(t, err)

		_, err = f.protocol.Pool(tx, key.PoolAppID+500)
		assert.ErrorIs(t, err, ErrPoolNotFound)

		// an app whose creator isn't the registry is refused
		foreignAppID := tx.CreateApp()
		setGlobalUint(tx, foreignAppID, StakePoolCreatorApp, 424242)
		_, err = f.protocol.Pool(tx, foreignAppID)
		assert.ErrorIs(t, err, ErrUnexpectedCaller)
		return nil
	})
}

func TestInitStorageOnlyOnce(t *testing.T) {
	f := newFixture(t)
	owner := f.addr(1)
	id := f.createValidator(f.defaultConfig(owner, f.addr(2)))
	key := f.createPool(id, 1)
	pool := f.pool(key)

	f.fund(owner, 10_000_000)
	err := f.env.Execute(owner, func(tx *chain.Txn) error {
		return pool.InitStorage(tx, chain.Payment{From: owner, Amount: 10_000_000})
	})
	assert.Error(t, err)
}

func TestRemoveStakeMinEntryBoundary(t *testing.T) {
	f := newFixture(t)
	config := f.defaultConfig(f.addr(1), f.addr(2))
	config.MinEntryStake = 5_000_000
	id := f.createValidator(config)
	key := f.createPool(id, 1)
	pool := f.pool(key)

	staker := f.addr(10)
	f.addStake(staker, id, 10_000_000)

	// leaving 4 below the 5 minimum is refused
	err := f.env.Execute(staker, func(tx *chain.Txn) error {
		return pool.RemoveStake(tx, staker, 6_000_000)
	})
	assert.ErrorIs(t, err, ErrMinEntryStake)

	// withdrawing more than staked is refused
	err = f.env.Execute(staker, func(tx *chain.Txn) error {
		return pool.RemoveStake(tx, staker, 11_000_000)
	})
	assert.ErrorIs(t, err, ErrInsufficientStake)

	// landing exactly on the minimum is fine
	err = f.env.Execute(staker, func(tx *chain.Txn) error {
		return pool.RemoveStake(tx, staker, 5_000_000)
	})
	require.NoError(t, err)
	assert.EqualValues(t, 5_000_000, f.stakerInfo(key, staker).Balance)
	assert.EqualValues(t, 5_000_000, f.balance(staker))

	// zero means everything
	err = f.env.Execute(staker, func(tx *chain.Txn) error {
		return pool.RemoveStake(tx, staker, 0)
	})
	require.NoError(t, err)
	assert.EqualValues(t, 10_000_000, f.balance(staker))

	_ = f.env.View(func(tx *chain.Txn) error {
		_, err := pool.GetStakerInfo(tx, staker)
		assert.ErrorIs(t, err, ErrStakerNotFound)
		info, err := pool.Info(tx)
		require.NoError(t, err)
		assert.Equal(t, 0, info.TotalStakers)
		assert.EqualValues(t, 0, info.TotalAlgoStaked)
		return nil
	})
	state := f.validatorState(id)
	assert.EqualValues(t, 0, state.TotalStakers)
	assert.EqualValues(t, 0, state.TotalAlgoStaked)
}

func TestRemoveStakeAuthorization(t *testing.T) {
	f := newFixture(t)
	manager := f.addr(2)
	id := f.createValidator(f.defaultConfig(f.addr(1), manager))
	key := f.createPool(id, 1)
	pool := f.pool(key)

	staker := f.addr(10)
	f.addStake(staker, id, 10_000_000)

	err := f.env.Execute(f.addr(7), func(tx *chain.Txn) error {
		return pool.RemoveStake(tx, staker, 0)
	})
	assert.ErrorIs(t, err, ErrNotAuthorized)

	// the validator's manager can force an exit - funds still go to the staker
	err = f.env.Execute(manager, func(tx *chain.Txn) error {
		return pool.RemoveStake(tx, staker, 0)
	})
	require.NoError(t, err)
	assert.EqualValues(t, 10_000_000, f.balance(staker))
}

func TestGoOnlineOffline(t *testing.T) {
	f := newFixture(t)
	manager := f.addr(2)
	id := f.createValidator(f.defaultConfig(f.addr(1), manager))
	key := f.createPool(id, 1)
	pool := f.pool(key)
	f.addStake(f.addr(10), id, 10_000_000)

	votePK := make([]byte, 32)
	selPK := make([]byte, 32)
	spPK := make([]byte, 64)
	_, _ = rand.Read(votePK)
	_, _ = rand.Read(selPK)
	_, _ = rand.Read(spPK)

	err := f.env.Execute(f.addr(7), func(tx *chain.Txn) error {
		return pool.GoOnline(tx, votePK, selPK, spPK, 100, 1_000_000, 1000)
	})
	assert.ErrorIs(t, err, ErrNotAuthorized)

	err = f.env.Execute(manager, func(tx *chain.Txn) error {
		return pool.GoOnline(tx, votePK[:16], selPK, spPK, 100, 1_000_000, 1000)
	})
	assert.Error(t, err, "truncated vote key must be rejected")

	err = f.env.Execute(manager, func(tx *chain.Txn) error {
		return pool.GoOnline(tx, votePK, selPK, spPK, 100, 1_000_000, 1000)
	})
	require.NoError(t, err)
	_ = f.env.View(func(tx *chain.Txn) error {
		assert.True(t, tx.IsOnline(pool.Address()))
		assert.Equal(t, tx.Balance(pool.Address()), tx.TotalOnlineStake())
		return nil
	})

	err = f.env.Execute(manager, func(tx *chain.Txn) error {
		return pool.GoOffline(tx)
	})
	require.NoError(t, err)
	_ = f.env.View(func(tx *chain.Txn) error {
		assert.False(t, tx.IsOnline(pool.Address()))
		assert.EqualValues(t, 0, tx.TotalOnlineStake())
		return nil
	})
}

func TestUpdateAlgodVer(t *testing.T) {
	f := newFixture(t)
	manager := f.addr(2)
	id := f.createValidator(f.defaultConfig(f.addr(1), manager))
	key := f.createPool(id, 1)
	pool := f.pool(key)

	err := f.env.Execute(f.addr(7), func(tx *chain.Txn) error {
		return pool.UpdateAlgodVer(tx, "3.25.0")
	})
	assert.ErrorIs(t, err, ErrNotAuthorized)

	err = f.env.Execute(manager, func(tx *chain.Txn) error {
		return pool.UpdateAlgodVer(tx, "3.25.0")
	})
	require.NoError(t, err)
	_ = f.env.View(func(tx *chain.Txn) error {
		assert.Equal(t, "3.25.0", pool.AlgodVer(tx))
		return nil
	})
}
