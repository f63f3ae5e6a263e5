package chain

import (
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/algorand/go-algorand-sdk/v2/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TxnLab/reti-core/internal/lib/store"
)

func testEnv() *Env {
	return NewEnv(store.NewMemory(), slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func testAddr(seed byte) types.Address {
	var a types.Address
	for i := range a {
		a[i] = seed
	}
	return a
}

func TestExecuteAllOrNothing(t *testing.T) {
	env := testEnv()
	sender := testAddr(1)
	require.NoError(t, env.Fund(sender, 1_000_000))

	boom := errors.New("boom")
	err := env.Execute(sender, func(tx *Txn) error {
		tx.Set([]byte("some/key"), []byte("value"))
		if err := tx.Transfer(sender, testAddr(2), 500_000); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	// nothing from the failed unit may be visible
	err = env.View(func(tx *Txn) error {
		_, exists, err := tx.Get([]byte("some/key"))
		require.NoError(t, err)
		assert.False(t, exists)
		assert.EqualValues(t, 1_000_000, tx.Balance(sender))
		assert.EqualValues(t, 0, tx.Balance(testAddr(2)))
		return nil
	})
	require.NoError(t, err)
}

func TestTransferHonorsMinBalance(t *testing.T) {
	env := testEnv()
	a, b := testAddr(1), testAddr(2)
	require.NoError(t, env.Fund(a, 100_000))

	err := env.Execute(a, func(tx *Txn) error {
		if err := tx.RaiseMinBalance(a, 60_000); err != nil {
			return err
		}
		assert.EqualValues(t, 40_000, tx.Spendable(a))
		return tx.Transfer(a, b, 50_000)
	})
	require.ErrorIs(t, err, ErrInsufficientFunds)

	err = env.Execute(a, func(tx *Txn) error {
		if err := tx.RaiseMinBalance(a, 60_000); err != nil {
			return err
		}
		return tx.Transfer(a, b, 40_000)
	})
	require.NoError(t, err)
	_ = env.View(func(tx *Txn) error {
		assert.EqualValues(t, 60_000, tx.Balance(a))
		assert.EqualValues(t, 40_000, tx.Balance(b))
		return nil
	})
}

func TestTransferRejectsZeroAddress(t *testing.T) {
	env := testEnv()
	a := testAddr(1)
	require.NoError(t, env.Fund(a, 100_000))
	err := env.Execute(a, func(tx *Txn) error {
		return tx.Transfer(a, types.ZeroAddress, 1)
	})
	assert.ErrorIs(t, err, ErrZeroAddressTarget)
}

func TestOnlineStakeTracking(t *testing.T) {
	env := testEnv()
	a, b := testAddr(1), testAddr(2)
	require.NoError(t, env.Fund(a, 1_000_000))
	require.NoError(t, env.Fund(b, 500_000))

	err := env.Execute(a, func(tx *Txn) error {
		tx.SetOnline(a, true)
		assert.EqualValues(t, 1_000_000, tx.TotalOnlineStake())
		// redundant flip is a no-op
		tx.SetOnline(a, true)
		assert.EqualValues(t, 1_000_000, tx.TotalOnlineStake())
		return nil
	})
	require.NoError(t, err)

	// a transfer from an online account to an offline one reduces the total
	err = env.Execute(a, func(tx *Txn) error {
		return tx.Transfer(a, b, 300_000)
	})
	require.NoError(t, err)
	_ = env.View(func(tx *Txn) error {
		assert.EqualValues(t, 700_000, tx.TotalOnlineStake())
		return nil
	})

	// bringing b online adds its whole balance
	err = env.Execute(b, func(tx *Txn) error {
		tx.SetOnline(b, true)
		return nil
	})
	require.NoError(t, err)
	_ = env.View(func(tx *Txn) error {
		assert.EqualValues(t, 1_500_000, tx.TotalOnlineStake())
		return nil
	})

	// funding an online account keeps the total in sync
	require.NoError(t, env.Fund(b, 100_000))
	_ = env.View(func(tx *Txn) error {
		assert.EqualValues(t, 1_600_000, tx.TotalOnlineStake())
		return nil
	})
}

func TestAssetLifecycle(t *testing.T) {
	env := testEnv()
	a, b := testAddr(1), testAddr(2)
	const assetID = 777
	require.NoError(t, env.Fund(a, 1_000_000))
	require.NoError(t, env.Fund(b, 1_000_000))

	// funding before opt-in is rejected
	assert.ErrorIs(t, env.FundAsset(a, assetID, 100), ErrNotOptedIn)

	err := env.Execute(a, func(tx *Txn) error {
		if err := tx.OptInAsset(a, assetID); err != nil {
			return err
		}
		assert.True(t, tx.IsOptedIn(a, assetID))
		assert.EqualValues(t, AssetOptInMBR, tx.MinBalance(a))
		// repeat opt-in must not double the MBR lock
		if err := tx.OptInAsset(a, assetID); err != nil {
			return err
		}
		assert.EqualValues(t, AssetOptInMBR, tx.MinBalance(a))
		return nil
	})
	require.NoError(t, err)
	require.NoError(t, env.FundAsset(a, assetID, 100))

	// transfer to a non-opted-in receiver fails
	err = env.Execute(a, func(tx *Txn) error {
		return tx.AssetTransfer(assetID, a, b, 10)
	})
	assert.ErrorIs(t, err, ErrNotOptedIn)

	err = env.Execute(b, func(tx *Txn) error {
		return tx.OptInAsset(b, assetID)
	})
	require.NoError(t, err)
	err = env.Execute(a, func(tx *Txn) error {
		if err := tx.AssetTransfer(assetID, a, b, 110); err == nil {
			return errors.New("overdraft should have failed")
		}
		return tx.AssetTransfer(assetID, a, b, 60)
	})
	require.NoError(t, err)
	_ = env.View(func(tx *Txn) error {
		assert.EqualValues(t, 40, tx.AssetBalance(a, assetID))
		assert.EqualValues(t, 60, tx.AssetBalance(b, assetID))
		return nil
	})
}

func TestOpcodeBudget(t *testing.T) {
	env := testEnv()
	err := env.View(func(tx *Txn) error {
		require.NoError(t, tx.UseBudget(BaseOpcodeBudget))
		assert.ErrorIs(t, tx.UseBudget(1), ErrBudgetExhausted)

		require.NoError(t, tx.EnsureBudget(500))
		require.NoError(t, tx.UseBudget(500))

		assert.ErrorIs(t, tx.EnsureBudget(MaxOpcodeBudget), ErrBudgetExhausted)
		return nil
	})
	require.NoError(t, err)
}

func TestCreateAppIDs(t *testing.T) {
	env := testEnv()
	var first, second uint64
	err := env.Execute(testAddr(1), func(tx *Txn) error {
		first = tx.CreateApp()
		second = tx.CreateApp()
		return nil
	})
	require.NoError(t, err)
	assert.EqualValues(t, 1000, first)
	assert.EqualValues(t, 1001, second)
	assert.NotEqual(t, AppAddress(first), AppAddress(second))
	assert.Equal(t, AppAddress(first), AppAddress(first))
}

func TestSenderFrameStack(t *testing.T) {
	env := testEnv()
	outer, inner := testAddr(1), testAddr(9)
	err := env.Execute(outer, func(tx *Txn) error {
		assert.Equal(t, outer, tx.Sender())
		err := tx.InvokeFrom(inner, func() error {
			assert.Equal(t, inner, tx.Sender())
			return nil
		})
		require.NoError(t, err)
		// frame pops even when the nested call fails
		_ = tx.InvokeFrom(inner, func() error {
			return errors.New("nested failure")
		})
		assert.Equal(t, outer, tx.Sender())
		return nil
	})
	require.NoError(t, err)
}
