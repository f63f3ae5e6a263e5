package api

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/algorand/go-algorand-sdk/v2/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TxnLab/reti-core/internal/lib/chain"
	"github.com/TxnLab/reti-core/internal/lib/reti"
	"github.com/TxnLab/reti-core/internal/lib/store"
)

func testAddr(seed byte) types.Address {
	var a types.Address
	for i := range a {
		a[i] = seed
	}
	return a
}

// setupServer bootstraps a protocol with one validator, one pool, and one
// staker, and serves the query API over it.
func setupServer(t *testing.T) (*httptest.Server, uint64, types.Address) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	env := chain.NewEnv(store.NewMemory(), logger)
	protocol, err := reti.Bootstrap(env, logger)
	require.NoError(t, err)
	r := protocol.Registry()

	owner, manager, staker := testAddr(1), testAddr(2), testAddr(10)
	var mbrs reti.MbrAmounts
	require.NoError(t, env.View(func(tx *chain.Txn) error {
		mbrs = r.GetMbrAmounts(tx)
		return nil
	}))
	require.NoError(t, env.Fund(owner, mbrs.AddValidatorMbr+mbrs.AddPoolMbr+mbrs.PoolInitMbr+10_000_000))
	require.NoError(t, env.Fund(staker, 50_000_000))

	var poolAppID uint64
	err = env.Execute(owner, func(tx *chain.Txn) error {
		id, err := r.AddValidator(tx, chain.Payment{From: owner, Amount: mbrs.AddValidatorMbr}, reti.ValidatorConfig{
			Owner:              owner,
			Manager:            manager,
			PayoutEveryXMins:   60,
			PercentToValidator: 100_000,
			MinEntryStake:      1_000_000,
			PoolsPerNode:       3,
		})
		if err != nil {
			return err
		}
		key, err := r.AddPool(tx, chain.Payment{From: owner, Amount: mbrs.AddPoolMbr}, id, 1)
		if err != nil {
			return err
		}
		poolAppID = key.PoolAppID
		pool, err := protocol.Pool(tx, key.PoolAppID)
		if err != nil {
			return err
		}
		return pool.InitStorage(tx, chain.Payment{From: owner, Amount: mbrs.PoolInitMbr})
	})
	require.NoError(t, err)

	err = env.Execute(staker, func(tx *chain.Txn) error {
		_, err := r.AddStake(tx, chain.Payment{From: staker, Amount: 50_000_000}, 1)
		return err
	})
	require.NoError(t, err)

	srv := httptest.NewServer(New(protocol))
	t.Cleanup(srv.Close)
	return srv, poolAppID, staker
}

func getJSON(t *testing.T, url string, out any) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil && resp.StatusCode == http.StatusOK {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestValidatorEndpoints(t *testing.T) {
	srv, _, _ := setupServer(t)

	var summaries []map[string]any
	status := getJSON(t, srv.URL+"/validators", &summaries)
	assert.Equal(t, http.StatusOK, status)
	require.Len(t, summaries, 1)
	assert.EqualValues(t, 1, summaries[0]["id"])
	assert.EqualValues(t, 1, summaries[0]["totalStakers"])

	var config map[string]any
	status = getJSON(t, srv.URL+"/validators/1", &config)
	assert.Equal(t, http.StatusOK, status)
	assert.EqualValues(t, 60, config["PayoutEveryXMins"])

	var state map[string]any
	status = getJSON(t, srv.URL+"/validators/1/state", &state)
	assert.Equal(t, http.StatusOK, status)

	assert.Equal(t, http.StatusNotFound, getJSON(t, srv.URL+"/validators/99", nil))
	assert.Equal(t, http.StatusBadRequest, getJSON(t, srv.URL+"/validators/notanumber", nil))
}

func TestPoolEndpoints(t *testing.T) {
	srv, poolAppID, staker := setupServer(t)
	base := srv.URL + "/pools/" + strconv.FormatUint(poolAppID, 10)

	var detail map[string]any
	status := getJSON(t, base, &detail)
	assert.Equal(t, http.StatusOK, status)
	assert.EqualValues(t, 1, detail["validatorId"])
	assert.EqualValues(t, 1, detail["TotalStakers"])

	var ledger []map[string]any
	status = getJSON(t, base+"/ledger", &ledger)
	assert.Equal(t, http.StatusOK, status)
	require.Len(t, ledger, 1)
	assert.Equal(t, staker.String(), ledger[0]["account"])

	var entry map[string]any
	status = getJSON(t, base+"/staker/"+staker.String(), &entry)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, staker.String(), entry["account"])

	assert.Equal(t, http.StatusNotFound, getJSON(t, base+"/staker/"+testAddr(99).String(), nil))
	assert.Equal(t, http.StatusBadRequest, getJSON(t, base+"/staker/garbage", nil))
	assert.Equal(t, http.StatusNotFound, getJSON(t, srv.URL+"/pools/987654", nil))
}

func TestConstraintsAndMetrics(t *testing.T) {
	srv, _, _ := setupServer(t)

	var constraints map[string]any
	status := getJSON(t, srv.URL+"/constraints", &constraints)
	assert.Equal(t, http.StatusOK, status)
	assert.EqualValues(t, reti.MaxStakersPerPool, constraints["MaxStakersPerPool"])

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.NotEmpty(t, body)
}
