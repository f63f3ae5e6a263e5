// Package api exposes the read-only HTTP query surface over a protocol
// instance: validator and pool state, ledgers, MBR quotes, constraints, and
// prometheus metrics.  It never mutates protocol state.
package api

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/algorand/go-algorand-sdk/v2/types"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/TxnLab/reti-core/api/utils"
	"github.com/TxnLab/reti-core/internal/lib/chain"
	"github.com/TxnLab/reti-core/internal/lib/reti"
)

type API struct {
	protocol *reti.Protocol
}

// New builds the query router for a protocol instance.
func New(protocol *reti.Protocol) http.Handler {
	a := &API{protocol: protocol}
	router := mux.NewRouter()

	router.Path("/validators").
		Methods(http.MethodGet).
		Name("get_validators").
		HandlerFunc(utils.WrapHandlerFunc(a.handleValidators))
	router.Path("/validators/{id}").
		Methods(http.MethodGet).
		Name("get_validator").
		HandlerFunc(utils.WrapHandlerFunc(a.handleValidator))
	router.Path("/validators/{id}/state").
		Methods(http.MethodGet).
		Name("get_validator_state").
		HandlerFunc(utils.WrapHandlerFunc(a.handleValidatorState))
	router.Path("/validators/{id}/pools").
		Methods(http.MethodGet).
		Name("get_validator_pools").
		HandlerFunc(utils.WrapHandlerFunc(a.handleValidatorPools))
	router.Path("/validators/{id}/mbr").
		Methods(http.MethodGet).
		Name("get_validator_mbr").
		HandlerFunc(utils.WrapHandlerFunc(a.handleMbrAmounts))
	router.Path("/pools/{appid}").
		Methods(http.MethodGet).
		Name("get_pool").
		HandlerFunc(utils.WrapHandlerFunc(a.handlePool))
	router.Path("/pools/{appid}/ledger").
		Methods(http.MethodGet).
		Name("get_pool_ledger").
		HandlerFunc(utils.WrapHandlerFunc(a.handlePoolLedger))
	router.Path("/pools/{appid}/staker/{addr}").
		Methods(http.MethodGet).
		Name("get_pool_staker").
		HandlerFunc(utils.WrapHandlerFunc(a.handlePoolStaker))
	router.Path("/constraints").
		Methods(http.MethodGet).
		Name("get_constraints").
		HandlerFunc(utils.WrapHandlerFunc(a.handleConstraints))
	router.Path("/metrics").
		Methods(http.MethodGet).
		Name("get_metrics").
		Handler(promhttp.Handler())

	return router
}

func pathUint(r *http.Request, name string) (uint64, error) {
	val, err := strconv.ParseUint(mux.Vars(r)[name], 10, 64)
	if err != nil {
		return 0, utils.BadRequest(fmt.Errorf("invalid %s: %w", name, err))
	}
	return val, nil
}

// validatorSummary is the list-view shape of a validator.
type validatorSummary struct {
	ID              uint64 `json:"id"`
	Owner           string `json:"owner"`
	Manager         string `json:"manager"`
	NumPools        int    `json:"numPools"`
	TotalStakers    uint64 `json:"totalStakers"`
	TotalAlgoStaked uint64 `json:"totalAlgoStaked"`
}

func (a *API) handleValidators(w http.ResponseWriter, _ *http.Request) error {
	var out []validatorSummary
	err := a.protocol.Env().View(func(tx *chain.Txn) error {
		registry := a.protocol.Registry()
		numV := registry.GetNumValidators(tx)
		for id := uint64(1); id <= numV; id++ {
			config, err := registry.GetValidatorConfig(tx, id)
			if err != nil {
				return err
			}
			state, err := registry.GetValidatorState(tx, id)
			if err != nil {
				return err
			}
			out = append(out, validatorSummary{
				ID:              id,
				Owner:           config.Owner.String(),
				Manager:         config.Manager.String(),
				NumPools:        state.NumPools,
				TotalStakers:    state.TotalStakers,
				TotalAlgoStaked: state.TotalAlgoStaked,
			})
		}
		return nil
	})
	if err != nil {
		return err
	}
	return utils.WriteJSON(w, out)
}

func (a *API) handleValidator(w http.ResponseWriter, r *http.Request) error {
	id, err := pathUint(r, "id")
	if err != nil {
		return err
	}
	var config reti.ValidatorConfig
	err = a.protocol.Env().View(func(tx *chain.Txn) error {
		var err error
		config, err = a.protocol.Registry().GetValidatorConfig(tx, id)
		return err
	})
	if err != nil {
		return utils.NotFound(err)
	}
	return utils.WriteJSON(w, config)
}

func (a *API) handleValidatorState(w http.ResponseWriter, r *http.Request) error {
	id, err := pathUint(r, "id")
	if err != nil {
		return err
	}
	var state reti.ValidatorCurState
	err = a.protocol.Env().View(func(tx *chain.Txn) error {
		var err error
		state, err = a.protocol.Registry().GetValidatorState(tx, id)
		return err
	})
	if err != nil {
		return utils.NotFound(err)
	}
	return utils.WriteJSON(w, state)
}

func (a *API) handleValidatorPools(w http.ResponseWriter, r *http.Request) error {
	id, err := pathUint(r, "id")
	if err != nil {
		return err
	}
	var pools []reti.PoolInfo
	err = a.protocol.Env().View(func(tx *chain.Txn) error {
		var err error
		pools, err = a.protocol.Registry().GetPools(tx, id)
		return err
	})
	if err != nil {
		return utils.NotFound(err)
	}
	return utils.WriteJSON(w, pools)
}

func (a *API) handleMbrAmounts(w http.ResponseWriter, r *http.Request) error {
	if _, err := pathUint(r, "id"); err != nil {
		return err
	}
	var mbrs reti.MbrAmounts
	err := a.protocol.Env().View(func(tx *chain.Txn) error {
		mbrs = a.protocol.Registry().GetMbrAmounts(tx)
		return nil
	})
	if err != nil {
		return err
	}
	return utils.WriteJSON(w, mbrs)
}

// poolDetail adds the epoch counters to the registry's pool info.
type poolDetail struct {
	reti.PoolInfo
	ValidatorID      uint64 `json:"validatorId"`
	LastPayout       uint64 `json:"lastPayout"`
	EpochNumber      uint64 `json:"epochNumber"`
	AvailableRewards uint64 `json:"availableRewards"`
	AlgodVer         string `json:"algodVer,omitempty"`
}

func (a *API) handlePool(w http.ResponseWriter, r *http.Request) error {
	appID, err := pathUint(r, "appid")
	if err != nil {
		return err
	}
	var detail poolDetail
	err = a.protocol.Env().View(func(tx *chain.Txn) error {
		pool, err := a.protocol.Pool(tx, appID)
		if err != nil {
			return err
		}
		info, err := pool.Info(tx)
		if err != nil {
			return err
		}
		key, err := pool.Key(tx)
		if err != nil {
			return err
		}
		epoch, lastPayout := pool.EpochCounters(tx)
		detail = poolDetail{
			PoolInfo:         info,
			ValidatorID:      key.ID,
			LastPayout:       lastPayout,
			EpochNumber:      epoch,
			AvailableRewards: pool.AvailableRewards(tx),
			AlgodVer:         pool.AlgodVer(tx),
		}
		return nil
	})
	if err != nil {
		return utils.NotFound(err)
	}
	return utils.WriteJSON(w, detail)
}

// ledgerEntry is one occupied slot of a pool's stake ledger.
type ledgerEntry struct {
	Account            string `json:"account"`
	Balance            uint64 `json:"balance"`
	TotalRewarded      uint64 `json:"totalRewarded"`
	RewardTokenBalance uint64 `json:"rewardTokenBalance"`
	EntryTime          uint64 `json:"entryTime"`
}

func (a *API) handlePoolLedger(w http.ResponseWriter, r *http.Request) error {
	appID, err := pathUint(r, "appid")
	if err != nil {
		return err
	}
	var out []ledgerEntry
	err = a.protocol.Env().View(func(tx *chain.Txn) error {
		pool, err := a.protocol.Pool(tx, appID)
		if err != nil {
			return err
		}
		ledger, err := pool.Ledger(tx)
		if err != nil {
			return err
		}
		for _, slot := range ledger {
			if slot.Account == types.ZeroAddress {
				continue
			}
			out = append(out, ledgerEntry{
				Account:            slot.Account.String(),
				Balance:            slot.Balance,
				TotalRewarded:      slot.TotalRewarded,
				RewardTokenBalance: slot.RewardTokenBalance,
				EntryTime:          slot.EntryTime,
			})
		}
		return nil
	})
	if err != nil {
		return utils.NotFound(err)
	}
	return utils.WriteJSON(w, out)
}

func (a *API) handlePoolStaker(w http.ResponseWriter, r *http.Request) error {
	appID, err := pathUint(r, "appid")
	if err != nil {
		return err
	}
	addr, err := types.DecodeAddress(mux.Vars(r)["addr"])
	if err != nil {
		return utils.BadRequest(fmt.Errorf("invalid address: %w", err))
	}
	var entry ledgerEntry
	err = a.protocol.Env().View(func(tx *chain.Txn) error {
		pool, err := a.protocol.Pool(tx, appID)
		if err != nil {
			return err
		}
		info, err := pool.GetStakerInfo(tx, addr)
		if err != nil {
			return err
		}
		entry = ledgerEntry{
			Account:            info.Account.String(),
			Balance:            info.Balance,
			TotalRewarded:      info.TotalRewarded,
			RewardTokenBalance: info.RewardTokenBalance,
			EntryTime:          info.EntryTime,
		}
		return nil
	})
	if err != nil {
		return utils.NotFound(err)
	}
	return utils.WriteJSON(w, entry)
}

func (a *API) handleConstraints(w http.ResponseWriter, _ *http.Request) error {
	var constraints reti.ProtocolConstraints
	err := a.protocol.Env().View(func(tx *chain.Txn) error {
		constraints = a.protocol.Registry().GetProtocolConstraints(tx)
		return nil
	})
	if err != nil {
		return err
	}
	return utils.WriteJSON(w, constraints)
}
