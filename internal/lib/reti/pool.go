package reti

import (
	"fmt"
	"log/slog"

	"github.com/algorand/go-algorand-sdk/v2/types"

	"github.com/TxnLab/reti-core/internal/lib/chain"
)

// StakingPool is one bounded-capacity staking instance belonging to a
// validator.  All mutable state lives in the pool's persisted global state
// and its 'stakers' ledger box; the struct itself only carries identity and
// collaborator ports so instances can be recreated freely.
type StakingPool struct {
	appID    uint64
	registry RegistryPort
	resolve  PoolResolver
	logger   *slog.Logger
}

func newStakingPool(appID uint64, registry RegistryPort, resolve PoolResolver, logger *slog.Logger) *StakingPool {
	return &StakingPool{
		appID:    appID,
		registry: registry,
		resolve:  resolve,
		logger:   logger,
	}
}

func (p *StakingPool) AppID() uint64 {
	return p.appID
}

func (p *StakingPool) Address() types.Address {
	return chain.AppAddress(p.appID)
}

// poolGlobals is the pool's persisted global state.  CreatorApp through
// MaxStake are set once at creation; the rest mutate over the pool's life.
type poolGlobals struct {
	CreatorApp    uint64
	ValidatorID   uint64
	PoolID        uint64
	NumStakers    uint64
	TotalStaked   uint64
	MinEntryStake uint64
	MaxStake      uint64
	LastPayout    uint64
	EpochNumber   uint64
}

func (p *StakingPool) globals(tx *chain.Txn) (poolGlobals, error) {
	creator, ok := getGlobalUint(tx, p.appID, StakePoolCreatorApp)
	if !ok {
		return poolGlobals{}, fmt.Errorf("%w: app id %d", ErrPoolNotFound, p.appID)
	}
	var gs poolGlobals
	gs.CreatorApp = creator
	gs.ValidatorID, _ = getGlobalUint(tx, p.appID, StakePoolValidatorID)
	gs.PoolID, _ = getGlobalUint(tx, p.appID, StakePoolPoolID)
	gs.NumStakers, _ = getGlobalUint(tx, p.appID, StakePoolNumStakers)
	gs.TotalStaked, _ = getGlobalUint(tx, p.appID, StakePoolStaked)
	gs.MinEntryStake, _ = getGlobalUint(tx, p.appID, StakePoolMinEntryStake)
	gs.MaxStake, _ = getGlobalUint(tx, p.appID, StakePoolMaxStake)
	gs.LastPayout, _ = getGlobalUint(tx, p.appID, StakePoolLastPayout)
	gs.EpochNumber, _ = getGlobalUint(tx, p.appID, StakePoolEpochNumber)
	return gs, nil
}

func (p *StakingPool) saveGlobals(tx *chain.Txn, gs poolGlobals) {
	setGlobalUint(tx, p.appID, StakePoolNumStakers, gs.NumStakers)
	setGlobalUint(tx, p.appID, StakePoolStaked, gs.TotalStaked)
	setGlobalUint(tx, p.appID, StakePoolLastPayout, gs.LastPayout)
	setGlobalUint(tx, p.appID, StakePoolEpochNumber, gs.EpochNumber)
}

func (p *StakingPool) poolKey(gs poolGlobals) ValidatorPoolKey {
	return ValidatorPoolKey{ID: gs.ValidatorID, PoolID: gs.PoolID, PoolAppID: p.appID}
}

func (p *StakingPool) loadLedger(tx *chain.Txn) (stakeLedger, error) {
	data, exists := getBox(tx, p.appID, GetStakerLedgerBoxName())
	if !exists {
		return nil, fmt.Errorf("%w: app id %d", ErrPoolNotInitialized, p.appID)
	}
	return decodeStakeLedger(data), nil
}

func (p *StakingPool) saveLedger(tx *chain.Txn, ledger stakeLedger) {
	setBox(tx, p.appID, GetStakerLedgerBoxName(), ledger.encode())
}

// requireOwnerOrManager re-fetches owner/manager from the registry (never
// cached, so rotation takes effect immediately) and verifies the caller.
func (p *StakingPool) requireOwnerOrManager(tx *chain.Txn, validatorID uint64) error {
	owner, manager, err := p.registry.GetOwnerAndManager(tx, validatorID)
	if err != nil {
		return err
	}
	if sender := tx.Sender(); sender != owner && sender != manager {
		return fmt.Errorf("%w: sender %s is neither owner nor manager", ErrNotAuthorized, tx.Sender().String())
	}
	return nil
}

// InitStorage creates the stake ledger box (and opts pool 1 in to the
// validator's reward token), funded by the attached MBR payment.  Must be
// called once after pool creation before any stake can enter.
func (p *StakingPool) InitStorage(tx *chain.Txn, payment chain.Payment) error {
	gs, err := p.globals(tx)
	if err != nil {
		return err
	}
	if _, exists := getBox(tx, p.appID, GetStakerLedgerBoxName()); exists {
		return fmt.Errorf("pool storage already initialized for app id %d", p.appID)
	}
	if payment.From != tx.Sender() {
		return fmt.Errorf("%w: payment sender mismatch", ErrNotAuthorized)
	}
	config, err := p.registry.GetValidatorConfig(tx, gs.ValidatorID)
	if err != nil {
		return err
	}
	needed := boxMBR(len(GetStakerLedgerBoxName()), ledgerBoxSize())
	if gs.PoolID == 1 && config.RewardTokenID != 0 {
		needed += chain.AssetOptInMBR
	}
	if payment.Amount < needed {
		return fmt.Errorf("%w: need %d for pool storage, got %d", ErrShortPayment, needed, payment.Amount)
	}
	if err := tx.Transfer(payment.From, p.Address(), payment.Amount); err != nil {
		return err
	}
	if err := tx.RaiseMinBalance(p.Address(), boxMBR(len(GetStakerLedgerBoxName()), ledgerBoxSize())); err != nil {
		return err
	}
	if gs.PoolID == 1 && config.RewardTokenID != 0 {
		if err := tx.OptInAsset(p.Address(), config.RewardTokenID); err != nil {
			return err
		}
	}
	p.saveLedger(tx, newStakeLedger())
	tx.Log("pool_storage_initialized", "pool_app_id", p.appID, "validator_id", gs.ValidatorID)
	return nil
}

// AddStake enters or tops up a staker's ledger slot.  Only the owning
// registry may call - deposits always route through it so network caps are
// enforced in one place.  The registry has already moved the staked amount
// into the pool's account.  Returns the effective entry time and whether a
// new slot was occupied.
func (p *StakingPool) AddStake(tx *chain.Txn, payment chain.Payment, staker types.Address) (uint64, bool, error) {
	gs, err := p.globals(tx)
	if err != nil {
		return 0, false, err
	}
	if tx.Sender() != p.registry.Address() {
		return 0, false, fmt.Errorf("%w: addStake must come from the owning registry", ErrNotAuthorized)
	}
	if staker == types.ZeroAddress {
		return 0, false, fmt.Errorf("%w: staker is the zero address", ErrNotAuthorized)
	}
	amount := payment.Amount
	if gs.TotalStaked+amount > gs.MaxStake {
		return 0, false, fmt.Errorf("%w: max %d", ErrPoolMaxStake, gs.MaxStake)
	}
	ledger, err := p.loadLedger(tx)
	if err != nil {
		return 0, false, err
	}
	if err := tx.EnsureBudget(len(ledger)); err != nil {
		return 0, false, err
	}

	// Stake isn't seen as online by the network for ~320 rounds, so the
	// entry time is pushed forward; rewards never accrue for unseen stake.
	entryTime := tx.Now() + EntryTimeDelaySecs

	firstEmpty := -1
	for i := range ledger {
		if err := tx.UseBudget(1); err != nil {
			return 0, false, err
		}
		if ledger[i].Account == staker {
			ledger[i].Balance += amount
			ledger[i].EntryTime = entryTime
			gs.TotalStaked += amount
			p.saveLedger(tx, ledger)
			p.saveGlobals(tx, gs)
			return entryTime, false, nil
		}
		if firstEmpty == -1 && ledger[i].Account == types.ZeroAddress {
			firstEmpty = i
		}
	}
	// new entrant
	if amount < gs.MinEntryStake {
		return 0, false, fmt.Errorf("%w: minimum is %d", ErrMinEntryStake, gs.MinEntryStake)
	}
	if firstEmpty == -1 {
		return 0, false, ErrPoolFull
	}
	ledger[firstEmpty] = StakedInfo{
		Account:   staker,
		Balance:   amount,
		EntryTime: entryTime,
	}
	gs.NumStakers++
	gs.TotalStaked += amount
	p.saveLedger(tx, ledger)
	p.saveGlobals(tx, gs)
	return entryTime, true, nil
}

// RemoveStake withdraws stake for a staker (amount 0 means everything).
// The caller must be the staker or the validator's owner/manager (the
// forced-unstake path).  Any accrued reward-token balance is paid out as
// part of removal - directly if this is pool 1, otherwise relayed to
// pool 1 by the registry.
func (p *StakingPool) RemoveStake(tx *chain.Txn, staker types.Address, amount uint64) error {
	gs, err := p.globals(tx)
	if err != nil {
		return err
	}
	if tx.Sender() != staker {
		if err := p.requireOwnerOrManager(tx, gs.ValidatorID); err != nil {
			return err
		}
	}
	ledger, err := p.loadLedger(tx)
	if err != nil {
		return err
	}
	if err := tx.EnsureBudget(len(ledger)); err != nil {
		return err
	}
	idx := -1
	for i := range ledger {
		if err := tx.UseBudget(1); err != nil {
			return err
		}
		if ledger[i].Account == staker {
			idx = i
			break
		}
	}
	if idx == -1 {
		return fmt.Errorf("%w: %s", ErrStakerNotFound, staker.String())
	}
	slot := &ledger[idx]
	if amount == 0 {
		amount = slot.Balance
	}
	if slot.Balance < amount {
		return fmt.Errorf("%w: balance %d, requested %d", ErrInsufficientStake, slot.Balance, amount)
	}
	remaining := slot.Balance - amount
	if remaining > 0 && remaining < gs.MinEntryStake {
		return fmt.Errorf("%w: %d would remain", ErrMinEntryStake, remaining)
	}

	tokenOut := slot.RewardTokenBalance
	slot.RewardTokenBalance = 0
	slot.Balance = remaining
	gs.TotalStaked -= amount

	fullyRemoved := remaining == 0
	if fullyRemoved {
		ledger.clear(idx)
		gs.NumStakers--
	}

	if err := tx.Transfer(p.Address(), staker, amount); err != nil {
		return err
	}
	if tokenOut > 0 && gs.PoolID == 1 {
		config, err := p.registry.GetValidatorConfig(tx, gs.ValidatorID)
		if err != nil {
			return err
		}
		if err := tx.AssetTransfer(config.RewardTokenID, p.Address(), staker, tokenOut); err != nil {
			return err
		}
	}

	p.saveLedger(tx, ledger)
	p.saveGlobals(tx, gs)

	// commit-then-notify: the registry reconciles its aggregates (and
	// relays the token payout to pool 1 when we aren't it) inside the same
	// atomic unit - if this fails everything above rolls back too.
	key := p.poolKey(gs)
	return tx.InvokeFrom(p.Address(), func() error {
		return p.registry.StakeRemoved(tx, key, staker, amount, tokenOut, fullyRemoved)
	})
}

// ClaimTokens pays out any accrued reward-token balance for the caller
// without touching stake.  No-op when there's nothing to claim.
func (p *StakingPool) ClaimTokens(tx *chain.Txn) error {
	gs, err := p.globals(tx)
	if err != nil {
		return err
	}
	staker := tx.Sender()
	ledger, err := p.loadLedger(tx)
	if err != nil {
		return err
	}
	if err := tx.EnsureBudget(len(ledger)); err != nil {
		return err
	}
	idx := ledger.find(staker)
	if idx == -1 {
		return fmt.Errorf("%w: %s", ErrStakerNotFound, staker.String())
	}
	tokenOut := ledger[idx].RewardTokenBalance
	if tokenOut == 0 {
		return nil
	}
	ledger[idx].RewardTokenBalance = 0

	if gs.PoolID == 1 {
		config, err := p.registry.GetValidatorConfig(tx, gs.ValidatorID)
		if err != nil {
			return err
		}
		if err := tx.AssetTransfer(config.RewardTokenID, p.Address(), staker, tokenOut); err != nil {
			return err
		}
	}
	p.saveLedger(tx, ledger)

	key := p.poolKey(gs)
	return tx.InvokeFrom(p.Address(), func() error {
		return p.registry.StakeRemoved(tx, key, staker, 0, tokenOut, false)
	})
}

// GetStakerInfo is a read-only ledger lookup.
func (p *StakingPool) GetStakerInfo(tx *chain.Txn, staker types.Address) (StakedInfo, error) {
	ledger, err := p.loadLedger(tx)
	if err != nil {
		return StakedInfo{}, err
	}
	idx := ledger.find(staker)
	if idx == -1 {
		return StakedInfo{}, fmt.Errorf("%w: %s", ErrStakerNotFound, staker.String())
	}
	return ledger[idx], nil
}

// Ledger returns a copy of the full stake ledger (read paths / daemon).
func (p *StakingPool) Ledger(tx *chain.Txn) ([]StakedInfo, error) {
	return p.loadLedger(tx)
}

// Key returns this pool's full identity key.
func (p *StakingPool) Key(tx *chain.Txn) (ValidatorPoolKey, error) {
	gs, err := p.globals(tx)
	if err != nil {
		return ValidatorPoolKey{}, err
	}
	return p.poolKey(gs), nil
}

// EpochCounters returns the current epoch number and last payout timestamp.
func (p *StakingPool) EpochCounters(tx *chain.Txn) (epochNumber, lastPayout uint64) {
	epochNumber, _ = getGlobalUint(tx, p.appID, StakePoolEpochNumber)
	lastPayout, _ = getGlobalUint(tx, p.appID, StakePoolLastPayout)
	return epochNumber, lastPayout
}

// Info returns the pool's current counters.
func (p *StakingPool) Info(tx *chain.Txn) (PoolInfo, error) {
	gs, err := p.globals(tx)
	if err != nil {
		return PoolInfo{}, err
	}
	return PoolInfo{
		PoolAppID:       p.appID,
		TotalStakers:    int(gs.NumStakers),
		TotalAlgoStaked: gs.TotalStaked,
	}, nil
}

// AvailableRewards is the pool's accrued surplus: current balance minus
// tracked stake minus the locked minimum reserve.
func (p *StakingPool) AvailableRewards(tx *chain.Txn) uint64 {
	gs, err := p.globals(tx)
	if err != nil {
		return 0
	}
	bal := tx.Balance(p.Address())
	reserved := gs.TotalStaked + tx.MinBalance(p.Address())
	if bal <= reserved {
		return 0
	}
	return bal - reserved
}

// GoOnline registers the pool's account for consensus participation.
// Owner or manager only.
func (p *StakingPool) GoOnline(tx *chain.Txn, votePK, selectionPK, stateProofPK []byte, voteFirst, voteLast, voteKeyDilution uint64) error {
	gs, err := p.globals(tx)
	if err != nil {
		return err
	}
	if err := p.requireOwnerOrManager(tx, gs.ValidatorID); err != nil {
		return err
	}
	if len(votePK) != 32 || len(selectionPK) != 32 || len(stateProofPK) != 64 {
		return fmt.Errorf("invalid participation key lengths: vote %d, selection %d, stateproof %d",
			len(votePK), len(selectionPK), len(stateProofPK))
	}
	if voteLast <= voteFirst || voteKeyDilution == 0 {
		return fmt.Errorf("invalid participation key validity window")
	}
	tx.SetOnline(p.Address(), true)
	tx.Log("pool_online", "pool_app_id", p.appID, "vote_first", voteFirst, "vote_last", voteLast)
	return nil
}

// GoOffline takes the pool's account out of consensus participation.
// Owner or manager only.
func (p *StakingPool) GoOffline(tx *chain.Txn) error {
	gs, err := p.globals(tx)
	if err != nil {
		return err
	}
	if err := p.requireOwnerOrManager(tx, gs.ValidatorID); err != nil {
		return err
	}
	tx.SetOnline(p.Address(), false)
	tx.Log("pool_offline", "pool_app_id", p.appID)
	return nil
}

// UpdateAlgodVer records the node software version this pool runs under.
// Owner or manager only.
func (p *StakingPool) UpdateAlgodVer(tx *chain.Txn, algodVer string) error {
	gs, err := p.globals(tx)
	if err != nil {
		return err
	}
	if err := p.requireOwnerOrManager(tx, gs.ValidatorID); err != nil {
		return err
	}
	setGlobalString(tx, p.appID, StakePoolAlgodVer, algodVer)
	return nil
}

// AlgodVer returns the recorded node software version.
func (p *StakingPool) AlgodVer(tx *chain.Txn) string {
	ver, _ := getGlobalString(tx, p.appID, StakePoolAlgodVer)
	return ver
}

// PayTokenReward sends reward tokens from pool 1's custody to a staker.
// Pool-1 only; callable only by the owning registry (the relay target when
// a sibling pool reports token amounts in its removal notification).
func (p *StakingPool) PayTokenReward(tx *chain.Txn, staker types.Address, rewardTokenID, amount uint64) error {
	gs, err := p.globals(tx)
	if err != nil {
		return err
	}
	if gs.PoolID != 1 {
		return fmt.Errorf("%w: payTokenReward is pool-1 only", ErrNotAuthorized)
	}
	if tx.Sender() != p.registry.Address() {
		return fmt.Errorf("%w: payTokenReward must come from the owning registry", ErrNotAuthorized)
	}
	return tx.AssetTransfer(rewardTokenID, p.Address(), staker, amount)
}

// ProxiedSetTokenPayoutRatio refreshes the registry's cross-pool token
// payout snapshot on behalf of a sibling pool.  Only pool 1 may call the
// registry's ratio-setter, so siblings make exactly this one proxy hop.
// The caller must be a genuine sibling: its identity is recomputed from the
// pool key and compared against the actual sender.
func (p *StakingPool) ProxiedSetTokenPayoutRatio(tx *chain.Txn, key ValidatorPoolKey) (PoolTokenPayoutRatio, error) {
	gs, err := p.globals(tx)
	if err != nil {
		return PoolTokenPayoutRatio{}, err
	}
	if gs.PoolID != 1 {
		return PoolTokenPayoutRatio{}, fmt.Errorf("%w: proxy target must be pool 1", ErrNotAuthorized)
	}
	if key.ID != gs.ValidatorID {
		return PoolTokenPayoutRatio{}, fmt.Errorf("%w: proxy call from a different validator's pool", ErrUnexpectedCaller)
	}
	expectedAppID, err := p.registry.GetPoolAppID(tx, key.ID, key.PoolID)
	if err != nil {
		return PoolTokenPayoutRatio{}, err
	}
	if expectedAppID != key.PoolAppID || tx.Sender() != chain.AppAddress(expectedAppID) {
		return PoolTokenPayoutRatio{}, fmt.Errorf("%w: sender is not the pool it claims to be", ErrUnexpectedCaller)
	}
	var ratio PoolTokenPayoutRatio
	err = tx.InvokeFrom(p.Address(), func() error {
		var err error
		ratio, err = p.registry.SetTokenPayoutRatio(tx, gs.ValidatorID)
		return err
	})
	return ratio, err
}
