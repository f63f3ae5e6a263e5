package reti

import (
	"fmt"
	"log/slog"

	"github.com/algorand/go-algorand-sdk/v2/types"

	"github.com/TxnLab/reti-core/internal/lib/chain"
)

// ValidatorRegistry onboards validators, creates their staking pools, routes
// every stake deposit to the right pool, and keeps the per-validator
// aggregate state reconciled via authenticated pool callbacks.  It is the
// only component stakers talk to directly for deposits.
type ValidatorRegistry struct {
	appID   uint64
	resolve PoolResolver
	logger  *slog.Logger
}

func NewValidatorRegistry(appID uint64, resolve PoolResolver, logger *slog.Logger) *ValidatorRegistry {
	return &ValidatorRegistry{
		appID:   appID,
		resolve: resolve,
		logger:  logger,
	}
}

func (r *ValidatorRegistry) AppID() uint64 {
	return r.appID
}

func (r *ValidatorRegistry) Address() types.Address {
	return chain.AppAddress(r.appID)
}

func (r *ValidatorRegistry) loadRecord(tx *chain.Txn, validatorID uint64) (*validatorRecord, error) {
	data, exists := getBox(tx, r.appID, GetValidatorListBoxName(validatorID))
	if !exists {
		return nil, fmt.Errorf("%w: id %d", ErrValidatorNotFound, validatorID)
	}
	return decodeValidatorRecord(data)
}

func (r *ValidatorRegistry) saveRecord(tx *chain.Txn, record *validatorRecord) {
	setBox(tx, r.appID, GetValidatorListBoxName(record.Config.ID), encodeValidatorRecord(record))
}

// verifyPoolCaller authenticates an inbound pool callback: the pool app id
// the registry has on record for (validatorID, poolID) must match the key,
// and the transaction sender must be that app's derived escrow address.
// Anything else is either a bug or a spoof attempt.
func (r *ValidatorRegistry) verifyPoolCaller(tx *chain.Txn, record *validatorRecord, key ValidatorPoolKey) error {
	if key.PoolID == 0 || int(key.PoolID) > len(record.Pools) {
		return fmt.Errorf("%w: pool id %d out of range for validator %d", ErrUnexpectedCaller, key.PoolID, key.ID)
	}
	expected := record.Pools[key.PoolID-1].PoolAppID
	if expected != key.PoolAppID {
		return fmt.Errorf("%w: pool %d of validator %d is app %d, key claims %d",
			ErrUnexpectedCaller, key.PoolID, key.ID, expected, key.PoolAppID)
	}
	if tx.Sender() != chain.AppAddress(expected) {
		return fmt.Errorf("%w: sender %s is not pool app %d", ErrUnexpectedCaller, tx.Sender().String(), expected)
	}
	return nil
}

func validateConfig(c *ValidatorConfig) error {
	if c.Owner == types.ZeroAddress || c.Manager == types.ZeroAddress {
		return fmt.Errorf("%w: owner and manager must be set", ErrInvalidConfig)
	}
	if c.PayoutEveryXMins < MinEpochPayoutMins || c.PayoutEveryXMins > MaxEpochPayoutMins {
		return fmt.Errorf("%w: payout interval %d mins out of range", ErrInvalidConfig, c.PayoutEveryXMins)
	}
	if c.PercentToValidator > MaxPctToValidator {
		return fmt.Errorf("%w: commission %d exceeds 100%%", ErrInvalidConfig, c.PercentToValidator)
	}
	if c.MinEntryStake < MinEntryStakeFloor {
		return fmt.Errorf("%w: min entry stake below floor", ErrInvalidConfig)
	}
	if c.MaxAlgoPerPool > MaxAlgoPerPoolCap {
		return fmt.Errorf("%w: max algo per pool exceeds network cap", ErrInvalidConfig)
	}
	if c.PoolsPerNode == 0 || c.PoolsPerNode > MaxPoolsPerNode {
		return fmt.Errorf("%w: pools per node %d out of range", ErrInvalidConfig, c.PoolsPerNode)
	}
	return nil
}

// AddValidator registers a new validator, assigning the next sequential id.
// The attached payment must cover the MBR of the validator's record box.
func (r *ValidatorRegistry) AddValidator(tx *chain.Txn, payment chain.Payment, config ValidatorConfig) (uint64, error) {
	if payment.From != tx.Sender() {
		return 0, fmt.Errorf("%w: payment sender mismatch", ErrNotAuthorized)
	}
	if err := validateConfig(&config); err != nil {
		return 0, err
	}
	mbr := r.GetMbrAmounts(tx).AddValidatorMbr
	if payment.Amount < mbr {
		return 0, fmt.Errorf("%w: need %d for validator record, got %d", ErrShortPayment, mbr, payment.Amount)
	}
	numV, _ := getGlobalUint(tx, r.appID, VldtrNumValidators)
	id := numV + 1
	config.ID = id

	if err := tx.Transfer(payment.From, r.Address(), payment.Amount); err != nil {
		return 0, err
	}
	if err := tx.RaiseMinBalance(r.Address(), mbr); err != nil {
		return 0, err
	}

	record := &validatorRecord{
		Config: config,
		NodePoolAssignments: NodePoolAssignmentConfig{
			Nodes: make([][]uint64, MaxNodes),
		},
	}
	r.saveRecord(tx, record)
	setGlobalUint(tx, r.appID, VldtrNumValidators, id)
	tx.Log("validator_added", "validator_id", id, "owner", config.Owner.String(), "manager", config.Manager.String())
	return id, nil
}

// AddPool creates the next staking pool for a validator on the given node.
// Owner or manager only.  The payment funds the new pool's escrow account.
func (r *ValidatorRegistry) AddPool(tx *chain.Txn, payment chain.Payment, validatorID, nodeNum uint64) (ValidatorPoolKey, error) {
	record, err := r.loadRecord(tx, validatorID)
	if err != nil {
		return ValidatorPoolKey{}, err
	}
	if sender := tx.Sender(); sender != record.Config.Owner && sender != record.Config.Manager {
		return ValidatorPoolKey{}, fmt.Errorf("%w: sender %s is neither owner nor manager", ErrNotAuthorized, sender.String())
	}
	if payment.From != tx.Sender() {
		return ValidatorPoolKey{}, fmt.Errorf("%w: payment sender mismatch", ErrNotAuthorized)
	}
	if len(record.Pools) >= MaxPools {
		return ValidatorPoolKey{}, fmt.Errorf("%w: validator %d already at %d pools", ErrTooManyPools, validatorID, MaxPools)
	}
	if nodeNum == 0 || nodeNum > MaxNodes {
		return ValidatorPoolKey{}, fmt.Errorf("%w: node number %d out of range", ErrInvalidConfig, nodeNum)
	}
	if uint64(len(record.NodePoolAssignments.Nodes[nodeNum-1])) >= record.Config.PoolsPerNode {
		return ValidatorPoolKey{}, fmt.Errorf("%w: node %d already hosts %d pools", ErrTooManyPools, nodeNum, record.Config.PoolsPerNode)
	}
	mbr := r.GetMbrAmounts(tx).AddPoolMbr
	if payment.Amount < mbr {
		return ValidatorPoolKey{}, fmt.Errorf("%w: need %d to fund pool account, got %d", ErrShortPayment, mbr, payment.Amount)
	}

	poolAppID := tx.CreateApp()
	poolID := uint64(len(record.Pools)) + 1
	poolAddr := chain.AppAddress(poolAppID)

	if err := tx.Transfer(payment.From, poolAddr, payment.Amount); err != nil {
		return ValidatorPoolKey{}, err
	}
	if err := tx.RaiseMinBalance(poolAddr, chain.BaseAccountMBR); err != nil {
		return ValidatorPoolKey{}, err
	}

	maxStake := record.Config.MaxAlgoPerPool
	if maxStake == 0 {
		maxStake = r.GetProtocolConstraints(tx).MaxAlgoPerPool
	}
	setGlobalUint(tx, poolAppID, StakePoolCreatorApp, r.appID)
	setGlobalUint(tx, poolAppID, StakePoolValidatorID, validatorID)
	setGlobalUint(tx, poolAppID, StakePoolPoolID, poolID)
	setGlobalUint(tx, poolAppID, StakePoolNumStakers, 0)
	setGlobalUint(tx, poolAppID, StakePoolStaked, 0)
	setGlobalUint(tx, poolAppID, StakePoolMinEntryStake, record.Config.MinEntryStake)
	setGlobalUint(tx, poolAppID, StakePoolMaxStake, maxStake)
	setGlobalUint(tx, poolAppID, StakePoolLastPayout, 0)
	setGlobalUint(tx, poolAppID, StakePoolEpochNumber, 0)

	record.Pools = append(record.Pools, PoolInfo{PoolAppID: poolAppID})
	record.State.NumPools = len(record.Pools)
	record.NodePoolAssignments.Nodes[nodeNum-1] = append(record.NodePoolAssignments.Nodes[nodeNum-1], poolAppID)
	r.saveRecord(tx, record)

	key := ValidatorPoolKey{ID: validatorID, PoolID: poolID, PoolAppID: poolAppID}
	tx.Log("pool_added", "validator_id", validatorID, "pool_id", poolID, "pool_app_id", poolAppID, "node", nodeNum)
	return key, nil
}

// AddStake takes a staker's deposit, picks (or reuses) a pool with capacity,
// moves the funds to that pool's account, and records the stake there.  The
// first-ever stake for an account also pays the MBR of the account's
// pool-tracking box, deducted from the deposit.
func (r *ValidatorRegistry) AddStake(tx *chain.Txn, payment chain.Payment, validatorID uint64) (ValidatorPoolKey, error) {
	staker := tx.Sender()
	if payment.From != staker {
		return ValidatorPoolKey{}, fmt.Errorf("%w: payment sender mismatch", ErrNotAuthorized)
	}
	record, err := r.loadRecord(tx, validatorID)
	if err != nil {
		return ValidatorPoolKey{}, err
	}
	now := tx.Now()
	if record.Config.SunsettingOn != 0 && now > record.Config.SunsettingOn {
		return ValidatorPoolKey{}, fmt.Errorf("%w: validator %d sunsetted at %d (directed to %d)",
			ErrValidatorSunsetted, validatorID, record.Config.SunsettingOn, record.Config.SunsettingTo)
	}

	amount := payment.Amount
	poolSet, _ := r.stakerPoolSet(tx, staker)

	// First stake from this account anywhere: the registry keeps the MBR
	// for the account's pool-set box out of the deposit.
	if len(poolSet) == 0 {
		stakerMbr := r.GetMbrAmounts(tx).AddStakerMbr
		if amount <= stakerMbr {
			return ValidatorPoolKey{}, fmt.Errorf("%w: deposit %d doesn't cover first-stake MBR %d", ErrShortPayment, amount, stakerMbr)
		}
		if err := tx.Transfer(staker, r.Address(), stakerMbr); err != nil {
			return ValidatorPoolKey{}, err
		}
		if err := tx.RaiseMinBalance(r.Address(), stakerMbr); err != nil {
			return ValidatorPoolKey{}, err
		}
		amount -= stakerMbr
	}

	constraints := r.GetProtocolConstraints(tx)
	if constraints.MaxAlgoPerValidator > 0 && record.State.TotalAlgoStaked+amount > constraints.MaxAlgoPerValidator {
		return ValidatorPoolKey{}, fmt.Errorf("%w: validator %d would exceed hard cap %d",
			ErrStakeExceedsValidatorMax, validatorID, constraints.MaxAlgoPerValidator)
	}

	key, err := r.FindPoolForStaker(tx, validatorID, staker, amount)
	if err != nil {
		return ValidatorPoolKey{}, err
	}
	pool, err := r.resolve(tx, key.PoolAppID)
	if err != nil {
		return ValidatorPoolKey{}, err
	}
	if err := tx.Transfer(staker, pool.Address(), amount); err != nil {
		return ValidatorPoolKey{}, err
	}

	var (
		entryTime uint64
		newEntry  bool
	)
	err = tx.InvokeFrom(r.Address(), func() error {
		var err error
		entryTime, newEntry, err = pool.AddStake(tx, chain.Payment{From: r.Address(), Amount: amount}, staker)
		return err
	})
	if err != nil {
		return ValidatorPoolKey{}, err
	}

	// Reconcile aggregates and the staker's pool membership set.
	record.State.TotalAlgoStaked += amount
	if newEntry {
		record.State.TotalStakers++
		record.Pools[key.PoolID-1].TotalStakers++
	}
	record.Pools[key.PoolID-1].TotalAlgoStaked += amount
	r.saveRecord(tx, record)

	if !containsPoolKey(poolSet, key) {
		if len(poolSet) >= MaxStakedPoolsPerAccount {
			return ValidatorPoolKey{}, fmt.Errorf("%w: account %s already staked in %d pools",
				ErrTooManyPools, staker.String(), MaxStakedPoolsPerAccount)
		}
		poolSet = append(poolSet, key)
		setBox(tx, r.appID, GetStakerPoolSetBoxName(staker), encodePoolKeys(poolSet))
	}

	tx.Log("stake_added",
		"validator_id", validatorID,
		"pool_id", key.PoolID,
		"staker", staker.String(),
		"amount", amount,
		"entry_time", entryTime,
	)
	return key, nil
}

// FindPoolForStaker picks the pool a deposit should land in: a pool the
// account is already staked in if the addition fits, otherwise the first
// pool with both a free slot and stake headroom.
func (r *ValidatorRegistry) FindPoolForStaker(tx *chain.Txn, validatorID uint64, staker types.Address, amount uint64) (ValidatorPoolKey, error) {
	record, err := r.loadRecord(tx, validatorID)
	if err != nil {
		return ValidatorPoolKey{}, err
	}
	maxPerPool := record.Config.MaxAlgoPerPool
	if maxPerPool == 0 {
		maxPerPool = r.GetProtocolConstraints(tx).MaxAlgoPerPool
	}

	poolSet, _ := r.stakerPoolSet(tx, staker)
	for _, k := range poolSet {
		if k.ID != validatorID || int(k.PoolID) > len(record.Pools) {
			continue
		}
		if record.Pools[k.PoolID-1].TotalAlgoStaked+amount <= maxPerPool {
			return k, nil
		}
	}
	for i, p := range record.Pools {
		if p.TotalStakers >= MaxStakersPerPool {
			continue
		}
		if p.TotalAlgoStaked+amount > maxPerPool {
			continue
		}
		return ValidatorPoolKey{ID: validatorID, PoolID: uint64(i) + 1, PoolAppID: p.PoolAppID}, nil
	}
	return ValidatorPoolKey{}, fmt.Errorf("%w: validator %d has no pool with capacity for %d", ErrNoPoolsAvailable, validatorID, amount)
}

func containsPoolKey(set []ValidatorPoolKey, key ValidatorPoolKey) bool {
	for _, k := range set {
		if k == key {
			return true
		}
	}
	return false
}

func (r *ValidatorRegistry) stakerPoolSet(tx *chain.Txn, staker types.Address) ([]ValidatorPoolKey, error) {
	data, exists := getBox(tx, r.appID, GetStakerPoolSetBoxName(staker))
	if !exists {
		return nil, nil
	}
	return decodePoolKeys(data)
}

// --- read queries ---

func (r *ValidatorRegistry) GetNumValidators(tx *chain.Txn) uint64 {
	n, _ := getGlobalUint(tx, r.appID, VldtrNumValidators)
	return n
}

func (r *ValidatorRegistry) GetValidatorConfig(tx *chain.Txn, validatorID uint64) (ValidatorConfig, error) {
	record, err := r.loadRecord(tx, validatorID)
	if err != nil {
		return ValidatorConfig{}, err
	}
	return record.Config, nil
}

func (r *ValidatorRegistry) GetValidatorState(tx *chain.Txn, validatorID uint64) (ValidatorCurState, error) {
	record, err := r.loadRecord(tx, validatorID)
	if err != nil {
		return ValidatorCurState{}, err
	}
	return record.State, nil
}

func (r *ValidatorRegistry) GetPools(tx *chain.Txn, validatorID uint64) ([]PoolInfo, error) {
	record, err := r.loadRecord(tx, validatorID)
	if err != nil {
		return nil, err
	}
	return record.Pools, nil
}

func (r *ValidatorRegistry) GetPoolInfo(tx *chain.Txn, key ValidatorPoolKey) (PoolInfo, error) {
	record, err := r.loadRecord(tx, key.ID)
	if err != nil {
		return PoolInfo{}, err
	}
	if key.PoolID == 0 || int(key.PoolID) > len(record.Pools) {
		return PoolInfo{}, fmt.Errorf("%w: pool %d of validator %d", ErrPoolNotFound, key.PoolID, key.ID)
	}
	return record.Pools[key.PoolID-1], nil
}

func (r *ValidatorRegistry) GetPoolAppID(tx *chain.Txn, validatorID, poolID uint64) (uint64, error) {
	record, err := r.loadRecord(tx, validatorID)
	if err != nil {
		return 0, err
	}
	if poolID == 0 || int(poolID) > len(record.Pools) {
		return 0, fmt.Errorf("%w: pool %d of validator %d", ErrPoolNotFound, poolID, validatorID)
	}
	return record.Pools[poolID-1].PoolAppID, nil
}

func (r *ValidatorRegistry) GetOwnerAndManager(tx *chain.Txn, validatorID uint64) (types.Address, types.Address, error) {
	record, err := r.loadRecord(tx, validatorID)
	if err != nil {
		return types.ZeroAddress, types.ZeroAddress, err
	}
	return record.Config.Owner, record.Config.Manager, nil
}

func (r *ValidatorRegistry) GetNodePoolAssignments(tx *chain.Txn, validatorID uint64) (NodePoolAssignmentConfig, error) {
	record, err := r.loadRecord(tx, validatorID)
	if err != nil {
		return NodePoolAssignmentConfig{}, err
	}
	return record.NodePoolAssignments, nil
}

// GetStakedPoolsForAccount returns every pool the account currently has
// stake in, across all validators.
func (r *ValidatorRegistry) GetStakedPoolsForAccount(tx *chain.Txn, staker types.Address) ([]ValidatorPoolKey, error) {
	return r.stakerPoolSet(tx, staker)
}

// GetProtocolConstraints computes the network-level numbers from current
// total online stake.
func (r *ValidatorRegistry) GetProtocolConstraints(tx *chain.Txn) ProtocolConstraints {
	online := tx.TotalOnlineStake()
	return ProtocolConstraints{
		EpochPayoutMinsMin:     MinEpochPayoutMins,
		EpochPayoutMinsMax:     MaxEpochPayoutMins,
		MaxPctToValidator:      MaxPctToValidator,
		MinEntryStake:          MinEntryStakeFloor,
		MaxAlgoPerPool:         MaxAlgoPerPoolCap,
		MaxNodes:               MaxNodes,
		MaxPoolsPerNode:        MaxPoolsPerNode,
		MaxStakersPerPool:      MaxStakersPerPool,
		AmtConsideredSaturated: online * SaturationPctOfOnline / 100,
		MaxAlgoPerValidator:    online * HardMaxPctOfOnlineStake / 100,
	}
}

// GetMbrAmounts quotes the minimum-balance payments each action must attach.
func (r *ValidatorRegistry) GetMbrAmounts(tx *chain.Txn) MbrAmounts {
	return MbrAmounts{
		AddValidatorMbr: boxMBR(len(GetValidatorListBoxName(0)), validatorRecordMaxSize()),
		AddPoolMbr:      chain.BaseAccountMBR,
		PoolInitMbr:     boxMBR(len(GetStakerLedgerBoxName()), ledgerBoxSize()) + chain.AssetOptInMBR,
		AddStakerMbr:    boxMBR(len(GetStakerPoolSetBoxName(types.ZeroAddress)), stakerPoolSetMaxSize()),
	}
}

// --- owner-only configuration changes ---

func (r *ValidatorRegistry) requireOwner(tx *chain.Txn, record *validatorRecord) error {
	if tx.Sender() != record.Config.Owner {
		return fmt.Errorf("%w: sender %s is not the validator owner", ErrNotAuthorized, tx.Sender().String())
	}
	return nil
}

// ChangeValidatorManager rotates the manager address.  Takes effect on the
// very next pool operation since pools never cache owner/manager.
func (r *ValidatorRegistry) ChangeValidatorManager(tx *chain.Txn, validatorID uint64, manager types.Address) error {
	record, err := r.loadRecord(tx, validatorID)
	if err != nil {
		return err
	}
	if err := r.requireOwner(tx, record); err != nil {
		return err
	}
	if manager == types.ZeroAddress {
		return fmt.Errorf("%w: manager must be set", ErrInvalidConfig)
	}
	record.Config.Manager = manager
	r.saveRecord(tx, record)
	tx.Log("validator_manager_changed", "validator_id", validatorID, "manager", manager.String())
	return nil
}

// ChangeValidatorCommissionAddress redirects future commission payments.
// The zero address disables the commission transfer (the percentage still
// reduces the staker reward).
func (r *ValidatorRegistry) ChangeValidatorCommissionAddress(tx *chain.Txn, validatorID uint64, addr types.Address) error {
	record, err := r.loadRecord(tx, validatorID)
	if err != nil {
		return err
	}
	if err := r.requireOwner(tx, record); err != nil {
		return err
	}
	record.Config.ValidatorCommissionAddress = addr
	r.saveRecord(tx, record)
	tx.Log("validator_commission_address_changed", "validator_id", validatorID, "address", addr.String())
	return nil
}

// ChangeValidatorSunsetInfo schedules (or cancels, with zero) the point at
// which the validator stops accepting new stake, optionally directing
// stakers to a successor validator.
func (r *ValidatorRegistry) ChangeValidatorSunsetInfo(tx *chain.Txn, validatorID, sunsettingOn, sunsettingTo uint64) error {
	record, err := r.loadRecord(tx, validatorID)
	if err != nil {
		return err
	}
	if err := r.requireOwner(tx, record); err != nil {
		return err
	}
	record.Config.SunsettingOn = sunsettingOn
	record.Config.SunsettingTo = sunsettingTo
	r.saveRecord(tx, record)
	tx.Log("validator_sunset_changed", "validator_id", validatorID, "sunsetting_on", sunsettingOn, "sunsetting_to", sunsettingTo)
	return nil
}

// --- authenticated pool callbacks ---

// SetTokenPayoutRatio refreshes the cross-pool token payout snapshot.  Only
// pool 1 of the validator may call; the snapshot is taken at most once per
// epoch cycle so sibling pools updating asynchronously within the same cycle
// all distribute against the same stake picture.
func (r *ValidatorRegistry) SetTokenPayoutRatio(tx *chain.Txn, validatorID uint64) (PoolTokenPayoutRatio, error) {
	record, err := r.loadRecord(tx, validatorID)
	if err != nil {
		return PoolTokenPayoutRatio{}, err
	}
	if len(record.Pools) == 0 {
		return PoolTokenPayoutRatio{}, fmt.Errorf("%w: validator %d has no pools", ErrPoolNotFound, validatorID)
	}
	if tx.Sender() != chain.AppAddress(record.Pools[0].PoolAppID) {
		return PoolTokenPayoutRatio{}, fmt.Errorf("%w: only pool 1 may set the payout ratio", ErrUnexpectedCaller)
	}

	epochSecs := record.Config.EpochDurationSecs()
	bin := tx.Now() - (tx.Now() % epochSecs)
	if record.TokenPayoutRatio.UpdatedForPayout == bin && len(record.TokenPayoutRatio.PoolPctOfWhole) == len(record.Pools) {
		return record.TokenPayoutRatio, nil
	}

	ratio := PoolTokenPayoutRatio{
		PoolPctOfWhole:   make([]uint64, len(record.Pools)),
		UpdatedForPayout: bin,
	}
	for i, p := range record.Pools {
		ratio.PoolPctOfWhole[i] = mulDiv(p.TotalAlgoStaked, TokenPayoutRatioScale, record.State.TotalAlgoStaked)
	}
	record.TokenPayoutRatio = ratio
	r.saveRecord(tx, record)
	return ratio, nil
}

// StakeRemoved reconciles aggregates after a pool paid out a withdrawal,
// and relays any reward-token amount to pool 1 for payment when the
// reporting pool isn't the custodian itself.
func (r *ValidatorRegistry) StakeRemoved(tx *chain.Txn, key ValidatorPoolKey, staker types.Address, amountRemoved, tokenRemoved uint64, stakerFullyRemoved bool) error {
	record, err := r.loadRecord(tx, key.ID)
	if err != nil {
		return err
	}
	if err := r.verifyPoolCaller(tx, record, key); err != nil {
		return err
	}
	if record.State.TotalAlgoStaked < amountRemoved || record.Pools[key.PoolID-1].TotalAlgoStaked < amountRemoved {
		return fmt.Errorf("%w: removal of %d exceeds tracked stake", ErrUnexpectedCaller, amountRemoved)
	}
	record.State.TotalAlgoStaked -= amountRemoved
	record.Pools[key.PoolID-1].TotalAlgoStaked -= amountRemoved
	if stakerFullyRemoved {
		record.State.TotalStakers--
		record.Pools[key.PoolID-1].TotalStakers--
	}

	if tokenRemoved > 0 {
		if record.State.RewardTokenHeldBack < tokenRemoved {
			return fmt.Errorf("%w: token payout %d exceeds held-back amount %d", ErrUnexpectedCaller, tokenRemoved, record.State.RewardTokenHeldBack)
		}
		record.State.RewardTokenHeldBack -= tokenRemoved
		if key.PoolID != 1 {
			poolOne, err := r.resolve(tx, record.Pools[0].PoolAppID)
			if err != nil {
				return err
			}
			err = tx.InvokeFrom(r.Address(), func() error {
				return poolOne.PayTokenReward(tx, staker, record.Config.RewardTokenID, tokenRemoved)
			})
			if err != nil {
				return err
			}
		}
	}
	r.saveRecord(tx, record)

	if stakerFullyRemoved {
		if err := r.removeFromPoolSet(tx, staker, key); err != nil {
			return err
		}
	}
	tx.Log("stake_removed",
		"validator_id", key.ID,
		"pool_id", key.PoolID,
		"staker", staker.String(),
		"amount", amountRemoved,
		"token_amount", tokenRemoved,
		"fully_removed", stakerFullyRemoved,
	)
	return nil
}

func (r *ValidatorRegistry) removeFromPoolSet(tx *chain.Txn, staker types.Address, key ValidatorPoolKey) error {
	poolSet, err := r.stakerPoolSet(tx, staker)
	if err != nil {
		return err
	}
	kept := poolSet[:0]
	for _, k := range poolSet {
		if k != key {
			kept = append(kept, k)
		}
	}
	if len(kept) == 0 {
		// done staking everywhere: free the pool-set box and its MBR
		deleteBox(tx, r.appID, GetStakerPoolSetBoxName(staker))
		tx.LowerMinBalance(r.Address(), r.GetMbrAmounts(tx).AddStakerMbr)
		return nil
	}
	setBox(tx, r.appID, GetStakerPoolSetBoxName(staker), encodePoolKeys(kept))
	return nil
}

// StakeUpdatedViaRewards reconciles aggregates after a pool's epoch update
// compounded rewards into staker balances.
func (r *ValidatorRegistry) StakeUpdatedViaRewards(tx *chain.Txn, key ValidatorPoolKey, algoAdded, tokenPaid, commissionPaid, excessToFeeSink uint64) error {
	record, err := r.loadRecord(tx, key.ID)
	if err != nil {
		return err
	}
	if err := r.verifyPoolCaller(tx, record, key); err != nil {
		return err
	}
	record.State.TotalAlgoStaked += algoAdded
	record.Pools[key.PoolID-1].TotalAlgoStaked += algoAdded
	record.State.RewardTokenHeldBack += tokenPaid
	r.saveRecord(tx, record)

	tx.Log("stake_updated_via_rewards",
		"validator_id", key.ID,
		"pool_id", key.PoolID,
		"algo_added", algoAdded,
		"token_paid", tokenPaid,
		"commission_paid", commissionPaid,
		"excess_to_fee_sink", excessToFeeSink,
	)
	return nil
}
