package chain

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"

	"github.com/algorand/go-algorand-sdk/v2/types"

	"github.com/TxnLab/reti-core/internal/lib/store"
)

const (
	// BaseOpcodeBudget is the compute budget an entry point starts with;
	// EnsureBudget raises the cap up to MaxOpcodeBudget.
	BaseOpcodeBudget = 700
	MaxOpcodeBudget  = 170_000
)

var (
	ErrInsufficientFunds = errors.New("insufficient spendable balance")
	ErrNotOptedIn        = errors.New("account not opted in to asset")
	ErrBudgetExhausted   = errors.New("compute budget exhausted")
	ErrZeroAddressTarget = errors.New("transfer to/from zero address")
)

// Payment is value attached to a call; the protocol verifies From against
// the transaction sender and moves the funds itself so a failed call never
// strands a deposit.
type Payment struct {
	From   types.Address
	Amount uint64
}

type event struct {
	name  string
	attrs []any
}

// Txn is one atomic all-or-nothing unit.  Reads see committed state plus
// this unit's own pending writes; commit applies the overlay as a single
// batch.  The sender frame stack is how callees authenticate callers:
// a nested cross-component call runs under the calling app's address.
type Txn struct {
	env     *Env
	overlay *store.Batch

	senders    []types.Address
	budgetUsed int
	budgetCap  int
	events     []event
}

func (tx *Txn) Env() *Env {
	return tx.env
}

func (tx *Txn) Now() uint64 {
	return uint64(tx.env.Now().Unix())
}

// Sender is the identity of the current caller - the external account for
// the outermost frame, an app escrow address within nested calls.
func (tx *Txn) Sender() types.Address {
	return tx.senders[len(tx.senders)-1]
}

// InvokeFrom runs fn with sender set to addr - used when one component
// synchronously calls another within the same atomic unit.
func (tx *Txn) InvokeFrom(addr types.Address, fn func() error) error {
	tx.senders = append(tx.senders, addr)
	defer func() {
		tx.senders = tx.senders[:len(tx.senders)-1]
	}()
	return fn()
}

// UseBudget consumes compute budget, failing the unit if the cap would be
// exceeded.  Correctness never depends on this; it exists so ledger scans
// account for their cost the way the hosted version must.
func (tx *Txn) UseBudget(n int) error {
	if tx.budgetUsed+n > tx.budgetCap {
		return ErrBudgetExhausted
	}
	tx.budgetUsed += n
	return nil
}

// EnsureBudget raises the budget cap so at least n more units are available.
func (tx *Txn) EnsureBudget(n int) error {
	want := tx.budgetUsed + n
	if want > MaxOpcodeBudget {
		return fmt.Errorf("%w: requested %d exceeds max %d", ErrBudgetExhausted, want, MaxOpcodeBudget)
	}
	if want > tx.budgetCap {
		tx.budgetCap = want
	}
	return nil
}

// Log records an event emitted only if the unit commits.
func (tx *Txn) Log(name string, attrs ...any) {
	tx.events = append(tx.events, event{name: name, attrs: attrs})
}

// --- raw KV (used by components for their own global state / boxes) ---

func (tx *Txn) Get(key []byte) ([]byte, bool, error) {
	if v, exists, touched := tx.overlay.Get(key); touched {
		return v, exists, nil
	}
	return tx.env.kv.Get(key)
}

func (tx *Txn) Set(key, value []byte) {
	tx.overlay.Set(key, value)
}

func (tx *Txn) Delete(key []byte) {
	tx.overlay.Delete(key)
}

// --- accounts ---

func (tx *Txn) account(addr types.Address) account {
	data, exists, err := tx.Get(acctKey(addr))
	if err != nil || !exists {
		return account{}
	}
	return decodeAccount(data)
}

func (tx *Txn) putAccount(addr types.Address, a account) {
	tx.Set(acctKey(addr), encodeAccount(a))
}

func (tx *Txn) Balance(addr types.Address) uint64 {
	return tx.account(addr).Balance
}

func (tx *Txn) MinBalance(addr types.Address) uint64 {
	return tx.account(addr).MinBalance
}

// Spendable is balance minus the locked minimum balance requirement.
func (tx *Txn) Spendable(addr types.Address) uint64 {
	a := tx.account(addr)
	if a.Balance < a.MinBalance {
		return 0
	}
	return a.Balance - a.MinBalance
}

func (tx *Txn) IsOnline(addr types.Address) bool {
	return tx.account(addr).Online
}

// Transfer moves microalgo, honoring the sender's minimum balance and
// keeping the network online-stake total in sync when either side is online.
func (tx *Txn) Transfer(from, to types.Address, amount uint64) error {
	if amount == 0 {
		return nil
	}
	if from == types.ZeroAddress || to == types.ZeroAddress {
		return ErrZeroAddressTarget
	}
	src := tx.account(from)
	if src.Balance < src.MinBalance || src.Balance-src.MinBalance < amount {
		return fmt.Errorf("%w: %s has %d spendable, needs %d", ErrInsufficientFunds, from.String(), tx.Spendable(from), amount)
	}
	src.Balance -= amount
	tx.putAccount(from, src)
	dst := tx.account(to)
	dst.Balance += amount
	tx.putAccount(to, dst)

	stake := tx.onlineStake()
	if src.Online {
		stake -= amount
	}
	if dst.Online {
		stake += amount
	}
	tx.setOnlineStake(stake)
	return nil
}

// RaiseMinBalance locks additional MBR against an account (box/asset
// creation).  Fails if the account cannot cover the new requirement.
func (tx *Txn) RaiseMinBalance(addr types.Address, amount uint64) error {
	a := tx.account(addr)
	if a.Balance < a.MinBalance+amount {
		return fmt.Errorf("%w: %s cannot cover min balance increase of %d", ErrInsufficientFunds, addr.String(), amount)
	}
	a.MinBalance += amount
	tx.putAccount(addr, a)
	return nil
}

func (tx *Txn) LowerMinBalance(addr types.Address, amount uint64) {
	a := tx.account(addr)
	if amount > a.MinBalance {
		amount = a.MinBalance
	}
	a.MinBalance -= amount
	tx.putAccount(addr, a)
}

// SetOnline flips an account's consensus participation, adjusting the
// network-wide online stake the saturation checks are computed from.
func (tx *Txn) SetOnline(addr types.Address, online bool) {
	a := tx.account(addr)
	if a.Online == online {
		return
	}
	stake := tx.onlineStake()
	if online {
		stake += a.Balance
	} else {
		stake -= a.Balance
	}
	a.Online = online
	tx.putAccount(addr, a)
	tx.setOnlineStake(stake)
}

// TotalOnlineStake is the sum of balances of all online accounts.
func (tx *Txn) TotalOnlineStake() uint64 {
	return tx.onlineStake()
}

func (tx *Txn) onlineStake() uint64 {
	data, exists, err := tx.Get(sysOnlineStakeKey)
	if err != nil || !exists {
		return 0
	}
	return binary.BigEndian.Uint64(data)
}

func (tx *Txn) setOnlineStake(v uint64) {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, v)
	tx.Set(sysOnlineStakeKey, buf)
}

// --- assets (secondary reward token) ---

func (tx *Txn) assetHolding(addr types.Address, assetID uint64) (uint64, bool) {
	data, exists, err := tx.Get(assetKey(addr, assetID))
	if err != nil || !exists {
		return 0, false
	}
	return binary.BigEndian.Uint64(data), true
}

func (tx *Txn) setAssetHolding(addr types.Address, assetID, amount uint64) {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, amount)
	tx.Set(assetKey(addr, assetID), buf)
}

func (tx *Txn) AssetBalance(addr types.Address, assetID uint64) uint64 {
	bal, _ := tx.assetHolding(addr, assetID)
	return bal
}

func (tx *Txn) IsOptedIn(addr types.Address, assetID uint64) bool {
	_, opted := tx.assetHolding(addr, assetID)
	return opted
}

// OptInAsset creates a zero holding and locks the opt-in MBR.
func (tx *Txn) OptInAsset(addr types.Address, assetID uint64) error {
	if tx.IsOptedIn(addr, assetID) {
		return nil
	}
	if err := tx.RaiseMinBalance(addr, AssetOptInMBR); err != nil {
		return err
	}
	tx.setAssetHolding(addr, assetID, 0)
	return nil
}

func (tx *Txn) AssetTransfer(assetID uint64, from, to types.Address, amount uint64) error {
	if amount == 0 {
		return nil
	}
	srcBal, opted := tx.assetHolding(from, assetID)
	if !opted {
		return fmt.Errorf("%w: sender %s asset %d", ErrNotOptedIn, from.String(), assetID)
	}
	if srcBal < amount {
		return fmt.Errorf("%w: asset %d balance %d < %d", ErrInsufficientFunds, assetID, srcBal, amount)
	}
	dstBal, opted := tx.assetHolding(to, assetID)
	if !opted {
		return fmt.Errorf("%w: receiver %s asset %d", ErrNotOptedIn, to.String(), assetID)
	}
	tx.setAssetHolding(from, assetID, srcBal-amount)
	tx.setAssetHolding(to, assetID, dstBal+amount)
	return nil
}

// --- apps ---

// CreateApp allocates the next application id.  The app's escrow account
// is funded by its creator afterwards like any other account.
func (tx *Txn) CreateApp() uint64 {
	var next uint64 = 1000 // leave room below for well-known ids
	if data, exists, err := tx.Get(sysNextAppIDKey); err == nil && exists {
		next = binary.BigEndian.Uint64(data)
	}
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, next+1)
	tx.Set(sysNextAppIDKey, buf)
	return next
}

func (tx *Txn) commit() error {
	if err := tx.env.kv.Write(tx.overlay); err != nil {
		return err
	}
	for _, ev := range tx.events {
		tx.env.logger.LogAttrs(context.Background(), slog.LevelInfo, ev.name, argsToAttrs(ev.attrs)...)
	}
	return nil
}

func argsToAttrs(args []any) []slog.Attr {
	var attrs []slog.Attr
	for i := 0; i+1 < len(args); i += 2 {
		key, ok := args[i].(string)
		if !ok {
			continue
		}
		attrs = append(attrs, slog.Any(key, args[i+1]))
	}
	return attrs
}
