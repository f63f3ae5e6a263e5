package chain

import (
	"encoding/binary"
	"log/slog"
	"time"

	"github.com/algorand/go-algorand-sdk/v2/crypto"
	"github.com/algorand/go-algorand-sdk/v2/types"

	"github.com/TxnLab/reti-core/internal/lib/store"
)

const (
	// Per-account base minimum balance requirement (microalgo).
	BaseAccountMBR = 100_000
	// Additional MBR locked per asset opt-in.
	AssetOptInMBR = 100_000
	// Box storage MBR: flat cost plus per-byte cost over name+contents.
	BoxFlatMBR    = 2_500
	BoxPerByteMBR = 400
)

// Fee sink for the simulated network - saturation excess is swept here.
var FeeSinkAddress, _ = types.DecodeAddress("Y76M3MSY6DKBRHBL7C3NNDXGS5IIMQVQVUAB6MP4XEMMGVF2QWNPL226CA")

// App is anything addressable by application id.  The escrow address for an
// app id is derived, never stored, so any component can independently
// recompute the identity another component must have.
type App interface {
	AppID() uint64
	Address() types.Address
}

// AppAddress derives the escrow address for an application id.
func AppAddress(appID uint64) types.Address {
	return crypto.GetApplicationAddress(appID)
}

// Env owns the persisted account state and hands out atomic transaction
// units.  There is no intra-call concurrency: each Execute runs its function
// to completion as a single all-or-nothing unit.
type Env struct {
	kv     store.KV
	logger *slog.Logger

	// Clock is injectable so tests can drive epoch timing.
	Clock func() time.Time
}

func NewEnv(kv store.KV, logger *slog.Logger) *Env {
	return &Env{
		kv:     kv,
		logger: logger,
		Clock:  time.Now,
	}
}

func (e *Env) Logger() *slog.Logger {
	return e.logger
}

func (e *Env) Now() time.Time {
	return e.Clock()
}

// Execute runs fn inside a new atomic unit with the given external sender.
// All state read/mutated by fn goes through the Txn overlay; if fn returns
// an error nothing is applied - including the effects of any nested
// cross-component calls already issued.
func (e *Env) Execute(sender types.Address, fn func(*Txn) error) error {
	tx := e.begin(sender)
	if err := fn(tx); err != nil {
		return err
	}
	return tx.commit()
}

// View runs fn against current state and always discards its overlay.
// Used for the read-only query paths.
func (e *Env) View(fn func(*Txn) error) error {
	tx := e.begin(types.ZeroAddress)
	return fn(tx)
}

// Fund credits an account outside any protocol call (genesis / faucet).
func (e *Env) Fund(addr types.Address, amount uint64) error {
	return e.Execute(types.ZeroAddress, func(tx *Txn) error {
		acct := tx.account(addr)
		acct.Balance += amount
		tx.putAccount(addr, acct)
		if acct.Online {
			tx.setOnlineStake(tx.onlineStake() + amount)
		}
		return nil
	})
}

// FundAsset credits asset units to an opted-in account (test/genesis path
// for seeding pool 1 with the validator's reward token supply).
func (e *Env) FundAsset(addr types.Address, assetID, amount uint64) error {
	return e.Execute(types.ZeroAddress, func(tx *Txn) error {
		bal, opted := tx.assetHolding(addr, assetID)
		if !opted {
			return ErrNotOptedIn
		}
		tx.setAssetHolding(addr, assetID, bal+amount)
		return nil
	})
}

func (e *Env) begin(sender types.Address) *Txn {
	return &Txn{
		env:       e,
		overlay:   store.NewBatch(),
		senders:   []types.Address{sender},
		budgetCap: BaseOpcodeBudget,
	}
}

// account record layout: balance u64 | minBalance u64 | online u8
const acctRecordSize = 17

type account struct {
	Balance    uint64
	MinBalance uint64
	Online     bool
}

func encodeAccount(a account) []byte {
	buf := make([]byte, acctRecordSize)
	binary.BigEndian.PutUint64(buf[0:8], a.Balance)
	binary.BigEndian.PutUint64(buf[8:16], a.MinBalance)
	if a.Online {
		buf[16] = 1
	}
	return buf
}

func decodeAccount(data []byte) account {
	if len(data) < acctRecordSize {
		return account{}
	}
	return account{
		Balance:    binary.BigEndian.Uint64(data[0:8]),
		MinBalance: binary.BigEndian.Uint64(data[8:16]),
		Online:     data[16] == 1,
	}
}

func acctKey(addr types.Address) []byte {
	return append([]byte("a/"), addr[:]...)
}

func assetKey(addr types.Address, assetID uint64) []byte {
	key := append([]byte("t/"), addr[:]...)
	ibytes := make([]byte, 8)
	binary.BigEndian.PutUint64(ibytes, assetID)
	return append(key, ibytes...)
}

var (
	sysNextAppIDKey   = []byte("sys/nextAppID")
	sysOnlineStakeKey = []byte("sys/onlineStake")
)
