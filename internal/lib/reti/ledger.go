package reti

import (
	"encoding/binary"

	"github.com/algorand/go-algorand-sdk/v2/types"
)

// StakedInfo is one staker's slot in a pool's stake ledger.
type StakedInfo struct {
	Account            types.Address
	Balance            uint64
	TotalRewarded      uint64
	RewardTokenBalance uint64
	EntryTime          uint64
}

const stakedInfoSize = 64

// stakeLedger is the fixed-capacity sequence of staker slots inside one
// pool.  A slot is empty when its account is the zero address; the first
// empty slot found by linear scan is reused for new entrants.
type stakeLedger []StakedInfo

func newStakeLedger() stakeLedger {
	return make(stakeLedger, MaxStakersPerPool)
}

func decodeStakeLedger(data []byte) stakeLedger {
	ledger := make(stakeLedger, 0, len(data)/stakedInfoSize)
	for i := 0; i+stakedInfoSize <= len(data); i += stakedInfoSize {
		rec := data[i : i+stakedInfoSize]
		var info StakedInfo
		copy(info.Account[:], rec[0:32])
		info.Balance = binary.BigEndian.Uint64(rec[32:40])
		info.TotalRewarded = binary.BigEndian.Uint64(rec[40:48])
		info.RewardTokenBalance = binary.BigEndian.Uint64(rec[48:56])
		info.EntryTime = binary.BigEndian.Uint64(rec[56:64])
		ledger = append(ledger, info)
	}
	return ledger
}

func (l stakeLedger) encode() []byte {
	buf := make([]byte, len(l)*stakedInfoSize)
	for i, info := range l {
		rec := buf[i*stakedInfoSize:]
		copy(rec[0:32], info.Account[:])
		binary.BigEndian.PutUint64(rec[32:40], info.Balance)
		binary.BigEndian.PutUint64(rec[40:48], info.TotalRewarded)
		binary.BigEndian.PutUint64(rec[48:56], info.RewardTokenBalance)
		binary.BigEndian.PutUint64(rec[56:64], info.EntryTime)
	}
	return buf
}

// find returns the index of the slot held by account, or -1.
func (l stakeLedger) find(account types.Address) int {
	for i := range l {
		if l[i].Account == account {
			return i
		}
	}
	return -1
}

// firstEmpty returns the index of the first reusable slot, or -1 when full.
func (l stakeLedger) firstEmpty() int {
	for i := range l {
		if l[i].Account == types.ZeroAddress {
			return i
		}
	}
	return -1
}

// clear zeroes a slot entirely so it can be reused.
func (l stakeLedger) clear(i int) {
	l[i] = StakedInfo{}
}

func ledgerBoxSize() int {
	return MaxStakersPerPool * stakedInfoSize
}
