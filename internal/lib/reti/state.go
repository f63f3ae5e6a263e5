package reti

import (
	"encoding/binary"

	"github.com/TxnLab/reti-core/internal/lib/chain"
)

// Typed accessors over an app's persisted global state.

func getGlobalUint(tx *chain.Txn, appID uint64, name string) (uint64, bool) {
	data, exists, err := tx.Get(globalKey(appID, name))
	if err != nil || !exists || len(data) < 8 {
		return 0, false
	}
	return binary.BigEndian.Uint64(data), true
}

func setGlobalUint(tx *chain.Txn, appID uint64, name string, v uint64) {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, v)
	tx.Set(globalKey(appID, name), buf)
}

func getGlobalString(tx *chain.Txn, appID uint64, name string) (string, bool) {
	data, exists, err := tx.Get(globalKey(appID, name))
	if err != nil || !exists {
		return "", false
	}
	return string(data), true
}

func setGlobalString(tx *chain.Txn, appID uint64, name, v string) {
	tx.Set(globalKey(appID, name), []byte(v))
}

func getBox(tx *chain.Txn, appID uint64, name []byte) ([]byte, bool) {
	data, exists, err := tx.Get(boxKey(appID, name))
	if err != nil {
		return nil, false
	}
	return data, exists
}

func setBox(tx *chain.Txn, appID uint64, name, value []byte) {
	tx.Set(boxKey(appID, name), value)
}

func deleteBox(tx *chain.Txn, appID uint64, name []byte) {
	tx.Delete(boxKey(appID, name))
}
