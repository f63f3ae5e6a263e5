package store

import (
	"errors"
)

// ErrClosed is returned for operations against a store that has been closed.
var ErrClosed = errors.New("store closed")

// KV is the minimal key-value surface the protocol persists through.  Keys
// and values are copied on the way in/out so callers can reuse buffers.
type KV interface {
	// Get returns the stored value and whether the key exists.
	Get(key []byte) ([]byte, bool, error)
	// Write applies a set of writes/deletes as a single atomic batch.
	Write(batch *Batch) error
	// Iterate calls fn for every key with the given prefix, in key order,
	// stopping early if fn returns false.
	Iterate(prefix []byte, fn func(key, value []byte) bool) error
	Close() error
}

// Batch accumulates writes to be applied atomically via KV.Write.
type Batch struct {
	writes  map[string][]byte
	deletes map[string]struct{}
}

func NewBatch() *Batch {
	return &Batch{
		writes:  map[string][]byte{},
		deletes: map[string]struct{}{},
	}
}

func (b *Batch) Set(key, value []byte) {
	k := string(key)
	delete(b.deletes, k)
	v := make([]byte, len(value))
	copy(v, value)
	b.writes[k] = v
}

func (b *Batch) Delete(key []byte) {
	k := string(key)
	delete(b.writes, k)
	b.deletes[k] = struct{}{}
}

func (b *Batch) Len() int {
	return len(b.writes) + len(b.deletes)
}

// Get reports the pending state of key within the batch: (value, true, true)
// if set, (nil, false, true) if deleted, (nil, false, false) if untouched.
func (b *Batch) Get(key []byte) (value []byte, exists bool, touched bool) {
	k := string(key)
	if v, ok := b.writes[k]; ok {
		return v, true, true
	}
	if _, ok := b.deletes[k]; ok {
		return nil, false, true
	}
	return nil, false, false
}
