package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBatchSetDeletePrecedence(t *testing.T) {
	b := NewBatch()
	b.Set([]byte("k"), []byte("v1"))
	v, exists, touched := b.Get([]byte("k"))
	assert.True(t, touched)
	assert.True(t, exists)
	assert.Equal(t, []byte("v1"), v)

	// a delete supersedes a prior set within the same batch
	b.Delete([]byte("k"))
	_, exists, touched = b.Get([]byte("k"))
	assert.True(t, touched)
	assert.False(t, exists)

	// and a set supersedes a prior delete
	b.Set([]byte("k"), []byte("v2"))
	v, exists, _ = b.Get([]byte("k"))
	assert.True(t, exists)
	assert.Equal(t, []byte("v2"), v)

	_, _, touched = b.Get([]byte("other"))
	assert.False(t, touched)
}

func TestBatchCopiesValues(t *testing.T) {
	b := NewBatch()
	buf := []byte("original")
	b.Set([]byte("k"), buf)
	buf[0] = 'X'
	v, _, _ := b.Get([]byte("k"))
	assert.Equal(t, []byte("original"), v)
}

func kvContract(t *testing.T, kv KV) {
	t.Helper()

	_, exists, err := kv.Get([]byte("missing"))
	require.NoError(t, err)
	assert.False(t, exists)

	b := NewBatch()
	b.Set([]byte("a/1"), []byte("one"))
	b.Set([]byte("a/2"), []byte("two"))
	b.Set([]byte("b/1"), []byte("other"))
	require.NoError(t, kv.Write(b))

	v, exists, err := kv.Get([]byte("a/2"))
	require.NoError(t, err)
	require.True(t, exists)
	assert.Equal(t, []byte("two"), v)

	var keys []string
	err = kv.Iterate([]byte("a/"), func(key, value []byte) bool {
		keys = append(keys, string(key))
		return true
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a/1", "a/2"}, keys)

	// early stop
	count := 0
	err = kv.Iterate([]byte("a/"), func(key, value []byte) bool {
		count++
		return false
	})
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	del := NewBatch()
	del.Delete([]byte("a/1"))
	require.NoError(t, kv.Write(del))
	_, exists, err = kv.Get([]byte("a/1"))
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestMemoryKV(t *testing.T) {
	m := NewMemory()
	kvContract(t, m)

	require.NoError(t, m.Close())
	_, _, err := m.Get([]byte("a/2"))
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, m.Write(NewBatch()), ErrClosed)
}

func TestLevelDBKV(t *testing.T) {
	db, err := OpenLevelDB(t.TempDir())
	require.NoError(t, err)
	defer db.Close()
	kvContract(t, db)
}

func TestLevelDBReopen(t *testing.T) {
	dir := t.TempDir()
	db, err := OpenLevelDB(dir)
	require.NoError(t, err)
	b := NewBatch()
	b.Set([]byte("persisted"), []byte("yes"))
	require.NoError(t, db.Write(b))
	require.NoError(t, db.Close())

	db, err = OpenLevelDB(dir)
	require.NoError(t, err)
	defer db.Close()
	v, exists, err := db.Get([]byte("persisted"))
	require.NoError(t, err)
	require.True(t, exists)
	assert.Equal(t, []byte("yes"), v)
}
