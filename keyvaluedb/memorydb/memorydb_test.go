package memorydb

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/alphabill-org/blockengine/keyvaluedb"
)

func initDB(t *testing.T) *MemoryDB {
	t.Helper()
	db, err := New()
	require.NoError(t, err)
	return db
}

func isEmpty(t *testing.T, db *MemoryDB) bool {
	t.Helper()
	empty, err := keyvaluedb.IsEmpty(db)
	require.NoError(t, err)
	return empty
}

func TestMemDB_IsEmpty(t *testing.T) {
	db := initDB(t)
	require.True(t, isEmpty(t, db))
	require.True(t, db.Empty())
	require.NoError(t, db.Write([]byte("foo"), "test"))
	require.False(t, isEmpty(t, db))
	require.False(t, db.Empty())

	empty, err := keyvaluedb.IsEmpty(nil)
	require.ErrorContains(t, err, "db is nil")
	require.True(t, empty)
}

func TestMemDB_InvalidWriteAndRead(t *testing.T) {
	db := initDB(t)
	var nilPtr *uint64
	require.Error(t, db.Write([]byte("value"), nilPtr))
	require.Error(t, db.Write([]byte(""), uint64(1)))
	require.Error(t, db.Write(nil, uint64(1)))
	found, err := db.Read(nil, new(uint64))
	require.Error(t, err)
	require.False(t, found)
	found, err = db.Read([]byte("test"), nil)
	require.Error(t, err)
	require.False(t, found)
	require.Error(t, db.Write([]byte("channel"), make(chan int)))
	require.True(t, isEmpty(t, db))
}

func TestMemDB_WriteReadDelete(t *testing.T) {
	db := initDB(t)
	require.NoError(t, db.Write([]byte("integer"), uint64(1)))
	var back uint64
	found, err := db.Read([]byte("integer"), &back)
	require.NoError(t, err)
	require.True(t, found)
	require.EqualValues(t, 1, back)

	require.NoError(t, db.Delete([]byte("integer")))
	require.True(t, isEmpty(t, db))
	require.NoError(t, db.Delete([]byte("integer")))
	require.Error(t, db.Delete(nil))
}

func TestMemDB_Iterators(t *testing.T) {
	db := initDB(t)
	for i, k := range []string{"b1", "a1", "b2", "c1", "b3"} {
		require.NoError(t, db.Write([]byte(k), uint64(i)))
	}

	var keys []string
	it := db.First()
	for ; it.Valid(); it.Next() {
		keys = append(keys, string(it.Key()))
	}
	require.NoError(t, it.Close())
	require.Equal(t, []string{"a1", "b1", "b2", "b3", "c1"}, keys)

	it = db.Last()
	require.Equal(t, "c1", string(it.Key()))
	it.Prev()
	require.Equal(t, "b3", string(it.Key()))

	it = db.Find([]byte("b"))
	require.Equal(t, "b1", string(it.Key()))
	it = db.Find([]byte("b2"))
	require.Equal(t, "b2", string(it.Key()))
	it = db.Find([]byte("x"))
	require.False(t, it.Valid())
	require.Nil(t, it.Key())

	keys = nil
	require.NoError(t, keyvaluedb.IteratePrefix(db, []byte("b"), func(key []byte, it keyvaluedb.Iterator) (bool, error) {
		keys = append(keys, string(key))
		return len(keys) < 2, nil
	}))
	require.Equal(t, []string{"b1", "b2"}, keys)
}

func TestMemDB_Tx(t *testing.T) {
	db := initDB(t)
	require.NoError(t, db.Write([]byte("keep"), "old"))

	tx, err := db.StartTx()
	require.NoError(t, err)
	require.NoError(t, tx.Write([]byte("keep"), "new"))
	require.NoError(t, tx.Write([]byte("other"), "1"))
	var val string
	found, err := tx.Read([]byte("keep"), &val)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "new", val)
	// not visible before commit
	found, err = db.Read([]byte("other"), &val)
	require.NoError(t, err)
	require.False(t, found)
	require.NoError(t, tx.Commit())

	found, err = db.Read([]byte("other"), &val)
	require.NoError(t, err)
	require.True(t, found)
	require.ErrorContains(t, tx.Write([]byte("x"), "1"), "tx closed")
	require.ErrorContains(t, tx.Commit(), "tx closed")

	tx, err = db.StartTx()
	require.NoError(t, err)
	require.NoError(t, tx.Delete([]byte("keep")))
	found, err = tx.Read([]byte("keep"), &val)
	require.NoError(t, err)
	require.False(t, found)
	require.NoError(t, tx.Rollback())
	found, err = db.Read([]byte("keep"), &val)
	require.NoError(t, err)
	require.True(t, found)
	_, err = tx.Read([]byte("keep"), &val)
	require.ErrorContains(t, err, "tx closed")

	// direct writes made while tx is open are kept on commit
	tx, err = db.StartTx()
	require.NoError(t, err)
	require.NoError(t, tx.Write([]byte("a"), "tx"))
	require.NoError(t, db.Write([]byte("b"), "direct"))
	require.NoError(t, tx.Delete([]byte("other")))
	require.NoError(t, tx.Commit())
	require.Equal(t, map[string]bool{"keep": true, "a": true, "b": true}, func() map[string]bool {
		keys := map[string]bool{}
		for k := range db.Dump() {
			keys[k] = true
		}
		return keys
	}())
}

func TestMemDB_MockWriteError(t *testing.T) {
	db := initDB(t)
	expErr := errors.New("disk full")
	db.MockWriteError(expErr)
	require.ErrorIs(t, db.Write([]byte("a"), "1"), expErr)
	tx, err := db.StartTx()
	require.NoError(t, err)
	require.ErrorIs(t, tx.Write([]byte("a"), "1"), expErr)
	require.NoError(t, tx.Rollback())

	db.MockWriteError(nil)
	require.NoError(t, db.Write([]byte("a"), "1"))
	dump := db.Dump()
	require.Len(t, dump, 1)
	require.Contains(t, dump, "a")
}

func TestMemDB_StartTxNil(t *testing.T) {
	db := &MemoryDB{}
	tx, err := db.StartTx()
	require.Error(t, err)
	require.Nil(t, tx)
}
