package boltdb

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/alphabill-org/blockengine/keyvaluedb"
)

func readString(t *testing.T, r keyvaluedb.Reader, key string) (string, bool) {
	t.Helper()
	var v string
	found, err := r.Read([]byte(key), &v)
	require.NoError(t, err)
	return v, found
}

func TestBoltTx(t *testing.T) {
	t.Run("empty commit", func(t *testing.T) {
		db := initBoltDB(t)
		tx, err := db.StartTx()
		require.NoError(t, err)
		require.NoError(t, tx.Commit())
		require.True(t, isEmpty(t, db))
	})

	t.Run("commit", func(t *testing.T) {
		db := initBoltDB(t)
		require.NoError(t, db.Write([]byte("block:1"), "gone"))
		tx, err := db.StartTx()
		require.NoError(t, err)
		require.NoError(t, tx.Write([]byte("block:2"), "b2"))
		require.NoError(t, tx.Write([]byte("state:a"), "s"))
		require.NoError(t, tx.Delete([]byte("block:1")))
		// reads see the writes of the transaction
		v, found := readString(t, tx, "block:2")
		require.True(t, found)
		require.Equal(t, "b2", v)
		require.NoError(t, tx.Commit())

		v, found = readString(t, db, "block:2")
		require.True(t, found)
		require.Equal(t, "b2", v)
		_, found = readString(t, db, "block:1")
		require.False(t, found)
	})

	t.Run("rollback", func(t *testing.T) {
		db := initBoltDB(t)
		require.NoError(t, db.Write([]byte("keep"), "old"))
		tx, err := db.StartTx()
		require.NoError(t, err)
		require.NoError(t, tx.Write([]byte("keep"), "new"))
		require.NoError(t, tx.Write([]byte("added"), "1"))
		require.NoError(t, tx.Delete([]byte("missing")))
		require.NoError(t, tx.Rollback())

		v, found := readString(t, db, "keep")
		require.True(t, found)
		require.Equal(t, "old", v)
		_, found = readString(t, db, "added")
		require.False(t, found)
	})

	t.Run("closed", func(t *testing.T) {
		db := initBoltDB(t)
		tx, err := db.StartTx()
		require.NoError(t, err)
		require.NoError(t, tx.Commit())

		var v string
		found, err := tx.Read([]byte("k"), &v)
		require.False(t, found)
		require.ErrorIs(t, err, errTxClosed)
		require.ErrorIs(t, tx.Write([]byte("k"), "1"), errTxClosed)
		require.ErrorIs(t, tx.Delete([]byte("k")), errTxClosed)
		require.EqualError(t, tx.Commit(), "commit: tx closed")
		require.NoError(t, tx.Rollback())
	})

	t.Run("invalid input", func(t *testing.T) {
		db := initBoltDB(t)
		tx, err := db.StartTx()
		require.NoError(t, err)
		defer func() { require.NoError(t, tx.Rollback()) }()

		require.ErrorIs(t, tx.Write(nil, "1"), keyvaluedb.ErrInvalidKey)
		require.ErrorIs(t, tx.Write([]byte("k"), nil), keyvaluedb.ErrValueIsNil)
		require.ErrorIs(t, tx.Delete(nil), keyvaluedb.ErrInvalidKey)
		require.ErrorContains(t, tx.Write([]byte("channel"), make(chan int)), "encoding value")
	})

	t.Run("decode error", func(t *testing.T) {
		db := initBoltDB(t)
		require.NoError(t, db.Write([]byte("k"), "text"))
		tx, err := db.StartTx()
		require.NoError(t, err)
		defer func() { require.NoError(t, tx.Rollback()) }()
		var n uint64
		found, err := tx.Read([]byte("k"), &n)
		require.True(t, found)
		require.ErrorContains(t, err, "decoding value of key 6B")
	})
}
