package state

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type account struct {
	_       struct{} `cbor:",toarray"`
	Balance uint64
}

func TestStore(t *testing.T) {
	db := newMemDB(t)
	s := NewView(db)
	accounts := NewStore[account]("token", 0)
	other := NewStore[account]("token", 1)

	_, err := accounts.Get(s, []byte{1})
	require.ErrorIs(t, err, ErrNotFound)
	def, err := accounts.GetOrDefault(s, []byte{1}, &account{Balance: 7})
	require.NoError(t, err)
	require.EqualValues(t, 7, def.Balance)

	require.NoError(t, accounts.Set(s, []byte{1}, &account{Balance: 10}))
	require.NoError(t, accounts.Set(s, []byte{2}, &account{Balance: 20}))
	require.NoError(t, other.Set(s, []byte{1}, &account{Balance: 99}))

	acc, err := accounts.Get(s, []byte{1})
	require.NoError(t, err)
	require.EqualValues(t, 10, acc.Balance)
	found, err := accounts.Has(s, []byte{2})
	require.NoError(t, err)
	require.True(t, found)

	var sum uint64
	require.NoError(t, accounts.Iterate(s, func(key []byte, v *account) (bool, error) {
		require.Len(t, key, 1)
		sum += v.Balance
		return true, nil
	}))
	require.EqualValues(t, 30, sum)

	require.NoError(t, accounts.Delete(s, []byte{2}))
	commit(t, db, s, 1)

	r := NewCommittedReader(db)
	acc, err = other.Get(r, []byte{1})
	require.NoError(t, err)
	require.EqualValues(t, 99, acc.Balance)
	found, err = accounts.Has(r, []byte{2})
	require.NoError(t, err)
	require.False(t, found)

	// value of wrong type
	require.NoError(t, db.Write(dbKey(accounts.Key([]byte{3})), []byte{0xff}))
	_, err = accounts.Get(r, []byte{3})
	require.ErrorContains(t, err, "decoding token store 0 value 03")
}
