package state

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/alphabill-org/blockengine/keyvaluedb"
	"github.com/alphabill-org/blockengine/keyvaluedb/boltdb"
	"github.com/alphabill-org/blockengine/keyvaluedb/memorydb"
)

func newMemDB(t *testing.T) *memorydb.MemoryDB {
	t.Helper()
	db, err := memorydb.New()
	require.NoError(t, err)
	return db
}

func commit(t *testing.T, db keyvaluedb.KeyValueDB, s *State, height uint64) *Diff {
	t.Helper()
	tx, err := db.StartTx()
	require.NoError(t, err)
	diff, err := s.Commit(tx, height)
	require.NoError(t, err)
	require.NoError(t, tx.Commit())
	return diff
}

func TestComputeSubstorePrefix(t *testing.T) {
	expected := []uint16{
		0x0000, 0x8000, 0x4000, 0xC000, 0x2000, 0xA000, 0x6000, 0xE000,
		0x1000, 0x9000, 0x5000, 0xD000, 0x3000, 0xB000, 0x7000, 0xF000,
	}
	for i, exp := range expected {
		require.Equal(t, []byte{byte(exp >> 8), byte(exp)}, ComputeSubstorePrefix(uint16(i)), "index %d", i)
	}
	require.Equal(t, []byte{0x00, 0x01}, ComputeSubstorePrefix(0x8000))
	require.Equal(t, []byte{0xFF, 0xFF}, ComputeSubstorePrefix(0xFFFF))
}

func TestStorePrefix(t *testing.T) {
	p := StorePrefix("token", 1)
	require.Len(t, p, StorePrefixLength)
	require.Equal(t, ModulePrefix("token"), p[:ModulePrefixLength])
	require.Equal(t, []byte{0x80, 0x00}, p[ModulePrefixLength:])
	require.NotEqual(t, ModulePrefix("token"), ModulePrefix("fee"))
}

func TestState_GetSetDelete(t *testing.T) {
	db := newMemDB(t)
	s := NewView(db)

	_, found, err := s.Get([]byte("a"))
	require.NoError(t, err)
	require.False(t, found)

	require.NoError(t, s.Set([]byte("a"), []byte{1}))
	require.NoError(t, s.Set([]byte("b"), nil))
	v, found, err := s.Get([]byte("a"))
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, []byte{1}, v)
	v, found, err = s.Get([]byte("b"))
	require.NoError(t, err)
	require.True(t, found)
	require.Empty(t, v)

	require.NoError(t, s.Delete([]byte("a")))
	found, err = s.Has([]byte("a"))
	require.NoError(t, err)
	require.False(t, found)
	require.Error(t, s.Set(nil, []byte{1}))

	require.Equal(t, [][]byte{[]byte("a"), []byte("b")}, s.ReadSet())
	// nothing reaches the database before commit
	require.True(t, db.Empty())
}

func TestState_Savepoints(t *testing.T) {
	s := NewView(newMemDB(t))
	require.NoError(t, s.Set([]byte("a"), []byte{1}))

	id := s.Savepoint()
	require.NoError(t, s.Set([]byte("a"), []byte{2}))
	require.NoError(t, s.Set([]byte("b"), []byte{2}))
	inner := s.Savepoint()
	require.NoError(t, s.Delete([]byte("a")))
	s.RollbackToSavepoint(inner)

	v, found, err := s.Get([]byte("a"))
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, []byte{2}, v)

	s.RollbackToSavepoint(id)
	v, _, err = s.Get([]byte("a"))
	require.NoError(t, err)
	require.Equal(t, []byte{1}, v)
	found, err = s.Has([]byte("b"))
	require.NoError(t, err)
	require.False(t, found)

	id = s.Savepoint()
	require.NoError(t, s.Set([]byte("c"), []byte{3}))
	s.ReleaseToSavepoint(id)
	v, _, err = s.Get([]byte("c"))
	require.NoError(t, err)
	require.Equal(t, []byte{3}, v)
	require.Len(t, s.savepoints, 1)

	// invalid ids are ignored
	s.RollbackToSavepoint(0)
	s.ReleaseToSavepoint(5)
	require.Len(t, s.savepoints, 1)
	require.True(t, s.IsDirty())
}

func TestState_CommitAndRevert(t *testing.T) {
	db := newMemDB(t)
	s := NewView(db)
	require.NoError(t, s.Set([]byte("a"), []byte{1}))
	require.NoError(t, s.Set([]byte("b"), []byte{1}))
	require.NoError(t, s.Set([]byte("c"), []byte{1}))
	root1, err := s.CalculateRoot()
	require.NoError(t, err)
	diff := commit(t, db, s, 1)
	require.Len(t, diff.Created, 3)
	before := db.Dump()

	committedRoot, err := CalculateCommittedRoot(db)
	require.NoError(t, err)
	require.Equal(t, root1, committedRoot)

	// view can't be used after commit
	_, _, err = s.Get([]byte("a"))
	require.ErrorIs(t, err, ErrStateViewReleased)

	s = NewView(db)
	require.NoError(t, s.Set([]byte("a"), []byte{2}))
	require.NoError(t, s.Delete([]byte("b")))
	require.NoError(t, s.Set([]byte("c"), []byte{1})) // unchanged value
	require.NoError(t, s.Set([]byte("d"), []byte{4}))
	require.NoError(t, s.Delete([]byte("x"))) // never existed
	diff = commit(t, db, s, 2)
	require.Equal(t, [][]byte{[]byte("d")}, diff.Created)
	require.Len(t, diff.Updated, 1)
	require.Equal(t, []byte("a"), diff.Updated[0].Key)
	require.Equal(t, []byte{1}, diff.Updated[0].Value)
	require.Len(t, diff.Deleted, 1)
	require.Equal(t, []byte("b"), diff.Deleted[0].Key)

	r := NewCommittedReader(db)
	v, found, err := r.Get([]byte("a"))
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, []byte{2}, v)

	tx, err := db.StartTx()
	require.NoError(t, err)
	require.NoError(t, RevertDiff(tx, 2))
	require.NoError(t, tx.Commit())
	require.Equal(t, before, db.Dump())

	committedRoot, err = CalculateCommittedRoot(db)
	require.NoError(t, err)
	require.Equal(t, root1, committedRoot)

	tx, err = db.StartTx()
	require.NoError(t, err)
	require.ErrorIs(t, RevertDiff(tx, 2), ErrDiffNotFound)
	require.NoError(t, tx.Rollback())
}

func TestState_CommitWithOpenSavepoint(t *testing.T) {
	db := newMemDB(t)
	s := NewView(db)
	s.Savepoint()
	tx, err := db.StartTx()
	require.NoError(t, err)
	_, err = s.Commit(tx, 1)
	require.ErrorIs(t, err, ErrOpenSavepoints)
	require.NoError(t, tx.Rollback())
}

func TestState_CalculateRoot(t *testing.T) {
	db := newMemDB(t)
	s := NewView(db)
	root, err := s.CalculateRoot()
	require.NoError(t, err)
	require.Equal(t, make([]byte, 32), root)

	require.NoError(t, s.Set([]byte("a"), []byte{1}))
	require.NoError(t, s.Set([]byte("b"), []byte{2}))
	rootAB, err := s.CalculateRoot()
	require.NoError(t, err)

	// same content written in different order and via different commits gives the same root
	s2 := NewView(newMemDB(t))
	require.NoError(t, s2.Set([]byte("b"), []byte{2}))
	require.NoError(t, s2.Set([]byte("x"), []byte{9}))
	require.NoError(t, s2.Set([]byte("a"), []byte{1}))
	require.NoError(t, s2.Delete([]byte("x")))
	root2, err := s2.CalculateRoot()
	require.NoError(t, err)
	require.Equal(t, rootAB, root2)

	commit(t, db, s, 1)
	s = NewView(db)
	require.NoError(t, s.Set([]byte("a"), []byte{3}))
	root3, err := s.CalculateRoot()
	require.NoError(t, err)
	require.NotEqual(t, rootAB, root3)
}

func TestState_Iterate(t *testing.T) {
	db := newMemDB(t)
	s := NewView(db)
	require.NoError(t, s.Set([]byte("p1"), []byte{1}))
	require.NoError(t, s.Set([]byte("p2"), []byte{2}))
	require.NoError(t, s.Set([]byte("q1"), []byte{3}))
	commit(t, db, s, 1)

	s = NewView(db)
	require.NoError(t, s.Delete([]byte("p1")))
	require.NoError(t, s.Set([]byte("p0"), []byte{0}))
	var keys []string
	require.NoError(t, s.Iterate([]byte("p"), func(key, value []byte) (bool, error) {
		keys = append(keys, string(key))
		return true, nil
	}))
	require.Equal(t, []string{"p0", "p2"}, keys)

	keys = nil
	require.NoError(t, NewCommittedReader(db).Iterate([]byte("p"), func(key, value []byte) (bool, error) {
		keys = append(keys, string(key))
		return true, nil
	}))
	require.Equal(t, []string{"p1", "p2"}, keys)
}

func TestState_Proof(t *testing.T) {
	db := newMemDB(t)
	s := NewView(db)
	for _, k := range []string{"a", "b", "c", "d"} {
		require.NoError(t, s.Set([]byte(k), []byte(k+"-value")))
	}
	commit(t, db, s, 1)

	path, value, root, err := Proof(db, []byte("c"))
	require.NoError(t, err)
	require.Equal(t, []byte("c-value"), value)
	ok, err := VerifyProof(root, []byte("c"), value, path)
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = VerifyProof(root, []byte("c"), []byte("other"), path)
	require.NoError(t, err)
	require.False(t, ok)

	// proof of absence
	path, value, root, err = Proof(db, []byte("x"))
	require.NoError(t, err)
	require.Nil(t, value)
	ok, err = VerifyProof(root, []byte("x"), nil, path)
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = VerifyProof(root, []byte("x"), []byte("x-value"), path)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestState_BoltBackend(t *testing.T) {
	db, err := boltdb.New(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	defer db.Close()

	s := NewView(db)
	require.NoError(t, s.Set([]byte("a"), []byte{1}))
	require.NoError(t, s.Set([]byte("b"), []byte{2}))
	root, err := s.CalculateRoot()
	require.NoError(t, err)
	commit(t, db, s, 1)

	committed, err := CalculateCommittedRoot(db)
	require.NoError(t, err)
	require.Equal(t, root, committed)

	s = NewView(db)
	require.NoError(t, s.Delete([]byte("a")))
	commit(t, db, s, 2)

	tx, err := db.StartTx()
	require.NoError(t, err)
	require.NoError(t, RevertDiff(tx, 2))
	require.NoError(t, tx.Commit())

	committed, err = CalculateCommittedRoot(db)
	require.NoError(t, err)
	require.Equal(t, root, committed)
}
