package state

import (
	"bytes"
	"fmt"

	"github.com/alphabill-org/blockengine/crypto"
	"github.com/alphabill-org/blockengine/tree/smt"
)

/*
CalculateRoot returns the root hash of the state as it would be after
committing the view: sparse merkle tree where the path of an entry is the hash
of its key and the leaf is the hash of key and value. Root of the empty state
is 32 zero bytes.
*/
func (s *State) CalculateRoot() ([]byte, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.released {
		return nil, ErrStateViewReleased
	}
	entries, err := s.mergedEntries(nil)
	if err != nil {
		return nil, fmt.Errorf("collecting state entries: %w", err)
	}
	return calculateRoot(entries)
}

// CalculateCommittedRoot returns the root hash of the committed state in db.
func CalculateCommittedRoot(db Committed) ([]byte, error) {
	return NewView(db).CalculateRoot()
}

// Proof returns the authentication path of the key in the committed state.
func Proof(db Committed, key []byte) (path [][]byte, value []byte, root []byte, err error) {
	entries, err := NewView(db).mergedEntries(nil)
	if err != nil {
		return nil, nil, nil, err
	}
	tree, err := newTree(entries)
	if err != nil {
		return nil, nil, nil, err
	}
	if path, err = tree.AuthPath(crypto.Hash(key)); err != nil {
		return nil, nil, nil, err
	}
	return path, entries[string(key)], tree.Root(), nil
}

// LeafHash returns the hash of the state tree leaf of the entry.
func LeafHash(key, value []byte) []byte {
	return crypto.Hash(key, value)
}

/*
VerifyProof checks that the key-value pair is part of the state with given
root. Nil value verifies that the key is absent.
*/
func VerifyProof(root, key, value []byte, path [][]byte) (bool, error) {
	leafHash := make([]byte, crypto.HashSize)
	if value != nil {
		leafHash = LeafHash(key, value)
	}
	h, err := smt.RootFromAuthPath(path, leafHash, crypto.Hash(key))
	if err != nil {
		return false, err
	}
	return bytes.Equal(h, root), nil
}

func calculateRoot(entries map[string][]byte) ([]byte, error) {
	tree, err := newTree(entries)
	if err != nil {
		return nil, err
	}
	return tree.Root(), nil
}

func newTree(entries map[string][]byte) (*smt.Tree, error) {
	leaves := make([]smt.Leaf, 0, len(entries))
	for k, v := range entries {
		key := []byte(k)
		leaves = append(leaves, smt.Leaf{Path: crypto.Hash(key), Hash: LeafHash(key, v)})
	}
	tree, err := smt.New(leaves)
	if err != nil {
		return nil, fmt.Errorf("building state tree: %w", err)
	}
	return tree, nil
}
