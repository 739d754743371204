/*
Package smt implements the sparse Merkle tree of the state root. Every leaf
sits at the depth of 256 bits, its position is given by a 32 byte path (the
hash of the state key). Empty subtrees hash to 32 zero bytes on every level.
*/
package smt

import (
	"bytes"
	"errors"
	"fmt"
	"slices"
	"sort"

	"github.com/alphabill-org/blockengine/crypto"
)

const (
	PathSize = crypto.HashSize
	depth    = PathSize * 8
)

var (
	ErrInvalidPathLength = errors.New("invalid path length")

	zeroHash = make([]byte, crypto.HashSize)
)

type (
	Leaf struct {
		Path []byte
		Hash []byte
	}

	// Tree is immutable, leaves are kept sorted by path.
	Tree struct {
		leaves []Leaf
		root   []byte
	}
)

// New builds the tree, the paths of the leaves must be unique.
func New(leaves []Leaf) (*Tree, error) {
	sorted := slices.Clone(leaves)
	slices.SortFunc(sorted, func(a, b Leaf) int { return bytes.Compare(a.Path, b.Path) })
	for i, l := range sorted {
		if len(l.Path) != PathSize {
			return nil, fmt.Errorf("%w: %d", ErrInvalidPathLength, len(l.Path))
		}
		if i > 0 && bytes.Equal(sorted[i-1].Path, l.Path) {
			return nil, fmt.Errorf("duplicate path %X", l.Path)
		}
	}
	return &Tree{leaves: sorted, root: subtreeHash(sorted, 0)}, nil
}

// Root returns the root hash, 32 zero bytes for the empty tree.
func (t *Tree) Root() []byte {
	return t.root
}

/*
AuthPath returns the sibling hashes on the way from the leaf position of the
path up to the root. The path doesn't need to be present in the tree, the
proof of absence is the same path evaluated with the zero hash as leaf.
*/
func (t *Tree) AuthPath(path []byte) ([][]byte, error) {
	if len(path) != PathSize {
		return nil, fmt.Errorf("%w: %d", ErrInvalidPathLength, len(path))
	}
	result := make([][]byte, depth)
	leaves := t.leaves
	for level := 0; level < depth; level++ {
		split := splitIndex(leaves, level)
		if IsBitSet(path, level) {
			result[depth-level-1] = subtreeHash(leaves[:split], level+1)
			leaves = leaves[split:]
		} else {
			result[depth-level-1] = subtreeHash(leaves[split:], level+1)
			leaves = leaves[:split]
		}
	}
	return result, nil
}

// RootFromAuthPath evaluates the path returned by AuthPath for the leaf hash.
func RootFromAuthPath(authPath [][]byte, leafHash, path []byte) ([]byte, error) {
	if len(path) != PathSize {
		return nil, fmt.Errorf("%w: %d", ErrInvalidPathLength, len(path))
	}
	if len(authPath) != depth {
		return nil, fmt.Errorf("invalid authentication path length %d, expected %d", len(authPath), depth)
	}
	if len(leafHash) != crypto.HashSize {
		return nil, fmt.Errorf("invalid leaf hash length %d", len(leafHash))
	}
	h := leafHash
	for i, sibling := range authPath {
		// empty subtree, see subtreeHash
		if bytes.Equal(h, zeroHash) && bytes.Equal(sibling, zeroHash) {
			continue
		}
		if IsBitSet(path, depth-1-i) {
			h = crypto.Hash(sibling, h)
		} else {
			h = crypto.Hash(h, sibling)
		}
	}
	return h, nil
}

// IsBitSet returns true when the bit at given position (counting from the most significant bit of the first byte) is 1.
func IsBitSet(b []byte, bitPosition int) bool {
	return b[bitPosition/8]&byte(1<<(7-bitPosition%8)) != 0
}

// splitIndex returns the index of the first leaf going right at the level.
func splitIndex(leaves []Leaf, level int) int {
	return sort.Search(len(leaves), func(i int) bool { return IsBitSet(leaves[i].Path, level) })
}

func subtreeHash(leaves []Leaf, level int) []byte {
	switch {
	case len(leaves) == 0:
		return zeroHash
	case level == depth:
		return leaves[0].Hash
	}
	split := splitIndex(leaves, level)
	return crypto.Hash(subtreeHash(leaves[:split], level+1), subtreeHash(leaves[split:], level+1))
}
