/*
Package mt implements the canonical Merkle tree used for the transaction and
assets roots of a block. The leaves are split so that the left subtree is
always the largest power of two smaller than the number of leaves.
*/
package mt

import (
	"errors"
	"fmt"

	"github.com/alphabill-org/blockengine/crypto"
)

var ErrIndexOutOfBounds = errors.New("merkle tree leaf index out of bounds")

// PathItem is a sibling hash on the path from a leaf to the root.
type PathItem struct {
	_    struct{} `cbor:",toarray"`
	Hash []byte   `json:"hash"`
	// Left is true when the path node is the left child of its parent.
	Left bool `json:"left"`
}

// Root returns the root of the tree over the leaf hashes, nil when there are no leaves.
func Root(leaves [][]byte) []byte {
	if len(leaves) == 0 {
		return nil
	}
	return root(leaves)
}

func root(leaves [][]byte) []byte {
	if len(leaves) == 1 {
		return leaves[0]
	}
	n := hibit(len(leaves) - 1)
	return crypto.Hash(root(leaves[:n]), root(leaves[n:]))
}

// Path returns the sibling hashes of the leaf idx ordered from the leaf up to the root.
func Path(leaves [][]byte, idx int) ([]*PathItem, error) {
	if idx < 0 || idx >= len(leaves) {
		return nil, fmt.Errorf("%w: %d, tree has %d leaves", ErrIndexOutOfBounds, idx, len(leaves))
	}
	var path []*PathItem
	for len(leaves) > 1 {
		n := hibit(len(leaves) - 1)
		if idx < n {
			path = append(path, &PathItem{Hash: root(leaves[n:]), Left: true})
			leaves = leaves[:n]
		} else {
			path = append(path, &PathItem{Hash: root(leaves[:n]), Left: false})
			leaves = leaves[n:]
			idx -= n
		}
	}
	// collected from the root down
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path, nil
}

// RootFromPath returns the root calculated from the leaf hash and its path.
func RootFromPath(leaf []byte, path []*PathItem) []byte {
	h := leaf
	for _, item := range path {
		if item.Left {
			h = crypto.Hash(h, item.Hash)
		} else {
			h = crypto.Hash(item.Hash, h)
		}
	}
	return h
}

// hibit returns the largest power of two not greater than n, 0 for 0.
func hibit(n int) int {
	if n < 0 {
		panic("hibit function input cannot be negative (merkle tree input data length cannot be zero)")
	}
	n |= n >> 1
	n |= n >> 2
	n |= n >> 4
	n |= n >> 8
	n |= n >> 16
	n |= n >> 32
	return n - (n >> 1)
}
