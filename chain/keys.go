package chain

import (
	"github.com/alphabill-org/blockengine/util"
)

// key prefixes of the chain data, state package uses 's' and 'd'
const (
	prefixBlock   = 'b'
	prefixBlockID = 'i'
	prefixTemp    = 't'
	prefixEvents  = 'e'
	prefixPointer = 'p'
)

var (
	tipKey       = []byte{prefixPointer, 't', 'i', 'p'}
	finalizedKey = []byte{prefixPointer, 'f', 'i', 'n'}
)

func blockKey(height uint64) []byte {
	return util.ConcatBytes([]byte{prefixBlock}, util.Uint64ToBytes(height))
}

func blockIDKey(id []byte) []byte {
	return util.ConcatBytes([]byte{prefixBlockID}, id)
}

func tempKey(height uint64) []byte {
	return util.ConcatBytes([]byte{prefixTemp}, util.Uint64ToBytes(height))
}

func eventsKey(height uint64) []byte {
	return util.ConcatBytes([]byte{prefixEvents}, util.Uint64ToBytes(height))
}
