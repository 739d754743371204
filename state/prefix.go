package state

import (
	"math/bits"

	"github.com/alphabill-org/blockengine/crypto"
	"github.com/alphabill-org/blockengine/util"
)

const (
	ModulePrefixLength   = 4
	SubstorePrefixLength = 2
	// StorePrefixLength is the length of module prefix + substore prefix.
	StorePrefixLength = ModulePrefixLength + SubstorePrefixLength

	// prefix of the state entries in the backing database
	dbPrefixState = 's'
	// prefix of the undo diffs in the backing database
	dbPrefixDiff = 'd'
)

/*
ComputeSubstorePrefix returns 2 byte prefix of the substore with given index.
The prefix is the 16 bit reversal of the index in big endian order so that
consecutive indexes are spread over the key space: 0 -> 0x0000, 1 -> 0x8000,
2 -> 0x4000, 3 -> 0xC000 etc.
*/
func ComputeSubstorePrefix(index uint16) []byte {
	return util.Uint16ToBytes(bits.Reverse16(index))
}

// ModulePrefix returns the first 4 bytes of the hash of the module name.
func ModulePrefix(module string) []byte {
	return crypto.Hash([]byte(module))[:ModulePrefixLength]
}

// StorePrefix returns module prefix followed by substore prefix.
func StorePrefix(module string, index uint16) []byte {
	return util.ConcatBytes(ModulePrefix(module), ComputeSubstorePrefix(index))
}

func dbKey(key []byte) []byte {
	return util.ConcatBytes([]byte{dbPrefixState}, key)
}

func diffKey(height uint64) []byte {
	return util.ConcatBytes([]byte{dbPrefixDiff}, util.Uint64ToBytes(height))
}
