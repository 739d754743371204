package state

import (
	"errors"
	"fmt"

	"github.com/alphabill-org/blockengine/keyvaluedb"
	"github.com/alphabill-org/blockengine/types"
	"github.com/alphabill-org/blockengine/util"
)

/*
Store is a typed substore of a module: entries are addressed by
module prefix || substore prefix || key and values are CBOR encoded T.

Store doesn't hold any state itself, the state view (or committed reader)
is passed in to every call.
*/
type Store[T any] struct {
	module string
	index  uint16
	prefix []byte
}

func NewStore[T any](module string, index uint16) Store[T] {
	return Store[T]{module: module, index: index, prefix: StorePrefix(module, index)}
}

func (s Store[T]) Prefix() []byte {
	return s.prefix
}

// Key returns the full state key of the store key.
func (s Store[T]) Key(key []byte) []byte {
	return util.ConcatBytes(s.prefix, key)
}

// Get returns the value stored under key or ErrNotFound.
func (s Store[T]) Get(r ReadOnly, key []byte) (*T, error) {
	data, found, err := r.Get(s.Key(key))
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%s store %d key %X: %w", s.module, s.index, key, ErrNotFound)
	}
	v := new(T)
	if err := types.Cbor.Unmarshal(data, v); err != nil {
		return nil, fmt.Errorf("decoding %s store %d value %X: %w", s.module, s.index, key, err)
	}
	return v, nil
}

// GetOrDefault returns the stored value or def when the key is not in the store.
func (s Store[T]) GetOrDefault(r ReadOnly, key []byte, def *T) (*T, error) {
	v, err := s.Get(r, key)
	if errors.Is(err, ErrNotFound) {
		return def, nil
	}
	return v, err
}

func (s Store[T]) Has(r ReadOnly, key []byte) (bool, error) {
	_, found, err := r.Get(s.Key(key))
	return found, err
}

func (s Store[T]) Set(w ReadWrite, key []byte, value *T) error {
	data, err := types.Cbor.Marshal(value)
	if err != nil {
		return fmt.Errorf("encoding %s store %d value: %w", s.module, s.index, err)
	}
	return w.Set(s.Key(key), data)
}

func (s Store[T]) Delete(w ReadWrite, key []byte) error {
	return w.Delete(s.Key(key))
}

// Iterate calls f with store key (prefix removed) and decoded value for every entry in ascending key order.
func (s Store[T]) Iterate(r ReadOnly, f func(key []byte, value *T) (bool, error)) error {
	return r.Iterate(s.prefix, func(key, data []byte) (bool, error) {
		v := new(T)
		if err := types.Cbor.Unmarshal(data, v); err != nil {
			return false, fmt.Errorf("decoding %s store %d value %X: %w", s.module, s.index, key, err)
		}
		return f(key[len(s.prefix):], v)
	})
}

/*
CommittedReader gives read-only access to the committed state in database,
it never sees changes of a state view which hasn't been committed.
*/
type CommittedReader struct {
	db Committed
}

var _ ReadOnly = (*CommittedReader)(nil)

func NewCommittedReader(db Committed) *CommittedReader {
	return &CommittedReader{db: db}
}

func (r *CommittedReader) Get(key []byte) ([]byte, bool, error) {
	return readCommitted(r.db, key)
}

func (r *CommittedReader) Iterate(prefix []byte, f func(key, value []byte) (bool, error)) error {
	type kv struct{ key, value []byte }
	var entries []kv
	// collect first so that the iterator is released before calling f
	err := keyvaluedb.IteratePrefix(r.db, dbKey(prefix), func(key []byte, it keyvaluedb.Iterator) (bool, error) {
		var v []byte
		if err := it.Value(&v); err != nil {
			return false, fmt.Errorf("reading state entry %X: %w", key, err)
		}
		entries = append(entries, kv{key: []byte(string(key[1:])), value: v})
		return true, nil
	})
	if err != nil {
		return err
	}
	for _, e := range entries {
		cont, err := f(e.key, e.value)
		if err != nil || !cont {
			return err
		}
	}
	return nil
}
