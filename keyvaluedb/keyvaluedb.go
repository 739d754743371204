/*
Package keyvaluedb defines the storage interface of the chain. Values are
encoded by the implementation, keys are ordered bytewise so that the height
prefixed keys of the blocks and the module prefixed keys of the state can be
scanned with an iterator.
*/
package keyvaluedb

import (
	"bytes"
	"errors"
	"fmt"
	"reflect"
)

var (
	ErrInvalidKey = errors.New("invalid key")
	ErrValueIsNil = errors.New("value is nil")
)

type (
	Reader interface {
		// Read decodes the value of the key into "value", false is returned when the key doesn't exist.
		Read(key []byte, value any) (bool, error)
	}

	Writer interface {
		Write(key []byte, value any) error
		Delete(key []byte) error
	}

	// Iterable creates iterators in bytewise key order. Iterator of an empty
	// database or without a match is not valid.
	//
	// NB! the iterator must be closed, DB operations may block until then.
	Iterable interface {
		First() Iterator
		Last() Iterator
		// Find positions the iterator to the first key greater than or equal to "key".
		Find(key []byte) Iterator
	}

	Iterator interface {
		Next()
		Prev()
		Valid() bool
		// Key returns nil when the iterator is not valid.
		Key() []byte
		// Value decodes the current value into "value".
		Value(value any) error
		// Close may be called multiple times.
		Close() error
	}

	// DBTransaction buffers the writes until Commit. Every transaction must end
	// with Commit or Rollback, there can be only one writable transaction at a
	// time.
	DBTransaction interface {
		Reader
		Writer
		Commit() error
		Rollback() error
	}

	KeyValueDB interface {
		Reader
		Writer
		Iterable
		StartTx() (DBTransaction, error)
	}
)

func CheckKey(key []byte) error {
	if len(key) == 0 {
		return ErrInvalidKey
	}
	return nil
}

// CheckKeyAndValue validates the arguments of Read and Write, the value must be a non-nil.
func CheckKeyAndValue(key []byte, value any) error {
	if err := CheckKey(key); err != nil {
		return err
	}
	if value == nil {
		return ErrValueIsNil
	}
	if v := reflect.ValueOf(value); v.Kind() == reflect.Pointer && v.IsNil() {
		return ErrValueIsNil
	}
	return nil
}

// IsEmpty returns true when there are no keys in the database.
func IsEmpty(db Iterable) (bool, error) {
	if db == nil {
		return true, errors.New("db is nil")
	}
	it := db.First()
	empty := !it.Valid()
	return empty, it.Close()
}

/*
IteratePrefix calls f for the keys with the prefix in ascending order, the
iteration stops when f returns false or an error.
*/
func IteratePrefix(db Iterable, prefix []byte, f func(key []byte, it Iterator) (bool, error)) (err error) {
	it := db.Find(prefix)
	defer func() {
		if cerr := it.Close(); cerr != nil {
			err = errors.Join(err, fmt.Errorf("closing iterator: %w", cerr))
		}
	}()
	for ; it.Valid() && bytes.HasPrefix(it.Key(), prefix); it.Next() {
		if next, err := f(it.Key(), it); err != nil || !next {
			return err
		}
	}
	return nil
}
