package memorydb

import (
	"maps"
	"sync"

	"github.com/alphabill-org/blockengine/keyvaluedb"
	"github.com/alphabill-org/blockengine/types"
)

var _ keyvaluedb.KeyValueDB = (*MemoryDB)(nil)

type (
	EncodeFn func(v any) ([]byte, error)
	DecodeFn func(data []byte, v any) error

	MemoryDB struct {
		db       map[string][]byte
		encoder  EncodeFn
		decoder  DecodeFn
		writeErr error
		lock     sync.RWMutex
	}
)

// New creates a new key value db which keeps the data in a map, meant for tests
// and tooling which doesn't need persistence.
func New() (*MemoryDB, error) {
	return &MemoryDB{
		db:      make(map[string][]byte),
		encoder: types.Cbor.Marshal,
		decoder: types.Cbor.Unmarshal,
	}, nil
}

// Empty returns true if no values are stored in db
func (db *MemoryDB) Empty() bool {
	db.lock.RLock()
	defer db.lock.RUnlock()
	return len(db.db) == 0
}

// Read retrieves the given key if it's present in the key-value store.
func (db *MemoryDB) Read(key []byte, value any) (bool, error) {
	db.lock.RLock()
	defer db.lock.RUnlock()

	if err := keyvaluedb.CheckKeyAndValue(key, value); err != nil {
		return false, err
	}
	if data, ok := db.db[string(key)]; ok {
		return true, db.decoder(data, value)
	}
	return false, nil
}

// Write inserts the given value into the key-value store.
func (db *MemoryDB) Write(key []byte, value any) error {
	db.lock.Lock()
	defer db.lock.Unlock()
	if err := keyvaluedb.CheckKeyAndValue(key, value); err != nil {
		return err
	}
	b, err := db.encoder(value)
	if err != nil {
		return err
	}
	if db.writeErr != nil {
		return db.writeErr
	}
	db.db[string(key)] = b
	return nil
}

// Delete removes the key from the key-value store.
func (db *MemoryDB) Delete(key []byte) error {
	db.lock.Lock()
	defer db.lock.Unlock()
	if err := keyvaluedb.CheckKey(key); err != nil {
		return err
	}
	delete(db.db, string(key))
	return nil
}

// First returns forward iterator to the first element in DB
func (db *MemoryDB) First() keyvaluedb.Iterator {
	db.lock.RLock()
	defer db.lock.RUnlock()
	return newSnapshot(db.db, db.decoder).moveTo(0)
}

// Last returns iterator positioned to the last element in DB
func (db *MemoryDB) Last() keyvaluedb.Iterator {
	db.lock.RLock()
	defer db.lock.RUnlock()
	return newSnapshot(db.db, db.decoder).moveTo(len(db.db) - 1)
}

// Find returns the closest binary search match
func (db *MemoryDB) Find(key []byte) keyvaluedb.Iterator {
	db.lock.RLock()
	defer db.lock.RUnlock()
	return newSnapshot(db.db, db.decoder).seek(key)
}

func (db *MemoryDB) StartTx() (keyvaluedb.DBTransaction, error) {
	return newTx(db), nil
}

/*
MockWriteError makes all following writes (both direct and transactional)
fail with given error, nil restores normal behavior. Used to simulate storage
failures in tests.
*/
func (db *MemoryDB) MockWriteError(err error) {
	db.lock.Lock()
	defer db.lock.Unlock()
	db.writeErr = err
}

// Dump returns copy of the raw (encoded) content of the database.
func (db *MemoryDB) Dump() map[string][]byte {
	db.lock.RLock()
	defer db.lock.RUnlock()
	return maps.Clone(db.db)
}
