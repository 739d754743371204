package state

import (
	"bytes"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/alphabill-org/blockengine/keyvaluedb"
)

type (
	// ReadOnly is the read access to the state, keys are full keys (store prefix included).
	ReadOnly interface {
		Get(key []byte) ([]byte, bool, error)
		// Iterate calls f for every entry with given key prefix in ascending key order until f returns false or error.
		Iterate(prefix []byte, f func(key, value []byte) (bool, error)) error
	}

	ReadWrite interface {
		ReadOnly
		Set(key, value []byte) error
		Delete(key []byte) error
	}

	// Committed is the subset of the database the state view needs.
	Committed interface {
		keyvaluedb.Reader
		keyvaluedb.Iterable
	}

	// State is a transactional view over the committed state. Changes are kept in
	// memory (write-set) until Commit. Savepoints allow to roll back part of the
	// changes, ie changes made by a failed command.
	//
	// State is not meant to be shared, one view is used for one block.
	State struct {
		db         Committed
		savepoints []writeSet
		readSet    map[string]struct{}
		released   bool
		mutex      sync.Mutex
	}

	// writeSet maps key to value, nil value marks deleted key.
	writeSet map[string][]byte
)

var _ ReadWrite = (*State)(nil)

// NewView opens new state view over committed data in db.
func NewView(db Committed) *State {
	return &State{
		db:         db,
		savepoints: []writeSet{make(writeSet)},
		readSet:    make(map[string]struct{}),
	}
}

func (s *State) Get(key []byte) ([]byte, bool, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.released {
		return nil, false, ErrStateViewReleased
	}
	s.readSet[string(key)] = struct{}{}
	for i := len(s.savepoints) - 1; i >= 0; i-- {
		if v, ok := s.savepoints[i][string(key)]; ok {
			if v == nil {
				return nil, false, nil
			}
			return bytes.Clone(v), true, nil
		}
	}
	return readCommitted(s.db, key)
}

func (s *State) Set(key, value []byte) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.released {
		return ErrStateViewReleased
	}
	if len(key) == 0 {
		return fmt.Errorf("state key is empty")
	}
	if value == nil {
		value = []byte{}
	}
	s.latestSavepoint()[string(key)] = bytes.Clone(value)
	return nil
}

func (s *State) Delete(key []byte) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.released {
		return ErrStateViewReleased
	}
	s.latestSavepoint()[string(key)] = nil
	return nil
}

func (s *State) Has(key []byte) (bool, error) {
	_, found, err := s.Get(key)
	return found, err
}

func (s *State) Iterate(prefix []byte, f func(key, value []byte) (bool, error)) error {
	s.mutex.Lock()
	if s.released {
		s.mutex.Unlock()
		return ErrStateViewReleased
	}
	entries, err := s.mergedEntries(prefix)
	s.mutex.Unlock()
	if err != nil {
		return err
	}
	keys := slices.Sorted(maps.Keys(entries))
	for _, k := range keys {
		cont, err := f([]byte(k), entries[k])
		if err != nil {
			return err
		}
		if !cont {
			return nil
		}
	}
	return nil
}

// mergedEntries returns committed entries with given prefix overlaid with the write-set.
func (s *State) mergedEntries(prefix []byte) (map[string][]byte, error) {
	entries := make(map[string][]byte)
	err := keyvaluedb.IteratePrefix(s.db, dbKey(prefix), func(key []byte, it keyvaluedb.Iterator) (bool, error) {
		var v []byte
		if err := it.Value(&v); err != nil {
			return false, fmt.Errorf("reading state entry %X: %w", key, err)
		}
		entries[string(key[1:])] = v
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	for k, v := range s.flatten() {
		if !bytes.HasPrefix([]byte(k), prefix) {
			continue
		}
		if v == nil {
			delete(entries, k)
		} else {
			entries[k] = v
		}
	}
	s.readSet[string(prefix)] = struct{}{}
	return entries, nil
}

// Savepoint creates a new savepoint and returns an id of the savepoint. Use RollbackToSavepoint to roll back all
// changes made after calling Savepoint method. Use ReleaseToSavepoint to keep the changes.
func (s *State) Savepoint() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.savepoints = append(s.savepoints, make(writeSet))
	return len(s.savepoints) - 1
}

// RollbackToSavepoint discards all changes made after the savepoint with given id was created.
func (s *State) RollbackToSavepoint(id int) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if id <= 0 || id >= len(s.savepoints) {
		return
	}
	s.savepoints = s.savepoints[:id]
}

// ReleaseToSavepoint destroys savepoints starting from id keeping all the changes made after it was created.
func (s *State) ReleaseToSavepoint(id int) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if id <= 0 || id >= len(s.savepoints) {
		return
	}
	target := s.savepoints[id-1]
	for _, ws := range s.savepoints[id:] {
		maps.Copy(target, ws)
	}
	s.savepoints = s.savepoints[:id]
}

// ReadSet returns keys (and iterated prefixes) read through the view, in ascending order.
func (s *State) ReadSet() [][]byte {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	keys := slices.Sorted(maps.Keys(s.readSet))
	res := make([][]byte, len(keys))
	for i, k := range keys {
		res[i] = []byte(k)
	}
	return res
}

// IsDirty returns true when the view has pending changes.
func (s *State) IsDirty() bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	for _, ws := range s.savepoints {
		if len(ws) > 0 {
			return true
		}
	}
	return false
}

/*
Discard drops all the pending changes, the view can't be used after that.
*/
func (s *State) Discard() {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.savepoints = nil
	s.released = true
}

func (s *State) latestSavepoint() writeSet {
	return s.savepoints[len(s.savepoints)-1]
}

func (s *State) flatten() writeSet {
	if len(s.savepoints) == 1 {
		return s.savepoints[0]
	}
	res := make(writeSet)
	for _, ws := range s.savepoints {
		maps.Copy(res, ws)
	}
	return res
}

func readCommitted(db keyvaluedb.Reader, key []byte) ([]byte, bool, error) {
	var v []byte
	found, err := db.Read(dbKey(key), &v)
	if err != nil {
		return nil, false, fmt.Errorf("reading state entry %X: %w", key, err)
	}
	if !found {
		return nil, false, nil
	}
	if v == nil {
		v = []byte{}
	}
	return v, true, nil
}
