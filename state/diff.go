package state

import (
	"bytes"
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/alphabill-org/blockengine/keyvaluedb"
)

type (
	// Diff describes how to undo the state changes of one block.
	Diff struct {
		_       struct{} `cbor:",toarray"`
		Created [][]byte
		Updated []*KeyValue
		Deleted []*KeyValue
	}

	KeyValue struct {
		_     struct{} `cbor:",toarray"`
		Key   []byte
		Value []byte
	}
)

/*
Commit writes pending changes of the view into the database transaction and
stores the undo diff of the changes under the height. Entries are written
in ascending key order. The view can't be used after successful commit.

Nothing is persisted unless the caller commits the database transaction.
*/
func (s *State) Commit(tx keyvaluedb.DBTransaction, height uint64) (*Diff, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.released {
		return nil, ErrStateViewReleased
	}
	if len(s.savepoints) != 1 {
		return nil, ErrOpenSavepoints
	}

	ws := s.savepoints[0]
	diff := &Diff{}
	for _, k := range slices.Sorted(maps.Keys(ws)) {
		key := []byte(k)
		prev, found, err := readCommitted(tx, key)
		if err != nil {
			return nil, err
		}
		value := ws[k]
		switch {
		case value == nil && !found:
			continue
		case value == nil:
			diff.Deleted = append(diff.Deleted, &KeyValue{Key: key, Value: prev})
			if err := tx.Delete(dbKey(key)); err != nil {
				return nil, fmt.Errorf("deleting state entry %X: %w", key, err)
			}
			continue
		case !found:
			diff.Created = append(diff.Created, key)
		case bytes.Equal(prev, value):
			continue
		default:
			diff.Updated = append(diff.Updated, &KeyValue{Key: key, Value: prev})
		}
		if err := tx.Write(dbKey(key), value); err != nil {
			return nil, fmt.Errorf("writing state entry %X: %w", key, err)
		}
	}
	if err := tx.Write(diffKey(height), diff); err != nil {
		return nil, fmt.Errorf("writing state diff of height %d: %w", height, err)
	}
	s.savepoints = nil
	s.released = true
	return diff, nil
}

/*
RevertDiff undoes the state changes stored for the height and removes the
diff. Must be called for the last committed height only.
*/
func RevertDiff(tx keyvaluedb.DBTransaction, height uint64) error {
	diff := &Diff{}
	found, err := tx.Read(diffKey(height), diff)
	if err != nil {
		return fmt.Errorf("reading state diff of height %d: %w", height, err)
	}
	if !found {
		return fmt.Errorf("height %d: %w", height, ErrDiffNotFound)
	}
	var errs []error
	for _, key := range diff.Created {
		errs = append(errs, tx.Delete(dbKey(key)))
	}
	for _, kv := range diff.Updated {
		errs = append(errs, tx.Write(dbKey(kv.Key), nonNil(kv.Value)))
	}
	for _, kv := range diff.Deleted {
		errs = append(errs, tx.Write(dbKey(kv.Key), nonNil(kv.Value)))
	}
	errs = append(errs, tx.Delete(diffKey(height)))
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("reverting state diff of height %d: %w", height, err)
	}
	return nil
}

// DeleteDiff removes the undo diff of the height, after that the height can't be reverted.
func DeleteDiff(tx keyvaluedb.DBTransaction, height uint64) error {
	return tx.Delete(diffKey(height))
}

func nonNil(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	return b
}
