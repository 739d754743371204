package memorydb

import (
	"errors"

	"github.com/alphabill-org/blockengine/keyvaluedb"
)

var errTxClosed = errors.New("memdb tx closed")

/*
Tx buffers the changes and applies them to the database on Commit. Reads see
the pending changes on top of the current content of the database.
*/
type Tx struct {
	mem *MemoryDB
	// pending changes, nil value marks deleted key
	changes map[string][]byte
	closed  bool
}

func newTx(m *MemoryDB) *Tx {
	return &Tx{mem: m, changes: make(map[string][]byte)}
}

func (t *Tx) Read(key []byte, v any) (bool, error) {
	if err := keyvaluedb.CheckKeyAndValue(key, v); err != nil {
		return false, err
	}
	t.mem.lock.RLock()
	defer t.mem.lock.RUnlock()
	if t.closed {
		return false, errTxClosed
	}
	data, ok := t.changes[string(key)]
	if !ok {
		data, ok = t.mem.db[string(key)]
	}
	if !ok || data == nil {
		return false, nil
	}
	return true, t.mem.decoder(data, v)
}

func (t *Tx) Write(key []byte, value any) error {
	if err := keyvaluedb.CheckKeyAndValue(key, value); err != nil {
		return err
	}
	b, err := t.mem.encoder(value)
	if err != nil {
		return err
	}
	t.mem.lock.Lock()
	defer t.mem.lock.Unlock()
	if t.closed {
		return errTxClosed
	}
	if t.mem.writeErr != nil {
		return t.mem.writeErr
	}
	t.changes[string(key)] = b
	return nil
}

func (t *Tx) Delete(key []byte) error {
	if err := keyvaluedb.CheckKey(key); err != nil {
		return err
	}
	t.mem.lock.Lock()
	defer t.mem.lock.Unlock()
	if t.closed {
		return errTxClosed
	}
	t.changes[string(key)] = nil
	return nil
}

func (t *Tx) Rollback() error {
	t.mem.lock.Lock()
	defer t.mem.lock.Unlock()
	t.closed = true
	t.changes = nil
	return nil
}

func (t *Tx) Commit() error {
	t.mem.lock.Lock()
	defer t.mem.lock.Unlock()
	if t.closed {
		return errTxClosed
	}
	for k, v := range t.changes {
		if v == nil {
			delete(t.mem.db, k)
		} else {
			t.mem.db[k] = v
		}
	}
	t.closed = true
	t.changes = nil
	return nil
}
