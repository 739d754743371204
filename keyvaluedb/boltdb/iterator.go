package boltdb

import (
	"errors"

	bolt "go.etcd.io/bbolt"
)

/*
cursor keeps a read-only bolt transaction open until it is closed. Writes in
the same goroutine would deadlock while a cursor is open.
*/
type cursor struct {
	tx     *bolt.Tx
	c      *bolt.Cursor
	key    []byte
	value  []byte
	decode DecodeFn
	err    error
}

// newCursor starts a read transaction and positions the cursor with "move".
func (db *BoltDB) newCursor(move func(c *bolt.Cursor) (key, value []byte)) *cursor {
	tx, err := db.db.Begin(false)
	if err != nil {
		return &cursor{err: err}
	}
	it := &cursor{tx: tx, c: tx.Bucket(db.bucket).Cursor(), decode: db.decoder}
	it.key, it.value = move(it.c)
	return it
}

func (it *cursor) Valid() bool { return it.key != nil }

func (it *cursor) Next() {
	if it.Valid() {
		it.key, it.value = it.c.Next()
	}
}

func (it *cursor) Prev() {
	if it.Valid() {
		it.key, it.value = it.c.Prev()
	}
}

func (it *cursor) Key() []byte { return it.key }

func (it *cursor) Value(v any) error {
	switch {
	case it.err != nil:
		return it.err
	case !it.Valid():
		return errors.New("iterator is not valid")
	}
	return it.decode(it.value, v)
}

// Close returns the error of starting the read transaction, if any.
func (it *cursor) Close() error {
	it.key, it.value, it.c = nil, nil, nil
	if it.tx == nil {
		err := it.err
		it.err = nil
		return err
	}
	tx := it.tx
	it.tx = nil
	return tx.Rollback()
}
