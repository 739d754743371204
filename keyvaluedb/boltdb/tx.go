package boltdb

import (
	"errors"
	"fmt"

	bolt "go.etcd.io/bbolt"

	"github.com/alphabill-org/blockengine/keyvaluedb"
)

var errTxClosed = errors.New("tx closed")

// boltTx is a read-write bolt transaction, bolt allows one of them at a time.
type boltTx struct {
	tx     *bolt.Tx
	bucket *bolt.Bucket
	encode EncodeFn
	decode DecodeFn
}

func (t *boltTx) open(op string) error {
	if t.tx == nil {
		return fmt.Errorf("%s: %w", op, errTxClosed)
	}
	return nil
}

func (t *boltTx) Read(key []byte, v any) (bool, error) {
	if err := keyvaluedb.CheckKeyAndValue(key, v); err != nil {
		return false, err
	}
	if err := t.open("read"); err != nil {
		return false, err
	}
	return readValue(t.bucket, key, t.decode, v)
}

func (t *boltTx) Write(key []byte, v any) error {
	if err := keyvaluedb.CheckKeyAndValue(key, v); err != nil {
		return err
	}
	if err := t.open("write"); err != nil {
		return err
	}
	data, err := t.encode(v)
	if err != nil {
		return fmt.Errorf("encoding value: %w", err)
	}
	return t.bucket.Put(key, data)
}

func (t *boltTx) Delete(key []byte) error {
	if err := keyvaluedb.CheckKey(key); err != nil {
		return err
	}
	if err := t.open("delete"); err != nil {
		return err
	}
	return t.bucket.Delete(key)
}

func (t *boltTx) Commit() error {
	if err := t.open("commit"); err != nil {
		return err
	}
	return t.release().Commit()
}

// Rollback of the finished transaction is a no-op.
func (t *boltTx) Rollback() error {
	if t.tx == nil {
		return nil
	}
	return t.release().Rollback()
}

func (t *boltTx) release() *bolt.Tx {
	tx := t.tx
	t.tx, t.bucket = nil, nil
	return tx
}

func readValue(b *bolt.Bucket, key []byte, decode DecodeFn, v any) (bool, error) {
	data := b.Get(key)
	if data == nil {
		return false, nil
	}
	if err := decode(data, v); err != nil {
		return true, fmt.Errorf("decoding value of key %X: %w", key, err)
	}
	return true, nil
}
