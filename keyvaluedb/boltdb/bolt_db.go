package boltdb

import (
	"errors"
	"fmt"
	"os"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/alphabill-org/blockengine/keyvaluedb"
	"github.com/alphabill-org/blockengine/types"
)

// all the namespaces of the chain (blocks, indexes, state, diffs) share one
// bucket, they are separated by the key prefix
const defaultBucket = "default"

var _ keyvaluedb.KeyValueDB = (*BoltDB)(nil)

type (
	EncodeFn func(v any) ([]byte, error)
	DecodeFn func(data []byte, v any) error

	BoltDB struct {
		db      *bolt.DB
		bucket  []byte
		encoder EncodeFn
		decoder DecodeFn
	}

	options struct {
		timeout  time.Duration
		readOnly bool
	}

	Option func(*options)
)

// WithTimeout sets how long to wait for the file lock held by another process.
func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		o.timeout = d
	}
}

/*
WithReadOnly opens existing database with shared lock, any number of
processes may open the same file read-only. Writes and transactions fail.
*/
func WithReadOnly() Option {
	return func(o *options) {
		o.readOnly = true
	}
}

// New opens (creates when it doesn't exist and not read-only) the Bolt DB file.
func New(dbFile string, opts ...Option) (*BoltDB, error) {
	o := &options{timeout: 3 * time.Second}
	for _, opt := range opts {
		opt(o)
	}
	if o.readOnly {
		// bolt would create the file
		if _, err := os.Stat(dbFile); err != nil {
			return nil, fmt.Errorf("opening bolt db %q: %w", dbFile, err)
		}
	}
	db, err := bolt.Open(dbFile, 0600, &bolt.Options{Timeout: o.timeout, ReadOnly: o.readOnly})
	if err != nil {
		return nil, fmt.Errorf("opening bolt db %q: %w", dbFile, err)
	}
	s := &BoltDB{
		db:      db,
		bucket:  []byte(defaultBucket),
		encoder: types.Cbor.Marshal,
		decoder: types.Cbor.Unmarshal,
	}
	if o.readOnly {
		err = s.checkBucket()
	} else {
		err = s.createBuckets()
	}
	if err != nil {
		return nil, errors.Join(err, db.Close())
	}
	return s, nil
}

func (db *BoltDB) Path() string {
	return db.db.Path()
}

func (db *BoltDB) checkBucket() error {
	return db.db.View(func(tx *bolt.Tx) error {
		if tx.Bucket(db.bucket) == nil {
			return fmt.Errorf("bucket %q not found in %s", db.bucket, db.db.Path())
		}
		return nil
	})
}

func (db *BoltDB) createBuckets() error {
	return db.db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(db.bucket)
		return err
	})
}

func (db *BoltDB) Read(key []byte, v any) (found bool, err error) {
	if err := keyvaluedb.CheckKeyAndValue(key, v); err != nil {
		return false, err
	}
	err = db.db.View(func(tx *bolt.Tx) error {
		found, err = readValue(tx.Bucket(db.bucket), key, db.decoder, v)
		return err
	})
	return found, err
}

func (db *BoltDB) Write(key []byte, v any) error {
	if err := keyvaluedb.CheckKeyAndValue(key, v); err != nil {
		return err
	}
	data, err := db.encoder(v)
	if err != nil {
		return fmt.Errorf("encoding value: %w", err)
	}
	return db.update(func(b *bolt.Bucket) error { return b.Put(key, data) })
}

func (db *BoltDB) Delete(key []byte) error {
	if err := keyvaluedb.CheckKey(key); err != nil {
		return err
	}
	return db.update(func(b *bolt.Bucket) error { return b.Delete(key) })
}

func (db *BoltDB) update(f func(b *bolt.Bucket) error) error {
	if err := db.db.Update(func(tx *bolt.Tx) error { return f(tx.Bucket(db.bucket)) }); err != nil {
		return fmt.Errorf("bolt db update: %w", err)
	}
	return nil
}

func (db *BoltDB) First() keyvaluedb.Iterator {
	return db.newCursor((*bolt.Cursor).First)
}

func (db *BoltDB) Last() keyvaluedb.Iterator {
	return db.newCursor((*bolt.Cursor).Last)
}

func (db *BoltDB) Find(key []byte) keyvaluedb.Iterator {
	return db.newCursor(func(c *bolt.Cursor) ([]byte, []byte) { return c.Seek(key) })
}

// StartTx starts read-write transaction, it blocks while another one is in progress.
func (db *BoltDB) StartTx() (keyvaluedb.DBTransaction, error) {
	tx, err := db.db.Begin(true)
	if err != nil {
		return nil, fmt.Errorf("starting bolt tx: %w", err)
	}
	return &boltTx{tx: tx, bucket: tx.Bucket(db.bucket), encode: db.encoder, decode: db.decoder}, nil
}

func (db *BoltDB) Close() error {
	if db.db == nil {
		return nil
	}
	return db.db.Close()
}
