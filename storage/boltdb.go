package storage

import (
	"bytes"
	"time"

	bolt "go.etcd.io/bbolt"
)

var boltBucketRecords = []byte("records")

// BoltDB is a persistent key-value store backed by a single bbolt file. All
// records live in one bucket; bbolt's B+tree cursors provide the ordered
// iteration the escrow indices rely on, and every batch commits inside one
// bbolt transaction.
type BoltDB struct {
	db *bolt.DB
}

// NewBoltDB opens (and initialises) the bbolt database at the given path.
func NewBoltDB(path string) (*BoltDB, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, err
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(boltBucketRecords)
		return err
	}); err != nil {
		db.Close()
		return nil, err
	}
	return &BoltDB{db: db}, nil
}

func (bdb *BoltDB) Put(key []byte, value []byte) error {
	return bdb.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(boltBucketRecords).Put(key, value)
	})
}

func (bdb *BoltDB) Get(key []byte) ([]byte, error) {
	var value []byte
	err := bdb.db.View(func(tx *bolt.Tx) error {
		stored := tx.Bucket(boltBucketRecords).Get(key)
		if stored == nil {
			return ErrKeyNotFound
		}
		value = append([]byte(nil), stored...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return value, nil
}

func (bdb *BoltDB) Has(key []byte) (bool, error) {
	var found bool
	err := bdb.db.View(func(tx *bolt.Tx) error {
		found = tx.Bucket(boltBucketRecords).Get(key) != nil
		return nil
	})
	return found, err
}

func (bdb *BoltDB) Delete(key []byte) error {
	return bdb.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(boltBucketRecords).Delete(key)
	})
}

// NewBatch returns a batch whose Write applies every mutation in a single
// bbolt transaction.
func (bdb *BoltDB) NewBatch() Batch {
	return &boltBatch{db: bdb.db}
}

// NewIterator snapshots the matching range inside a read transaction. The
// scans issued by the escrow store are bounded, so materialising the range up
// front keeps iterator lifetime decoupled from bbolt transactions.
func (bdb *BoltDB) NewIterator(start, limit []byte, reverse bool) Iterator {
	it := &memIterator{pos: -1}
	err := bdb.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(boltBucketRecords).Cursor()
		var k, v []byte
		if start != nil {
			k, v = c.Seek(start)
		} else {
			k, v = c.First()
		}
		for k != nil && (limit == nil || bytes.Compare(k, limit) < 0) {
			it.keys = append(it.keys, string(k))
			it.values = append(it.values, append([]byte(nil), v...))
			k, v = c.Next()
		}
		return nil
	})
	if err != nil {
		return &errIterator{err: err}
	}
	if reverse {
		for i, j := 0, len(it.keys)-1; i < j; i, j = i+1, j-1 {
			it.keys[i], it.keys[j] = it.keys[j], it.keys[i]
			it.values[i], it.values[j] = it.values[j], it.values[i]
		}
	}
	return it
}

func (bdb *BoltDB) Close() {
	bdb.db.Close()
}

type boltBatch struct {
	db  *bolt.DB
	ops []memBatchOp
}

func (b *boltBatch) Put(key, value []byte) {
	b.ops = append(b.ops, memBatchOp{
		key:   append([]byte(nil), key...),
		value: append([]byte(nil), value...),
	})
}

func (b *boltBatch) Delete(key []byte) {
	b.ops = append(b.ops, memBatchOp{key: append([]byte(nil), key...), delete: true})
}

func (b *boltBatch) Write() error {
	return b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(boltBucketRecords)
		for _, op := range b.ops {
			if op.delete {
				if err := bucket.Delete(op.key); err != nil {
					return err
				}
				continue
			}
			if err := bucket.Put(op.key, op.value); err != nil {
				return err
			}
		}
		return nil
	})
}

func (b *boltBatch) Reset() { b.ops = nil }

type errIterator struct {
	err error
}

func (it *errIterator) Next() bool    { return false }
func (it *errIterator) Key() []byte   { return nil }
func (it *errIterator) Value() []byte { return nil }
func (it *errIterator) Error() error  { return it.err }
func (it *errIterator) Release()      {}
