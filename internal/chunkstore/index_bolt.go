package chunkstore

import (
	"encoding/binary"
	"path/filepath"
	"time"

	"github.com/boltdb/bolt"
)

var bucketChunkIndex = []byte("chunk_index")

// Index is a Bolt-backed existence cache in front of Store, so a hash
// lookup during upload dedup doesn't need a filesystem stat on every call.
// It never holds chunk content, only hash -> last-seen timestamp.
type Index struct {
	db *bolt.DB
}

// OpenIndex opens (creating if necessary) the Bolt index database at path.
func OpenIndex(path string) (*Index, error) {
	db, err := bolt.Open(filepath.Clean(path), 0o600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, e := tx.CreateBucketIfNotExists(bucketChunkIndex)
		return e
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Index{db: db}, nil
}

// Close closes the underlying database.
func (idx *Index) Close() error { return idx.db.Close() }

// Has reports whether hash is recorded as present.
func (idx *Index) Has(hash string) bool {
	var ok bool
	_ = idx.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketChunkIndex)
		if b == nil {
			return nil
		}
		ok = b.Get([]byte(hash)) != nil
		return nil
	})
	return ok
}

// Record marks hash as present, stamped with the current time for GC.
func (idx *Index) Record(hash string) error {
	return idx.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketChunkIndex)
		if b == nil {
			return bolt.ErrBucketNotFound
		}
		buf := make([]byte, 8)
		binary.BigEndian.PutUint64(buf, uint64(time.Now().Unix()))
		return b.Put([]byte(hash), buf)
	})
}

// Forget removes hash from the index, used when its backing blob is GC'd.
func (idx *Index) Forget(hash string) error {
	return idx.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketChunkIndex)
		if b == nil {
			return bolt.ErrBucketNotFound
		}
		return b.Delete([]byte(hash))
	})
}

// StaleSince returns hashes last recorded before cutoff, for reconciliation
// against referenced-chunk counts in the metadata store before a GC sweep.
func (idx *Index) StaleSince(cutoff time.Time) ([]string, error) {
	var stale []string
	cutoffUnix := uint64(cutoff.Unix())
	err := idx.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketChunkIndex)
		if b == nil {
			return nil
		}
		c := b.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			if len(v) >= 8 && binary.BigEndian.Uint64(v) < cutoffUnix {
				stale = append(stale, string(k))
			}
		}
		return nil
	})
	return stale, err
}
