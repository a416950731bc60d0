package eventqueue

import (
	"encoding/json"
	"time"

	"github.com/boltdb/bolt"
)

var bucketEventQueue = []byte("event_queue")

// BoltDurable mirrors pending events into a Bolt bucket keyed by path, so
// they survive a client restart. Unlike the teacher's dtn_queue.go (which
// hand-packs a composite session:chunk-index key and a single priority
// byte), this stores the whole Event as JSON since events here carry
// variable metadata, not a fixed chunk-index/priority pair.
type BoltDurable struct {
	db *bolt.DB
}

func OpenBoltDurable(path string) (*BoltDurable, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, e := tx.CreateBucketIfNotExists(bucketEventQueue)
		return e
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &BoltDurable{db: db}, nil
}

func (d *BoltDurable) Put(path string, e Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return d.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketEventQueue).Put([]byte(path), data)
	})
}

func (d *BoltDurable) Delete(path string) error {
	return d.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketEventQueue).Delete([]byte(path))
	})
}

func (d *BoltDurable) LoadAll() ([]Event, error) {
	var out []Event
	err := d.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketEventQueue).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var e Event
			if err := json.Unmarshal(v, &e); err != nil {
				return err
			}
			out = append(out, e)
		}
		return nil
	})
	return out, err
}

func (d *BoltDurable) Close() error {
	return d.db.Close()
}
