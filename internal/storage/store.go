// Package storage implements the content-addressable WASM blob store and the
// embedded key/value database (services, quorum_queues, component_kv) as a
// single bbolt file with one bucket per table, following cuemby-warren's use
// of go.etcd.io/bbolt for its Raft log store.
package storage

import (
	"fmt"

	werrors "github.com/wavs-network/operator/internal/errors"
	"go.etcd.io/bbolt"
)

var (
	bucketBlobs        = []byte("blobs")
	bucketServices     = []byte("services")
	bucketQuorumQueues = []byte("quorum_queues")
	bucketComponentKV  = []byte("component_kv")
)

// Store is the embedded bbolt-backed storage engine.
type Store struct {
	db *bbolt.DB
}

// Open opens (creating if necessary) the bbolt file at path and ensures all
// tables/buckets exist.
func Open(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, werrors.Wrap(werrors.KindStorage, "open bbolt store", err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		for _, b := range [][]byte{bucketBlobs, bucketServices, bucketQuorumQueues, bucketComponentKV} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, werrors.Wrap(werrors.KindStorage, "initialize buckets", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// componentKVKey builds the "{namespace}/{bucket_id}/{key}" key the Engine's
// KV capability uses.
func componentKVKey(namespace, bucketID, key string) []byte {
	return []byte(fmt.Sprintf("%s/%s/%s", namespace, bucketID, key))
}
