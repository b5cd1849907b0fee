package storage

import (
	"bytes"

	werrors "github.com/wavs-network/operator/internal/errors"
	"go.etcd.io/bbolt"
)

// ComponentKV scopes the component_kv bucket to one (namespace, bucketID)
// pair, namespace being the owning service id so two services can't collide
// on the same bucket name.
type ComponentKV struct {
	store     *Store
	namespace string
	bucketID  string
}

// KVFor returns a ComponentKV scoped to a namespace and bucket id. The
// Engine passes the invocation's service id and workflow id.
func (s *Store) KVFor(namespace, bucketID string) *ComponentKV {
	return &ComponentKV{store: s, namespace: namespace, bucketID: bucketID}
}

func (kv *ComponentKV) Get(key string) ([]byte, bool, error) {
	var out []byte
	err := kv.store.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(bucketComponentKV).Get(componentKVKey(kv.namespace, kv.bucketID, key))
		if v == nil {
			return nil
		}
		out = append([]byte(nil), v...)
		return nil
	})
	if err != nil {
		return nil, false, werrors.Wrap(werrors.KindStorage, "component kv get", err)
	}
	return out, out != nil, nil
}

func (kv *ComponentKV) Set(key string, value []byte) error {
	err := kv.store.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketComponentKV).Put(componentKVKey(kv.namespace, kv.bucketID, key), value)
	})
	if err != nil {
		return werrors.Wrap(werrors.KindStorage, "component kv set", err)
	}
	return nil
}

func (kv *ComponentKV) Delete(key string) error {
	err := kv.store.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketComponentKV).Delete(componentKVKey(kv.namespace, kv.bucketID, key))
	})
	if err != nil {
		return werrors.Wrap(werrors.KindStorage, "component kv delete", err)
	}
	return nil
}

// CompareAndSwap sets key to newValue only if its current value equals
// oldValue (a nil oldValue means "key must not currently exist"). swapped is
// false, with no error, when the current value didn't match. The whole
// check-then-set happens inside a single bbolt write transaction, so two
// components racing on the same key never both observe a match.
func (kv *ComponentKV) CompareAndSwap(key string, oldValue, newValue []byte) (swapped bool, err error) {
	dbErr := kv.store.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketComponentKV)
		k := componentKVKey(kv.namespace, kv.bucketID, key)
		current := b.Get(k)
		if !bytes.Equal(current, oldValue) {
			swapped = false
			return nil
		}
		if newValue == nil {
			swapped = true
			return b.Delete(k)
		}
		swapped = true
		return b.Put(k, newValue)
	})
	if dbErr != nil {
		return false, werrors.Wrap(werrors.KindStorage, "component kv compare-and-swap", dbErr)
	}
	return swapped, nil
}
