package storage

import (
	"bytes"

	werrors "github.com/wavs-network/operator/internal/errors"
	"github.com/wavs-network/operator/internal/types"
	"go.etcd.io/bbolt"
)

// PutBlob stores raw WASM bytecode under its content digest, returning the
// digest. Writes are idempotent: storing the same bytes twice is a no-op.
func (s *Store) PutBlob(b []byte) (types.ComponentDigest, error) {
	digest := types.DigestOf(b)
	err := s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketBlobs)
		if existing := bucket.Get(digest[:]); existing != nil {
			return nil
		}
		return bucket.Put(digest[:], b)
	})
	if err != nil {
		return types.ComponentDigest{}, werrors.Wrap(werrors.KindStorage, "put blob", err)
	}
	return digest, nil
}

// GetBlob returns the WASM bytecode for digest, or KindUnknownDigest if
// absent.
func (s *Store) GetBlob(digest types.ComponentDigest) ([]byte, error) {
	var out []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(bucketBlobs).Get(digest[:])
		if v == nil {
			return werrors.New(werrors.KindUnknownDigest, "digest "+digest.String()+" not found")
		}
		out = bytes.Clone(v)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// HasBlob reports whether digest is present without copying its bytes.
func (s *Store) HasBlob(digest types.ComponentDigest) bool {
	found := false
	_ = s.db.View(func(tx *bbolt.Tx) error {
		found = tx.Bucket(bucketBlobs).Get(digest[:]) != nil
		return nil
	})
	return found
}
