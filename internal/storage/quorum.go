package storage

import (
	"encoding/json"

	werrors "github.com/wavs-network/operator/internal/errors"
	"github.com/wavs-network/operator/internal/types"
	"go.etcd.io/bbolt"
)

// PutQuorumQueue persists a quorum queue's full state. Called after every
// Upsert/Burn so a crash never loses signer progress.
func (s *Store) PutQuorumQueue(q *types.QuorumQueue) error {
	b, err := json.Marshal(q)
	if err != nil {
		return werrors.Wrap(werrors.KindStorage, "marshal quorum queue", err)
	}
	err = s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketQuorumQueues).Put([]byte(q.ID.String()), b)
	})
	if err != nil {
		return werrors.Wrap(werrors.KindStorage, "put quorum queue", err)
	}
	return nil
}

// GetQuorumQueue loads a quorum queue by ID. Returns (nil, false, nil) if
// absent — callers create a fresh Active queue in that case.
func (s *Store) GetQuorumQueue(id types.QuorumQueueID) (*types.QuorumQueue, bool, error) {
	var q *types.QuorumQueue
	err := s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(bucketQuorumQueues).Get([]byte(id.String()))
		if v == nil {
			return nil
		}
		q = &types.QuorumQueue{}
		return json.Unmarshal(v, q)
	})
	if err != nil {
		return nil, false, werrors.Wrap(werrors.KindStorage, "get quorum queue", err)
	}
	return q, q != nil, nil
}

// ListActiveQuorumQueues returns every queue not yet Burned, used to rebuild
// in-memory aggregator state after a restart.
func (s *Store) ListActiveQuorumQueues() ([]*types.QuorumQueue, error) {
	var out []*types.QuorumQueue
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketQuorumQueues).ForEach(func(_, v []byte) error {
			q := &types.QuorumQueue{}
			if err := json.Unmarshal(v, q); err != nil {
				return err
			}
			if q.State == types.QuorumQueueActive {
				out = append(out, q)
			}
			return nil
		})
	})
	if err != nil {
		return nil, werrors.Wrap(werrors.KindStorage, "list active quorum queues", err)
	}
	return out, nil
}
