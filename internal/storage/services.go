package storage

import (
	"encoding/json"

	werrors "github.com/wavs-network/operator/internal/errors"
	"github.com/wavs-network/operator/internal/types"
	"go.etcd.io/bbolt"
)

// PutService persists a service definition, keyed by its ServiceID.
func (s *Store) PutService(svc *types.Service) error {
	b, err := json.Marshal(svc)
	if err != nil {
		return werrors.Wrap(werrors.KindStorage, "marshal service", err)
	}
	err = s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketServices).Put([]byte(svc.ID), b)
	})
	if err != nil {
		return werrors.Wrap(werrors.KindStorage, "put service", err)
	}
	return nil
}

// GetService loads a service by ID. Returns (nil, false, nil) if absent.
func (s *Store) GetService(id types.ServiceID) (*types.Service, bool, error) {
	var svc *types.Service
	err := s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(bucketServices).Get([]byte(id))
		if v == nil {
			return nil
		}
		svc = &types.Service{}
		return json.Unmarshal(v, svc)
	})
	if err != nil {
		return nil, false, werrors.Wrap(werrors.KindStorage, "get service", err)
	}
	return svc, svc != nil, nil
}

// DeleteService removes a service definition.
func (s *Store) DeleteService(id types.ServiceID) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketServices).Delete([]byte(id))
	})
	if err != nil {
		return werrors.Wrap(werrors.KindStorage, "delete service", err)
	}
	return nil
}

// ListServices returns every persisted service, used at startup to rebuild
// the Dispatcher's service cache and the Trigger Manager's lookup table.
func (s *Store) ListServices() ([]*types.Service, error) {
	var out []*types.Service
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketServices).ForEach(func(_, v []byte) error {
			svc := &types.Service{}
			if err := json.Unmarshal(v, svc); err != nil {
				return err
			}
			out = append(out, svc)
			return nil
		})
	})
	if err != nil {
		return nil, werrors.Wrap(werrors.KindStorage, "list services", err)
	}
	return out, nil
}
