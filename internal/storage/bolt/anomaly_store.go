package bolt

import (
	"context"
	"time"

	"github.com/openlot/parkd/internal/storage"
	"go.etcd.io/bbolt"
)

type anomalyStore struct {
	db *bbolt.DB
}

func (s *anomalyStore) Add(ctx context.Context, anomaly storage.Anomaly) error {
	return putBucketValue(ctx, s.db, bucketAnomalies, anomaly.ID, anomaly)
}

func (s *anomalyStore) Get(ctx context.Context, id string) (*storage.Anomaly, error) {
	return getBucketValue[storage.Anomaly](ctx, s.db, bucketAnomalies, id)
}

func (s *anomalyStore) ListUnresolved(ctx context.Context) ([]storage.Anomaly, error) {
	all, err := listBucket[storage.Anomaly](ctx, s.db, bucketAnomalies)
	if err != nil {
		return nil, err
	}

	anomalies := make([]storage.Anomaly, 0)
	for _, anomaly := range all {
		if !anomaly.Resolved {
			anomalies = append(anomalies, anomaly)
		}
	}

	return anomalies, nil
}

func (s *anomalyStore) ListByWallet(ctx context.Context, wallet string) ([]storage.Anomaly, error) {
	all, err := listBucket[storage.Anomaly](ctx, s.db, bucketAnomalies)
	if err != nil {
		return nil, err
	}

	anomalies := make([]storage.Anomaly, 0)
	for _, anomaly := range all {
		if anomaly.Wallet == wallet {
			anomalies = append(anomalies, anomaly)
		}
	}

	return anomalies, nil
}

func (s *anomalyStore) Resolve(ctx context.Context, id string, at time.Time) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		bucket := tx.Bucket([]byte(bucketAnomalies))
		value := bucket.Get([]byte(id))
		if value == nil {
			return storage.ErrNotFound
		}

		var anomaly storage.Anomaly
		if err := unmarshal(value, &anomaly); err != nil {
			return err
		}

		anomaly.Resolved = true
		anomaly.ResolvedAt = &at

		data, err := marshal(anomaly)
		if err != nil {
			return err
		}
		return bucket.Put([]byte(id), data)
	})
}

func (s *anomalyStore) DeleteResolvedBefore(ctx context.Context, cutoff time.Time) (int, error) {
	var deleted int

	err := s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(bucketAnomalies))

		var toDelete []string
		err := bucket.ForEach(func(k, v []byte) error {
			if ctx.Err() != nil {
				return ctx.Err()
			}

			var anomaly storage.Anomaly
			if err := unmarshal(v, &anomaly); err != nil {
				return err
			}

			if anomaly.Resolved && anomaly.ResolvedAt != nil && anomaly.ResolvedAt.Before(cutoff) {
				toDelete = append(toDelete, string(k))
			}
			return nil
		})
		if err != nil {
			return err
		}

		for _, key := range toDelete {
			if err := bucket.Delete([]byte(key)); err != nil {
				return err
			}
			deleted++
		}

		return nil
	})

	return deleted, err
}
