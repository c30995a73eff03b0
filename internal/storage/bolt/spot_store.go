package bolt

import (
	"context"
	"fmt"
	"time"

	"github.com/openlot/parkd/internal/storage"
	"go.etcd.io/bbolt"
)

type spotStore struct {
	db *bbolt.DB
}

func (s *spotStore) CreateLot(ctx context.Context, lot storage.Lot, spotCount int) ([]storage.Spot, error) {
	if spotCount < 1 {
		return nil, fmt.Errorf("spot count must be positive, got %d", spotCount)
	}

	spots := make([]storage.Spot, 0, spotCount)
	for i := 1; i <= spotCount; i++ {
		spots = append(spots, storage.Spot{
			ID:        fmt.Sprintf("%s-%d", lot.ID, i),
			LotID:     lot.ID,
			Number:    i,
			Available: true,
			UpdatedAt: lot.CreatedAt,
		})
	}

	err := s.db.Update(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		lots := tx.Bucket([]byte(bucketLots))
		data, err := marshal(lot)
		if err != nil {
			return err
		}
		if err := lots.Put([]byte(lot.ID), data); err != nil {
			return err
		}

		bucket := tx.Bucket([]byte(bucketSpots))
		for _, spot := range spots {
			data, err := marshal(spot)
			if err != nil {
				return err
			}
			if err := bucket.Put([]byte(spot.ID), data); err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return spots, nil
}

func (s *spotStore) GetLot(ctx context.Context, id string) (*storage.Lot, error) {
	return getBucketValue[storage.Lot](ctx, s.db, bucketLots, id)
}

func (s *spotStore) ListLots(ctx context.Context) ([]storage.Lot, error) {
	return listBucket[storage.Lot](ctx, s.db, bucketLots)
}

func (s *spotStore) GetSpot(ctx context.Context, id string) (*storage.Spot, error) {
	return getBucketValue[storage.Spot](ctx, s.db, bucketSpots, id)
}

func (s *spotStore) ListSpots(ctx context.Context, lotID string) ([]storage.Spot, error) {
	all, err := listBucket[storage.Spot](ctx, s.db, bucketSpots)
	if err != nil {
		return nil, err
	}

	spots := make([]storage.Spot, 0, len(all))
	for _, spot := range all {
		if spot.LotID == lotID {
			spots = append(spots, spot)
		}
	}

	return spots, nil
}

// ClaimSpot flips the spot to occupied inside a single write transaction;
// bolt serializes writers, so the check-and-flip cannot interleave.
func (s *spotStore) ClaimSpot(ctx context.Context, id string) error {
	return s.setAvailability(ctx, id, false)
}

func (s *spotStore) ReleaseSpot(ctx context.Context, id string) error {
	return s.setAvailability(ctx, id, true)
}

func (s *spotStore) setAvailability(ctx context.Context, id string, available bool) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		bucket := tx.Bucket([]byte(bucketSpots))
		value := bucket.Get([]byte(id))
		if value == nil {
			return storage.ErrNotFound
		}

		var spot storage.Spot
		if err := unmarshal(value, &spot); err != nil {
			return err
		}

		if !available && !spot.Available {
			return storage.ErrSpotUnavailable
		}

		spot.Available = available
		spot.UpdatedAt = time.Now().UTC()

		data, err := marshal(spot)
		if err != nil {
			return err
		}
		return bucket.Put([]byte(id), data)
	})
}
