package bolt

import (
	"context"
	"time"

	"github.com/openlot/parkd/internal/storage"
	"go.etcd.io/bbolt"
)

type sessionStore struct {
	db *bbolt.DB
}

func (s *sessionStore) Create(ctx context.Context, session storage.Session) error {
	return putBucketValue(ctx, s.db, bucketSessions, session.ID, session)
}

func (s *sessionStore) Get(ctx context.Context, id string) (*storage.Session, error) {
	return getBucketValue[storage.Session](ctx, s.db, bucketSessions, id)
}

func (s *sessionStore) Update(ctx context.Context, session storage.Session) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		bucket := tx.Bucket([]byte(bucketSessions))
		if bucket.Get([]byte(session.ID)) == nil {
			return storage.ErrNotFound
		}

		data, err := marshal(session)
		if err != nil {
			return err
		}
		return bucket.Put([]byte(session.ID), data)
	})
}

func (s *sessionStore) ListActive(ctx context.Context) ([]storage.Session, error) {
	all, err := listBucket[storage.Session](ctx, s.db, bucketSessions)
	if err != nil {
		return nil, err
	}

	sessions := make([]storage.Session, 0)
	for _, session := range all {
		if session.Status == storage.SessionActive {
			sessions = append(sessions, session)
		}
	}

	return sessions, nil
}

func (s *sessionStore) ListByWallet(ctx context.Context, wallet string, since time.Time) ([]storage.Session, error) {
	all, err := listBucket[storage.Session](ctx, s.db, bucketSessions)
	if err != nil {
		return nil, err
	}

	sessions := make([]storage.Session, 0)
	for _, session := range all {
		if session.Wallet == wallet && !session.StartedAt.Before(since) {
			sessions = append(sessions, session)
		}
	}

	return sessions, nil
}

func (s *sessionStore) ListBySpot(ctx context.Context, spotID string) ([]storage.Session, error) {
	all, err := listBucket[storage.Session](ctx, s.db, bucketSessions)
	if err != nil {
		return nil, err
	}

	sessions := make([]storage.Session, 0)
	for _, session := range all {
		if session.SpotID == spotID {
			sessions = append(sessions, session)
		}
	}

	return sessions, nil
}

func (s *sessionStore) DeleteEndedBefore(ctx context.Context, cutoff time.Time) (int, error) {
	var deleted int

	err := s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(bucketSessions))

		var toDelete []string
		err := bucket.ForEach(func(k, v []byte) error {
			if ctx.Err() != nil {
				return ctx.Err()
			}

			var session storage.Session
			if err := unmarshal(v, &session); err != nil {
				return err
			}

			if session.Status == storage.SessionEnded && session.EndedAt != nil && session.EndedAt.Before(cutoff) {
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
