package bolt

import (
	"context"

	"github.com/openlot/parkd/internal/storage"
	"go.etcd.io/bbolt"
)

type walletStore struct {
	db *bbolt.DB
}

func (s *walletStore) Get(ctx context.Context, address string) (*storage.Wallet, error) {
	return getBucketValue[storage.Wallet](ctx, s.db, bucketWallets, address)
}

func (s *walletStore) Upsert(ctx context.Context, wallet storage.Wallet) error {
	return putBucketValue(ctx, s.db, bucketWallets, wallet.Address, wallet)
}
