package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/openlot/parkd/internal/storage"
	"github.com/redis/go-redis/v9"
)

type walletStore struct {
	client *redis.Client
}

// Get retrieves a cached wallet observation by address
func (s *walletStore) Get(ctx context.Context, address string) (*storage.Wallet, error) {
	data, err := s.client.HGetAll(ctx, fmt.Sprintf("parkd:wallet:%s", address)).Result()
	if err != nil {
		return nil, err
	}

	if len(data) == 0 {
		return nil, storage.ErrNotFound
	}

	return parseWallet(data)
}

// Upsert refreshes the cached wallet observation
func (s *walletStore) Upsert(ctx context.Context, wallet storage.Wallet) error {
	trustline := "0"
	if wallet.TrustlineVerified {
		trustline = "1"
	}

	return s.client.HSet(ctx, fmt.Sprintf("parkd:wallet:%s", wallet.Address),
		"address", wallet.Address,
		"trustline_verified", trustline,
		"balance", wallet.Balance.String(),
		"updated_at", wallet.UpdatedAt.Format(time.RFC3339Nano),
	).Err()
}
