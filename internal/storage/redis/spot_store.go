package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/openlot/parkd/internal/storage"
	"github.com/redis/go-redis/v9"
)

type spotStore struct {
	client *redis.Client
}

// CreateLot stores a lot and provisions spotCount numbered spots in it.
func (s *spotStore) CreateLot(ctx context.Context, lot storage.Lot, spotCount int) ([]storage.Spot, error) {
	if spotCount < 1 {
		return nil, fmt.Errorf("spot count must be positive, got %d", spotCount)
	}

	lotKey := fmt.Sprintf("parkd:lot:%s", lot.ID)
	pipe := s.client.TxPipeline()

	pipe.HSet(ctx, lotKey,
		"id", lot.ID,
		"name", lot.Name,
		"rate_per_minute", lot.RatePerMinute.String(),
		"created_at", lot.CreatedAt.Format(time.RFC3339Nano),
	)
	pipe.SAdd(ctx, "parkd:lots", lot.ID)

	spots := make([]storage.Spot, 0, spotCount)
	for i := 1; i <= spotCount; i++ {
		spot := storage.Spot{
			ID:        fmt.Sprintf("%s-%d", lot.ID, i),
			LotID:     lot.ID,
			Number:    i,
			Available: true,
			UpdatedAt: lot.CreatedAt,
		}
		spots = append(spots, spot)

		spotKey := fmt.Sprintf("parkd:spot:%s", spot.ID)
		pipe.HSet(ctx, spotKey,
			"id", spot.ID,
			"lot_id", spot.LotID,
			"number", spot.Number,
			"available", "1",
			"updated_at", spot.UpdatedAt.Format(time.RFC3339Nano),
		)
		pipe.SAdd(ctx, fmt.Sprintf("parkd:lot:%s:spots", lot.ID), spot.ID)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}

	return spots, nil
}

// GetLot retrieves a lot by ID
func (s *spotStore) GetLot(ctx context.Context, id string) (*storage.Lot, error) {
	data, err := s.client.HGetAll(ctx, fmt.Sprintf("parkd:lot:%s", id)).Result()
	if err != nil {
		return nil, err
	}

	if len(data) == 0 {
		return nil, storage.ErrNotFound
	}

	return parseLot(data)
}

// ListLots returns all lots
func (s *spotStore) ListLots(ctx context.Context) ([]storage.Lot, error) {
	ids, err := s.client.SMembers(ctx, "parkd:lots").Result()
	if err != nil {
		return nil, err
	}

	if len(ids) == 0 {
		return []storage.Lot{}, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, fmt.Sprintf("parkd:lot:%s", id))
	}

	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, err
	}

	lots := make([]storage.Lot, 0, len(ids))
	for _, cmd := range cmds {
		data, err := cmd.Result()
		if err != nil || len(data) == 0 {
			continue
		}

		lot, err := parseLot(data)
		if err == nil {
			lots = append(lots, *lot)
		}
	}

	return lots, nil
}

// GetSpot retrieves a spot by ID
func (s *spotStore) GetSpot(ctx context.Context, id string) (*storage.Spot, error) {
	data, err := s.client.HGetAll(ctx, fmt.Sprintf("parkd:spot:%s", id)).Result()
	if err != nil {
		return nil, err
	}

	if len(data) == 0 {
		return nil, storage.ErrNotFound
	}

	return parseSpot(data)
}

// ListSpots returns all spots in a lot
func (s *spotStore) ListSpots(ctx context.Context, lotID string) ([]storage.Spot, error) {
	ids, err := s.client.SMembers(ctx, fmt.Sprintf("parkd:lot:%s:spots", lotID)).Result()
	if err != nil {
		return nil, err
	}

	if len(ids) == 0 {
		return []storage.Spot{}, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, fmt.Sprintf("parkd:spot:%s", id))
	}

	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, err
	}

	spots := make([]storage.Spot, 0, len(ids))
	for _, cmd := range cmds {
		data, err := cmd.Result()
		if err != nil || len(data) == 0 {
			continue
		}

		spot, err := parseSpot(data)
		if err == nil {
			spots = append(spots, *spot)
		}
	}

	return spots, nil
}

// ClaimSpot atomically flips a spot from available to occupied
func (s *spotStore) ClaimSpot(ctx context.Context, id string) error {
	script := redis.NewScript(claimSpotScript)

	keys := []string{fmt.Sprintf("parkd:spot:%s", id)}
	args := []interface{}{time.Now().UTC().Format(time.RFC3339Nano)}

	result, err := script.Run(ctx, s.client, keys, args...).Text()
	if err != nil {
		return err
	}

	switch result {
	case "OK":
		return nil
	case "NOT_FOUND":
		return storage.ErrNotFound
	case "UNAVAILABLE":
		return storage.ErrSpotUnavailable
	default:
		return fmt.Errorf("unexpected claim result: %s", result)
	}
}

// ReleaseSpot flips a spot back to available
func (s *spotStore) ReleaseSpot(ctx context.Context, id string) error {
	script := redis.NewScript(releaseSpotScript)

	keys := []string{fmt.Sprintf("parkd:spot:%s", id)}
	args := []interface{}{time.Now().UTC().Format(time.RFC3339Nano)}

	result, err := script.Run(ctx, s.client, keys, args...).Text()
	if err != nil {
		return err
	}

	if result == "NOT_FOUND" {
		return storage.ErrNotFound
	}

	return nil
}
