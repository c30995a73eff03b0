package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/openlot/parkd/internal/storage"
	"github.com/redis/go-redis/v9"
)

type anomalyStore struct {
	client *redis.Client
}

// Add stores a new anomaly finding
func (s *anomalyStore) Add(ctx context.Context, anomaly storage.Anomaly) error {
	pipe := s.client.TxPipeline()

	pipe.HSet(ctx, fmt.Sprintf("parkd:anomaly:%s", anomaly.ID),
		"id", anomaly.ID,
		"type", string(anomaly.Type),
		"wallet", anomaly.Wallet,
		"session_id", anomaly.SessionID,
		"description", anomaly.Description,
		"severity", string(anomaly.Severity),
		"resolved", "0",
		"created_at", anomaly.CreatedAt.Format(time.RFC3339Nano),
		"resolved_at", "",
	)
	pipe.SAdd(ctx, "parkd:anomalies:unresolved", anomaly.ID)
	pipe.SAdd(ctx, fmt.Sprintf("parkd:anomalies:wallet:%s", anomaly.Wallet), anomaly.ID)

	_, err := pipe.Exec(ctx)
	return err
}

// Get retrieves an anomaly by ID
func (s *anomalyStore) Get(ctx context.Context, id string) (*storage.Anomaly, error) {
	data, err := s.client.HGetAll(ctx, fmt.Sprintf("parkd:anomaly:%s", id)).Result()
	if err != nil {
		return nil, err
	}

	if len(data) == 0 {
		return nil, storage.ErrNotFound
	}

	return parseAnomaly(data)
}

// ListUnresolved returns all anomalies pending operator resolution
func (s *anomalyStore) ListUnresolved(ctx context.Context) ([]storage.Anomaly, error) {
	ids, err := s.client.SMembers(ctx, "parkd:anomalies:unresolved").Result()
	if err != nil {
		return nil, err
	}

	return s.fetch(ctx, ids)
}

// ListByWallet returns all anomalies flagged for a wallet
func (s *anomalyStore) ListByWallet(ctx context.Context, wallet string) ([]storage.Anomaly, error) {
	ids, err := s.client.SMembers(ctx, fmt.Sprintf("parkd:anomalies:wallet:%s", wallet)).Result()
	if err != nil {
		return nil, err
	}

	return s.fetch(ctx, ids)
}

// Resolve marks an anomaly as handled by an operator
func (s *anomalyStore) Resolve(ctx context.Context, id string, at time.Time) error {
	key := fmt.Sprintf("parkd:anomaly:%s", id)

	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return err
	}
	if exists == 0 {
		return storage.ErrNotFound
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, "resolved", "1", "resolved_at", at.Format(time.RFC3339Nano))
	pipe.SRem(ctx, "parkd:anomalies:unresolved", id)
	pipe.ZAdd(ctx, "parkd:anomalies:resolved", redis.Z{Score: float64(at.Unix()), Member: id})

	_, err = pipe.Exec(ctx)
	return err
}

// DeleteResolvedBefore removes resolved anomalies older than cutoff
func (s *anomalyStore) DeleteResolvedBefore(ctx context.Context, cutoff time.Time) (int, error) {
	ids, err := s.client.ZRangeByScore(ctx, "parkd:anomalies:resolved", &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(cutoff.Unix(), 10),
	}).Result()
	if err != nil {
		return 0, err
	}

	deleted := 0
	for _, id := range ids {
		anomaly, err := s.Get(ctx, id)
		if err != nil {
			continue
		}

		pipe := s.client.TxPipeline()
		pipe.Del(ctx, fmt.Sprintf("parkd:anomaly:%s", id))
		pipe.SRem(ctx, fmt.Sprintf("parkd:anomalies:wallet:%s", anomaly.Wallet), id)
		pipe.ZRem(ctx, "parkd:anomalies:resolved", id)

		if _, err := pipe.Exec(ctx); err != nil {
			return deleted, err
		}
		deleted++
	}

	return deleted, nil
}

func (s *anomalyStore) fetch(ctx context.Context, ids []string) ([]storage.Anomaly, error) {
	if len(ids) == 0 {
		return []storage.Anomaly{}, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, fmt.Sprintf("parkd:anomaly:%s", id))
	}

	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, err
	}

	anomalies := make([]storage.Anomaly, 0, len(ids))
	for _, cmd := range cmds {
		data, err := cmd.Result()
		if err != nil || len(data) == 0 {
			continue
		}

		anomaly, err := parseAnomaly(data)
		if err == nil {
			anomalies = append(anomalies, *anomaly)
		}
	}

	return anomalies, nil
}
