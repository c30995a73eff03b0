package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/openlot/parkd/internal/storage"
	"github.com/redis/go-redis/v9"
)

type sessionStore struct {
	client *redis.Client
}

// Create stores a new session
func (s *sessionStore) Create(ctx context.Context, session storage.Session) error {
	return s.upsert(ctx, session)
}

// Update rewrites a session record (the end-of-life write)
func (s *sessionStore) Update(ctx context.Context, session storage.Session) error {
	exists, err := s.client.Exists(ctx, fmt.Sprintf("parkd:session:%s", session.ID)).Result()
	if err != nil {
		return err
	}
	if exists == 0 {
		return storage.ErrNotFound
	}

	return s.upsert(ctx, session)
}

func (s *sessionStore) upsert(ctx context.Context, session storage.Session) error {
	script := redis.NewScript(upsertSessionScript)

	keys := []string{
		fmt.Sprintf("parkd:session:%s", session.ID),
		"parkd:sessions:active",
		fmt.Sprintf("parkd:sessions:wallet:%s", session.Wallet),
		fmt.Sprintf("parkd:sessions:spot:%s", session.SpotID),
		"parkd:sessions:ended",
	}

	endedAt := ""
	endedUnix := int64(0)
	if session.EndedAt != nil {
		endedAt = session.EndedAt.Format(time.RFC3339Nano)
		endedUnix = session.EndedAt.Unix()
	}

	amount := ""
	if session.Amount != nil {
		amount = session.Amount.String()
	}

	settleState, settleTx, settleReason := "", "", ""
	if session.Settlement != nil {
		settleState = string(session.Settlement.State)
		settleTx = session.Settlement.TxHash
		settleReason = session.Settlement.Reason
	}

	args := []interface{}{
		session.ID,
		session.Wallet,
		session.SpotID,
		session.LotID,
		session.StartedAt.Format(time.RFC3339Nano),
		session.StartedAt.Unix(),
		endedAt,
		endedUnix,
		amount,
		string(session.Status),
		settleState,
		settleTx,
		settleReason,
	}

	return script.Run(ctx, s.client, keys, args...).Err()
}

// Get retrieves a session by ID
func (s *sessionStore) Get(ctx context.Context, id string) (*storage.Session, error) {
	data, err := s.client.HGetAll(ctx, fmt.Sprintf("parkd:session:%s", id)).Result()
	if err != nil {
		return nil, err
	}

	if len(data) == 0 {
		return nil, storage.ErrNotFound
	}

	return parseSession(data)
}

// ListActive returns all active sessions
func (s *sessionStore) ListActive(ctx context.Context) ([]storage.Session, error) {
	ids, err := s.client.SMembers(ctx, "parkd:sessions:active").Result()
	if err != nil {
		return nil, err
	}

	return s.fetch(ctx, ids)
}

// ListByWallet returns all sessions for a wallet started at or after since,
// ordered by start time. This is the anomaly detector's window read.
func (s *sessionStore) ListByWallet(ctx context.Context, wallet string, since time.Time) ([]storage.Session, error) {
	ids, err := s.client.ZRangeByScore(ctx, fmt.Sprintf("parkd:sessions:wallet:%s", wallet), &redis.ZRangeBy{
		Min: strconv.FormatInt(since.Unix(), 10),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, err
	}

	return s.fetch(ctx, ids)
}

// ListBySpot returns all sessions that occupied a spot
func (s *sessionStore) ListBySpot(ctx context.Context, spotID string) ([]storage.Session, error) {
	ids, err := s.client.SMembers(ctx, fmt.Sprintf("parkd:sessions:spot:%s", spotID)).Result()
	if err != nil {
		return nil, err
	}

	return s.fetch(ctx, ids)
}

// DeleteEndedBefore removes ended sessions older than cutoff. Retention
// only; the live path never deletes session history.
func (s *sessionStore) DeleteEndedBefore(ctx context.Context, cutoff time.Time) (int, error) {
	ids, err := s.client.ZRangeByScore(ctx, "parkd:sessions:ended", &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(cutoff.Unix(), 10),
	}).Result()
	if err != nil {
		return 0, err
	}

	deleted := 0
	for _, id := range ids {
		session, err := s.Get(ctx, id)
		if err != nil {
			continue
		}

		pipe := s.client.TxPipeline()
		pipe.Del(ctx, fmt.Sprintf("parkd:session:%s", id))
		pipe.ZRem(ctx, fmt.Sprintf("parkd:sessions:wallet:%s", session.Wallet), id)
		pipe.SRem(ctx, fmt.Sprintf("parkd:sessions:spot:%s", session.SpotID), id)
		pipe.ZRem(ctx, "parkd:sessions:ended", id)

		if _, err := pipe.Exec(ctx); err != nil {
			return deleted, err
		}
		deleted++
	}

	return deleted, nil
}

// fetch pipelines hash reads for a batch of session IDs
func (s *sessionStore) fetch(ctx context.Context, ids []string) ([]storage.Session, error) {
	if len(ids) == 0 {
		return []storage.Session{}, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, fmt.Sprintf("parkd:session:%s", id))
	}

	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, err
	}

	sessions := make([]storage.Session, 0, len(ids))
	for _, cmd := range cmds {
		data, err := cmd.Result()
		if err != nil || len(data) == 0 {
			continue
		}

		session, err := parseSession(data)
		if err == nil {
			sessions = append(sessions, *session)
		}
	}

	return sessions, nil
}
