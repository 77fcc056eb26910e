// README: Board store backed by Redis: pending orders (sorted set) and online drivers (set).
package board

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"coursier/internal/types"
)

const (
	pendingOrdersKey = "board:orders:pending"
	onlineDriversKey = "board:drivers:online"
)

type Store struct {
	redis *redis.Client
}

func NewStore(redis *redis.Client) *Store {
	return &Store{redis: redis}
}

// AddPending scores the order by creation time so the oldest request is listed first.
func (s *Store) AddPending(ctx context.Context, id types.ID, createdAt time.Time) error {
	return s.redis.ZAdd(ctx, pendingOrdersKey, redis.Z{
		Score:  float64(createdAt.UnixMilli()),
		Member: string(id),
	}).Err()
}

func (s *Store) RemovePending(ctx context.Context, id types.ID) error {
	return s.redis.ZRem(ctx, pendingOrdersKey, string(id)).Err()
}

func (s *Store) ListPending(ctx context.Context, limit int) ([]types.ID, error) {
	if limit <= 0 {
		return nil, nil
	}
	members, err := s.redis.ZRange(ctx, pendingOrdersKey, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, err
	}
	ids := make([]types.ID, len(members))
	for i, m := range members {
		ids[i] = types.ID(m)
	}
	return ids, nil
}

func (s *Store) CountPending(ctx context.Context) (int64, error) {
	return s.redis.ZCard(ctx, pendingOrdersKey).Result()
}

func (s *Store) SetDriverOnline(ctx context.Context, id types.ID, online bool) error {
	if online {
		return s.redis.SAdd(ctx, onlineDriversKey, string(id)).Err()
	}
	return s.redis.SRem(ctx, onlineDriversKey, string(id)).Err()
}

func (s *Store) IsDriverOnline(ctx context.Context, id types.ID) (bool, error) {
	return s.redis.SIsMember(ctx, onlineDriversKey, string(id)).Result()
}

func (s *Store) CountOnlineDrivers(ctx context.Context) (int64, error) {
	return s.redis.SCard(ctx, onlineDriversKey).Result()
}
