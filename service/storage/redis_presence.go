package storage

import (
	"context"
	"time"

	redisc "HDProject/service/storage/redis"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// presence key: helpdesk:presence:<user>
// TTL 控制在线有效期，连接存活期间由镜像续期
func presenceKey(user string) string { return "helpdesk:presence:" + user }

// PresenceStore mirrors the in-memory presence tracker into redis so the
// HTTP surface can answer "is this user online" without a reference to the
// gateway's tracker.
type PresenceStore struct {
	ttl time.Duration
}

func NewPresenceStore(ttl time.Duration) *PresenceStore {
	if ttl <= 0 {
		ttl = 60 * time.Second
	}
	return &PresenceStore{ttl: ttl}
}

// Online marks the user online and renews the TTL.
func (s *PresenceStore) Online(ctx context.Context, user string) error {
	if !redisc.Ready() {
		return errors.New("redis not initialized")
	}
	return redisc.GetRedis().Set(ctx, presenceKey(user), "1", s.ttl).Err()
}

// Offline actively deletes the presence key.
func (s *PresenceStore) Offline(ctx context.Context, user string) error {
	if !redisc.Ready() {
		return errors.New("redis not initialized")
	}
	return redisc.GetRedis().Del(ctx, presenceKey(user)).Err()
}

// Lookup checks whether the user's presence key is live.
func (s *PresenceStore) Lookup(ctx context.Context, user string) (bool, error) {
	if !redisc.Ready() {
		return false, errors.New("redis not initialized")
	}
	_, err := redisc.GetRedis().Get(ctx, presenceKey(user)).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
