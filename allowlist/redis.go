package allowlist

import (
	"context"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"
)

const DefaultRedisKey = "truckgate:allowed_plates"

// RedisStore keeps the list as a Redis set, shared by every gate node.
type RedisStore struct {
	rdb *redis.Client
	key string
}

var _ Store = (*RedisStore)(nil)

func NewRedisStore(rdb *redis.Client, key string) *RedisStore {
	if key == "" {
		key = DefaultRedisKey
	}
	return &RedisStore{rdb: rdb, key: key}
}

// Plates returns the set members sorted, since sets carry no order.
func (r *RedisStore) Plates(ctx context.Context) ([]string, error) {
	members, err := r.rdb.SMembers(ctx, r.key).Result()
	if err != nil {
		return nil, fmt.Errorf("redis smembers %s: %w", r.key, err)
	}
	sort.Strings(members)
	return members, nil
}

func (r *RedisStore) Replace(ctx context.Context, plates []string) error {
	plates = Clean(plates)
	_, err := r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, r.key)
		if len(plates) > 0 {
			members := make([]interface{}, len(plates))
			for i, p := range plates {
				members[i] = p
			}
			pipe.SAdd(ctx, r.key, members...)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis replace %s: %w", r.key, err)
	}
	return nil
}
