package chathub

import (
	"context"
	"errors"
	"sort"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// disconnectScript decrements a user's node count and drops the field at
// zero, atomically.
var disconnectScript = redis.NewScript(`
local n = redis.call("HINCRBY", KEYS[1], ARGV[1], -1)
if n <= 0 then
	redis.call("HDEL", KEYS[1], ARGV[1])
	return 1
end
return 0
`)

// RedisPresence keeps the online flag in a Redis hash shared by all nodes:
// field = user id, value = number of nodes holding a connection.
type RedisPresence struct {
	rdb *redis.Client
	key string
}

var _ Presence = (*RedisPresence)(nil)

func NewRedisPresence(rdb *redis.Client, hashKey string) *RedisPresence {
	if hashKey == "" {
		hashKey = "chat:presence"
	}
	return &RedisPresence{rdb: rdb, key: hashKey}
}

func (p *RedisPresence) Connect(ctx context.Context, userID string) (bool, error) {
	n, err := p.rdb.HIncrBy(ctx, p.key, userID, 1).Result()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (p *RedisPresence) Disconnect(ctx context.Context, userID string) (bool, error) {
	gone, err := disconnectScript.Run(ctx, p.rdb, []string{p.key}, userID).Int()
	if err != nil {
		return false, err
	}
	return gone == 1, nil
}

func (p *RedisPresence) IsOnline(ctx context.Context, userID string) (bool, error) {
	v, err := p.rdb.HGet(ctx, p.key, userID).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (p *RedisPresence) Online(ctx context.Context) ([]string, error) {
	all, err := p.rdb.HGetAll(ctx, p.key).Result()
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(all))
	for id, v := range all {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out, nil
}
