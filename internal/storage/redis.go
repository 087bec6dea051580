package storage

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"slackriver/internal/chat"
	logx "slackriver/pkg/logx"
)

const defaultRedisKey = "slackriver:users"

// hashClient is the subset of *redis.Client the store uses.
type hashClient interface {
	HSet(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	HGetAll(ctx context.Context, key string) *redis.MapStringStringCmd
	Close() error
}

// redisStore keeps every user as one JSON field of a single hash.
type redisStore struct {
	client hashClient
	key    string
	log    logx.Logger
}

func openRedis(cfg Config, log logx.Logger) (Store, error) {
	addr := strings.TrimSpace(cfg.RedisAddr)
	if addr == "" {
		return nil, errors.New("storage.redis_addr is required for redis driver")
	}
	key := strings.TrimSpace(cfg.Path)
	if key == "" {
		key = defaultRedisKey
	}
	client := redis.NewClient(&redis.Options{Addr: addr})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return &redisStore{client: client, key: key, log: log}, nil
}

func (s *redisStore) Close() error { return s.client.Close() }

func (s *redisStore) PutUser(ctx context.Context, id string, u chat.UserRef) error {
	if id == "" {
		return nil
	}
	b, err := json.Marshal(u)
	if err != nil {
		return err
	}
	return s.client.HSet(ctx, s.key, id, string(b)).Err()
}

func (s *redisStore) LoadUsers(ctx context.Context) (map[string]chat.UserRef, error) {
	raw, err := s.client.HGetAll(ctx, s.key).Result()
	if err != nil {
		return nil, err
	}
	out := make(map[string]chat.UserRef, len(raw))
	for id, v := range raw {
		var u chat.UserRef
		if err := json.Unmarshal([]byte(v), &u); err != nil {
			s.log.Debug("skipping malformed user entry", logx.String("id", id), logx.Err(err))
			continue
		}
		out[id] = u
	}
	return out, nil
}
