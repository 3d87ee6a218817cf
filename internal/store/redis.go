package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"whalewatch/config"
)

const redisKeyPrefix = "whalewatch:"

// RedisStore keeps each record in a hash and indexes update times in one
// sorted set per key namespace, so DeleteOlderThan is a range query.
type RedisStore struct {
	client *redis.Client
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore connects to cfg.RedisAddr and pings the server.
func NewRedisStore(ctx context.Context, cfg config.StoreConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return &RedisStore{client: client}, nil
}

func redisRecordKey(key string) string {
	return redisKeyPrefix + "rec:" + key
}

func redisIndexKey(key string) string {
	return redisKeyPrefix + "idx:" + namespace(key)
}

func (s *RedisStore) Put(ctx context.Context, rec Record) error {
	if err := validateKey(rec.Key); err != nil {
		return err
	}

	updated := rec.UpdatedAt.UnixMilli()
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, redisRecordKey(rec.Key),
			"data", rec.Data,
			"updated_at", updated,
		)
		pipe.ZAdd(ctx, redisIndexKey(rec.Key), redis.Z{
			Score:  float64(updated),
			Member: rec.Key,
		})
		return nil
	})
	if err != nil {
		return fmt.Errorf("put %s: %w", rec.Key, err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, key string) (Record, bool, error) {
	vals, err := s.client.HMGet(ctx, redisRecordKey(key), "data", "updated_at").Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Record{}, false, nil
		}
		return Record{}, false, fmt.Errorf("get %s: %w", key, err)
	}
	if len(vals) != 2 || vals[0] == nil {
		return Record{}, false, nil
	}

	data, _ := vals[0].(string)
	updatedStr, _ := vals[1].(string)
	updated, err := strconv.ParseInt(updatedStr, 10, 64)
	if err != nil {
		return Record{}, false, fmt.Errorf("get %s: bad updated_at %q: %w", key, updatedStr, err)
	}

	return Record{
		Key:       key,
		Data:      []byte(data),
		UpdatedAt: time.UnixMilli(updated),
	}, true, nil
}

func (s *RedisStore) DeleteOlderThan(ctx context.Context, prefix string, cutoff time.Time) (int64, error) {
	index := redisIndexKey(prefix)
	keys, err := s.client.ZRangeByScore(ctx, index, &redis.ZRangeBy{
		Min: "-inf",
		Max: "(" + strconv.FormatInt(cutoff.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("scan %s index: %w", prefix, err)
	}

	var expired []string
	for _, k := range keys {
		if strings.HasPrefix(k, prefix) {
			expired = append(expired, k)
		}
	}
	if len(expired) == 0 {
		return 0, nil
	}

	members := make([]any, len(expired))
	recordKeys := make([]string, len(expired))
	for i, k := range expired {
		members[i] = k
		recordKeys[i] = redisRecordKey(k)
	}

	var del *redis.IntCmd
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		del = pipe.Del(ctx, recordKeys...)
		pipe.ZRem(ctx, index, members...)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("delete %s older than %s: %w", prefix, cutoff.Format(time.RFC3339), err)
	}
	return del.Val(), nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
