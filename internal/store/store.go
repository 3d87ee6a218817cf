// Package store is the durable key/value layer behind actor activity,
// position memory and alert history.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"whalewatch/config"
)

var (
	// ErrUnknownDriver is returned by Open for an unsupported driver name.
	ErrUnknownDriver = errors.New("unknown store driver")

	// ErrInvalidKey is returned for empty keys.
	ErrInvalidKey = errors.New("invalid key")
)

// Key prefixes used by the watcher.
const (
	PrefixActivity = "activity:"
	PrefixPosition = "position:"
	PrefixAlert    = "alert:"
)

// Record is one stored value. Data holds a JSON document (the postgres
// driver keeps it as JSONB). UpdatedAt drives DeleteOlderThan.
type Record struct {
	Key       string
	Data      []byte
	UpdatedAt time.Time
}

// Store is a durable key/value store with prefix-scoped retention.
type Store interface {
	// Put inserts or overwrites the record with rec.Key.
	Put(ctx context.Context, rec Record) error

	// Get returns the record for key. The bool is false when it does not exist.
	Get(ctx context.Context, key string) (Record, bool, error)

	// DeleteOlderThan removes every record under prefix whose UpdatedAt is
	// before cutoff and returns how many were removed.
	DeleteOlderThan(ctx context.Context, prefix string, cutoff time.Time) (int64, error)

	Close() error
}

// Open builds the store selected by cfg.Driver and verifies it is usable.
// Any error here is fatal for startup.
func Open(ctx context.Context, logger *zap.Logger, cfg config.StoreConfig) (Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	switch cfg.Driver {
	case config.StoreDriverMemory, "":
		logger.Info("using in-memory activity store")
		return NewMemoryStore(), nil

	case config.StoreDriverPostgres:
		pg, err := NewPostgresStore(ctx, cfg)
		if err != nil {
			return nil, err
		}
		if err := pg.Migrate(ctx); err != nil {
			pg.Close()
			return nil, err
		}
		logger.Info("connected to postgres activity store",
			zap.Int32("maxConns", cfg.MaxConns),
		)
		return pg, nil

	case config.StoreDriverRedis:
		rs, err := NewRedisStore(ctx, cfg)
		if err != nil {
			return nil, err
		}
		logger.Info("connected to redis activity store",
			zap.String("addr", cfg.RedisAddr),
			zap.Int("db", cfg.RedisDB),
		)
		return rs, nil
	}

	return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, cfg.Driver)
}

// namespace returns the part of key up to and including the first ':'.
func namespace(key string) string {
	if i := strings.IndexByte(key, ':'); i >= 0 {
		return key[:i+1]
	}
	return key
}

func validateKey(key string) error {
	if strings.TrimSpace(key) == "" {
		return ErrInvalidKey
	}
	return nil
}
