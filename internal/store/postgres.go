package store

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"whalewatch/config"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// PostgresStore persists records in a single activity_records table.
type PostgresStore struct {
	pool *pgxpool.Pool
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore connects to cfg.DSN and pings the server.
func NewPostgresStore(ctx context.Context, cfg config.StoreConfig) (*PostgresStore, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

// Migrate applies the embedded SQL files in lexical order.
// Every migration is idempotent.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	entries, err := fs.ReadDir(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("read embedded migrations: %w", err)
	}

	var files []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".sql") {
			files = append(files, entry.Name())
		}
	}
	sort.Strings(files)

	for _, file := range files {
		data, err := fs.ReadFile(migrationsFS, "migrations/"+file)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", file, err)
		}
		if strings.TrimSpace(string(data)) == "" {
			continue
		}
		if _, err := s.pool.Exec(ctx, string(data)); err != nil {
			return fmt.Errorf("apply migration %s: %w", file, err)
		}
	}

	return nil
}

func (s *PostgresStore) Put(ctx context.Context, rec Record) error {
	if err := validateKey(rec.Key); err != nil {
		return err
	}

	const query = `
		INSERT INTO activity_records (key, data, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (key) DO UPDATE
		SET data = EXCLUDED.data, updated_at = EXCLUDED.updated_at
	`
	if _, err := s.pool.Exec(ctx, query, rec.Key, rec.Data, rec.UpdatedAt.UTC()); err != nil {
		return fmt.Errorf("put %s: %w", rec.Key, err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, key string) (Record, bool, error) {
	const query = `SELECT data, updated_at FROM activity_records WHERE key = $1`

	rec := Record{Key: key}
	err := s.pool.QueryRow(ctx, query, key).Scan(&rec.Data, &rec.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, false, nil
		}
		return Record{}, false, fmt.Errorf("get %s: %w", key, err)
	}
	return rec, true, nil
}

func (s *PostgresStore) DeleteOlderThan(ctx context.Context, prefix string, cutoff time.Time) (int64, error) {
	const query = `DELETE FROM activity_records WHERE key LIKE $1 ESCAPE '\' AND updated_at < $2`

	tag, err := s.pool.Exec(ctx, query, likePrefix(prefix), cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("delete %s older than %s: %w", prefix, cutoff.Format(time.RFC3339), err)
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// likePrefix escapes LIKE wildcards in prefix and appends '%'.
func likePrefix(prefix string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(prefix) + "%"
}
