package main

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

// Klíče ve Valkey, message-api je čte stejně
const (
	lastHeardKeyPrefix = "meshcom:last:"
	nodesIndexKey      = "meshcom:nodes"
)

// MessageStore je úložiště, do kterého dispatcher zapisuje (append-only).
type MessageStore interface {
	SaveMessage(ctx context.Context, msg StoredMessage) error
}

// Repository zapouzdřuje práci s databázemi.
// TimescaleDB drží historii (Cold Path), Valkey "naposledy slyšen" (Hot Path).
type Repository struct {
	pgPool *pgxpool.Pool
	redis  *redis.Client // nil = cache vypnutá
	table  string        // už escapovaný identifikátor
	ttl    time.Duration
}

// NewRepository vytvoří a ověří připojení k oběma databázím.
func NewRepository(ctx context.Context, db DatabaseConfig, cache CacheConfig) (*Repository, error) {
	// 1. Připojení k Postgres
	pool, err := pgxpool.New(ctx, db.PostgresURL)
	if err != nil {
		return nil, fmt.Errorf("chyba konfigurace DB: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("DB není dostupná: %w", err)
	}

	repo := &Repository{
		pgPool: pool,
		table:  pgx.Identifier{db.TableName}.Sanitize(),
		ttl:    cache.LastHeardTTL.Duration,
	}

	// 2. Připojení k Valkey (volitelné)
	if cache.ValkeyAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cache.ValkeyAddr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			pool.Close()
			rdb.Close()
			return nil, fmt.Errorf("Valkey není dostupný: %w", err)
		}
		repo.redis = rdb
	}

	return repo, nil
}

// EnsureSchema založí tabulku a indexy, pokud ještě neexistují.
func (r *Repository) EnsureSchema(ctx context.Context, tableName string) error {
	statements := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id           BIGSERIAL PRIMARY KEY,
			received_at  TIMESTAMPTZ NOT NULL,
			message_type TEXT NOT NULL,
			source       TEXT,
			destination  TEXT,
			msg_id       TEXT,
			raw_message  TEXT NOT NULL
		)`, r.table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (received_at DESC)`,
			pgx.Identifier{"idx_" + tableName + "_received_at"}.Sanitize(), r.table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (message_type)`,
			pgx.Identifier{"idx_" + tableName + "_type"}.Sanitize(), r.table),
	}
	for _, stmt := range statements {
		if _, err := r.pgPool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("chyba při zakládání schématu: %w", err)
		}
	}
	return nil
}

// Close uzavře spojení při ukončení aplikace.
func (r *Repository) Close() {
	r.pgPool.Close()
	if r.redis != nil {
		r.redis.Close()
	}
}

// SaveMessage uloží zprávu do historie a aktualizuje "naposledy slyšen".
func (r *Repository) SaveMessage(ctx context.Context, msg StoredMessage) error {
	// A. TimescaleDB (Source of Truth)
	query := fmt.Sprintf(`INSERT INTO %s (received_at, message_type, source, destination, msg_id, raw_message)
		VALUES ($1, $2, $3, $4, $5, $6)`, r.table)

	_, err := r.pgPool.Exec(ctx, query,
		msg.ReceivedAt, msg.Type, nullIfEmpty(msg.Source), nullIfEmpty(msg.Destination), nullIfEmpty(msg.MsgID), msg.Raw)
	if err != nil {
		return fmt.Errorf("chyba insertu do PG: %w", err)
	}

	// B. Valkey (aktuální stav stanic)
	if r.redis == nil || msg.Source == "" {
		return nil
	}
	key := lastHeardKeyPrefix + msg.Source
	_, err = r.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, map[string]any{
			"type":        msg.Type,
			"destination": msg.Destination,
			"received_at": msg.ReceivedAt.Format(time.RFC3339),
		})
		pipe.Expire(ctx, key, r.ttl)
		pipe.ZAdd(ctx, nodesIndexKey, redis.Z{Score: float64(msg.ReceivedAt.Unix()), Member: msg.Source})
		// Index čistíme od stanic, kterým už vypršel hash
		pipe.ZRemRangeByScore(ctx, nodesIndexKey, "-inf", fmt.Sprint(msg.ReceivedAt.Add(-r.ttl).Unix()))
		return nil
	})
	if err != nil {
		// Data v PG už jsou, Valkey chyba jen zhorší dashboard
		return fmt.Errorf("chyba update Valkey: %w", err)
	}
	return nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
