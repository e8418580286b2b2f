package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

// Klíče ve Valkey, zapisuje je meshcom-listener
const (
	lastHeardKeyPrefix = "meshcom:last:"
	nodesIndexKey      = "meshcom:nodes"
)

// ErrNodesUnavailable: Valkey není nakonfigurovaný.
var ErrNodesUnavailable = errors.New("node cache is not configured")

// MessageReader je to, co API potřebuje od úložiště. V testech ho nahrazuje fake.
type MessageReader interface {
	ListMessages(ctx context.Context, q MessageQuery) ([]MessageDTO, error)
	ListNodes(ctx context.Context, limit int) ([]NodeDTO, error)
}

// Service drží spojení na databáze a obsahuje metody pro získání dat.
type Service struct {
	db    *pgxpool.Pool // Historie zpráv (TimescaleDB)
	redis *redis.Client // "Naposledy slyšen" (Valkey), může být nil
	table string        // už escapovaný identifikátor
}

// NewService je konstruktor (Dependency Injection).
func NewService(db *pgxpool.Pool, rdb *redis.Client, tableName string) *Service {
	return &Service{db: db, redis: rdb, table: pgx.Identifier{tableName}.Sanitize()}
}

// ListMessages vrací nejnovější zprávy podle filtrů, od nejnovější.
func (s *Service) ListMessages(ctx context.Context, q MessageQuery) ([]MessageDTO, error) {
	// Prázdný parametr filtr vypíná, jeden prepared statement pokryje všechny kombinace
	query := fmt.Sprintf(`
		SELECT id, received_at, message_type,
		       COALESCE(source, ''), COALESCE(destination, ''), COALESCE(msg_id, ''), raw_message
		FROM %s
		WHERE ($1 = '' OR message_type = $1)
		  AND ($2 = '' OR source = $2)
		ORDER BY received_at DESC, id DESC
		LIMIT $3
	`, s.table)

	rows, err := s.db.Query(ctx, query, q.Type, q.Source, q.Limit)
	if err != nil {
		return nil, fmt.Errorf("selhal SQL dotaz na zprávy: %w", err)
	}
	defer rows.Close()

	messages := make([]MessageDTO, 0, q.Limit)
	for rows.Next() {
		var (
			dto MessageDTO
			raw string
		)
		if err := rows.Scan(&dto.ID, &dto.ReceivedAt, &dto.Type, &dto.Source, &dto.Destination, &dto.MsgID, &raw); err != nil {
			return nil, err
		}
		dto.ReceivedAt = dto.ReceivedAt.UTC()
		dto.Raw = rawJSON(raw)
		messages = append(messages, dto)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("chyba při čtení zpráv: %w", err)
	}
	return messages, nil
}

// ListNodes vrací stanice seřazené od naposledy slyšené.
func (s *Service) ListNodes(ctx context.Context, limit int) ([]NodeDTO, error) {
	if s.redis == nil {
		return nil, ErrNodesUnavailable
	}

	// 1. Index (sorted set, skóre = unix čas posledního záznamu)
	members, err := s.redis.ZRevRangeWithScores(ctx, nodesIndexKey, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("chyba čtení indexu stanic: %w", err)
	}
	if len(members) == 0 {
		return []NodeDTO{}, nil
	}

	// 2. Detaily jedním round-tripem
	cmds := make([]*redis.MapStringStringCmd, len(members))
	_, err = s.redis.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, m := range members {
			cmds[i] = pipe.HGetAll(ctx, lastHeardKeyPrefix+fmt.Sprint(m.Member))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("chyba čtení detailu stanic: %w", err)
	}

	nodes := make([]NodeDTO, 0, len(members))
	for i, m := range members {
		nodes = append(nodes, nodeFromHash(fmt.Sprint(m.Member), m.Score, cmds[i].Val()))
	}
	return nodes, nil
}

// nodeFromHash složí NodeDTO z indexu a hashe. Hash mohl mezitím vypršet,
// pak zůstane jen čas z indexu.
func nodeFromHash(source string, score float64, fields map[string]string) NodeDTO {
	node := NodeDTO{
		Source:    source,
		LastHeard: time.Unix(int64(score), 0).UTC(),
	}
	if ts, err := time.Parse(time.RFC3339, fields["received_at"]); err == nil {
		node.LastHeard = ts.UTC()
	}
	node.Type = fields["type"]
	node.Destination = fields["destination"]
	return node
}

// rawJSON vrátí uložený text jako JSON. Poškozený záznam pošleme jako string.
func rawJSON(raw string) []byte {
	b := []byte(raw)
	if json.Valid(b) {
		return b
	}
	quoted, _ := json.Marshal(raw)
	return quoted
}
