// Package redis implements memory.HistoryStore on Redis. Each round of a
// session is a list of JSON-encoded messages; a sorted set indexes the
// rounds of the session by number. Every write refreshes the TTL of the
// session's keys.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/flemzord/taleturn/internal/memory"
	"github.com/flemzord/taleturn/internal/provider"
)

const (
	keyPrefix  = "taleturn:history:"
	defaultTTL = 7 * 24 * time.Hour
)

// Compile-time interface check.
var _ memory.HistoryStore = (*HistoryStore)(nil)

// Config holds the Redis connection settings.
type Config struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
}

// HistoryStore is a Redis-backed memory.HistoryStore.
type HistoryStore struct {
	client *redis.Client
	ttl    time.Duration
}

// Open connects to the server described by cfg and checks it answers.
func Open(ctx context.Context, cfg Config) (*HistoryStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis: ping %s: %w: %w", cfg.Addr, memory.ErrStoreUnavailable, err)
	}
	return NewHistoryStore(client, cfg.TTL), nil
}

// NewHistoryStore wraps an existing client. A non-positive ttl selects
// seven days.
func NewHistoryStore(client *redis.Client, ttl time.Duration) *HistoryStore {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &HistoryStore{client: client, ttl: ttl}
}

// Save implements memory.HistoryStore.
func (s *HistoryStore) Save(ctx context.Context, sessionID string, round int, messages []provider.LLMMessage) error {
	if len(messages) == 0 {
		return nil
	}
	values := make([]any, len(messages))
	for i, m := range messages {
		raw, err := json.Marshal(m)
		if err != nil {
			return fmt.Errorf("redis: marshal message: %w", err)
		}
		values[i] = raw
	}

	idx, rk := s.indexKey(sessionID), s.roundKey(sessionID, round)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, rk, values...)
		pipe.ZAdd(ctx, idx, redis.Z{Score: float64(round), Member: strconv.Itoa(round)})
		pipe.Expire(ctx, rk, s.ttl)
		pipe.Expire(ctx, idx, s.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis: save round %d: %w", round, err)
	}
	return nil
}

// Query implements memory.HistoryStore.
func (s *HistoryStore) Query(ctx context.Context, sessionID string, fromRound, toRound int) ([]provider.LLMMessage, error) {
	if toRound <= fromRound {
		return nil, nil
	}
	rounds, err := s.client.ZRangeByScore(ctx, s.indexKey(sessionID), &redis.ZRangeBy{
		Min: strconv.Itoa(fromRound),
		Max: "(" + strconv.Itoa(toRound),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: query rounds: %w", err)
	}
	if len(rounds) == 0 {
		return nil, nil
	}

	cmds := make([]*redis.StringSliceCmd, len(rounds))
	_, err = s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, r := range rounds {
			cmds[i] = pipe.LRange(ctx, keyPrefix+sessionID+":r:"+r, 0, -1)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("redis: query messages: %w", err)
	}

	var out []provider.LLMMessage
	for _, cmd := range cmds {
		for _, raw := range cmd.Val() {
			var m provider.LLMMessage
			if err := json.Unmarshal([]byte(raw), &m); err != nil {
				return nil, fmt.Errorf("redis: decode message: %w", err)
			}
			out = append(out, m)
		}
	}
	return out, nil
}

// DeleteAll implements memory.HistoryStore.
func (s *HistoryStore) DeleteAll(ctx context.Context, sessionID string) (int, error) {
	idx := s.indexKey(sessionID)
	rounds, err := s.client.ZRange(ctx, idx, 0, -1).Result()
	if err != nil {
		return 0, fmt.Errorf("redis: list rounds: %w", err)
	}

	keys := make([]string, 0, len(rounds)+1)
	lens := make([]*redis.IntCmd, len(rounds))
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, r := range rounds {
			k := keyPrefix + sessionID + ":r:" + r
			keys = append(keys, k)
			lens[i] = pipe.LLen(ctx, k)
		}
		pipe.Del(ctx, append(keys, idx)...)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("redis: delete session: %w", err)
	}

	n := 0
	for _, c := range lens {
		n += int(c.Val())
	}
	return n, nil
}

// Close closes the underlying client.
func (s *HistoryStore) Close() error {
	return s.client.Close()
}

func (s *HistoryStore) indexKey(sessionID string) string {
	return keyPrefix + sessionID + ":rounds"
}

func (s *HistoryStore) roundKey(sessionID string, round int) string {
	return keyPrefix + sessionID + ":r:" + strconv.Itoa(round)
}
