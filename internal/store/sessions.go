package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/errandhq/errand/config"
)

// Turn is one conversation entry in a session: the user's request or the
// engine's final answer.
type Turn struct {
	Role      string    `json:"role"` // user or assistant
	Content   string    `json:"content"`
	TraceID   string    `json:"trace_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Sessions keeps per-session conversation history in Redis so follow-up
// requests can carry prior context into planning.
type Sessions struct {
	client *redis.Client
	ttl    time.Duration
}

// NewSessions connects to Redis per config. History expires after ttl; a
// zero ttl defaults to 24h.
func NewSessions(ctx context.Context, cfg config.RedisConfig, ttl time.Duration) (*Sessions, error) {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Host + ":" + cfg.Port,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	pingCtx := ctx
	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		pingCtx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Sessions{client: client, ttl: ttl}, nil
}

func sessionKey(sessionID string) string { return "errand:session:" + sessionID }

// AppendTurn pushes one turn onto the session's history and refreshes the
// expiry.
func (s *Sessions) AppendTurn(ctx context.Context, sessionID string, turn Turn) error {
	if turn.Timestamp.IsZero() {
		turn.Timestamp = time.Now()
	}
	payload, err := json.Marshal(turn)
	if err != nil {
		return fmt.Errorf("encoding turn: %w", err)
	}
	key := sessionKey(sessionID)
	pipe := s.client.TxPipeline()
	pipe.RPush(ctx, key, payload)
	pipe.Expire(ctx, key, s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("appending turn to %s: %w", sessionID, err)
	}
	return nil
}

// History returns the last n turns of a session in chronological order.
func (s *Sessions) History(ctx context.Context, sessionID string, n int) ([]Turn, error) {
	if n <= 0 {
		n = 20
	}
	raw, err := s.client.LRange(ctx, sessionKey(sessionID), int64(-n), -1).Result()
	if err != nil {
		return nil, fmt.Errorf("reading session %s: %w", sessionID, err)
	}
	turns := make([]Turn, 0, len(raw))
	for _, item := range raw {
		var t Turn
		if err := json.Unmarshal([]byte(item), &t); err != nil {
			continue
		}
		turns = append(turns, t)
	}
	return turns, nil
}

// Close releases the Redis connection.
func (s *Sessions) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}
