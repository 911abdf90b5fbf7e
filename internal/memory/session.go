// Package memory provides per-session conversation memory backed by Redis.
// Memory is best-effort: failures degrade to an empty context and never fail
// a request.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"dev.helix.ensemble/internal/models"
)

// maxTurns bounds how many stored turns a session keeps.
const maxTurns = 20

// contextTurns is how many recent turns GetContext folds into the prompt
// context.
const contextTurns = 6

// Turn is one stored prompt/answer exchange.
type Turn struct {
	Prompt    string    `json:"prompt"`
	Answer    string    `json:"answer"`
	Timestamp time.Time `json:"timestamp"`
}

// SessionMemory is the conversation memory capability.
type SessionMemory interface {
	// GetContext returns recent conversation context for the session,
	// empty when none exists.
	GetContext(ctx context.Context, sessionID string) (string, error)
	// Store appends one exchange to the session.
	Store(ctx context.Context, sessionID string, turn Turn, ttl time.Duration) error
}

// RedisMemory stores sessions as Redis lists with a per-tier TTL.
type RedisMemory struct {
	client *redis.Client
	logger *logrus.Logger
}

// NewRedisMemory creates memory over an existing Redis client.
func NewRedisMemory(client *redis.Client, logger *logrus.Logger) *RedisMemory {
	return &RedisMemory{client: client, logger: logger}
}

func sessionKey(sessionID string) string {
	return "ensemble:session:" + sessionID
}

// GetContext renders the most recent turns as a compact context block.
func (m *RedisMemory) GetContext(ctx context.Context, sessionID string) (string, error) {
	if sessionID == "" {
		return "", nil
	}

	entries, err := m.client.LRange(ctx, sessionKey(sessionID), int64(-contextTurns), -1).Result()
	if err != nil {
		return "", fmt.Errorf("load session %s: %w", sessionID, err)
	}
	if len(entries) == 0 {
		return "", nil
	}

	var sb strings.Builder
	for _, raw := range entries {
		var turn Turn
		if err := json.Unmarshal([]byte(raw), &turn); err != nil {
			continue
		}
		fmt.Fprintf(&sb, "User: %s\nAssistant: %s\n", truncate(turn.Prompt, 300), truncate(turn.Answer, 500))
	}
	return sb.String(), nil
}

// Store appends the turn, trims the list and refreshes the TTL.
func (m *RedisMemory) Store(ctx context.Context, sessionID string, turn Turn, ttl time.Duration) error {
	if sessionID == "" {
		return nil
	}
	if turn.Timestamp.IsZero() {
		turn.Timestamp = time.Now()
	}

	payload, err := json.Marshal(turn)
	if err != nil {
		return fmt.Errorf("encode session turn: %w", err)
	}

	key := sessionKey(sessionID)
	pipe := m.client.TxPipeline()
	pipe.RPush(ctx, key, payload)
	pipe.LTrim(ctx, key, int64(-maxTurns), -1)
	if ttl > 0 {
		pipe.Expire(ctx, key, ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store session %s: %w", sessionID, err)
	}
	return nil
}

// NopMemory is the disabled-memory implementation.
type NopMemory struct{}

func (NopMemory) GetContext(context.Context, string) (string, error)       { return "", nil }
func (NopMemory) Store(context.Context, string, Turn, time.Duration) error { return nil }

// ContextFor loads session context for a request and logs instead of failing
// when the store is unreachable.
func ContextFor(ctx context.Context, mem SessionMemory, req *models.Request, logger *logrus.Logger) string {
	if mem == nil || req.SessionID == "" {
		return ""
	}
	memCtx, err := mem.GetContext(ctx, req.SessionID)
	if err != nil {
		if logger != nil {
			logger.WithError(err).WithField("session_id", req.SessionID).
				Warn("Session memory unavailable, continuing without context")
		}
		return ""
	}
	return memCtx
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
