package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"concierge/pkg/logging"
)

// Turn roles, matching the chat-completion roles the agent emits.
const (
	RoleSystem    = "system"
	RoleHuman     = "human"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// ErrStoreUnavailable reports that the session store could not be reached.
// Callers must abort the turn rather than answer without persisted history.
var ErrStoreUnavailable = errors.New("session store unavailable")

// Turn is one entry in a session's conversation log.
type Turn struct {
	ID         string `json:"id"`
	Role       string `json:"role"`
	Content    string `json:"content"`
	ToolCallID string `json:"tool_call_id,omitempty"`
}

// NewTurn creates a turn with a fresh id.
func NewTurn(role, content string) Turn {
	return Turn{ID: uuid.New().String(), Role: role, Content: content}
}

const (
	keyPrefix  = "assistant:session:"
	DefaultTTL = 10 * time.Minute
)

// Store is an append-only per-session conversation log on Redis lists.
// Every append refreshes the session's TTL, so a session expires only
// after DefaultTTL of inactivity.
type Store struct {
	client goredis.UniversalClient
	ttl    time.Duration
	logger logging.Logger
}

func NewStore(client goredis.UniversalClient, ttl time.Duration, logger logging.Logger) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{client: client, ttl: ttl, logger: logger}
}

// Append appends turns to the session log and refreshes its TTL.
func (s *Store) Append(ctx context.Context, sessionID string, turns []Turn) error {
	if len(turns) == 0 {
		return nil
	}

	values := make([]interface{}, 0, len(turns))
	for _, turn := range turns {
		if turn.ID == "" {
			turn.ID = uuid.New().String()
		}
		data, err := json.Marshal(turn)
		if err != nil {
			return fmt.Errorf("marshal turn: %w", err)
		}
		values = append(values, data)
	}

	key := keyPrefix + sessionID
	pipe := s.client.TxPipeline()
	pipe.RPush(ctx, key, values...)
	pipe.Expire(ctx, key, s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		s.logger.WithError(err).WithField("session_id", sessionID).Error("Failed to append session history")
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// Read returns the full session log in append order. A missing session
// yields an empty slice, not an error.
func (s *Store) Read(ctx context.Context, sessionID string) ([]Turn, error) {
	raw, err := s.client.LRange(ctx, keyPrefix+sessionID, 0, -1).Result()
	if err != nil {
		s.logger.WithError(err).WithField("session_id", sessionID).Error("Failed to read session history")
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	turns := make([]Turn, 0, len(raw))
	for _, item := range raw {
		var turn Turn
		if err := json.Unmarshal([]byte(item), &turn); err != nil {
			// A corrupt entry is skipped rather than poisoning the session.
			s.logger.WithError(err).WithField("session_id", sessionID).Warn("Skipping malformed history entry")
			continue
		}
		turns = append(turns, turn)
	}
	return turns, nil
}
