package handlers

import (
	"context"
	"time"

	"concierge/internal/agent"
	"concierge/internal/history"
	"concierge/pkg/logging"
)

// TurnEngine runs one conversation turn.
type TurnEngine interface {
	HandleTurn(ctx context.Context, req agent.TurnRequest) (agent.TurnResult, error)
}

// SessionReader exposes the persisted conversation log.
type SessionReader interface {
	Read(ctx context.Context, sessionID string) ([]history.Turn, error)
}

// UsageRecorder persists per-user capability usage counters.
type UsageRecorder interface {
	RecordTurnUsage(ctx context.Context, user string, day time.Time, capabilities []string) error
}

// Dependencies holds all external dependencies for handlers
type Dependencies struct {
	Logger   logging.Logger
	Engine   TurnEngine
	Sessions SessionReader
	Usage    UsageRecorder
}

var deps Dependencies

// Init initializes the handlers with dependencies
func Init(d Dependencies) {
	deps = d
	deps.Logger.Info("Handlers initialized")
}
