// Package stats persists per-user, per-day counters of assistant
// capability usage. Recording is best-effort: a stats failure must never
// fail the turn it describes.
package stats

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// Store writes usage counters to Postgres.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// imageCapability marks a turn as having used image generation.
const imageCapability = "generate_image"

// RecordTurnUsage increments the day's counter for every capability the
// turn invoked, and flips the image flag when an image capability ran.
func (s *Store) RecordTurnUsage(ctx context.Context, user string, day time.Time, capabilities []string) error {
	if user == "" || len(capabilities) == 0 {
		return nil
	}
	dayKey := day.UTC().Format("2006-01-02")

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin usage transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	usedImages := false
	for _, capability := range capabilities {
		if strings.HasPrefix(capability, imageCapability) {
			usedImages = true
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO concierge.assistant_usage (user_name, day, capability, invocations)
			VALUES ($1, $2, $3, 1)
			ON CONFLICT (user_name, day, capability)
			DO UPDATE SET invocations = concierge.assistant_usage.invocations + 1
		`, user, dayKey, capability); err != nil {
			return fmt.Errorf("upsert usage for %s: %w", capability, err)
		}
	}

	if usedImages {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO concierge.assistant_usage_days (user_name, day, used_images)
			VALUES ($1, $2, TRUE)
			ON CONFLICT (user_name, day)
			DO UPDATE SET used_images = TRUE
		`, user, dayKey); err != nil {
			return fmt.Errorf("flag image usage: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit usage transaction: %w", err)
	}
	return nil
}
