package session

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

// DefaultMaxAge is how long an idle conversation is retained.
const DefaultMaxAge = 7 * 24 * time.Hour

// DefaultCleanupSchedule runs the sweep once a day.
const DefaultCleanupSchedule = "@daily"

// Cleanup periodically discards conversations that have been idle longer
// than the retention age.
type Cleanup struct {
	manager  *Manager
	maxAge   time.Duration
	schedule string
	cron     *cron.Cron
}

// NewCleanup creates a cleanup sweeper. maxAge <= 0 selects DefaultMaxAge,
// an empty schedule selects DefaultCleanupSchedule.
func NewCleanup(manager *Manager, maxAge time.Duration, schedule string) *Cleanup {
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	if schedule == "" {
		schedule = DefaultCleanupSchedule
	}
	return &Cleanup{
		manager:  manager,
		maxAge:   maxAge,
		schedule: schedule,
	}
}

// Start schedules the sweep and runs one immediately.
func (c *Cleanup) Start() error {
	if c.cron != nil {
		return fmt.Errorf("cleanup is already running")
	}

	runner := cron.New()
	if _, err := runner.AddFunc(c.schedule, func() {
		if _, err := c.Sweep(context.Background()); err != nil {
			log.Error().Err(err).Msg("Conversation cleanup failed")
		}
	}); err != nil {
		return fmt.Errorf("invalid cleanup schedule %q: %w", c.schedule, err)
	}
	runner.Start()
	c.cron = runner

	log.Info().Dur("max_age", c.maxAge).Str("schedule", c.schedule).Msg("Conversation cleanup started")

	if _, err := c.Sweep(context.Background()); err != nil {
		log.Error().Err(err).Msg("Initial conversation cleanup failed")
	}

	return nil
}

// Stop halts the schedule. In-flight sweeps finish.
func (c *Cleanup) Stop() {
	if c.cron == nil {
		return
	}
	<-c.cron.Stop().Done()
	c.cron = nil

	log.Info().Msg("Conversation cleanup stopped")
}

// Sweep resets every conversation whose last activity is older than the
// retention age and returns how many were removed.
func (c *Cleanup) Sweep(ctx context.Context) (int, error) {
	ids, err := c.manager.List()
	if err != nil {
		return 0, fmt.Errorf("failed to list conversations: %w", err)
	}

	now := time.Now()
	removed := 0

	for _, id := range ids {
		last, err := c.manager.LastActivity(id)
		if err != nil {
			log.Warn().Str("conversation_id", id).Err(err).Msg("Failed to read conversation activity")
			continue
		}
		if last.IsZero() || now.Sub(last) < c.maxAge {
			continue
		}
		if err := c.manager.Reset(ctx, id); err != nil {
			log.Warn().Str("conversation_id", id).Err(err).Msg("Failed to remove idle conversation")
			continue
		}
		removed++
	}

	if removed > 0 {
		log.Info().Int("removed", removed).Msg("Idle conversations removed")
	}

	return removed, nil
}
