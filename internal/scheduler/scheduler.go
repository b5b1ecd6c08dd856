// Package scheduler runs the gateway's periodic background tasks: idle
// session sweeps, audit log retention and the telemetry heartbeat.
package scheduler

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Nozemi/rsmod/internal/config"
	"github.com/Nozemi/rsmod/internal/telemetry"
	"github.com/Nozemi/rsmod/internal/util"
)

// DefaultStatusInterval is how often the heartbeat is published.
const DefaultStatusInterval = time.Minute

// Gateway is the part of the client gateway the scheduler drives.
type Gateway interface {
	SweepStale() int
	SessionCount() int
}

// Purger deletes audit entries older than a cutoff.
type Purger interface {
	Purge(ctx context.Context, cutoff time.Time) (int64, error)
}

// StatusPublisher receives the periodic heartbeat.
type StatusPublisher interface {
	PublishStatus(s telemetry.Status)
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithPurger enables audit retention.
func WithPurger(p Purger) Option {
	return func(s *Scheduler) { s.purger = p }
}

// WithStatusPublisher enables the heartbeat.
func WithStatusPublisher(p StatusPublisher, interval time.Duration) Option {
	return func(s *Scheduler) {
		s.status = p
		if interval > 0 {
			s.statusInterval = interval
		}
	}
}

// Scheduler manages periodic background tasks.
type Scheduler struct {
	cfg     *config.Config
	gateway Gateway
	device  string
	opcodes int

	purger         Purger
	status         StatusPublisher
	statusInterval time.Duration
	now            func() time.Time
}

// NewScheduler creates a new task scheduler. device and opcodes are reported
// in the heartbeat.
func NewScheduler(cfg *config.Config, gateway Gateway, device string, opcodes int, opts ...Option) *Scheduler {
	s := &Scheduler{
		cfg:            cfg,
		gateway:        gateway,
		device:         device,
		opcodes:        opcodes,
		statusInterval: DefaultStatusInterval,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start runs every enabled task and blocks until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	log.Info().Msg("scheduler started")

	gw := s.cfg.GetGateway()
	if gw.IdleTimeoutSec > 0 && gw.StaleSweepIntervalSec > 0 {
		go s.runEvery(ctx, gw.StaleSweepInterval(), s.sweep)
	}

	if s.purger != nil {
		go s.runPurgeLoop(ctx)
	}

	if s.status != nil {
		go s.runEvery(ctx, s.statusInterval, s.publishStatus)
	}

	<-ctx.Done()
	log.Info().Msg("scheduler stopped")
}

func (s *Scheduler) runEvery(ctx context.Context, interval time.Duration, task func(context.Context)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			task(ctx)
		}
	}
}

// sweep closes idle sessions the netpoll idle timer has not caught yet.
func (s *Scheduler) sweep(context.Context) {
	if n := s.gateway.SweepStale(); n > 0 {
		log.Info().Int("closed", n).Msg("stale session sweep completed")
	}
}

// runPurgeLoop runs the retention purge once at startup and then daily at
// the configured time.
func (s *Scheduler) runPurgeLoop(ctx context.Context) {
	s.purge(ctx)

	for {
		nextRun, err := s.nextPurgeTime()
		if err != nil {
			log.Error().Err(err).Msg("audit purge disabled")
			return
		}

		log.Info().
			Time("next_run", nextRun).
			Dur("sleep", time.Until(nextRun)).
			Msg("audit purge scheduled")

		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Until(nextRun)):
			s.purge(ctx)
		}
	}
}

// purge deletes audit entries past the retention window.
func (s *Scheduler) purge(ctx context.Context) {
	audit := s.cfg.GetApplicationData().Audit
	cutoff := s.now().Add(-time.Duration(audit.RetentionDays) * 24 * time.Hour)

	deleted, err := s.purger.Purge(ctx, cutoff)
	if err != nil {
		log.Warn().Err(err).Msg("audit purge failed")
		return
	}

	log.Info().
		Int64("deleted", deleted).
		Int("retention_days", audit.RetentionDays).
		Time("cutoff", cutoff).
		Msg("audit purge completed")
}

// nextPurgeTime returns the next occurrence of the configured purge time.
func (s *Scheduler) nextPurgeTime() (time.Time, error) {
	hour, minute, err := config.ParseClock(s.cfg.GetApplicationData().Audit.PurgeTime)
	if err != nil {
		return time.Time{}, err
	}
	return nextDaily(s.now(), hour, minute), nil
}

// nextDaily returns the first hour:minute strictly after now.
func nextDaily(now time.Time, hour, minute int) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

func (s *Scheduler) publishStatus(context.Context) {
	diskPath := filepath.Dir(s.cfg.GetApplicationData().Audit.DBPath)
	status := telemetry.Status{
		Device:      s.device,
		Connections: s.gateway.SessionCount(),
		Opcodes:     s.opcodes,
		Resources:   util.GetResourceUsage(diskPath),
	}
	s.status.PublishStatus(status)

	log.Debug().
		Int("connections", status.Connections).
		Str("rss", formatBytes(int64(status.Resources.ProcessRSSMB)*1024*1024)).
		Msg("status published")
}

// formatBytes formats bytes into human-readable format.
func formatBytes(bytes int64) string {
	const (
		KB = 1024
		MB = KB * 1024
		GB = MB * 1024
	)

	switch {
	case bytes >= GB:
		return fmt.Sprintf("%.2f GB", float64(bytes)/float64(GB))
	case bytes >= MB:
		return fmt.Sprintf("%.2f MB", float64(bytes)/float64(MB))
	case bytes >= KB:
		return fmt.Sprintf("%.2f KB", float64(bytes)/float64(KB))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
