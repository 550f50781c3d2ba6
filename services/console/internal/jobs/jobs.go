// Package jobs runs the periodic console tasks on a cron scheduler.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/leonardo-lacerda/InstanciaEvo/services/console/internal/analytics"
	"github.com/leonardo-lacerda/InstanciaEvo/services/console/internal/backup"
	"github.com/leonardo-lacerda/InstanciaEvo/services/console/internal/lifecycle"
)

const (
	jobTimeout    = 2 * time.Minute
	purgeSchedule = "@hourly"
)

// Purger drops expired persistence entries.
type Purger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

type Config struct {
	BackupInterval time.Duration
	HealthInterval time.Duration
	QRInterval     time.Duration
	Location       *time.Location
}

type Scheduler struct {
	cron      *cron.Cron
	tracker   *lifecycle.Tracker
	backups   *backup.Service
	analytics *analytics.Service
	purger    Purger
	logger    *slog.Logger
	base      context.Context
}

// New registers every job. A nil purger skips the purge job.
func New(cfg Config, tracker *lifecycle.Tracker, backups *backup.Service, stats *analytics.Service, purger Purger) (*Scheduler, error) {
	if tracker == nil || backups == nil || stats == nil {
		return nil, errors.New("jobs: tracker, backups and analytics are required")
	}
	loc := cfg.Location
	if loc == nil {
		loc = time.Local
	}
	logger := slog.Default().With("component", "jobs")
	s := &Scheduler{
		tracker:   tracker,
		backups:   backups,
		analytics: stats,
		purger:    purger,
		logger:    logger,
		base:      context.Background(),
	}
	s.cron = cron.New(
		cron.WithLocation(loc),
		cron.WithChain(cron.Recover(cronLogger{logger}), cron.SkipIfStillRunning(cronLogger{logger})),
	)

	entries := []struct {
		name     string
		interval time.Duration
		run      func(context.Context)
	}{
		{"backup", cfg.BackupInterval, s.Backup},
		{"health", cfg.HealthInterval, s.Health},
		{"qr_refresh", cfg.QRInterval, s.RefreshQR},
	}
	for _, e := range entries {
		if e.interval <= 0 {
			continue
		}
		if _, err := s.cron.AddFunc(every(e.interval), s.wrap(e.name, e.run)); err != nil {
			return nil, fmt.Errorf("schedule %s: %w", e.name, err)
		}
	}
	if purger != nil {
		if _, err := s.cron.AddFunc(purgeSchedule, s.wrap("purge", s.Purge)); err != nil {
			return nil, fmt.Errorf("schedule purge: %w", err)
		}
	}
	return s, nil
}

// Run starts the scheduler and blocks until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	s.base = ctx
	s.cron.Start()
	s.logger.Info("scheduler started", "jobs", len(s.cron.Entries()))
	<-ctx.Done()
	stopped := s.cron.Stop()
	select {
	case <-stopped.Done():
	case <-time.After(10 * time.Second):
		s.logger.Warn("scheduler stop timed out")
	}
	return nil
}

// Backup writes an auto-backup snapshot.
func (s *Scheduler) Backup(ctx context.Context) {
	snap, err := s.backups.Snapshot(ctx)
	if err != nil {
		s.logger.Error("auto backup failed", "err", err)
		return
	}
	s.logger.Debug("auto backup written", "instances", snap.Instances, "messages", snap.Messages, "object", snap.ObjectKey)
}

// Health classifies every instance and refreshes the dashboard counts.
func (s *Scheduler) Health(ctx context.Context) {
	report, err := s.tracker.CheckHealth(ctx)
	if err != nil {
		s.logger.Error("health check failed", "err", err)
		return
	}
	if _, err := s.analytics.Overview(ctx); err != nil {
		s.logger.Warn("persist overview failed", "err", err)
	}
	s.logger.Debug("health check finished", "healthy", report.Healthy, "total", report.Total)
}

// RefreshQR fetches a new QR payload for every instance waiting for a scan.
func (s *Scheduler) RefreshQR(ctx context.Context) {
	for _, inst := range s.tracker.WaitingForQR() {
		if ctx.Err() != nil {
			return
		}
		if _, err := s.tracker.RefreshQR(ctx, inst.ID); err != nil {
			s.logger.Warn("qr refresh failed", "instance_id", inst.ID, "err", err)
		}
	}
}

func (s *Scheduler) Purge(ctx context.Context) {
	n, err := s.purger.PurgeExpired(ctx)
	if err != nil {
		s.logger.Warn("purge expired entries failed", "err", err)
		return
	}
	if n > 0 {
		s.logger.Info("purged expired entries", "count", n)
	}
}

func (s *Scheduler) wrap(name string, run func(context.Context)) func() {
	return func() {
		ctx, cancel := context.WithTimeout(s.base, jobTimeout)
		defer cancel()
		start := time.Now()
		run(ctx)
		s.logger.Debug("job finished", "job", name, "duration_ms", time.Since(start).Milliseconds())
	}
}

func every(d time.Duration) string {
	return "@every " + d.String()
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	l *slog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debug(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Error(msg, append(keysAndValues, "err", err)...)
}
