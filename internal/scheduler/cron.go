package scheduler

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

type cronRunner struct {
	c *cron.Cron
}

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct {
	log zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error().Err(err).Fields(keysAndValues).Msg(msg)
}

// Start registers the daily refresh, the file-update scan and the weekly
// forced refresh. Enqueue failures are logged; the schedule keeps running.
func (s *Service) Start(ctx context.Context) error {
	if s.cron != nil {
		return fmt.Errorf("scheduler already started")
	}
	logger := cronLogger{log: s.log}
	c := cron.New(
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)

	schedules := []struct {
		name    string
		spec    string
		enqueue func(context.Context) (string, error)
	}{
		{"daily-refresh", s.opts.DailySpec, s.EnqueueDailyRefresh},
		{"file-scan", s.opts.ScanSpec, s.EnqueueScan},
		{"weekly-refresh", s.opts.WeeklySpec, s.EnqueueWeeklyRefresh},
	}
	for _, sc := range schedules {
		if sc.spec == "" {
			s.log.Info().Str("schedule", sc.name).Msg("schedule disabled")
			continue
		}
		sc := sc
		_, err := c.AddFunc(sc.spec, func() {
			id, err := sc.enqueue(ctx)
			if err != nil {
				s.log.Error().Err(err).Str("schedule", sc.name).Msg("scheduled enqueue failed")
				return
			}
			s.log.Info().Str("schedule", sc.name).Str("job_id", id).Msg("scheduled job enqueued")
		})
		if err != nil {
			return fmt.Errorf("schedule %s (%q): %w", sc.name, sc.spec, err)
		}
		s.log.Info().Str("schedule", sc.name).Str("spec", sc.spec).Msg("schedule registered")
	}

	c.Start()
	s.cron = &cronRunner{c: c}
	return nil
}

// Stop halts the schedules and waits for a running enqueue to return.
func (s *Service) Stop() {
	if s.cron == nil {
		return
	}
	<-s.cron.c.Stop().Done()
	s.cron = nil
}

// ValidateSpec reports whether spec parses as a standard five-field cron
// expression.
func ValidateSpec(spec string) error {
	if spec == "" {
		return nil
	}
	if _, err := cron.ParseStandard(spec); err != nil {
		return fmt.Errorf("invalid cron spec %q: %w", spec, err)
	}
	return nil
}
