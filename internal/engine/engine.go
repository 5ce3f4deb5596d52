// Package engine runs the reminder dispatch cycle: a periodic sweep over all
// active schedules that resolves due reminders and hands them to a notifier
// exactly once per firing window (at-least-once across crashes).
package engine

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/circle97/beman-sub001/internal/models"
	"github.com/circle97/beman-sub001/internal/schedule"
)

// ScheduleSource is the engine's read view of the schedule store.
type ScheduleSource interface {
	ListActive(ctx context.Context) ([]models.Schedule, error)
	MarkCompleted(ctx context.Context, id int) error
}

// Notifier delivers one due reminder. Failures are non-fatal to the cycle;
// the firing is retried on the next tick because it was never marked sent.
type Notifier interface {
	Notify(ctx context.Context, s models.Schedule, f models.Firing) error
}

type Config struct {
	// TickSpec is the dispatch cadence in cron syntax. Default: every minute.
	TickSpec string
	// PurgeSpec schedules the daily sweep of old sent records. Default 02:00.
	PurgeSpec string
	// LookaheadDays widens the due window for pre-notification. Default 0
	// (same-day firing only).
	LookaheadDays int
	// Retention bounds how long sent records are kept. Default 30 days.
	Retention time.Duration
}

func (c Config) withDefaults() Config {
	if c.TickSpec == "" {
		c.TickSpec = "@every 1m"
	}
	if c.PurgeSpec == "" {
		c.PurgeSpec = "0 2 * * *"
	}
	if c.LookaheadDays < 0 {
		c.LookaheadDays = 0
	}
	if c.Retention <= 0 {
		c.Retention = 30 * 24 * time.Hour
	}
	return c
}

// Cycle is the dispatch driver. It holds no cross-tick state in memory; every
// tick recomputes from the schedule and sent-record stores, so the cycle
// resumes cleanly after a restart.
type Cycle struct {
	cfg       Config
	schedules ScheduleSource
	sent      SentStore
	notifier  Notifier
	clock     Clock
	log       zerolog.Logger
	cron      *cron.Cron
}

func New(cfg Config, schedules ScheduleSource, sent SentStore, notifier Notifier, clock Clock, log zerolog.Logger) *Cycle {
	if clock == nil {
		clock = SystemClock()
	}
	return &Cycle{
		cfg:       cfg.withDefaults(),
		schedules: schedules,
		sent:      sent,
		notifier:  notifier,
		clock:     clock,
		log:       log,
	}
}

// Start registers the dispatch tick and the daily purge and begins running
// them. Ticks never overlap: if one overruns its period the next trigger is
// skipped, not queued. The purge and the tick are independent; a failure in
// one never aborts the other.
func (c *Cycle) Start() error {
	clog := cronLogger{c.log}
	c.cron = cron.New(cron.WithLocation(time.UTC))

	tick := cron.NewChain(cron.SkipIfStillRunning(clog)).Then(cron.FuncJob(func() {
		if err := c.RunTick(context.Background()); err != nil {
			c.log.Error().Err(err).Msg("dispatch tick failed")
		}
	}))
	if _, err := c.cron.AddJob(c.cfg.TickSpec, tick); err != nil {
		return err
	}

	purge := cron.NewChain(cron.SkipIfStillRunning(clog)).Then(cron.FuncJob(func() {
		if err := c.RunPurge(context.Background()); err != nil {
			c.log.Error().Err(err).Msg("sent-record purge failed")
		}
	}))
	if _, err := c.cron.AddJob(c.cfg.PurgeSpec, purge); err != nil {
		return err
	}

	c.cron.Start()
	c.log.Info().Str("tick", c.cfg.TickSpec).Str("purge", c.cfg.PurgeSpec).Msg("reminder engine started")
	return nil
}

// Stop halts the triggers and waits for any in-flight tick to finish, so a
// shutdown never aborts mid-dispatch. ctx bounds the wait.
func (c *Cycle) Stop(ctx context.Context) {
	if c.cron == nil {
		return
	}
	done := c.cron.Stop()
	select {
	case <-done.Done():
		c.log.Info().Msg("reminder engine stopped")
	case <-ctx.Done():
		c.log.Warn().Msg("gave up waiting for in-flight tick")
	}
}

// RunTick executes one full dispatch pass: fetch active schedules, resolve
// due firings per schedule, suppress already-sent ones, dispatch the rest and
// record them. Per-schedule and per-firing failures are logged and isolated;
// only a failure to fetch schedules fails the tick as a whole (and the next
// tick retries it implicitly, since ticks are stateless).
func (c *Cycle) RunTick(ctx context.Context) error {
	today := schedule.Date(c.clock.Now())

	active, err := c.schedules.ListActive(ctx)
	if err != nil {
		return err
	}

	// Per-schedule resolution has no cross-schedule dependencies; the only
	// shared resource is the sent-record store, which is atomic per key.
	var wg sync.WaitGroup
	for _, s := range active {
		s := s
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.processSchedule(ctx, s, today)
		}()
	}
	wg.Wait()
	return nil
}

func (c *Cycle) processSchedule(ctx context.Context, s models.Schedule, today time.Time) {
	// One-off schedules whose single occurrence has passed are retired on the
	// first tick that sees them and produce no firings.
	if s.Repeat() == models.RepeatNone {
		occ := schedule.NextOccurrence(s.EventDate, models.RepeatNone, today)
		if schedule.DaysUntil(occ, today) < 0 {
			if err := c.schedules.MarkCompleted(ctx, s.ID); err != nil {
				c.log.Error().Err(err).Int("schedule_id", s.ID).Msg("failed to auto-complete past schedule")
			} else {
				c.log.Info().Int("schedule_id", s.ID).Msg("auto-completed past one-off schedule")
			}
			return
		}
	}

	due, err := schedule.DueFirings(s, today, c.cfg.LookaheadDays)
	if err != nil {
		// Bad reminder config halts this schedule for the tick, nothing else.
		c.log.Error().Err(err).Int("schedule_id", s.ID).Msg("skipping schedule with invalid reminder config")
		return
	}

	for _, f := range due {
		c.dispatch(ctx, s, f)
	}
}

func (c *Cycle) dispatch(ctx context.Context, s models.Schedule, f models.Firing) {
	seen, err := c.sent.Seen(ctx, f)
	if err != nil {
		c.log.Error().Err(err).Str("firing", f.Key()).Msg("sent-record lookup failed")
		return
	}
	if seen {
		return
	}

	if err := c.notifier.Notify(ctx, s, f); err != nil {
		// Not recorded as sent, so the next tick retries it.
		c.log.Error().Err(err).Str("firing", f.Key()).Int("user_id", s.UserID).Msg("notify failed")
		return
	}

	recorded, err := c.sent.MarkSent(ctx, f)
	if err != nil {
		// Dispatched but not recorded: accepted at-most-one-duplicate window.
		c.log.Error().Err(err).Str("firing", f.Key()).Msg("failed to record sent firing")
		return
	}
	if !recorded {
		c.log.Warn().Str("firing", f.Key()).Msg("firing recorded concurrently elsewhere")
		return
	}
	c.log.Info().Str("firing", f.Key()).Int("user_id", s.UserID).Msg("reminder dispatched")
}

// RunPurge drops sent records older than the retention window to bound
// storage growth.
func (c *Cycle) RunPurge(ctx context.Context) error {
	cutoff := c.clock.Now().Add(-c.cfg.Retention)
	n, err := c.sent.PurgeBefore(ctx, cutoff)
	if err != nil {
		return err
	}
	if n > 0 {
		c.log.Info().Int64("removed", n).Time("cutoff", cutoff).Msg("purged old sent records")
	}
	return nil
}

// cronLogger adapts zerolog to cron's logger so SkipIfStillRunning can report
// skipped overlapping runs.
type cronLogger struct {
	log zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
