package daemon

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron/v2"

	"git.home.luguber.info/inful/relforge/internal/config"
	"git.home.luguber.info/inful/relforge/internal/logfields"
	"git.home.luguber.info/inful/relforge/internal/pipeline"
)

// Scheduler runs recurring trunk builds from the configured schedules.
type Scheduler struct {
	scheduler gocron.Scheduler
	daemon    *Daemon
}

// NewScheduler creates the gocron-backed scheduler.
func NewScheduler(d *Daemon) (*Scheduler, error) {
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}
	return &Scheduler{scheduler: s, daemon: d}, nil
}

// Apply replaces all scheduled jobs with the given schedule entries.
// Called at startup and again after every config reload.
func (s *Scheduler) Apply(schedules []config.ScheduleConfig) error {
	s.scheduler.RemoveByTags("schedule")
	for _, entry := range schedules {
		interval, err := time.ParseDuration(entry.Interval)
		if err != nil {
			return fmt.Errorf("schedule %s: bad interval %q: %w", entry.Name, entry.Interval, err)
		}
		name := entry.Name
		_, err = s.scheduler.NewJob(
			gocron.DurationJob(interval),
			gocron.NewTask(func() { s.fire(name) }),
			gocron.WithName(name),
			gocron.WithTags("schedule"),
		)
		if err != nil {
			return fmt.Errorf("schedule %s: %w", entry.Name, err)
		}
		slog.Info("schedule registered",
			logfields.Name(entry.Name),
			slog.String("interval", entry.Interval))
	}
	return nil
}

// fire dispatches one scheduled trunk build.
func (s *Scheduler) fire(name string) {
	trigger := pipeline.Trigger{
		Kind:     pipeline.TriggerSchedule,
		Ref:      s.daemon.Config().Project.TrunkBranch,
		Schedule: name,
	}
	slog.Info("scheduled run firing", logfields.Name(name), logfields.Ref(trigger.Ref))
	if err := s.daemon.Dispatch(trigger); err != nil {
		slog.Error("scheduled dispatch failed", logfields.Name(name), logfields.Error(err))
	}
}

// Start begins executing schedules.
func (s *Scheduler) Start() { s.scheduler.Start() }

// Stop shuts the scheduler down, waiting for running tasks.
func (s *Scheduler) Stop() error { return s.scheduler.Shutdown() }
