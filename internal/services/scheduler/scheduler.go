// Package scheduler triggers measurement cycles on a cron schedule.
package scheduler

import (
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	logx "linkpulse/pkg/logx"
)

// Config mirrors config.SchedulerConfig with the schedule already validated.
type Config struct {
	Enabled  bool
	Schedule string
	Timezone string
}

// Service runs one cron entry that fires the supplied trigger. The trigger
// is expected to be cheap and idempotent (StartTest is a no-op while a cycle
// runs), so overlapping fires are harmless.
type Service struct {
	log     logx.Logger
	parser  cron.Parser
	trigger func()

	mu  sync.Mutex
	cfg Config
	c   *cron.Cron
}

func New(cfg Config, trigger func(), log logx.Logger) *Service {
	return &Service{
		cfg:     cfg,
		trigger: trigger,
		log:     log,
		// SecondOptional allows both 5-field and 6-field (with seconds) specs.
		parser: cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
	}
}

// Start begins scheduling if enabled. Safe to call again after Stop.
func (s *Service) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startLocked()
}

func (s *Service) startLocked() error {
	if s.c != nil || !s.cfg.Enabled || strings.TrimSpace(s.cfg.Schedule) == "" {
		return nil
	}

	loc := time.Local
	if tz := strings.TrimSpace(s.cfg.Timezone); tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			s.log.Warn("bad timezone, using local", logx.String("tz", tz), logx.Err(err))
		} else {
			loc = l
		}
	}

	c := cron.New(cron.WithParser(s.parser), cron.WithLocation(loc))
	if _, err := c.AddFunc(s.cfg.Schedule, s.fire); err != nil {
		return err
	}
	c.Start()
	s.c = c
	s.log.Info("scheduler started", logx.String("schedule", s.cfg.Schedule), logx.String("tz", loc.String()))
	return nil
}

func (s *Service) fire() {
	s.log.Debug("scheduled cycle trigger")
	s.trigger()
}

// Stop halts scheduling; in-flight triggers finish on their own.
func (s *Service) Stop() {
	s.mu.Lock()
	c := s.c
	s.c = nil
	s.mu.Unlock()
	if c != nil {
		<-c.Stop().Done()
		s.log.Info("scheduler stopped")
	}
}

// Apply swaps configuration, restarting the cron entry when the schedule,
// timezone, or enabled flag changed.
func (s *Service) Apply(cfg Config) error {
	s.mu.Lock()
	if cfg == s.cfg {
		s.mu.Unlock()
		return nil
	}
	s.cfg = cfg
	c := s.c
	s.c = nil
	s.mu.Unlock()

	if c != nil {
		<-c.Stop().Done()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startLocked()
}
