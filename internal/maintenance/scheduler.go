// Package maintenance runs periodic storage upkeep on a cron schedule.
package maintenance

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"github.com/saltyorg/cookieshop/internal/events"
)

// ErrBusy is returned by RunNow while another run is in progress
var ErrBusy = errors.New("maintenance already running")

// Optimizer is the storage being maintained
type Optimizer interface {
	Optimize(ctx context.Context) error
}

// Config holds the scheduler configuration
type Config struct {
	Enabled  bool          `json:"enabled"`
	Schedule string        `json:"schedule"` // Cron expression or descriptor
	Timeout  time.Duration `json:"timeout"`
}

// DefaultConfig runs maintenance once a day
func DefaultConfig() Config {
	return Config{
		Enabled:  true,
		Schedule: "@daily",
		Timeout:  10 * time.Minute,
	}
}

// Status represents the current scheduler status
type Status struct {
	Running      bool       `json:"running"`
	Enabled      bool       `json:"enabled"`
	Schedule     string     `json:"schedule,omitempty"`
	IsOptimizing bool       `json:"is_optimizing"`
	Runs         int        `json:"runs"`
	LastRun      *time.Time `json:"last_run,omitempty"`
	LastDuration string     `json:"last_duration,omitempty"`
	LastError    string     `json:"last_error,omitempty"`
	NextRun      *time.Time `json:"next_run,omitempty"`
}

// Scheduler runs Optimize on a cron schedule and on demand
type Scheduler struct {
	target      Optimizer
	config      Config
	cron        *cron.Cron
	cronEntryID cron.EntryID
	broker      *events.Broker
	mu          sync.RWMutex
	running     bool
	optimizing  bool
	runs        int
	lastRun     *time.Time
	lastElapsed time.Duration
	lastErr     error
}

// NewScheduler creates a scheduler. Call Start to begin scheduling.
func NewScheduler(target Optimizer, config Config) *Scheduler {
	return &Scheduler{
		target: target,
		config: config,
		cron:   cron.New(),
	}
}

// SetBroker sets the broker notified after each run
func (s *Scheduler) SetBroker(broker *events.Broker) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.broker = broker
}

// Start starts the cron scheduler
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}

	s.cron.Start()
	s.running = true

	if s.config.Enabled && s.config.Schedule != "" {
		if err := s.updateSchedule(s.config.Schedule); err != nil {
			log.Warn().Err(err).Str("schedule", s.config.Schedule).Msg("Failed to set maintenance schedule")
		}
	}

	log.Info().
		Bool("enabled", s.config.Enabled).
		Str("schedule", s.config.Schedule).
		Msg("Maintenance scheduler started")
	return nil
}

// Stop stops the scheduler and waits for a scheduled run to finish
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	<-s.cron.Stop().Done()
	log.Info().Msg("Maintenance scheduler stopped")
	return nil
}

// IsRunning returns whether the scheduler is running
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// Status returns the current scheduler status
func (s *Scheduler) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	status := Status{
		Running:      s.running,
		Enabled:      s.config.Enabled,
		Schedule:     s.config.Schedule,
		IsOptimizing: s.optimizing,
		Runs:         s.runs,
		LastRun:      s.lastRun,
	}
	if s.lastRun != nil {
		status.LastDuration = s.lastElapsed.String()
	}
	if s.lastErr != nil {
		status.LastError = s.lastErr.Error()
	}

	if s.cronEntryID != 0 {
		entry := s.cron.Entry(s.cronEntryID)
		if !entry.Next.IsZero() {
			next := entry.Next
			status.NextRun = &next
		}
	}
	return status
}

// Config returns the current configuration
func (s *Scheduler) Config() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.config
}

// UpdateConfig replaces the configuration and reschedules
func (s *Scheduler) UpdateConfig(config Config) error {
	if config.Schedule != "" {
		if _, err := cron.ParseStandard(config.Schedule); err != nil {
			return fmt.Errorf("invalid schedule: %w", err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.config = config
	if config.Enabled && config.Schedule != "" {
		if err := s.updateSchedule(config.Schedule); err != nil {
			return fmt.Errorf("invalid schedule: %w", err)
		}
	} else {
		s.removeSchedule()
	}

	log.Info().
		Bool("enabled", config.Enabled).
		Str("schedule", config.Schedule).
		Msg("Maintenance config updated")
	return nil
}

// RunNow optimizes immediately. It fails with ErrBusy when a run is already
// in progress.
func (s *Scheduler) RunNow(ctx context.Context) error {
	s.mu.Lock()
	if s.optimizing {
		s.mu.Unlock()
		return ErrBusy
	}
	s.optimizing = true
	timeout := s.config.Timeout
	s.mu.Unlock()

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := time.Now()
	err := s.target.Optimize(ctx)
	elapsed := time.Since(start)

	s.mu.Lock()
	s.optimizing = false
	s.runs++
	s.lastRun = &start
	s.lastElapsed = elapsed
	s.lastErr = err
	broker := s.broker
	s.mu.Unlock()

	if err != nil {
		log.Error().Err(err).Dur("duration", elapsed).Msg("Storage maintenance failed")
		if broker != nil {
			broker.Publish(events.EventMaintenanceFailed, map[string]any{"error": err.Error()})
		}
		return fmt.Errorf("failed to optimize storage: %w", err)
	}

	log.Info().Dur("duration", elapsed).Msg("Storage maintenance completed")
	if broker != nil {
		broker.Publish(events.EventMaintenanceCompleted, map[string]any{"duration": elapsed.String()})
	}
	return nil
}

func (s *Scheduler) updateSchedule(schedule string) error {
	s.removeSchedule()

	id, err := s.cron.AddFunc(schedule, s.scheduledRun)
	if err != nil {
		return err
	}

	s.cronEntryID = id
	log.Debug().Str("schedule", schedule).Msg("Maintenance schedule updated")
	return nil
}

func (s *Scheduler) removeSchedule() {
	if s.cronEntryID != 0 {
		s.cron.Remove(s.cronEntryID)
		s.cronEntryID = 0
	}
}

func (s *Scheduler) scheduledRun() {
	log.Debug().Msg("Running scheduled storage maintenance")
	if err := s.RunNow(context.Background()); errors.Is(err, ErrBusy) {
		log.Debug().Msg("Skipping scheduled maintenance, a run is in progress")
	}
}
