package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// SweepService runs the recurring expiry sweep and settlement recovery
type SweepService struct {
	sessions *SessionManager
	schedule string
	timeout  time.Duration
	logger   *zap.Logger
	cron     *cron.Cron

	mu      sync.Mutex
	running bool
}

// NewSweepService creates a sweep scheduled by a cron spec such as
// "@every 15s"
func NewSweepService(sessions *SessionManager, schedule string, logger *zap.Logger) *SweepService {
	return &SweepService{
		sessions: sessions,
		schedule: schedule,
		timeout:  time.Minute,
		logger:   logger,
		cron:     cron.New(cron.WithLocation(time.UTC)),
	}
}

// Start registers the job and starts the scheduler
func (s *SweepService) Start() error {
	if _, err := s.cron.AddFunc(s.schedule, s.tick); err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", s.schedule, err)
	}
	s.cron.Start()
	s.logger.Info("redemption sweep started", zap.String("schedule", s.schedule))
	return nil
}

// Stop stops the scheduler and waits for a running sweep to finish
func (s *SweepService) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info("redemption sweep stopped")
}

// tick skips when the previous run is still going
func (s *SweepService) tick() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	s.RunOnce(ctx)
}

// RunOnce expires lapsed sessions and resumes stalled settlements
func (s *SweepService) RunOnce(ctx context.Context) (expired, resumed int) {
	expired, err := s.sessions.ExpireDue(ctx)
	if err != nil {
		s.logger.Error("expiry sweep failed", zap.Error(err))
	} else if expired > 0 {
		s.logger.Info("expiry sweep completed", zap.Int("expired", expired))
	}

	resumed, err = s.sessions.ResumeApproved(ctx)
	if err != nil {
		s.logger.Error("settlement recovery failed", zap.Error(err))
	}
	return expired, resumed
}
