package worker

import (
	"context"
	"time"

	"crm_server/core/service/approval"
	"crm_server/pkg/logger"
)

const sweepBatchLimit = 100

// TimeoutSweeper periodically expires approval tasks whose review window
// has passed. Expiry uses the same conditional update as reviewer
// decisions, so a sweep racing an approve loses cleanly.
type TimeoutSweeper struct {
	approvalService *approval.Service
	checkInterval   time.Duration
	ctx             context.Context
	cancel          context.CancelFunc
}

// NewTimeoutSweeper creates a sweeper. A non-positive interval gets one
// minute.
func NewTimeoutSweeper(approvalService *approval.Service, checkInterval time.Duration) *TimeoutSweeper {
	if checkInterval <= 0 {
		checkInterval = time.Minute
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &TimeoutSweeper{
		approvalService: approvalService,
		checkInterval:   checkInterval,
		ctx:             ctx,
		cancel:          cancel,
	}
}

// Start starts the sweep loop.
func (s *TimeoutSweeper) Start() {
	logger.Info("[TimeoutSweeper] Starting with interval %v", s.checkInterval)
	go s.run()
}

// Stop stops the sweep loop.
func (s *TimeoutSweeper) Stop() {
	logger.Info("[TimeoutSweeper] Stopping...")
	s.cancel()
}

func (s *TimeoutSweeper) run() {
	ticker := time.NewTicker(s.checkInterval)
	defer ticker.Stop()

	s.sweep()

	for {
		select {
		case <-s.ctx.Done():
			logger.Info("[TimeoutSweeper] Stopped")
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

func (s *TimeoutSweeper) sweep() {
	ctx, cancel := context.WithTimeout(s.ctx, time.Minute)
	defer cancel()

	expired, err := s.approvalService.ExpireSweep(ctx, time.Now(), sweepBatchLimit)
	if err != nil {
		logger.Error("[TimeoutSweeper] Sweep failed: %v", err)
		return
	}
	if expired > 0 {
		logger.Info("[TimeoutSweeper] Expired %d overdue approval tasks", expired)
	}
}
