package worker

import (
	"context"
	"sync"
	"time"

	"crm_server/core/service/email"
	"crm_server/pkg/logger"
)

// InboundPoller periodically pulls unseen messages from the mail gateway.
// Intake deduplicates on message id, so an overlap between polls is
// harmless.
type InboundPoller struct {
	emailService *email.Service
	pollInterval time.Duration
	ctx          context.Context
	cancel       context.CancelFunc

	mu        sync.Mutex
	lastPoll  time.Time
	hasPolled bool
}

// NewInboundPoller creates a poller. A non-positive interval gets one
// minute.
func NewInboundPoller(emailService *email.Service, pollInterval time.Duration) *InboundPoller {
	if pollInterval <= 0 {
		pollInterval = time.Minute
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &InboundPoller{
		emailService: emailService,
		pollInterval: pollInterval,
		ctx:          ctx,
		cancel:       cancel,
	}
}

// Start starts the poll loop.
func (p *InboundPoller) Start() {
	logger.Info("[InboundPoller] Starting with interval %v", p.pollInterval)
	go p.run()
}

// Stop stops the poll loop.
func (p *InboundPoller) Stop() {
	logger.Info("[InboundPoller] Stopping...")
	p.cancel()
}

func (p *InboundPoller) run() {
	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	p.poll()

	for {
		select {
		case <-p.ctx.Done():
			logger.Info("[InboundPoller] Stopped")
			return
		case <-ticker.C:
			p.poll()
		}
	}
}

func (p *InboundPoller) poll() {
	ctx, cancel := context.WithTimeout(p.ctx, 2*time.Minute)
	defer cancel()

	// First poll fetches everything the gateway still marks unseen; later
	// polls look back one interval past the previous poll.
	var since *time.Time
	p.mu.Lock()
	if p.hasPolled {
		cutoff := p.lastPoll.Add(-p.pollInterval)
		since = &cutoff
	}
	started := time.Now()
	p.mu.Unlock()

	taken, err := p.emailService.PullInbound(ctx, since)
	if err != nil {
		logger.Error("[InboundPoller] Pull failed: %v", err)
		return
	}

	p.mu.Lock()
	p.lastPoll = started
	p.hasPolled = true
	p.mu.Unlock()

	if taken > 0 {
		logger.Info("[InboundPoller] Took in %d new messages", taken)
	}
}
