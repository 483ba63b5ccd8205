package bootstrap

import (
	"context"
	"errors"
	"os"
	"sync"
	"time"

	"crm_server/adapter/in/worker"
	"crm_server/adapter/out/messaging"
	"crm_server/config"
	"crm_server/pkg/logger"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
)

// errPoolRejected leaves the stream entry pending so the reclaim loop
// redelivers it once the pool has room.
var errPoolRejected = errors.New("worker pool rejected job")

// Worker bundles the queue consumer, the processing pool and the periodic
// schedulers.
type Worker struct {
	deps *Dependencies

	pool     *worker.Pool
	consumer *messaging.Consumer
	sweeper  *worker.TimeoutSweeper
	poller   *worker.InboundPoller

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	zlog   zerolog.Logger
}

func NewWorker(cfg *config.Config) (*Worker, func(), error) {
	logLevel := logger.LevelInfo
	if cfg.IsDevelopment() {
		logLevel = logger.LevelDebug
	}
	logger.Init(logger.Config{
		Level:   logLevel,
		Service: "crm-worker",
	})

	deps, cleanup, err := NewDependencies(cfg)
	if err != nil {
		logger.WithError(err).Error("Failed to initialize dependencies")
		return nil, nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	zlog := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()

	w := &Worker{
		deps:   deps,
		ctx:    ctx,
		cancel: cancel,
		zlog:   zlog,
	}

	// Processors and pool
	triageProcessor := worker.NewTriageProcessor(
		deps.AnalysisService,
		deps.ReplyService,
		deps.ApprovalService,
		deps.EmailRepo,
		deps.RuleRepo,
	)
	knowledgeProcessor := worker.NewKnowledgeProcessor(deps.KnowledgeService)
	handler := worker.NewHandler(triageProcessor, knowledgeProcessor)

	poolConfig := worker.DefaultPoolConfig()
	poolConfig.MaxWorkers = cfg.WorkerMax
	poolConfig.QueueSize = cfg.WorkerQueueSize
	w.pool = worker.NewPool(handler, poolConfig, zlog)

	// Redis Stream consumer feeding the pool
	w.consumer = messaging.NewConsumer(deps.Redis, &messaging.ConsumerConfig{
		Group:                "crm-workers",
		Consumer:             cfg.WorkerID,
		Streams:              messaging.AllStreams,
		Handler:              &streamHandler{worker: w},
		Logger:               zlog,
		PendingCheckInterval: time.Duration(cfg.ConsumerPendingCheckSec) * time.Second,
		MaxRetries:           cfg.ConsumerMaxRetries,
	})

	// Periodic schedulers
	w.sweeper = worker.NewTimeoutSweeper(deps.ApprovalService, cfg.SweepInterval())
	if cfg.MailGatewayURL != "" {
		w.poller = worker.NewInboundPoller(deps.EmailService, cfg.InboundPollInterval())
	} else {
		logger.Warn("MAIL_GATEWAY_URL not set, inbound polling disabled")
	}

	return w, cleanup, nil
}

// streamHandler adapts Redis Stream messages to the worker pool.
type streamHandler struct {
	worker *Worker
}

func (h *streamHandler) Handle(ctx context.Context, stream string, data []byte) error {
	var payload map[string]any
	if err := json.Unmarshal(data, &payload); err != nil {
		logger.Error("Failed to parse stream payload from %s: %v", stream, err)
		return err
	}

	msg := worker.NewMessage(streamToJobType(stream), payload)
	if !h.worker.pool.Submit(msg) {
		logger.Error("Failed to submit job to pool: %s", msg.Type)
		return errPoolRejected
	}
	return nil
}

func streamToJobType(stream string) string {
	switch stream {
	case messaging.StreamClassify:
		return worker.JobEmailClassify
	case messaging.StreamDraft:
		return worker.JobReplyDraft
	case messaging.StreamIngest:
		return worker.JobKnowledgeIngest
	case messaging.StreamSend:
		return worker.JobMailSend
	default:
		return stream
	}
}

func (w *Worker) Start() {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.pool.Start()
	}()

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.zlog.Info().Msg("Starting Redis Stream Consumer...")
		if err := w.consumer.Run(w.ctx); err != nil && err != context.Canceled {
			w.zlog.Error().Err(err).Msg("Redis Stream Consumer error")
		}
	}()

	w.sweeper.Start()
	if w.poller != nil {
		w.poller.Start()
	}

	<-w.ctx.Done()
}

func (w *Worker) Stop() {
	w.cancel()

	w.sweeper.Stop()
	if w.poller != nil {
		w.poller.Stop()
	}

	w.pool.Stop()
	w.wg.Wait()
}

func (w *Worker) GetMetrics() worker.PoolMetrics {
	return w.pool.GetMetrics()
}
