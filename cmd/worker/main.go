package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"odportal/internal/attachments"
	"odportal/internal/config"
	"odportal/internal/logging"
	"odportal/internal/queue"
	"odportal/internal/store"
)

const sweepBatch = 100

// Worker consumes queue messages and retries cleanup of orphaned attachments.
func main() {
	cfg := config.Load()
	logger := logging.New(cfg.Production())
	defer func() { _ = logger.Sync() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("shutdown signal received")
		cancel()
	}()

	db, err := store.NewDB(ctx, cfg.DBDriver, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("db connect failed", zap.Error(err))
	}
	defer db.Close()

	redisClient := store.NewRedis(cfg.RedisAddr)
	defer redisClient.Close()

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(64)
	} else {
		q = queue.NewRedisQueue(redisClient.Client, cfg.QueueKey)
	}

	storage, err := attachments.New(cfg)
	if err != nil {
		logger.Fatal("attachment storage required by worker", zap.Error(err))
	}
	w := &worker{orphans: attachments.NewOrphans(db.Client), storage: storage, maxAttempts: cfg.OrphanMaxAttempts, logger: logger}

	sched := cron.New()
	if _, err := sched.AddFunc(cfg.OrphanSweepSchedule, func() { w.sweep(ctx) }); err != nil {
		logger.Fatal("invalid orphan sweep schedule", zap.String("schedule", cfg.OrphanSweepSchedule), zap.Error(err))
	}
	sched.Start()
	defer func() { <-sched.Stop().Done() }()

	messages, err := q.Consume(ctx)
	if err != nil {
		logger.Fatal("queue consume init failed", zap.Error(err))
	}

	logger.Info("worker started", zap.String("sweep_schedule", cfg.OrphanSweepSchedule))
	for msg := range messages {
		w.handle(ctx, msg)
	}
	logger.Info("worker stopped")
}

type worker struct {
	orphans     *attachments.Orphans
	storage     attachments.Storage
	maxAttempts int
	logger      *zap.Logger
}

func (w *worker) handle(ctx context.Context, msg queue.Message) {
	switch msg.Type {
	case queue.TypeAttachmentOrphaned:
		var p queue.AttachmentOrphaned
		if err := msg.Decode(&p); err != nil {
			w.logger.Warn("bad orphan message", zap.Error(err))
			return
		}
		w.retry(ctx, p.Key)
	case queue.TypeRequestDecided:
		var p queue.RequestDecided
		if err := msg.Decode(&p); err != nil {
			w.logger.Warn("bad decision message", zap.Error(err))
			return
		}
		w.logger.Info("od request decided",
			zap.String("request_id", p.RequestID),
			zap.String("student_id", p.StudentID),
			zap.String("teacher_id", p.TeacherID),
			zap.String("status", p.Status),
			zap.Time("decided_at", p.DecidedAt))
	default:
		w.logger.Debug("ignoring message", zap.String("type", msg.Type))
	}
}

// sweep retries every orphan still under the attempt limit.
func (w *worker) sweep(ctx context.Context) {
	pending, err := w.orphans.Pending(ctx, w.maxAttempts, sweepBatch)
	if err != nil {
		w.logger.Error("list orphaned attachments", zap.Error(err))
		return
	}
	for _, o := range pending {
		if ctx.Err() != nil {
			return
		}
		w.retry(ctx, o.Key)
	}
	if len(pending) > 0 {
		w.logger.Info("orphan sweep finished", zap.Int("count", len(pending)))
	}
}

func (w *worker) retry(ctx context.Context, key string) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := w.orphans.Retry(ctx, w.storage, key); err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		w.logger.Warn("orphan cleanup failed", zap.String("key", key), zap.Error(err))
		return
	}
	w.logger.Info("orphan cleaned", zap.String("key", key))
}
