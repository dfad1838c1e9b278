package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"studyflow/internal/broadcast"
	"studyflow/internal/clock"
	"studyflow/internal/config"
	"studyflow/internal/notify"
	"studyflow/internal/presence"
	"studyflow/internal/queue"
	"studyflow/internal/store"
	"studyflow/internal/tardiness"
)

// Worker consumes evaluation jobs and runs a periodic sweep over every
// student so lateness is detected even when no request ever arrives.
func main() {
	cfg := config.Load()

	logger, err := zap.NewProduction()
	if cfg.Env != "production" && cfg.Env != "prod" {
		logger, err = zap.NewDevelopment()
	}
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("shutdown signal received")
		cancel()
	}()

	clk, err := clock.New(cfg.Timezone)
	if err != nil {
		logger.Fatal("invalid timezone", zap.String("timezone", cfg.Timezone), zap.Error(err))
	}

	db, err := store.NewDB(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("db connect failed", zap.Error(err))
	}
	defer db.Close()

	redisClient := store.NewRedis(cfg.RedisAddr)

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(64)
	} else {
		q = queue.NewRedisQueue(redisClient.Client, "studyflow:evaluations")
	}

	repo := presence.NewRepository(db.Client, logger)
	if err := repo.EnsureSchema(ctx); err != nil {
		logger.Fatal("schema init failed", zap.Error(err))
	}

	// The worker has no live subscribers; the hub exists so created
	// notifications follow the same path as in the API process.
	hub := broadcast.NewHub(logger)
	defer hub.Shutdown()

	sms := notify.NewSMSClient(cfg.SMSEndpoint, cfg.SMSAPIKey, cfg.SMSUserID, cfg.SMSSender, cfg.SMSTestMode)
	notifier := notify.NewNotifier(repo, hub, clk, sms, logger)
	eval := tardiness.NewEvaluator(repo, notifier, clk, logger)

	messages, err := q.Consume(ctx)
	if err != nil {
		logger.Fatal("queue consume init failed", zap.Error(err))
	}

	// Periodic sweep: every student gets re-evaluated each interval.
	// Dedup in the store makes repeated evaluation idempotent.
	go func() {
		ticker := time.NewTicker(cfg.EvalInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				ids, err := repo.ListStudentIDs(ctx)
				if err != nil {
					logger.Warn("sweep: list students failed", zap.Error(err))
					continue
				}
				for _, id := range ids {
					if err := eval.EvaluateAll(ctx, id); err != nil {
						logger.Warn("sweep: evaluate failed", zap.String("student_id", id), zap.Error(err))
					}
				}
			}
		}
	}()

	logger.Info("worker started", zap.Duration("eval_interval", cfg.EvalInterval))
	for msg := range messages {
		if msg.Type != queue.TypeEvaluate {
			continue
		}
		id := string(msg.Body)
		if err := eval.EvaluateAll(ctx, id); err != nil {
			logger.Warn("evaluate failed", zap.String("student_id", id), zap.Error(err))
		}
	}

	logger.Info("worker stopped")
}
