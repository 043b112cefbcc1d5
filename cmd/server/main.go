package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"campanile/attendance/internal/config"
	"campanile/attendance/internal/db"
	"campanile/attendance/internal/events"
	internalhttp "campanile/attendance/internal/http"
	"campanile/attendance/internal/jobs"
	"campanile/attendance/internal/report"
	"campanile/attendance/internal/scan"
	"campanile/attendance/internal/teacherday"
	"campanile/attendance/internal/timerule"
)

func main() {
	cfg := config.Load()

	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("db connection failed", zap.Error(err))
	}
	defer pool.Close()

	store := db.NewStore(pool)

	var (
		ruleCache timerule.Cache   = timerule.NopCache{}
		publisher events.Publisher = events.NopPublisher{}
	)
	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := redisClient.Ping(pingCtx).Err(); err != nil {
			cancel()
			logger.Fatal("redis ping failed", zap.Error(err))
		}
		cancel()
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close error", zap.Error(err))
			}
		}()
		ruleCache = timerule.NewRedisCache(redisClient, cfg.RuleCacheTTL, logger)
		publisher = events.NewRedisPublisher(redisClient, cfg.EventChannel, logger)
	}

	rules := timerule.NewStore(store.Queries, ruleCache).WithTxRunner(store)
	machine := teacherday.NewMachine(store.Queries, store.Queries, store.Queries)
	lookup := scan.NewLookup(store.Queries)
	recorder := scan.NewRecorder(lookup, store.Queries, store.Queries, store.Queries, store.Queries, machine)
	reports := report.NewService(store.Queries)

	if _, err := jobs.StartDayCloseJobs(ctx, cfg, machine, logger); err != nil {
		logger.Fatal("day close jobs init failed", zap.Error(err))
	}

	server := internalhttp.NewServer(cfg, rules, recorder, machine, reports, publisher, logger)
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           server.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("attendance http listening", zap.String("addr", cfg.HTTPAddr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown error", zap.Error(err))
	}
}
