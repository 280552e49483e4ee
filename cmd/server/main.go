package main

import (
	"context"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"market-stream/internal/auth"
	"market-stream/internal/chat"
	"market-stream/internal/config"
	"market-stream/internal/feed"
	"market-stream/internal/hub"
	"market-stream/internal/market"
	"market-stream/internal/ratelimit"
	"market-stream/internal/stream"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	users, err := cfg.UsersList()
	if err != nil {
		logger.Fatal("Failed to parse user roster", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Optional redis-backed connection rate limiting.
	var limiter ratelimit.Limiter
	if cfg.Redis.Enabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		limiter = ratelimit.NewRedisLimiter(rdb, cfg.Redis.RateLimit, cfg.Redis.RateWin)
	}

	sim := market.NewSimulator(
		market.RealRand{Rand: rand.New(rand.NewSource(time.Now().UnixNano()))},
		market.RealClock{},
	)

	wsHub := hub.NewHub(cfg.Market.QueueSize, logger)
	wsHub.StartReaper(ctx, cfg.Market.ReapInterval, cfg.Market.IdleTimeout)

	sinks := []market.Publisher{wsHub}

	var exporter *feed.Exporter
	if cfg.Kafka.Enabled {
		exporter = feed.NewExporter(feed.NewKafkaWriter(cfg.Kafka.Brokers, cfg.Kafka.Topic), logger)
		sinks = append(sinks, exporter)
	}

	runner := market.NewRunner(sim, market.RealClock{}, logger, market.Schedule{
		TickInterval:   cfg.Market.TickInterval,
		VolumeInterval: cfg.Market.VolumeInterval,
		SessionLength:  cfg.Market.SessionLength,
		SessionBreak:   cfg.Market.SessionBreak,
	}, sinks...)
	go runner.Run(ctx)

	store, err := chat.NewStore(cfg.Chat.DataDir)
	if err != nil {
		logger.Fatal("Failed to open chat store", zap.Error(err))
	}

	authSvc := auth.NewService(cfg.Auth.Secret, cfg.Auth.TokenTTL, users)
	gateway := chat.NewGateway(store, logger)

	mux := http.NewServeMux()
	stream.NewHandler(wsHub, sim, logger, limiter).RegisterRoutes(mux)
	chat.NewAPI(gateway, store, authSvc, logger, limiter).RegisterRoutes(mux)

	srv := &http.Server{Addr: cfg.App.Port, Handler: mux}

	go func() {
		logger.Info("Server Started", zap.String("port", cfg.App.Port))
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			logger.Fatal("HTTP Error", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	srv.Shutdown(shutdownCtx)

	if exporter != nil {
		if err := exporter.Close(); err != nil {
			logger.Error("Error closing Kafka writer", zap.Error(err))
		}
	}
	logger.Info("Shutdown Complete")
}
