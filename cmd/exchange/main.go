// Command exchange runs the order intake and market data service.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/quantaex/core/api"
	"github.com/quantaex/core/internal/config"
	"github.com/quantaex/core/internal/copytrade"
	"github.com/quantaex/core/internal/database"
	"github.com/quantaex/core/internal/market"
	"github.com/quantaex/core/internal/marketdata"
	"github.com/quantaex/core/internal/orders"
	"github.com/quantaex/core/internal/wallet"
	"github.com/quantaex/core/pkg/logger"
)

func main() {
	// Missing .env is fine in containerized deployments.
	_ = godotenv.Load()

	cfg, err := config.LoadConfig(os.Getenv("QUANTAEX_CONFIG_PATH"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.NewLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := run(cfg, log); err != nil {
		log.Fatal("service failed", zap.Error(err))
	}
}

func run(cfg *config.Config, log *zap.Logger) error {
	db, err := database.NewPostgresDB(cfg.Database.DSN, cfg.Database.MaxOpenConns,
		cfg.Database.MaxIdleConns, cfg.Database.ConnMaxLifetime)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := database.Migrate(db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	registry := market.NewRegistry(log, db)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	err = registry.Load(ctx)
	cancel()
	if err != nil {
		return fmt.Errorf("failed to load trading pairs: %w", err)
	}

	var rdb *redis.Client
	if cfg.Redis.Enabled {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
	}
	reader := market.NewReader(log, db, rdb)

	var mirror marketdata.PubSubBackend
	if cfg.Kafka.Enabled && cfg.Kafka.MarketTopic != "" {
		kp := marketdata.NewKafkaPubSub(cfg.Kafka.Brokers, cfg.Kafka.MarketTopic)
		defer kp.Close()
		mirror = kp
	} else if cfg.Redis.Enabled {
		rp := marketdata.NewRedisPubSub(cfg.Redis.Address, cfg.Redis.Password, cfg.Redis.DB)
		defer rp.Close()
		mirror = rp
	}

	hub := marketdata.NewHub(log, cfg.MarketData.SendQueueSize)
	mux := marketdata.NewMux(log, reader, hub, registry, mirror, marketdata.Options{
		PollInterval: cfg.MarketData.PollInterval,
		TradeLimit:   cfg.MarketData.TradeLimit,
		CandleLimit:  cfg.MarketData.CandleLimit,
		DefaultDepth: cfg.MarketData.DefaultDepth,
	})
	defer mux.Stop()
	gateway := marketdata.NewGateway(log, hub, mux)

	wallets := wallet.NewService(log, db)
	store := orders.NewGormStore(db, log)
	validator := orders.NewValidator(log, registry, store)

	var copyQueue orders.CopyTradeQueue
	if cfg.Kafka.Enabled && cfg.Kafka.CopyTradeTopic != "" {
		fanout := copytrade.NewFanout(log, cfg.Kafka.Brokers, cfg.Kafka.CopyTradeTopic)
		defer fanout.Close()
		copyQueue = fanout
	}

	ordersSvc := orders.NewService(log, validator, store, reader, wallets, mux, copyQueue)
	server := api.NewServer(log, ordersSvc, reader, registry, gateway)

	errCh := make(chan error, 1)
	go func() {
		addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
		errCh <- server.Start(addr)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return err
	case sig := <-quit:
		log.Info("shutting down", zap.String("signal", sig.String()))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Stop(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	return nil
}
