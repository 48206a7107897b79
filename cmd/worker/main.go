package main

import (
	"context"
	"errors"
	"log"
	"os/signal"
	"syscall"

	"github.com/ariefcatur/go-stock-engine/internal/config"
	"github.com/ariefcatur/go-stock-engine/internal/inventory"
	kafkax "github.com/ariefcatur/go-stock-engine/internal/kafka"
	"github.com/ariefcatur/go-stock-engine/internal/logging"
	"github.com/ariefcatur/go-stock-engine/internal/orders"
	"github.com/ariefcatur/go-stock-engine/internal/postgres"
	"github.com/ariefcatur/go-stock-engine/internal/projector"
	"github.com/ariefcatur/go-stock-engine/internal/redisx"
	"github.com/ariefcatur/go-stock-engine/internal/tracing"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var _ inventory.Locker = (*redisx.Locker)(nil)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	if cfg.Kafka.Topic == "" {
		cfg.Kafka.Topic = orders.TopicOrderEvents
	}
	service := cfg.ServiceName + "-worker"

	logger, err := logging.New(cfg.Logger, service)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Init(ctx, cfg.Tracing, service, logger)
	if err != nil {
		logger.Fatal("tracing init", zap.Error(err))
	}
	defer func() { _ = shutdownTracing(context.WithoutCancel(ctx)) }()

	// DB
	db, err := postgres.Connect(ctx, cfg.Postgres)
	if err != nil {
		logger.Fatal("db connect", zap.Error(err))
	}
	defer db.Close()
	st := postgres.NewStore(db, cfg.Postgres, logger)

	// Redis
	rdb, err := redisx.Connect(ctx, cfg.Redis)
	if err != nil {
		logger.Fatal("redis connect", zap.Error(err))
	}
	defer rdb.Close()

	// Producer for OrderExpired
	prod := kafkax.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic, 1024, logger)
	prod.Start(ctx)
	defer func() {
		prod.Close()
		prod.WaitClosed()
	}()

	sweeper := inventory.NewSweeper(st, inventory.NewLedger(),
		&orders.Publisher{Producer: prod, Service: service},
		redisx.NewLocker(rdb), logger,
		inventory.SweeperConfig{
			ExpiryInterval:        cfg.Inventory.ExpiryInterval,
			StaleOrderInterval:    cfg.Inventory.StaleOrderInterval,
			PendingPaymentTimeout: cfg.Inventory.PendingPaymentTimeout,
			StaleOrderBatch:       cfg.Inventory.StaleOrderBatch,
			LockTTL:               cfg.Inventory.SweepLockTTL,
		})

	proj := &projector.StatusProjector{Cache: redisx.NewCache(rdb), Log: logger}
	cons := kafkax.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.ConsumerGroup, cfg.Kafka.Topic, cfg.Kafka.Workers, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return sweeper.Run(gctx) })
	g.Go(func() error {
		logger.Info("status projector started", zap.String("group", cfg.Kafka.ConsumerGroup),
			zap.String("topic", cfg.Kafka.Topic), zap.Int("workers", cfg.Kafka.Workers))
		return cons.Start(gctx, proj.Handle)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker exited", zap.Error(err))
		return
	}
	logger.Info("worker stopped")
}
