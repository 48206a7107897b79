package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ariefcatur/go-stock-engine/internal/cart"
	"github.com/ariefcatur/go-stock-engine/internal/catalog"
	"github.com/ariefcatur/go-stock-engine/internal/checkout"
	"github.com/ariefcatur/go-stock-engine/internal/config"
	"github.com/ariefcatur/go-stock-engine/internal/httpx"
	"github.com/ariefcatur/go-stock-engine/internal/inventory"
	kafkax "github.com/ariefcatur/go-stock-engine/internal/kafka"
	"github.com/ariefcatur/go-stock-engine/internal/logging"
	"github.com/ariefcatur/go-stock-engine/internal/orders"
	"github.com/ariefcatur/go-stock-engine/internal/payments"
	"github.com/ariefcatur/go-stock-engine/internal/postgres"
	"github.com/ariefcatur/go-stock-engine/internal/redisx"
	"github.com/ariefcatur/go-stock-engine/internal/tracing"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	if cfg.Kafka.Topic == "" {
		cfg.Kafka.Topic = orders.TopicOrderEvents
	}
	logger, err := logging.New(cfg.Logger, cfg.ServiceName)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracing, err := tracing.Init(ctx, cfg.Tracing, cfg.ServiceName, logger)
	if err != nil {
		logger.Fatal("tracing init", zap.Error(err))
	}

	// DB
	db, err := postgres.Connect(ctx, cfg.Postgres)
	if err != nil {
		logger.Fatal("db connect", zap.Error(err))
	}
	defer db.Close()
	if cfg.Postgres.AutoMigrate {
		if err := postgres.Migrate(ctx, db); err != nil {
			logger.Fatal("db migrate", zap.Error(err))
		}
	}
	st := postgres.NewStore(db, cfg.Postgres, logger)

	// Redis
	rdb := redisx.New(cfg.Redis)
	defer rdb.Close()

	// Kafka producer
	prod := kafkax.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic, 1024, logger)
	prod.Start(ctx)
	emit := &orders.Publisher{Producer: prod, Service: cfg.ServiceName}

	// Services & handlers
	ledger := inventory.NewLedger()
	reservations := inventory.NewReservations(cfg.Inventory.ReservationTTL, logger)
	chapa := payments.NewChapaClient(cfg.Payment.BaseURL, cfg.Payment.SecretKey, cfg.Payment.Timeout)
	if cfg.Payment.WebhookSecret == "" {
		logger.Warn("CHAPA_WEBHOOK_SECRET not set, every webhook will be rejected")
	}

	router := httpx.NewRouter(logger)
	h := &httpx.Handlers{
		Catalog:  catalog.NewService(st, ledger, logger),
		Cart:     cart.NewService(st, reservations, logger),
		Checkout: checkout.NewService(st, ledger, emit, logger, cfg.Payment.Currency),
		Payments: payments.NewService(st, chapa, payments.NewReconciler(st, emit, logger), logger, payments.Config{
			Currency:      cfg.Payment.Currency,
			CallbackURL:   cfg.Payment.CallbackURL,
			WebhookSecret: cfg.Payment.WebhookSecret,
		}),
		Cache: redisx.NewCache(rdb),
		Log:   logger,
	}
	h.Register(router)

	// HTTP server
	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		logger.Info("http listening", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("listen", zap.Error(err))
		}
	}()

	// wait signal
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logger.Info("shutting down")

	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	_ = srv.Shutdown(ctx2)
	prod.Close()      // close inbox, flush and close the writer
	prod.WaitClosed() // drain
	if err := shutdownTracing(ctx2); err != nil {
		logger.Warn("tracing shutdown", zap.Error(err))
	}
}
