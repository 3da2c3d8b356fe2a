package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"golang.org/x/sync/errgroup"

	"github.com/joao-fontenele/starsflow/internal/clock"
	"github.com/joao-fontenele/starsflow/internal/config"
	"github.com/joao-fontenele/starsflow/internal/delivery"
	"github.com/joao-fontenele/starsflow/internal/messaging"
	"github.com/joao-fontenele/starsflow/internal/notify"
	"github.com/joao-fontenele/starsflow/internal/orders"
	"github.com/joao-fontenele/starsflow/internal/payment"
	"github.com/joao-fontenele/starsflow/internal/telemetry"
	"github.com/joao-fontenele/starsflow/internal/worker"
)

const serviceVersion = "0.1.0"

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))

	if len(cfg.Kafka.Brokers) == 0 {
		logger.Error("KAFKA_BROKERS environment variable is required")
		os.Exit(1)
	}
	if cfg.StoreDriver != "postgres" {
		logger.Error("worker requires STORE_DRIVER=postgres")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := telemetry.InitTracerProvider(ctx, "worker", serviceVersion, cfg.OTLPEndpoint)
	if err != nil {
		logger.Error("failed to init tracer provider", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownTracer(context.Background()) }()

	metricsHandler, shutdownMeter, err := telemetry.InitMeterProvider("worker", serviceVersion)
	if err != nil {
		logger.Error("failed to init meter provider", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownMeter(context.Background()) }()

	dsn, err := telemetry.WithSearchPath(cfg.PostgresURL, "orders")
	if err != nil {
		logger.Error("invalid POSTGRES_URL", "error", err)
		os.Exit(1)
	}
	db, err := telemetry.OpenDB("postgres", dsn)
	if err != nil {
		logger.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	if err := db.PingContext(ctx); err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}

	clk := clock.NewSystem(cfg.Location())
	httpClient := telemetry.NewHTTPClient(cfg.OutboundTimeout)
	brokers := cfg.Kafka.Brokers

	publisher := messaging.NewTaskPublisher(
		messaging.NewProducer(brokers, cfg.Kafka.DispatchTopic),
		messaging.NewProducer(brokers, cfg.Kafka.NotifyTopic),
		clk,
	)
	defer func() { _ = publisher.Close() }()

	dispatchDLQ := messaging.NewProducer(brokers, messaging.DeadLetterTopic(cfg.Kafka.DispatchTopic))
	defer func() { _ = dispatchDLQ.Close() }()
	notifyDLQ := messaging.NewProducer(brokers, messaging.DeadLetterTopic(cfg.Kafka.NotifyTopic))
	defer func() { _ = notifyDLQ.Close() }()

	provider := delivery.NewRobynhood(delivery.RobynhoodConfig{APIURL: cfg.Robynhood.APIURL, APIToken: cfg.Robynhood.APIToken}, httpClient)

	// The worker never creates invoices, so it carries no payment gateways.
	reconciler, err := orders.NewReconciler(orders.NewOrderRepository(db), payment.NewRegistry(), provider, publisher, clk,
		orders.ReconcilerConfig{
			OrderTTL:        cfg.Orders.TTL,
			OutboundTimeout: cfg.OutboundTimeout,
			SweepBatch:      cfg.Sweep.Batch,
		}, logger)
	if err != nil {
		logger.Error("failed to create reconciler", "error", err)
		os.Exit(1)
	}

	var sink notify.Sink = notify.NewLogSink(logger)
	if cfg.Telegram.BotToken != "" {
		sink = notify.NewTelegram(notify.TelegramConfig{
			APIURL:      cfg.Telegram.APIURL,
			BotToken:    cfg.Telegram.BotToken,
			BotUsername: cfg.Telegram.BotUsername,
		}, httpClient)
	}

	handler := worker.NewTaskHandler(reconciler, sink, dispatchDLQ, notifyDLQ, worker.Config{
		MaxElapsed: cfg.Worker.MaxElapsed,
	}, logger)

	dispatchConsumer := messaging.NewConsumer(brokers, cfg.Kafka.DispatchTopic, cfg.Kafka.GroupID)
	defer func() { _ = dispatchConsumer.Close() }()
	notifyConsumer := messaging.NewConsumer(brokers, cfg.Kafka.NotifyTopic, cfg.Kafka.GroupID)
	defer func() { _ = notifyConsumer.Close() }()

	mux := http.NewServeMux()
	mux.Handle("GET /metrics", metricsHandler)
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return dispatchConsumer.Consume(gctx, handler.HandleDispatch)
	})
	g.Go(func() error {
		return notifyConsumer.Consume(gctx, handler.HandleNotification)
	})
	g.Go(func() error {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	logger.Info("starting task worker", "brokers", brokers,
		"dispatch_topic", cfg.Kafka.DispatchTopic, "notify_topic", cfg.Kafka.NotifyTopic)

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker stopped", "error", err)
		os.Exit(1)
	}
	logger.Info("worker stopped")
}
