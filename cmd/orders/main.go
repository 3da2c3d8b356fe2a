package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"github.com/joao-fontenele/starsflow/internal/clock"
	"github.com/joao-fontenele/starsflow/internal/config"
	"github.com/joao-fontenele/starsflow/internal/delivery"
	"github.com/joao-fontenele/starsflow/internal/messaging"
	"github.com/joao-fontenele/starsflow/internal/notify"
	"github.com/joao-fontenele/starsflow/internal/orders"
	"github.com/joao-fontenele/starsflow/internal/payment"
	"github.com/joao-fontenele/starsflow/internal/telemetry"
)

const serviceVersion = "0.1.0"

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := telemetry.InitTracerProvider(ctx, "orders", serviceVersion, cfg.OTLPEndpoint)
	if err != nil {
		logger.Error("failed to init tracer provider", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownTracer(context.Background()) }()

	metricsHandler, shutdownMeter, err := telemetry.InitMeterProvider("orders", serviceVersion)
	if err != nil {
		logger.Error("failed to init meter provider", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownMeter(context.Background()) }()

	clk := clock.NewSystem(cfg.Location())

	store, closeStore, err := openStore(cfg, clk)
	if err != nil {
		logger.Error("failed to open store", "error", err)
		os.Exit(1)
	}
	defer closeStore()

	httpClient := telemetry.NewHTTPClient(cfg.OutboundTimeout)

	gateways := payment.NewRegistry(
		payment.NewCryptoPay(payment.CryptoPayConfig{BaseURL: cfg.CryptoPay.BaseURL, Token: cfg.CryptoPay.Token}, httpClient),
		payment.NewCactusPay(payment.CactusPayConfig{BaseURL: cfg.CactusPay.BaseURL, Token: cfg.CactusPay.Token}, httpClient),
	)
	provider := delivery.NewRobynhood(delivery.RobynhoodConfig{APIURL: cfg.Robynhood.APIURL, APIToken: cfg.Robynhood.APIToken}, httpClient)

	var (
		tasks      orders.Tasks
		asyncTasks *orders.AsyncTasks
	)
	if len(cfg.Kafka.Brokers) > 0 {
		publisher := messaging.NewTaskPublisher(
			messaging.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.DispatchTopic),
			messaging.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.NotifyTopic),
			clk,
		)
		defer func() { _ = publisher.Close() }()
		tasks = publisher
		logger.Info("publishing tasks to kafka", "brokers", cfg.Kafka.Brokers)
	} else {
		asyncTasks = orders.NewAsyncTasks(newSink(cfg, httpClient, logger), cfg.Worker.MaxElapsed, logger)
		tasks = asyncTasks
		logger.Info("running tasks in process")
	}

	reconciler, err := orders.NewReconciler(store, gateways, provider, tasks, clk, orders.ReconcilerConfig{
		OrderTTL:              cfg.Orders.TTL,
		OutboundTimeout:       cfg.OutboundTimeout,
		SweepBatch:            cfg.Sweep.Batch,
		DeliveryWebhookSecret: cfg.Robynhood.WebhookSecret,
	}, logger)
	if err != nil {
		logger.Error("failed to create reconciler", "error", err)
		os.Exit(1)
	}
	if asyncTasks != nil {
		asyncTasks.Attach(reconciler)
	}

	handler := orders.NewHandler(reconciler, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /orders", telemetry.WithHTTPRoute(handler.HandleCreate))
	mux.HandleFunc("GET /orders/{id}", telemetry.WithHTTPRoute(handler.HandleGet))
	mux.HandleFunc("GET /users/{ownerId}/orders", telemetry.WithHTTPRoute(handler.HandleListByOwner))
	mux.HandleFunc("POST /webhooks/delivery", telemetry.WithHTTPRoute(handler.HandleDeliveryWebhook))
	mux.HandleFunc("POST /webhooks/{provider}", telemetry.WithHTTPRoute(handler.HandlePaymentWebhook))
	mux.Handle("GET /metrics", metricsHandler)

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      telemetry.NewHandler(mux, "orders"),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	sweeper := orders.NewSweeper(reconciler, cfg.Sweep.Interval, logger)
	sweepDone := make(chan struct{})
	go func() {
		sweeper.Run(ctx)
		close(sweepDone)
	}()

	go func() {
		logger.Info("starting orders service", "port", cfg.Port, "store", cfg.StoreDriver)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
	<-sweepDone
	if asyncTasks != nil {
		asyncTasks.Wait()
	}
}

func openStore(cfg *config.Config, clk clock.Clock) (orders.Store, func(), error) {
	if cfg.StoreDriver == "memory" {
		return orders.NewMemoryStore(clk), func() {}, nil
	}

	dsn, err := telemetry.WithSearchPath(cfg.PostgresURL, "orders")
	if err != nil {
		return nil, nil, err
	}

	db, err := telemetry.OpenDB("postgres", dsn)
	if err != nil {
		return nil, nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, nil, err
	}

	return orders.NewOrderRepository(db), func() { _ = db.Close() }, nil
}

func newSink(cfg *config.Config, client *http.Client, logger *slog.Logger) notify.Sink {
	if cfg.Telegram.BotToken == "" {
		return notify.NewLogSink(logger)
	}
	return notify.NewTelegram(notify.TelegramConfig{
		APIURL:      cfg.Telegram.APIURL,
		BotToken:    cfg.Telegram.BotToken,
		BotUsername: cfg.Telegram.BotUsername,
	}, client)
}
