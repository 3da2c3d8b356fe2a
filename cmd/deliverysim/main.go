package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joao-fontenele/starsflow/internal/config"
	"github.com/joao-fontenele/starsflow/internal/sandbox"
	"github.com/joao-fontenele/starsflow/internal/telemetry"
)

func main() {
	cfg, err := config.LoadSandbox()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))

	handler := sandbox.NewDeliveryHandler(sandbox.Config{
		APIToken:       cfg.APIToken,
		CallbackURL:    cfg.CallbackURL,
		CallbackSecret: cfg.CallbackSecret,
		MinDelay:       cfg.MinDelay,
		MaxDelay:       cfg.MaxDelay,
	}, telemetry.NewHTTPClient(10*time.Second), logger)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/purchase", handler.HandlePurchase)

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("starting delivery simulator", "port", cfg.Port, "callback_url", cfg.CallbackURL)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("shutdown error", "error", err)
		os.Exit(1)
	}
	handler.Wait()
}
