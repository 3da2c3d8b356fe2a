package config

import (
	"log/slog"
	"testing"
	"time"

	"github.com/caarlos0/env/v10"
)

func TestLoad(t *testing.T) {
	t.Run("applies defaults", func(t *testing.T) {
		cfg, err := load(env.Options{Environment: map[string]string{
			"POSTGRES_URL": "postgres://localhost/starsflow",
		}})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if cfg.Orders.TTL != 10*time.Minute {
			t.Errorf("expected ttl 10m, got %s", cfg.Orders.TTL)
		}
		if cfg.Kafka.DispatchTopic != "order.dispatch" {
			t.Errorf("unexpected dispatch topic %s", cfg.Kafka.DispatchTopic)
		}
		if cfg.Location().String() != "Europe/Moscow" {
			t.Errorf("unexpected location %s", cfg.Location())
		}
		if cfg.SlogLevel() != slog.LevelInfo {
			t.Errorf("expected info level, got %s", cfg.SlogLevel())
		}
	})

	t.Run("reads prefixed groups", func(t *testing.T) {
		cfg, err := load(env.Options{Environment: map[string]string{
			"STORE_DRIVER":      "memory",
			"CRYPTOPAY_TOKEN":   "123:abc",
			"KAFKA_BROKERS":     "a:9092,b:9092",
			"SWEEP_INTERVAL":    "5s",
			"LOG_LEVEL":         "debug",
			"ROBYNHOOD_API_URL": "http://localhost:9000/api/purchase",
		}})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if cfg.CryptoPay.Token != "123:abc" {
			t.Errorf("unexpected token %q", cfg.CryptoPay.Token)
		}
		if len(cfg.Kafka.Brokers) != 2 || cfg.Kafka.Brokers[1] != "b:9092" {
			t.Errorf("unexpected brokers %v", cfg.Kafka.Brokers)
		}
		if cfg.Sweep.Interval != 5*time.Second {
			t.Errorf("unexpected sweep interval %s", cfg.Sweep.Interval)
		}
		if cfg.SlogLevel() != slog.LevelDebug {
			t.Errorf("expected debug level, got %s", cfg.SlogLevel())
		}
		if cfg.Robynhood.APIURL != "http://localhost:9000/api/purchase" {
			t.Errorf("unexpected robynhood url %s", cfg.Robynhood.APIURL)
		}
	})

	t.Run("requires postgres url for postgres store", func(t *testing.T) {
		if _, err := load(env.Options{Environment: map[string]string{}}); err == nil {
			t.Error("expected error without POSTGRES_URL")
		}
	})

	t.Run("rejects unknown store driver", func(t *testing.T) {
		if _, err := load(env.Options{Environment: map[string]string{"STORE_DRIVER": "redis"}}); err == nil {
			t.Error("expected error for unknown driver")
		}
	})
}
