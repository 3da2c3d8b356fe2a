package config

import (
	"errors"
	"fmt"
	"log/slog"
	"time"
	_ "time/tzdata"

	"github.com/caarlos0/env/v10"
)

type Config struct {
	Port     string `env:"PORT" envDefault:"8081"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	StoreDriver string `env:"STORE_DRIVER" envDefault:"postgres"`
	PostgresURL string `env:"POSTGRES_URL"`

	Orders    Orders    `envPrefix:"ORDER_"`
	Sweep     Sweep     `envPrefix:"SWEEP_"`
	CryptoPay CryptoPay `envPrefix:"CRYPTOPAY_"`
	CactusPay CactusPay `envPrefix:"CACTUSPAY_"`
	Robynhood Robynhood `envPrefix:"ROBYNHOOD_"`
	Telegram  Telegram  `envPrefix:"TELEGRAM_"`
	Kafka     Kafka     `envPrefix:"KAFKA_"`
	Worker    Worker    `envPrefix:"WORKER_"`

	OutboundTimeout time.Duration `env:"OUTBOUND_TIMEOUT" envDefault:"15s"`
	OTLPEndpoint    string        `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:"localhost:4317"`
}

type Orders struct {
	TTL      time.Duration `env:"TTL" envDefault:"10m"`
	Timezone string        `env:"TIMEZONE" envDefault:"Europe/Moscow"`
}

type Sweep struct {
	Interval time.Duration `env:"INTERVAL" envDefault:"30s"`
	Batch    int           `env:"BATCH" envDefault:"100"`
}

type CryptoPay struct {
	BaseURL string `env:"BASE_URL" envDefault:"https://testnet-pay.crypt.bot"`
	Token   string `env:"TOKEN"`
}

type CactusPay struct {
	BaseURL string `env:"BASE_URL" envDefault:"https://lk.cactuspay.pro/api/"`
	Token   string `env:"TOKEN"`
}

type Robynhood struct {
	APIURL        string `env:"API_URL" envDefault:"https://robynhood.parssms.info/api/purchase"`
	APIToken      string `env:"API_TOKEN"`
	WebhookSecret string `env:"WEBHOOK_SECRET"`
}

type Telegram struct {
	APIURL      string `env:"API_URL" envDefault:"https://api.telegram.org"`
	BotToken    string `env:"BOT_TOKEN"`
	BotUsername string `env:"BOT_USERNAME" envDefault:"more_stars_bot"`
}

type Kafka struct {
	Brokers       []string `env:"BROKERS" envSeparator:","`
	DispatchTopic string   `env:"DISPATCH_TOPIC" envDefault:"order.dispatch"`
	NotifyTopic   string   `env:"NOTIFY_TOPIC" envDefault:"order.notify"`
	GroupID       string   `env:"GROUP_ID" envDefault:"order-tasks-worker"`
}

type Worker struct {
	MaxElapsed time.Duration `env:"MAX_ELAPSED" envDefault:"2m"`
}

// Sandbox configures the local delivery simulator.
type Sandbox struct {
	Port           string        `env:"PORT" envDefault:"8090"`
	LogLevel       string        `env:"LOG_LEVEL" envDefault:"info"`
	APIToken       string        `env:"ROBYNHOOD_API_TOKEN"`
	CallbackURL    string        `env:"SANDBOX_CALLBACK_URL" envDefault:"http://localhost:8081/webhooks/delivery"`
	CallbackSecret string        `env:"ROBYNHOOD_WEBHOOK_SECRET"`
	MinDelay       time.Duration `env:"SANDBOX_MIN_DELAY" envDefault:"1s"`
	MaxDelay       time.Duration `env:"SANDBOX_MAX_DELAY" envDefault:"5s"`
}

func LoadSandbox() (*Sandbox, error) {
	cfg := &Sandbox{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	return cfg, nil
}

func Load() (*Config, error) {
	return load(env.Options{})
}

func load(opts env.Options) (*Config, error) {
	cfg := &Config{}
	if err := env.ParseWithOptions(cfg, opts); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.StoreDriver {
	case "postgres":
		if c.PostgresURL == "" {
			return errors.New("POSTGRES_URL is required for the postgres store")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver)
	}
	if c.Orders.TTL <= 0 {
		return errors.New("ORDER_TTL must be positive")
	}
	if c.Sweep.Interval <= 0 || c.Sweep.Batch <= 0 {
		return errors.New("SWEEP_INTERVAL and SWEEP_BATCH must be positive")
	}
	if _, err := time.LoadLocation(c.Orders.Timezone); err != nil {
		return fmt.Errorf("ORDER_TIMEZONE: %w", err)
	}
	return nil
}

func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Orders.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func (c *Config) SlogLevel() slog.Level {
	return parseLevel(c.LogLevel)
}

func (s *Sandbox) SlogLevel() slog.Level {
	return parseLevel(s.LogLevel)
}

func parseLevel(s string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return level
}
