package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/peakml/gradient/pkg/mqtt"
	"github.com/peakml/gradient/proxy"
)

const (
	svcName        = "proxy"
	registryPrefix = "PROXY_REGISTRY_"
	pathEnv        = ".env"
)

type envConfig struct {
	LogLevel     string        `env:"PROXY_LOG_LEVEL"     envDefault:"info"`
	MQTTAddress  string        `env:"PROXY_MQTT_ADDRESS"  envDefault:"tcp://localhost:1883"`
	MQTTQoS      uint8         `env:"PROXY_MQTT_QOS"      envDefault:"2"`
	MQTTTimeout  time.Duration `env:"PROXY_MQTT_TIMEOUT"  envDefault:"30s"`
	MQTTUsername string        `env:"PROXY_MQTT_USERNAME"`
	MQTTPassword string        `env:"PROXY_MQTT_PASSWORD"`
	ChannelID    string        `env:"PROXY_CHANNEL_ID"`
}

func main() {
	if _, err := os.Stat(pathEnv); err == nil {
		_ = godotenv.Load(pathEnv)
	}

	cfg := envConfig{}
	if err := env.Parse(&cfg); err != nil {
		slog.Error("failed to load configuration", slog.Any("error", err))

		return
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		slog.Error("failed to parse log level", slog.Any("error", err))

		return
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	registryCfg, err := proxy.NewRegistryConfig(env.Options{Prefix: registryPrefix})
	if err != nil {
		logger.Error("failed to load registry configuration", slog.Any("error", err))

		return
	}

	g, ctx := errgroup.WithContext(context.Background())

	mqttPubSub, err := mqtt.NewPubSub(cfg.MQTTAddress, cfg.MQTTQoS, svcName, cfg.MQTTUsername, cfg.MQTTPassword, cfg.ChannelID, cfg.MQTTTimeout, logger)
	if err != nil {
		logger.Error("failed to initialize mqtt pubsub", slog.Any("error", err))

		return
	}

	svc := proxy.NewService(mqttPubSub, cfg.ChannelID, registryCfg, logger)

	if err := svc.Subscribe(ctx); err != nil {
		logger.Error("failed to subscribe to fetch requests", slog.Any("error", err))

		return
	}

	g.Go(func() error {
		return svc.StreamRegistry(ctx)
	})
	g.Go(func() error {
		return svc.StreamMQTT(ctx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("proxy service exited", slog.Any("error", err))
	}
}
