package main

import (
	"context"
	"log"
	"net/url"
	"os"
	"time"

	"github.com/absmach/supermq/pkg/server"
	"github.com/caarlos0/env/v11"
	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/peakml/gradient/gradientd"
)

const (
	svcName       = "manager"
	defHTTPPort   = "7070"
	envPrefixHTTP = "MANAGER_HTTP_"
	pathEnv       = ".env"
)

type envConfig struct {
	LogLevel       string        `env:"MANAGER_LOG_LEVEL"       envDefault:"info"`
	InstanceID     string        `env:"MANAGER_INSTANCE_ID"`
	MQTTAddress    string        `env:"MANAGER_MQTT_ADDRESS"    envDefault:"tcp://localhost:1883"`
	MQTTQoS        uint8         `env:"MANAGER_MQTT_QOS"        envDefault:"2"`
	MQTTTimeout    time.Duration `env:"MANAGER_MQTT_TIMEOUT"    envDefault:"30s"`
	MQTTUsername   string        `env:"MANAGER_MQTT_USERNAME"`
	MQTTPassword   string        `env:"MANAGER_MQTT_PASSWORD"`
	ChannelID      string        `env:"MANAGER_CHANNEL_ID"`
	StorageBackend string        `env:"MANAGER_STORAGE_BACKEND" envDefault:"memory"`
	DataDir        string        `env:"MANAGER_DATA_DIR"        envDefault:"/var/lib/gradient"`
	Scheduler      string        `env:"MANAGER_SCHEDULER"       envDefault:"round_robin"`
	Launcher       string        `env:"MANAGER_LAUNCHER"        envDefault:"fleet"`
	Kubeconfig     string        `env:"MANAGER_KUBECONFIG"`
	KubeNamespace  string        `env:"MANAGER_KUBE_NAMESPACE"  envDefault:"default"`
	OTELURL        url.URL       `env:"MANAGER_OTEL_URL"`
	TraceRatio     float64       `env:"MANAGER_TRACE_RATIO"     envDefault:"0"`
}

func main() {
	if _, err := os.Stat(pathEnv); err == nil {
		_ = godotenv.Load(pathEnv)
	}

	cfg := envConfig{}
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("failed to load configuration : %s", err.Error())
	}

	if cfg.InstanceID == "" {
		cfg.InstanceID = uuid.NewString()
	}

	httpServerConfig := server.Config{Port: defHTTPPort}
	if err := env.ParseWithOptions(&httpServerConfig, env.Options{Prefix: envPrefixHTTP}); err != nil {
		log.Fatalf("failed to load %s HTTP server configuration : %s", svcName, err.Error())
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := gradientd.StartManager(ctx, cancel, gradientd.Config{
		LogLevel:       cfg.LogLevel,
		InstanceID:     cfg.InstanceID,
		MQTTAddress:    cfg.MQTTAddress,
		MQTTQoS:        cfg.MQTTQoS,
		MQTTTimeout:    cfg.MQTTTimeout,
		MQTTUsername:   cfg.MQTTUsername,
		MQTTPassword:   cfg.MQTTPassword,
		ChannelID:      cfg.ChannelID,
		StorageBackend: cfg.StorageBackend,
		DataDir:        cfg.DataDir,
		Scheduler:      cfg.Scheduler,
		Launcher:       cfg.Launcher,
		Kubeconfig:     cfg.Kubeconfig,
		KubeNamespace:  cfg.KubeNamespace,
		Server:         httpServerConfig,
		OTELURL:        cfg.OTELURL,
		TraceRatio:     cfg.TraceRatio,
	}); err != nil {
		log.Fatalf("failed to start %s service : %s", svcName, err.Error())
	}
}
