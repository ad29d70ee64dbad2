package gradientd

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"time"

	"github.com/absmach/supermq/pkg/jaeger"
	"github.com/absmach/supermq/pkg/prometheus"
	"github.com/absmach/supermq/pkg/server"
	httpserver "github.com/absmach/supermq/pkg/server/http"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/sync/errgroup"

	"github.com/peakml/gradient/k8s"
	"github.com/peakml/gradient/manager"
	"github.com/peakml/gradient/manager/api"
	"github.com/peakml/gradient/manager/middleware"
	"github.com/peakml/gradient/pkg/mqtt"
	"github.com/peakml/gradient/pkg/scheduler"
	"github.com/peakml/gradient/pkg/storage"
)

const svcName = "manager"

type Config struct {
	LogLevel       string
	InstanceID     string
	MQTTAddress    string
	MQTTQoS        uint8
	MQTTTimeout    time.Duration
	MQTTUsername   string
	MQTTPassword   string
	ChannelID      string
	StorageBackend string
	DataDir        string
	Scheduler      string
	Launcher       string
	Kubeconfig     string
	KubeNamespace  string
	Server         server.Config
	OTELURL        url.URL
	TraceRatio     float64
}

func StartManager(ctx context.Context, cancel context.CancelFunc, cfg Config) error {
	g, ctx := errgroup.WithContext(ctx)

	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		return fmt.Errorf("failed to parse log level: %s", err.Error())
	}
	logHandler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	})
	logger := slog.New(logHandler)
	slog.SetDefault(logger)

	var tp trace.TracerProvider
	switch {
	case cfg.OTELURL == (url.URL{}):
		tp = noop.NewTracerProvider()
	default:
		sdktp, err := jaeger.NewProvider(ctx, svcName, cfg.OTELURL, "", cfg.TraceRatio)
		if err != nil {
			return fmt.Errorf("failed to initialize opentelemetry: %s", err.Error())
		}
		defer func() {
			if err := sdktp.Shutdown(ctx); err != nil {
				slog.Error("error shutting down tracer provider", slog.Any("error", err))
			}
		}()
		tp = sdktp
	}
	tracer := tp.Tracer(svcName)

	mqttPubSub, err := mqtt.NewPubSub(cfg.MQTTAddress, cfg.MQTTQoS, svcName, cfg.MQTTUsername, cfg.MQTTPassword, cfg.ChannelID, cfg.MQTTTimeout, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize mqtt pubsub: %s", err.Error())
	}

	experimentsDB, runnersDB, bindingsDB, err := storage.NewStores(cfg.StorageBackend, cfg.DataDir)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %s", err.Error())
	}

	var sched scheduler.Scheduler
	switch cfg.Scheduler {
	case "", "round_robin":
		sched = scheduler.NewRoundRobin()
	case "least_loaded":
		sched = scheduler.NewLeastLoaded()
	default:
		return fmt.Errorf("unknown scheduler %q", cfg.Scheduler)
	}

	var opts []manager.Option
	switch cfg.Launcher {
	case "", "fleet":
	case "k8s":
		launcher, err := k8s.NewLauncher(cfg.Kubeconfig, cfg.KubeNamespace, logger)
		if err != nil {
			return fmt.Errorf("failed to initialize kubernetes launcher: %s", err.Error())
		}
		opts = append(opts, manager.WithLauncher(launcher))
	default:
		return fmt.Errorf("unknown launcher %q", cfg.Launcher)
	}

	svc := manager.NewService(
		experimentsDB,
		runnersDB,
		bindingsDB,
		sched,
		mqttPubSub,
		cfg.ChannelID,
		logger,
		opts...,
	)
	svc = middleware.Logging(logger, svc)
	svc = middleware.Tracing(tracer, svc)
	counter, latency := prometheus.MakeMetrics(svcName, "api")
	svc = middleware.Metrics(counter, latency, svc)

	if err := svc.Subscribe(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to manager channel: %s", err.Error())
	}

	if err := svc.RecoverInterruptedExperiments(ctx); err != nil {
		return fmt.Errorf("failed to recover interrupted experiments: %s", err.Error())
	}

	hs := httpserver.NewServer(ctx, cancel, svcName, cfg.Server, api.MakeHandler(svc, logger, cfg.InstanceID), logger)

	g.Go(func() error {
		return hs.Start()
	})

	g.Go(func() error {
		return server.StopSignalHandler(ctx, cancel, logger, svcName, hs)
	})

	if err := g.Wait(); err != nil {
		logger.Error(fmt.Sprintf("%s service exited with error: %s", svcName, err))
	}

	if err := svc.Shutdown(context.Background()); err != nil {
		logger.Error("failed to shut down cleanly", slog.Any("error", err))
	}

	return nil
}
