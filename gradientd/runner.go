package gradientd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/0x6flab/namegenerator"
	"github.com/spf13/cobra"

	"github.com/peakml/gradient/agent"
	"github.com/peakml/gradient/agent/runtimes"
	"github.com/peakml/gradient/pkg/mqtt"
)

var (
	logLevel     = "info"
	mqttAddress  = "tcp://localhost:1883"
	mqttTimeout  = 30 * time.Second
	mqttQOS      = 2
	mqttUsername = ""
	mqttPassword = ""
	channelID    = ""

	configPath       = "config.json"
	livenessInterval = 10 * time.Second

	launcherBackend = "fleet"
	kubeconfigPath  = ""
	kubeNamespace   = "default"
)

var namegen = namegenerator.NewGenerator()

// StartRunner brings up the runner agent described by the config file
// written by `gradient-cli provision`.
func StartRunner(ctx context.Context, cancel context.CancelFunc, cfg agent.Config) error {
	var level slog.Level
	if err := level.UnmarshalText([]byte(logLevel)); err != nil {
		return fmt.Errorf("failed to parse log level: %s", err.Error())
	}
	logHandler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	})
	logger := slog.New(logHandler)
	slog.SetDefault(logger)

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		sig := <-sigChan
		logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		cancel()
	}()

	mqttPubSub, err := mqtt.NewPubSub(cfg.BrokerURL, uint8(mqttQOS), cfg.RunnerID, cfg.RunnerID, cfg.Password, cfg.ChannelID, mqttTimeout, logger)
	if err != nil {
		return errors.Join(errors.New("failed to initialize mqtt client"), err)
	}

	runtime := runtimes.NewHostRuntime(logger, mqttPubSub, cfg.ChannelID, cfg.RunnerID)

	svc, err := agent.NewService(ctx, cfg, namegen.Generate(), livenessInterval, mqttPubSub, logger, runtime)
	if err != nil {
		return errors.Join(errors.New("failed to initialize service"), err)
	}

	if err := svc.Run(ctx); err != nil {
		return errors.Join(errors.New("failed to run service"), err)
	}

	return nil
}

var runnerCmd = []cobra.Command{
	{
		Use:   "start",
		Short: "Start runner",
		Long:  `Start runner.`,
		Run: func(cmd *cobra.Command, _ []string) {
			cfg, err := agent.LoadConfig(configPath)
			if err != nil {
				cmd.PrintErrf("failed to load config: %s", err.Error())

				return
			}

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			if err := StartRunner(ctx, cancel, cfg); err != nil {
				cmd.PrintErrf("failed to start runner: %s", err.Error())
			}
		},
	},
}

func NewRunnerCmd() *cobra.Command {
	cmd := cobra.Command{
		Use:   "runner [start]",
		Short: "Runner management",
		Long:  `Start a runner agent.`,
	}

	for i := range runnerCmd {
		cmd.AddCommand(&runnerCmd[i])
	}

	cmd.PersistentFlags().StringVarP(
		&logLevel,
		"log-level",
		"l",
		logLevel,
		"Log level",
	)

	cmd.PersistentFlags().StringVarP(
		&configPath,
		"config",
		"f",
		configPath,
		"Runner config file",
	)

	cmd.PersistentFlags().DurationVarP(
		&livenessInterval,
		"liveness-interval",
		"I",
		livenessInterval,
		"Liveness Interval",
	)

	return &cmd
}
