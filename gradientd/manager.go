package gradientd

import (
	"context"

	"github.com/absmach/supermq/pkg/server"
	"github.com/spf13/cobra"

	"github.com/peakml/gradient"
)

const credsPath = "gradient.toml"

var managerCmd = []cobra.Command{
	{
		Use:   "start",
		Short: "Start manager",
		Long:  `Start manager.`,
		Run: func(cmd *cobra.Command, _ []string) {
			if channelID == "" {
				if creds, err := gradient.LoadConfig(credsPath); err == nil {
					mqttAddress = creds.Manager.BrokerURL
					mqttUsername = creds.Manager.Username
					mqttPassword = creds.Manager.Password
					channelID = creds.Manager.ChannelID
				}
			}

			cfg := Config{
				LogLevel:      logLevel,
				MQTTAddress:   mqttAddress,
				MQTTQoS:       uint8(mqttQOS),
				MQTTTimeout:   mqttTimeout,
				MQTTUsername:  mqttUsername,
				MQTTPassword:  mqttPassword,
				ChannelID:     channelID,
				Scheduler:     "round_robin",
				Launcher:      launcherBackend,
				Kubeconfig:    kubeconfigPath,
				KubeNamespace: kubeNamespace,
				Server: server.Config{
					Port: "7070",
				},
			}
			ctx, cancel := context.WithCancel(cmd.Context())
			if err := StartManager(ctx, cancel, cfg); err != nil {
				cmd.PrintErrf("failed to start manager: %s", err.Error())
			}
			cancel()
		},
	},
}

func NewManagerCmd() *cobra.Command {
	cmd := cobra.Command{
		Use:   "manager [start]",
		Short: "Manager management",
		Long:  `Start the experiment manager.`,
	}

	for i := range managerCmd {
		cmd.AddCommand(&managerCmd[i])
	}

	cmd.PersistentFlags().StringVarP(
		&logLevel,
		"log-level",
		"l",
		logLevel,
		"Log level",
	)

	cmd.PersistentFlags().StringVarP(
		&mqttAddress,
		"mqtt-address",
		"m",
		mqttAddress,
		"MQTT Address",
	)

	cmd.PersistentFlags().DurationVarP(
		&mqttTimeout,
		"mqtt-timeout",
		"o",
		mqttTimeout,
		"MQTT Timeout",
	)

	cmd.PersistentFlags().IntVarP(
		&mqttQOS,
		"mqtt-qos",
		"q",
		mqttQOS,
		"MQTT QOS",
	)

	cmd.PersistentFlags().StringVarP(
		&mqttUsername,
		"mqtt-username",
		"u",
		mqttUsername,
		"MQTT Username",
	)

	cmd.PersistentFlags().StringVarP(
		&mqttPassword,
		"mqtt-password",
		"p",
		mqttPassword,
		"MQTT Password",
	)

	cmd.PersistentFlags().StringVarP(
		&channelID,
		"channel-id",
		"c",
		channelID,
		"Manager Channel ID",
	)

	cmd.PersistentFlags().StringVar(
		&launcherBackend,
		"launcher",
		launcherBackend,
		"Experiment launcher backend (fleet or k8s)",
	)

	cmd.PersistentFlags().StringVar(
		&kubeconfigPath,
		"kubeconfig",
		kubeconfigPath,
		"Path to the kubeconfig used by the k8s launcher",
	)

	cmd.PersistentFlags().StringVar(
		&kubeNamespace,
		"kube-namespace",
		kubeNamespace,
		"Namespace the k8s launcher deploys into",
	)

	return &cmd
}
