package cli

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"strconv"

	"github.com/absmach/supermq/pkg/errors"
	"github.com/charmbracelet/huh"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/peakml/gradient"
	"github.com/peakml/gradient/agent"
)

var (
	errFailedToCollectInput = errors.New("failed to collect provisioning input")
	errFailedConfigFile     = errors.New("failed to create runner config file")
	errFailedEnvFile        = errors.New("failed to create .env file")
	errFailedCredsFile      = errors.New("failed to create gradient.toml file")
)

const filePermission = 0o644

var provisionCmd = &cobra.Command{
	Use:   "provision",
	Short: "Provision resources",
	Long:  `Collect broker credentials and write the runner config and .env files.`,
	Run: func(cmd *cobra.Command, args []string) {
		var (
			brokerURL = "tcp://localhost:1883"
			password  string
			channelID string
			runnerID  = uuid.NewString()
			host      = "localhost"
			dataDir   = "/var/lib/gradient"
			capacity  = "4"
		)

		form := huh.NewForm(
			huh.NewGroup(
				huh.NewInput().
					Title("Broker URL").
					Value(&brokerURL).
					Validate(func(s string) error {
						_, err := url.Parse(s)

						return err
					}),
				huh.NewInput().
					Title("Broker password").
					EchoMode(huh.EchoModePassword).
					Value(&password),
				huh.NewInput().
					Title("Channel ID").
					Value(&channelID).
					Validate(func(s string) error {
						if s == "" {
							return errors.New("channel id is required")
						}

						return nil
					}),
				huh.NewInput().
					Title("Runner ID").
					Value(&runnerID),
				huh.NewInput().
					Title("Runner host").
					Value(&host),
				huh.NewInput().
					Title("Runner data directory").
					Value(&dataDir),
				huh.NewInput().
					Title("Runner capacity").
					Value(&capacity).
					Validate(func(s string) error {
						_, err := strconv.ParseUint(s, 10, 64)

						return err
					}),
			),
		)

		if err := form.Run(); err != nil {
			logErrorCmd(*cmd, errors.Wrap(errFailedToCollectInput, err))

			return
		}

		capVal, err := strconv.ParseUint(capacity, 10, 64)
		if err != nil {
			logErrorCmd(*cmd, errors.Wrap(errFailedToCollectInput, err))

			return
		}

		cfg := agent.Config{
			BrokerURL: brokerURL,
			Password:  password,
			RunnerID:  runnerID,
			ChannelID: channelID,
			Host:      host,
			DataDir:   dataDir,
			Capacity:  capVal,
		}

		data, err := json.MarshalIndent(cfg, "", "  ")
		if err != nil {
			logErrorCmd(*cmd, errors.Wrap(errFailedConfigFile, err))

			return
		}
		if err := os.WriteFile("config.json", data, filePermission); err != nil {
			logErrorCmd(*cmd, errors.Wrap(errFailedConfigFile, err))

			return
		}
		logSuccessCmd(*cmd, "Successfully created config.json file")

		envContent := fmt.Sprintf(`# Gradient Environment Configuration

# Manager Configuration
MANAGER_MQTT_ADDRESS=%s
MANAGER_MQTT_PASSWORD=%s
MANAGER_CHANNEL_ID=%s

# Runner Configuration
RUNNER_ID=%s
RUNNER_MQTT_ADDRESS=%s
RUNNER_MQTT_PASSWORD=%s
RUNNER_CHANNEL_ID=%s

# Proxy Configuration
PROXY_MQTT_ADDRESS=%s
PROXY_MQTT_PASSWORD=%s
PROXY_CHANNEL_ID=%s`,
			brokerURL,
			password,
			channelID,
			runnerID,
			brokerURL,
			password,
			channelID,
			brokerURL,
			password,
			channelID,
		)

		if err := os.WriteFile(".env", []byte(envContent), filePermission); err != nil {
			logErrorCmd(*cmd, errors.Wrap(errFailedEnvFile, err))

			return
		}
		logSuccessCmd(*cmd, "Successfully created .env file")

		creds := gradient.Config{
			Manager: gradient.ManagerConfig{
				BrokerURL: brokerURL,
				Username:  "manager",
				Password:  password,
				ChannelID: channelID,
			},
			Runner: gradient.RunnerConfig{
				RunnerID:  runnerID,
				BrokerURL: brokerURL,
				Password:  password,
				ChannelID: channelID,
			},
			Proxy: gradient.ProxyConfig{
				BrokerURL: brokerURL,
				Username:  "proxy",
				Password:  password,
				ChannelID: channelID,
			},
		}
		if err := creds.Save("gradient.toml"); err != nil {
			logErrorCmd(*cmd, errors.Wrap(errFailedCredsFile, err))

			return
		}
		logSuccessCmd(*cmd, "Successfully created gradient.toml file")

		logJSONCmd(*cmd, cfg)
	},
}

func NewProvisionCmd() *cobra.Command {
	return provisionCmd
}
