// Package gradient holds the shared credentials file read by the daemon
// commands and written by `gradient-cli provision`.
package gradient

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml"
)

type Config struct {
	Manager ManagerConfig `toml:"manager"`
	Runner  RunnerConfig  `toml:"runner"`
	Proxy   ProxyConfig   `toml:"proxy"`
}

type ManagerConfig struct {
	BrokerURL string `toml:"broker_url"`
	Username  string `toml:"username"`
	Password  string `toml:"password"`
	ChannelID string `toml:"channel_id"`
}

type RunnerConfig struct {
	RunnerID  string `toml:"runner_id"`
	BrokerURL string `toml:"broker_url"`
	Password  string `toml:"password"`
	ChannelID string `toml:"channel_id"`
}

type ProxyConfig struct {
	BrokerURL string `toml:"broker_url"`
	Username  string `toml:"username"`
	Password  string `toml:"password"`
	ChannelID string `toml:"channel_id"`
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	tree, err := toml.Load(string(data))
	if err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	var cfg Config
	if err := tree.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	return &cfg, nil
}

func (c *Config) Save(path string) error {
	data, err := toml.Marshal(c)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}
