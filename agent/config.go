package agent

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
)

// Config is the runner agent credentials file written by `gradient-cli
// provision`.
type Config struct {
	BrokerURL string `json:"broker_url"`
	Password  string `json:"password"`
	RunnerID  string `json:"runner_id"`
	ChannelID string `json:"channel_id"`
	Host      string `json:"host"`
	DataDir   string `json:"data_dir"`
	Capacity  uint64 `json:"capacity"`
}

func LoadConfig(filepath string) (Config, error) {
	file, err := os.Open(filepath)
	if err != nil {
		return Config{}, fmt.Errorf("unable to open configuration file '%s': %w", filepath, err)
	}
	defer file.Close()

	var config Config
	decoder := json.NewDecoder(file)
	if err := decoder.Decode(&config); err != nil {
		return Config{}, fmt.Errorf("failed to parse configuration file '%s': %w", filepath, err)
	}

	if err := config.Validate(); err != nil {
		return Config{}, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}

func (c Config) Validate() error {
	if c.BrokerURL == "" {
		return errors.New("broker_url is required")
	}
	if _, err := url.Parse(c.BrokerURL); err != nil {
		return fmt.Errorf("broker_url is not a valid URL: %w", err)
	}
	if c.Password == "" {
		return errors.New("password is required")
	}
	if c.RunnerID == "" {
		return errors.New("runner_id is required")
	}
	if c.ChannelID == "" {
		return errors.New("channel_id is required")
	}
	if c.Host == "" {
		return errors.New("host is required")
	}

	return nil
}
