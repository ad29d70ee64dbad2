package main

import (
	"context"
	"log"
	"os"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/peakml/gradient/agent"
	"github.com/peakml/gradient/gradientd"
)

const pathEnv = ".env"

type envConfig struct {
	ConfigPath string `env:"RUNNER_CONFIG_PATH" envDefault:"config.json"`
}

func main() {
	if _, err := os.Stat(pathEnv); err == nil {
		_ = godotenv.Load(pathEnv)
	}

	cfg := envConfig{}
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("failed to load configuration : %s", err.Error())
	}

	agentCfg, err := agent.LoadConfig(cfg.ConfigPath)
	if err != nil {
		log.Fatalf("failed to load runner config : %s", err.Error())
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := gradientd.StartRunner(ctx, cancel, agentCfg); err != nil {
		log.Fatalf("failed to start runner : %s", err.Error())
	}
}
