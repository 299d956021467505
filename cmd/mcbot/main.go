package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/spf13/pflag"

	"github.com/MrSnakeDoc/mcbot/internal/app"
	"github.com/MrSnakeDoc/mcbot/internal/config"
	"github.com/MrSnakeDoc/mcbot/internal/version"
)

func main() {
	var (
		configPath  = pflag.StringP("config", "c", "", "config file (.yaml, .json or .jsonc); env MCBOT_CONFIG")
		envFile     = pflag.String("env-file", config.DefaultEnvFile, "dotenv file loaded before the config")
		showVersion = pflag.BoolP("version", "v", false, "print version and exit")
	)
	pflag.Parse()

	if *showVersion {
		fmt.Println("mcbot " + version.String())
		return
	}

	if err := run(*configPath, *envFile); err != nil {
		log.Fatalf("❌ mcbot failed to start: %v", err)
	}
}

func run(configPath, envFile string) error {
	if err := config.LoadEnvFile(envFile); err != nil {
		return err
	}
	if configPath == "" {
		configPath = os.Getenv("MCBOT_CONFIG")
	}
	if configPath == "" {
		configPath = config.DefaultPath
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	a, err := app.New(context.Background(), cfg)
	if err != nil {
		return err
	}
	return a.Run()
}
