package cmd

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kilianp07/smartdryer/app"
	"github.com/kilianp07/smartdryer/config"
	"github.com/kilianp07/smartdryer/infra/logger"
)

// version is stamped at build time with -ldflags "-X .../cmd.version=...".
var version = "dev"

// configEnv names the variable consulted when --config is not given.
const configEnv = "SMARTDRYER_CONFIG"

const defaultConfigFile = "config.yaml"

var cfgPath string

var rootCmd = &cobra.Command{
	Use:           "smartdryer",
	Short:         "Smart dryer ingestion and command service",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          run,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "configuration file (default $"+configEnv+", then ./"+defaultConfigFile+" when present)")
}

// Execute runs the CLI.
func Execute() error { return rootCmd.Execute() }

// configPath picks the file to load. An empty result means defaults plus
// environment overrides only.
func configPath(flag string) (string, error) {
	if flag != "" {
		return flag, nil
	}
	if p := os.Getenv(configEnv); p != "" {
		return p, nil
	}
	if _, err := os.Stat(defaultConfigFile); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", nil
		}
		return "", err
	}
	return defaultConfigFile, nil
}

func loadConfig() (*config.Config, error) {
	path, err := configPath(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("locate config: %w", err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config %q: %w", path, err)
	}
	return cfg, nil
}

func run(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	svc, err := app.New(ctx, cfg)
	if err != nil {
		return err
	}
	logger.New("main").Infof("smartdryer %s starting", version)
	defer func() {
		if err := svc.Close(); err != nil {
			logger.New("main").Errorf("service close: %v", err)
		}
	}()
	return svc.Run(ctx)
}
