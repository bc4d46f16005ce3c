package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kilianp07/smartdryer/simulator"
)

var simCfg simulator.Config

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Run simulated dryers against a broker",
	Args:  cobra.NoArgs,
	RunE:  runSimulate,
}

func init() {
	f := simulateCmd.Flags()
	f.StringVar(&simCfg.Broker, "broker", "tcp://localhost:1883", "MQTT broker URL")
	f.IntVar(&simCfg.Count, "count", 1, "number of dryers")
	f.StringVar(&simCfg.Prefix, "prefix", "SIM", "serial prefix")
	f.DurationVar(&simCfg.Interval, "interval", 0, "heartbeat and sensor interval")
	f.DurationVar(&simCfg.ResultDelay, "result-delay", 0, "motor run time before a result is reported")
	f.Float64Var(&simCfg.DropRate, "drop-rate", 0, "probability of never answering a command")
	f.Float64Var(&simCfg.FailRate, "fail-rate", 0, "probability of reporting a failed command")
	f.Float64Var(&simCfg.RainProbability, "rain", 0.1, "probability of rain per sample")
	rootCmd.AddCommand(simulateCmd)
}

func runSimulate(cmd *cobra.Command, args []string) error {
	cfg := simCfg
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid simulator config: %w", err)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return simulator.Run(ctx, simulator.Fleet(cfg))
}
