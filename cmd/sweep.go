package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kilianp07/smartdryer/app"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run one offline sweep and exit",
	Args:  cobra.NoArgs,
	RunE:  runSweep,
}

func init() {
	rootCmd.AddCommand(sweepCmd)
}

func runSweep(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	svc, err := app.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = svc.Close() }()
	res, err := svc.Sweeper.SweepOnce(ctx)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(cmd.OutOrStdout(), "offline: %d, expired commands: %d\n", res.Offline, res.Expired)
	return err
}
