package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/kilianp07/smartdryer/app"
	"github.com/kilianp07/smartdryer/core/events"
	"github.com/kilianp07/smartdryer/core/model"
	"github.com/kilianp07/smartdryer/internal/eventbus"
)

var (
	commandParams []string
	commandIssuer string
	commandWait   time.Duration
)

var commandCmd = &cobra.Command{
	Use:   "command <serial> <collect|release|stop|calibrate>",
	Short: "Issue a command to a device through the broker",
	Args:  cobra.ExactArgs(2),
	RunE:  runCommand,
}

func init() {
	commandCmd.Flags().StringArrayVar(&commandParams, "param", nil, "command parameter as key=value (JSON values accepted)")
	commandCmd.Flags().StringVar(&commandIssuer, "issuer", "cli", "issuer recorded on the command")
	commandCmd.Flags().DurationVar(&commandWait, "wait", 0, "wait up to this long for the device result")
	rootCmd.AddCommand(commandCmd)
}

// parseParams turns key=value pairs into a map value. Values that parse as
// JSON keep their type; anything else is a string.
func parseParams(pairs []string) (model.Value, error) {
	fields := map[string]model.Value{}
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return model.Value{}, fmt.Errorf("param %q: expected key=value", p)
		}
		if json.Valid([]byte(v)) {
			parsed, err := model.ParseValue([]byte(v))
			if err != nil {
				return model.Value{}, err
			}
			fields[k] = parsed
			continue
		}
		fields[k] = model.String(v)
	}
	return model.Map(fields), nil
}

func runCommand(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	params, err := parseParams(commandParams)
	if err != nil {
		return err
	}
	if _, err := model.ParseVerb(args[1]); err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	svc, err := app.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = svc.Close() }()

	var results <-chan eventbus.Event
	if commandWait > 0 {
		results = svc.Bus.Subscribe(events.ForDevice(args[0]), events.CommandStages(events.StageResult, events.StageExpired))
		svc.Ingest(ctx)
	} else {
		svc.Connect()
	}
	budget := time.Duration(cfg.MQTT.ConnectTimeoutMS+cfg.MQTT.ReconnectPeriodMS) * time.Millisecond * time.Duration(cfg.MQTT.MaxReconnectAttempts+1)
	if err := svc.WaitConnected(ctx, budget); err != nil {
		return err
	}
	c, err := svc.Commands.Issue(ctx, args[0], args[1], params, commandIssuer)
	if err != nil {
		return err
	}
	var waitErr error
	if results != nil {
		c, waitErr = awaitResult(ctx, results, c, commandWait)
	}
	out, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintln(cmd.OutOrStdout(), string(out)); err != nil {
		return err
	}
	return waitErr
}

// awaitResult returns the command once a terminal event for it arrives on
// results. On timeout the last known state is returned with an error.
func awaitResult(ctx context.Context, results <-chan eventbus.Event, c model.Command, timeout time.Duration) (model.Command, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return c, ctx.Err()
		case <-timer.C:
			return c, fmt.Errorf("no result for command %s within %s", c.ID, timeout)
		case ev, ok := <-results:
			if !ok {
				return c, fmt.Errorf("event bus closed while waiting for command %s", c.ID)
			}
			if ce, ok := ev.(events.CommandEvent); ok && ce.Command.ID == c.ID {
				return ce.Command, nil
			}
		}
	}
}
