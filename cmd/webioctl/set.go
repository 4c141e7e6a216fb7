package main

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/nerrad567/webio-bridge/internal/webio"
)

type setFlags struct {
	duration time.Duration
}

// setReport is the json form of the set command.
type setReport struct {
	Command  string `json:"command"`
	Result   string `json:"result"`
	Attempts int    `json:"attempts"`
}

func newSetCmd(conn *connFlags) *cobra.Command {
	flags := &setFlags{}

	cmd := &cobra.Command{
		Use:   "set <pin> <on|off|toggle|pulse>",
		Short: "Switch one output",
		Long: `Queue one output command and wait for the controller to acknowledge it.

Pins are numbered 1-8. A pulse turns the output on for --duration and
then off again; the controller times the pulse itself.`,
		Example: `  webioctl set 3 on --host 192.168.1.50
  webioctl set 3 pulse --duration 500ms --host 192.168.1.50`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := conn.validate(); err != nil {
				return err
			}
			return runSet(cmd, conn, flags, args)
		},
	}

	cmd.Flags().DurationVar(&flags.duration, "duration", 0, "Pulse length, required for pulse (millisecond resolution)")

	return cmd
}

func runSet(cmd *cobra.Command, conn *connFlags, flags *setFlags, args []string) error {
	pin, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("invalid pin %q: must be a number", args[0])
	}
	action, err := webio.ParseAction(args[1])
	if err != nil {
		return err
	}
	// Validate before dialling so bad input never opens a connection.
	if _, err := webio.OutputCommand(pin, action, flags.duration); err != nil {
		return err
	}

	ctx := cmd.Context()
	c, err := dial(ctx, conn, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer c.session.Stop()

	line, err := c.session.Device().RequestOutputChange(pin, action, flags.duration)
	if err != nil {
		return err
	}

	out, err := c.waitForOutcome(ctx, line, conn.timeout)
	if err != nil {
		return err
	}

	report := setReport{Command: out.Command, Result: string(out.Result), Attempts: out.Attempts}
	if conn.output == outputJSON {
		if err := json.NewEncoder(cmd.OutOrStdout()).Encode(report); err != nil {
			return err
		}
	} else {
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %s (attempts: %d)\n", report.Command, report.Result, report.Attempts)
	}

	if out.Result != webio.ResultAcked {
		return fmt.Errorf("command %s: %s", out.Command, out.Result)
	}
	return nil
}
