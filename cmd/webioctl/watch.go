package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/nerrad567/webio-bridge/internal/webio"
)

type watchFlags struct {
	duration time.Duration
}

// watchEvent is one json line of the watch command.
type watchEvent struct {
	Time string `json:"time"`
	Kind string `json:"kind"`
	Pin  int    `json:"pin"`
	On   bool   `json:"on"`
}

func newWatchCmd(conn *connFlags) *cobra.Command {
	flags := &watchFlags{}

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Stream input and output changes",
		Long: `Print every pin change the controller reports until interrupted.

The first update reports all sixteen pins; after that only changes are
printed. With --output json each change is one JSON object per line.`,
		Example: `  webioctl watch --host 192.168.1.50
  webioctl watch --host 192.168.1.50 --duration 1m --output json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := conn.validate(); err != nil {
				return err
			}
			return runWatch(cmd, conn, flags)
		},
	}

	cmd.Flags().DurationVar(&flags.duration, "duration", 0, "Stop after this long (default: until interrupted)")

	return cmd
}

func runWatch(cmd *cobra.Command, conn *connFlags, flags *watchFlags) error {
	ctx := cmd.Context()
	if flags.duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, flags.duration)
		defer cancel()
	}

	c, err := dial(ctx, conn, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer c.session.Stop()

	if _, err := c.waitForState(ctx, conn.timeout); err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	enc := json.NewEncoder(w)
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-c.events:
			at := ev.At.Format(time.RFC3339Nano)
			if conn.output == outputJSON {
				if err := enc.Encode(watchEvent{Time: at, Kind: ev.Kind.String(), Pin: ev.Pin, On: ev.On}); err != nil {
					return err
				}
				continue
			}
			fmt.Fprintf(w, "%s  %-6s %d  %s\n", at, ev.Kind, ev.Pin, onOff(ev.On))
		}
	}
}

var _ webio.EventSink = (*client)(nil)
