// webioctl is a diagnostic client for a single Web-IO controller.
//
// It opens its own session to the device, so it works without the bridge
// running and without a broker:
//
//	webioctl status --host 192.168.1.50
//	webioctl set 3 pulse --duration 500ms --host 192.168.1.50
//	webioctl watch --host 192.168.1.50
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	flags := &connFlags{}

	rootCmd := &cobra.Command{
		Use:   "webioctl",
		Short: "Diagnostic client for Web-IO 8-in/8-out controllers",
		Long: `webioctl talks to one Web-IO controller over its TCP command port.

It reads the input and output masks, switches outputs and streams pin
changes. It uses the same session engine as the bridge.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags.register(rootCmd)

	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newStatusCmd(flags))
	rootCmd.AddCommand(newSetCmd(flags))
	rootCmd.AddCommand(newWatchCmd(flags))

	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "webioctl %s (commit %s, built %s)\n", version, commit, date)
			return nil
		},
	}
}
