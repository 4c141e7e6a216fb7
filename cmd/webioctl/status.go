package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/nerrad567/webio-bridge/internal/webio"
)

// statusReport is the json form of the status command.
type statusReport struct {
	Address string `json:"address"`
	State   string `json:"state"`
	Inputs  uint16 `json:"inputs"`
	Outputs uint16 `json:"outputs"`
}

func newStatusCmd(flags *connFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Read the input and output state",
		Long: `Connect to the controller, request a full update and print the state of
all eight inputs and outputs.`,
		Example: `  webioctl status --host 192.168.1.50
  webioctl status --host 192.168.1.50 --output json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := flags.validate(); err != nil {
				return err
			}
			return runStatus(cmd, flags)
		},
	}
}

func runStatus(cmd *cobra.Command, flags *connFlags) error {
	ctx := cmd.Context()
	c, err := dial(ctx, flags, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer c.session.Stop()

	st, err := c.waitForState(ctx, flags.timeout)
	if err != nil {
		return err
	}

	report := statusReport{
		Address: st.Address,
		State:   st.State,
		Inputs:  *st.Inputs,
		Outputs: *st.Outputs,
	}
	if flags.output == outputJSON {
		return json.NewEncoder(cmd.OutOrStdout()).Encode(report)
	}
	return printStatus(cmd.OutOrStdout(), report)
}

func printStatus(w io.Writer, r statusReport) error {
	fmt.Fprintf(w, "Controller %s (%s)\n\n", r.Address, r.State)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PIN\tINPUT\tOUTPUT")
	inputs, outputs := pinStates(r.Inputs), pinStates(r.Outputs)
	for pin := 1; pin <= webio.PinCount; pin++ {
		fmt.Fprintf(tw, "%d\t%s\t%s\n", pin, onOff(inputs[pin-1]), onOff(outputs[pin-1]))
	}
	return tw.Flush()
}
