package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/nerrad567/webio-bridge/internal/infrastructure/config"
	"github.com/nerrad567/webio-bridge/internal/infrastructure/logging"
	"github.com/nerrad567/webio-bridge/internal/webio"
)

const (
	outputText = "text"
	outputJSON = "json"

	statePollInterval = 20 * time.Millisecond
)

var errNoResponse = errors.New("controller did not respond")

// connFlags are shared by every command that talks to a controller.
type connFlags struct {
	host    string
	port    int
	timeout time.Duration
	output  string
	verbose bool
}

func (f *connFlags) register(cmd *cobra.Command) {
	pf := cmd.PersistentFlags()
	pf.StringVar(&f.host, "host", "", "Controller host name or IP address (required)")
	pf.IntVar(&f.port, "port", webio.DefaultPort, "Controller TCP port")
	pf.DurationVar(&f.timeout, "timeout", 5*time.Second, "How long to wait for the controller")
	pf.StringVar(&f.output, "output", outputText, "Output format: text|json")
	pf.BoolVarP(&f.verbose, "verbose", "v", false, "Log session activity to stderr")
}

func (f *connFlags) validate() error {
	if f.host == "" {
		return errors.New("required flag --host not set")
	}
	if f.port < 1 || f.port > 65535 {
		return fmt.Errorf("invalid --port %d (must be 1-65535)", f.port)
	}
	if f.timeout <= 0 {
		return fmt.Errorf("invalid --timeout %s (must be positive)", f.timeout)
	}
	if f.output != outputText && f.output != outputJSON {
		return fmt.Errorf("invalid output format '%s'; must be 'text' or 'json'", f.output)
	}
	return nil
}

// client is a started session plus the channels its sink feeds.
// Sink sends never block the dispatcher; overflow is dropped.
type client struct {
	session  *webio.Session
	events   chan webio.PinEvent
	outcomes chan webio.CommandOutcome
}

func (c *client) HandlePinEvent(ev webio.PinEvent) {
	select {
	case c.events <- ev:
	default:
	}
}

func (c *client) HandleCommandOutcome(out webio.CommandOutcome) {
	select {
	case c.outcomes <- out:
	default:
	}
}

// dial starts a session to the controller. The caller must Stop it.
func dial(ctx context.Context, f *connFlags, stderr io.Writer) (*client, error) {
	level := "warn"
	if f.verbose {
		level = "debug"
	}
	log := logging.NewWithWriter(config.LoggingConfig{Level: level, Format: "text"}, version, stderr).
		Component("webioctl")

	device := webio.NewDevice(webio.DeviceConfig{
		ID:        f.host,
		Host:      f.host,
		Port:      f.port,
		QueueSize: 4,
	})

	c := &client{
		events:   make(chan webio.PinEvent, 64),
		outcomes: make(chan webio.CommandOutcome, 8),
	}
	c.session = webio.NewSession(device, webio.SessionConfig{ConnectTimeout: f.timeout},
		webio.WithLogger(log),
		webio.WithSink(c),
	)
	if err := c.session.Start(ctx); err != nil {
		return nil, fmt.Errorf("starting session: %w", err)
	}
	return c, nil
}

// waitForState blocks until both masks have been reported.
func (c *client) waitForState(ctx context.Context, timeout time.Duration) (webio.Stats, error) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	tick := time.NewTicker(statePollInterval)
	defer tick.Stop()

	for {
		st := c.session.Stats()
		if st.Inputs != nil && st.Outputs != nil {
			return st, nil
		}
		select {
		case <-ctx.Done():
			return st, ctx.Err()
		case <-deadline.C:
			return st, fmt.Errorf("%w: no state from %s within %s", errNoResponse, st.Address, timeout)
		case <-tick.C:
		}
	}
}

// waitForOutcome returns the outcome of cmd, skipping keep-alives and
// refreshes the session sends on its own.
func (c *client) waitForOutcome(ctx context.Context, cmd string, timeout time.Duration) (webio.CommandOutcome, error) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		select {
		case out := <-c.outcomes:
			if out.Command == cmd {
				return out, nil
			}
		case <-ctx.Done():
			return webio.CommandOutcome{}, ctx.Err()
		case <-deadline.C:
			return webio.CommandOutcome{}, fmt.Errorf("%w: %s not answered within %s", errNoResponse, cmd, timeout)
		}
	}
}

// pinStates expands a mask into per-pin on/off values, pin 1 first.
func pinStates(mask uint16) []bool {
	states := make([]bool, webio.PinCount)
	for pin := 1; pin <= webio.PinCount; pin++ {
		states[pin-1] = mask&(1<<(pin-1)) != 0
	}
	return states
}

func onOff(on bool) string {
	if on {
		return "on"
	}
	return "off"
}
