package webio

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Protocol keywords.
const (
	// CommandRefresh asks the device to report its full input and output state.
	CommandRefresh = "getupdate"

	// CommandKeepAlive is a no-op used to detect a dead connection.
	CommandKeepAlive = "ping"

	// KeyInputs carries the full input bitmask.
	KeyInputs = "inputs"

	// KeyOutputs carries the full output bitmask.
	KeyOutputs = "outputs"

	lineTerminator = "\r\n"
	markerOK       = "OK"
	markerError    = "ERROR"
)

// Response classifies a received chunk.
type Response int

const (
	// ResponseTelemetry is data that is neither OK nor ERROR.
	ResponseTelemetry Response = iota

	// ResponseOK acknowledges the last command.
	ResponseOK

	// ResponseError rejects the last command.
	ResponseError
)

// String returns the response name.
func (r Response) String() string {
	switch r {
	case ResponseTelemetry:
		return "telemetry"
	case ResponseOK:
		return "ok"
	case ResponseError:
		return "error"
	default:
		return fmt.Sprintf("response(%d)", int(r))
	}
}

// Field is one key=value pair decoded from a chunk.
type Field struct {
	Key   string
	Value int
}

// EncodeCommand returns the wire form of cmd.
func EncodeCommand(cmd string) []byte {
	return []byte(cmd + lineTerminator)
}

// Decode splits chunk into lines and parses every key=integer line.
// Lines without '=' and values that are not integers are skipped.
func Decode(chunk []byte) []Field {
	if len(chunk) == 0 {
		return nil
	}

	var fields []Field
	for _, line := range strings.Split(string(chunk), "\n") {
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil {
			continue
		}
		fields = append(fields, Field{Key: strings.TrimSpace(key), Value: n})
	}
	return fields
}

// maxPendingLine bounds an unterminated fragment held between reads.
const maxPendingLine = 256

// lineBuffer reassembles lines that arrive split across reads.
//
// Not safe for concurrent use; the session loop owns it.
type lineBuffer struct {
	pending []byte
}

// feed appends data and returns every complete '\n'-terminated line
// received so far. The trailing fragment is kept for the next call. A
// fragment longer than maxPendingLine is discarded.
func (b *lineBuffer) feed(data []byte) []byte {
	b.pending = append(b.pending, data...)

	end := bytes.LastIndexByte(b.pending, '\n')
	if end < 0 {
		if len(b.pending) > maxPendingLine {
			b.pending = b.pending[:0]
		}
		return nil
	}

	lines := make([]byte, end+1)
	copy(lines, b.pending[:end+1])
	b.pending = append(b.pending[:0], b.pending[end+1:]...)
	if len(b.pending) > maxPendingLine {
		b.pending = b.pending[:0]
	}
	return lines
}

// reset drops any partial line.
func (b *lineBuffer) reset() {
	b.pending = b.pending[:0]
}

// buffered returns the number of held fragment bytes.
func (b *lineBuffer) buffered() int {
	return len(b.pending)
}

// Classify reports whether chunk carries an OK or ERROR marker. The first
// line starting with either marker decides; anything else is telemetry.
func Classify(chunk []byte) Response {
	for _, line := range strings.Split(string(chunk), "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, markerOK):
			return ResponseOK
		case strings.HasPrefix(line, markerError):
			return ResponseError
		}
	}
	return ResponseTelemetry
}

// Action is an output operation.
type Action string

// Output actions understood by the device.
const (
	ActionOn     Action = "on"
	ActionOff    Action = "off"
	ActionToggle Action = "toggle"
	ActionPulse  Action = "pulse"
)

// ParseAction converts a string to an Action.
func ParseAction(s string) (Action, error) {
	switch a := Action(strings.ToLower(strings.TrimSpace(s))); a {
	case ActionOn, ActionOff, ActionToggle, ActionPulse:
		return a, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidAction, s)
	}
}

// OutputCommand builds the command line for an output change.
// The pulse duration is only used by ActionPulse, where it must be at
// least one millisecond.
func OutputCommand(pin int, action Action, pulse time.Duration) (string, error) {
	if err := ValidatePin(pin); err != nil {
		return "", err
	}

	switch action {
	case ActionOn, ActionOff, ActionToggle:
		return fmt.Sprintf("output%d=%s", pin, action), nil
	case ActionPulse:
		ms := pulse.Milliseconds()
		if ms <= 0 {
			return "", fmt.Errorf("%w: got %s", ErrPulseDuration, pulse)
		}
		return fmt.Sprintf("output%d=pulse-%d", pin, ms), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidAction, action)
	}
}

// ValidatePin checks that pin is in 1..PinCount.
func ValidatePin(pin int) error {
	if pin < 1 || pin > PinCount {
		return fmt.Errorf("%w: %d (must be 1-%d)", ErrInvalidPin, pin, PinCount)
	}
	return nil
}
