package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/webio-bridge/internal/history"
	"github.com/nerrad567/webio-bridge/internal/infrastructure/mqtt"
	"github.com/nerrad567/webio-bridge/internal/webio"
)

const (
	// stateQoS is used for state, ack and health publishes.
	stateQoS = 1

	// recordTimeout bounds command-log writes on the submit path.
	recordTimeout = 2 * time.Second

	sourceDefault = history.SourceMQTT
)

// MQTTClient is the broker surface the bridge needs.
// cmd/webiobridge adapts *mqtt.Client to it.
type MQTTClient interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error
	IsConnected() bool
}

// CommandRecorder logs accepted commands. *history.Repository implements it.
type CommandRecorder interface {
	RecordCommandQueued(ctx context.Context, rec history.CommandRecord) (string, error)
	FailCommand(ctx context.Context, id, result string) error
}

// Logger is the logging surface used by the bridge.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Options holds the bridge's collaborators. Only Sessions is required.
type Options struct {
	BridgeID       string
	Version        string
	HealthInterval time.Duration

	Sessions []*webio.Session

	MQTT      MQTTClient
	Commands  CommandRecorder
	Telemetry TelemetryWriter
	Logger    Logger
}

// SubmitRequest asks for an output change on one device pin.
type SubmitRequest struct {
	ID       string
	DeviceID string
	Pin      int
	Action   string
	Duration time.Duration
	Source   string
}

// Submission describes a command accepted into a device queue.
type Submission struct {
	ID       string    `json:"id"`
	DeviceID string    `json:"device_id"`
	Pin      int       `json:"pin"`
	Command  string    `json:"command"`
	QueuedAt time.Time `json:"queued_at"`
}

// Bridge connects the device sessions to the outside world.
//
// It owns the session lifecycle, turns MQTT commands into queued device
// commands, publishes pin state and periodic health, and serves the same
// submission path to the HTTP API.
//
// Thread Safety: All methods are safe for concurrent use.
type Bridge struct {
	bridgeID string
	mqtt     MQTTClient
	commands CommandRecorder
	health   *HealthReporter

	sessions map[string]*webio.Session
	order    []string

	stopOnce sync.Once
	started  bool
	startMu  sync.Mutex

	logger   Logger
	loggerMu sync.RWMutex
}

// New creates a bridge and registers its sinks on every session.
// Call Start to begin operation.
func New(opts Options) (*Bridge, error) {
	if len(opts.Sessions) == 0 {
		return nil, fmt.Errorf("bridge: at least one device session is required")
	}

	b := &Bridge{
		bridgeID: opts.BridgeID,
		mqtt:     opts.MQTT,
		commands: opts.Commands,
		sessions: make(map[string]*webio.Session, len(opts.Sessions)),
		logger:   opts.Logger,
	}

	for _, s := range opts.Sessions {
		id := s.Device().ID()
		if _, dup := b.sessions[id]; dup {
			return nil, fmt.Errorf("bridge: duplicate device %q", id)
		}
		b.sessions[id] = s
		b.order = append(b.order, id)

		if b.mqtt != nil {
			s.AddSink(b)
		}
		if opts.Telemetry != nil {
			s.AddSink(telemetrySink{w: opts.Telemetry})
		}
	}
	sort.Strings(b.order)

	b.health = NewHealthReporter(HealthReporterConfig{
		BridgeID:  opts.BridgeID,
		Version:   opts.Version,
		Interval:  opts.HealthInterval,
		Publisher: opts.MQTT,
		Source:    b.Status,
		Telemetry: opts.Telemetry,
	})
	b.health.SetLogger(opts.Logger)

	return b, nil
}

// Start subscribes to commands, starts every session and begins health
// reporting.
func (b *Bridge) Start(ctx context.Context) error {
	b.startMu.Lock()
	defer b.startMu.Unlock()
	if b.started {
		return webio.ErrAlreadyStarted
	}

	if b.mqtt != nil {
		if err := b.health.PublishStarting(); err != nil {
			b.logWarn("failed to publish starting status", "error", err)
		}

		topic := mqtt.Topics{}.AllCommands()
		if err := b.mqtt.Subscribe(topic, stateQoS, b.handleCommand); err != nil {
			return fmt.Errorf("subscribe to commands: %w", err)
		}
		b.logInfo("subscribed to commands", "topic", topic)
	}

	for _, id := range b.order {
		if err := b.sessions[id].Start(ctx); err != nil {
			return fmt.Errorf("starting session %s: %w", id, err)
		}
	}

	b.health.Start(ctx)
	b.started = true

	b.logInfo("bridge started", "bridge_id", b.bridgeID, "devices", len(b.order))
	return nil
}

// Stop stops health reporting and every session. Safe to call twice.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		b.health.Stop()
		for _, id := range b.order {
			b.sessions[id].Stop()
		}
		b.logInfo("bridge stopped")
	})
}

// Session returns the session for a device.
func (b *Bridge) Session(deviceID string) (*webio.Session, bool) {
	s, ok := b.sessions[deviceID]
	return s, ok
}

// Status returns stats for every device, ordered by device ID.
func (b *Bridge) Status() []webio.Stats {
	out := make([]webio.Stats, 0, len(b.order))
	for _, id := range b.order {
		out = append(out, b.sessions[id].Stats())
	}
	return out
}

// DeviceStatus returns stats for one device.
func (b *Bridge) DeviceStatus(deviceID string) (webio.Stats, bool) {
	s, ok := b.sessions[deviceID]
	if !ok {
		return webio.Stats{}, false
	}
	return s.Stats(), true
}

// Submit validates and queues an output change.
//
// Errors are returned synchronously and never reach the session:
// ErrUnknownDevice, webio.ErrInvalidAction, webio.ErrInvalidPin,
// webio.ErrPulseDuration or webio.ErrQueueFull.
func (b *Bridge) Submit(ctx context.Context, req SubmitRequest) (Submission, error) {
	s, ok := b.sessions[req.DeviceID]
	if !ok {
		return Submission{}, fmt.Errorf("%w: %q", ErrUnknownDevice, req.DeviceID)
	}
	action, err := webio.ParseAction(req.Action)
	if err != nil {
		return Submission{}, err
	}
	cmd, err := webio.OutputCommand(req.Pin, action, req.Duration)
	if err != nil {
		return Submission{}, err
	}

	sub := Submission{
		ID:       req.ID,
		DeviceID: req.DeviceID,
		Pin:      req.Pin,
		Command:  cmd,
		QueuedAt: time.Now().UTC(),
	}
	if sub.ID == "" {
		sub.ID = uuid.NewString()
	}
	source := req.Source
	if source == "" {
		source = sourceDefault
	}

	// Log before queuing so the session's outcome always finds the row.
	recorded := b.recordQueued(ctx, sub, source)

	if _, err := s.Device().RequestOutputChange(req.Pin, action, req.Duration); err != nil {
		if recorded {
			b.failRecorded(ctx, sub.ID, err)
		}
		return Submission{}, err
	}

	b.logDebug("command queued", "device", sub.DeviceID, "command", cmd, "id", sub.ID, "source", source)
	return sub, nil
}

func (b *Bridge) recordQueued(ctx context.Context, sub Submission, source string) bool {
	if b.commands == nil {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, recordTimeout)
	defer cancel()

	_, err := b.commands.RecordCommandQueued(ctx, history.CommandRecord{
		ID:       sub.ID,
		DeviceID: sub.DeviceID,
		Command:  sub.Command,
		Source:   source,
		QueuedAt: sub.QueuedAt,
	})
	if err != nil {
		b.logWarn("recording command failed", "device", sub.DeviceID, "id", sub.ID, "error", err)
		return false
	}
	return true
}

func (b *Bridge) failRecorded(ctx context.Context, id string, cause error) {
	ctx, cancel := context.WithTimeout(ctx, recordTimeout)
	defer cancel()
	if err := b.commands.FailCommand(ctx, id, "failed:"+ErrorCode(cause)); err != nil {
		b.logWarn("marking command failed", "id", id, "error", err)
	}
}

// handleCommand processes a message on webio/command/{device}/{pin}.
func (b *Bridge) handleCommand(topic string, payload []byte) {
	deviceID, pin, err := mqtt.ParseCommandTopic(topic)
	if err != nil {
		b.logWarn("ignoring command on malformed topic", "topic", topic, "error", err)
		return
	}

	var msg CommandMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		b.publishAck(newFailedAck("", deviceID, pin,
			fmt.Errorf("%w: %w", webio.ErrInvalidAction, err)))
		return
	}

	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}

	sub, err := b.Submit(context.Background(), SubmitRequest{
		ID:       msg.ID,
		DeviceID: deviceID,
		Pin:      pin,
		Action:   msg.Action,
		Duration: time.Duration(msg.DurationMS) * time.Millisecond,
		Source:   msg.Source,
	})
	if err != nil {
		b.logWarn("command refused", "device", deviceID, "pin", pin, "id", msg.ID, "error", err)
		b.publishAck(newFailedAck(msg.ID, deviceID, pin, err))
		return
	}
	b.publishAck(newQueuedAck(sub))
}

func (b *Bridge) publishAck(ack AckMessage) {
	payload, err := json.Marshal(ack)
	if err != nil {
		b.logError("failed to marshal ack", "error", err)
		return
	}
	if err := b.mqtt.Publish(mqtt.Topics{}.Ack(ack.DeviceID, ack.Pin), payload, stateQoS, false); err != nil {
		b.logWarn("failed to publish ack", "device", ack.DeviceID, "error", err)
	}
}

// HandlePinEvent publishes retained pin state. It implements
// webio.EventSink.
func (b *Bridge) HandlePinEvent(ev webio.PinEvent) {
	if b.mqtt == nil || !b.mqtt.IsConnected() {
		return
	}

	topics := mqtt.Topics{}
	topic := topics.OutputState(ev.DeviceID, ev.Pin)
	if ev.Kind == webio.KindInput {
		topic = topics.InputState(ev.DeviceID, ev.Pin)
	}

	payload, err := json.Marshal(NewStateMessage(ev))
	if err != nil {
		b.logError("failed to marshal state", "error", err)
		return
	}
	if err := b.mqtt.Publish(topic, payload, stateQoS, true); err != nil {
		b.logWarn("failed to publish state", "topic", topic, "error", err)
	}
}

// SetLogger sets the logger for the bridge and its health reporter.
func (b *Bridge) SetLogger(logger Logger) {
	b.loggerMu.Lock()
	b.logger = logger
	b.loggerMu.Unlock()
	b.health.SetLogger(logger)
}

func (b *Bridge) getLogger() Logger {
	b.loggerMu.RLock()
	defer b.loggerMu.RUnlock()
	return b.logger
}

func (b *Bridge) logDebug(msg string, keysAndValues ...any) {
	if l := b.getLogger(); l != nil {
		l.Debug(msg, keysAndValues...)
	}
}

func (b *Bridge) logInfo(msg string, keysAndValues ...any) {
	if l := b.getLogger(); l != nil {
		l.Info(msg, keysAndValues...)
	}
}

func (b *Bridge) logWarn(msg string, keysAndValues ...any) {
	if l := b.getLogger(); l != nil {
		l.Warn(msg, keysAndValues...)
	}
}

func (b *Bridge) logError(msg string, keysAndValues ...any) {
	if l := b.getLogger(); l != nil {
		l.Error(msg, keysAndValues...)
	}
}
