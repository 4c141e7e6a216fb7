package webio

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// Session timing defaults.
const (
	// defaultKeepAliveInterval is how often a ping is queued while polling.
	defaultKeepAliveInterval = 60 * time.Second

	// defaultHoldInterval is the cooldown after a failed connect.
	defaultHoldInterval = 60 * time.Second

	// defaultResponseWindow is how long one send attempt waits for OK/ERROR.
	defaultResponseWindow = 3 * time.Second

	// defaultPollInterval is the loop tick and the response polling step.
	defaultPollInterval = 100 * time.Millisecond

	// defaultReceiveTimeout bounds each individual read.
	defaultReceiveTimeout = 100 * time.Millisecond

	// defaultMaxAttempts is the number of sends per command.
	defaultMaxAttempts = 3
)

// State is the connection state of a session.
type State int32

const (
	// StateConnecting dials the device on the next tick.
	StateConnecting State = iota

	// StateHold waits out the cooldown after a failed connect.
	StateHold

	// StatePolling is connected: commands are written and telemetry read.
	StatePolling
)

// String returns the lower-case state name.
func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateHold:
		return "hold"
	case StatePolling:
		return "polling"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// SessionConfig holds session timings. Zero values select the defaults.
type SessionConfig struct {
	// ConnectTimeout bounds a dial attempt. Default: 5s.
	ConnectTimeout time.Duration

	// ReceiveTimeout bounds a single read. Default: 100ms.
	ReceiveTimeout time.Duration

	// KeepAliveInterval is the ping period. Default: 60s.
	KeepAliveInterval time.Duration

	// HoldInterval is the cooldown after a failed connect. Default: 60s.
	HoldInterval time.Duration

	// ResponseWindow is how long one attempt waits for OK/ERROR. Default: 3s.
	ResponseWindow time.Duration

	// PollInterval is the loop tick. Default: 100ms.
	PollInterval time.Duration

	// MaxAttempts is the number of sends per command. Default: 3.
	MaxAttempts int

	// CallbackQueueSize is the dispatcher buffer. Default: 100.
	CallbackQueueSize int

	// CallbackWorkers is the dispatcher pool size. Default: 1.
	CallbackWorkers int
}

func (c SessionConfig) withDefaults() SessionConfig {
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = defaultConnectTimeout
	}
	if c.ReceiveTimeout <= 0 {
		c.ReceiveTimeout = defaultReceiveTimeout
	}
	if c.KeepAliveInterval <= 0 {
		c.KeepAliveInterval = defaultKeepAliveInterval
	}
	if c.HoldInterval <= 0 {
		c.HoldInterval = defaultHoldInterval
	}
	if c.ResponseWindow <= 0 {
		c.ResponseWindow = defaultResponseWindow
	}
	if c.PollInterval <= 0 {
		c.PollInterval = defaultPollInterval
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = defaultMaxAttempts
	}
	return c
}

// Clock abstracts time for the session loop.
type Clock interface {
	Now() time.Time
	Sleep(d time.Duration)
}

type systemClock struct{}

func (systemClock) Now() time.Time        { return time.Now() }
func (systemClock) Sleep(d time.Duration) { time.Sleep(d) }

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// EventSink receives every pin event, inputs included.
type EventSink interface {
	HandlePinEvent(ev PinEvent)
}

// OutcomeSink is optionally implemented by an EventSink that also wants
// the terminal outcome of each command.
type OutcomeSink interface {
	HandleCommandOutcome(out CommandOutcome)
}

// Result is the terminal outcome of a queued command.
type Result string

// Command results.
const (
	ResultAcked    Result = "acked"
	ResultRejected Result = "rejected"
	ResultTimedOut Result = "timeout"
)

// CommandOutcome reports what happened to a command once it left the queue.
type CommandOutcome struct {
	DeviceID string
	Command  string
	Result   Result
	Attempts int
	At       time.Time
}

// Option configures a Session.
type Option func(*Session)

// WithDialer replaces the TCP dialer.
func WithDialer(d Dialer) Option {
	return func(s *Session) { s.dialer = d }
}

// WithClock replaces the wall clock.
func WithClock(c Clock) Option {
	return func(s *Session) { s.clock = c }
}

// WithLogger sets the session logger.
func WithLogger(l Logger) Option {
	return func(s *Session) { s.logger = l }
}

// WithSink registers an event sink.
func WithSink(sink EventSink) Option {
	return func(s *Session) { s.sinks = append(s.sinks, sink) }
}

// Session drives one Device: it keeps the connection open, writes queued
// commands and feeds received telemetry through the state tracker.
//
// Thread Safety:
//   - Start, Stop, Stats, State, AddSink and SetLogger are safe for
//     concurrent use.
//   - Connection, timers and masks are owned by the loop goroutine.
//
// Reconnection:
//   - A failed connect holds for HoldInterval before the next attempt.
//   - A transport error on an open connection reconnects on the next tick
//     with the unfinished command still at the head of the queue.
type Session struct {
	device *Device
	cfg    SessionConfig
	dialer Dialer
	clock  Clock

	// Loop-owned.
	state         State
	transport     Transport
	tracker       StateTracker
	rx            lineBuffer
	keepAliveAt   time.Time
	holdUntil     time.Time
	connectedOnce bool

	stateValue atomic.Int32

	// Set when a delivery was dropped; cleared once bound output handlers
	// have been re-sent the current mask.
	resyncPending atomic.Bool

	sinks   []EventSink
	sinksMu sync.RWMutex

	dispatcher *dispatcher

	// Shutdown coordination (closeOnce prevents double-close panics)
	done    *closeOnce
	wg      sync.WaitGroup
	started atomic.Bool

	logger   Logger
	loggerMu sync.RWMutex

	counters *sessionCounters
}

// NewSession creates a session for device. Nothing runs until Start.
func NewSession(device *Device, cfg SessionConfig, opts ...Option) *Session {
	cfg = cfg.withDefaults()

	s := &Session{
		device:     device,
		cfg:        cfg,
		dialer:     TCPDialer{},
		clock:      systemClock{},
		state:      StateConnecting,
		dispatcher: newDispatcher(cfg.CallbackQueueSize, cfg.CallbackWorkers),
		done:       newCloseOnce(),
		counters:   newSessionCounters(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.dispatcher.onPanic = func(r any) {
		s.logError("dispatch panic", panicError(r), "device", s.device.id)
	}
	s.dispatcher.onDrop = func() {
		s.resyncPending.Store(true)
		s.logWarn("callback queue full, dropping event", "device", s.device.id)
	}
	return s
}

// Device returns the driven device.
func (s *Session) Device() *Device { return s.device }

// AddSink registers an event sink. Sinks added while running see events
// from the next delivery on.
func (s *Session) AddSink(sink EventSink) {
	s.sinksMu.Lock()
	s.sinks = append(s.sinks, sink)
	s.sinksMu.Unlock()
}

// SetLogger sets the logger for this session.
func (s *Session) SetLogger(logger Logger) {
	s.loggerMu.Lock()
	s.logger = logger
	s.loggerMu.Unlock()
}

// Start launches the session loop and returns immediately. The loop ends
// when ctx is cancelled or Stop is called.
func (s *Session) Start(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	if ctx == nil {
		ctx = context.Background()
	}

	s.dispatcher.start()

	s.wg.Add(1)
	go s.run(ctx)
	return nil
}

// Stop signals the loop, waits for the current iteration to finish and
// closes the connection. Safe to call multiple times.
func (s *Session) Stop() {
	s.done.Close()
	s.wg.Wait()
	s.dispatcher.close()
}

// State returns the current connection state.
func (s *Session) State() State {
	return State(s.stateValue.Load())
}

// HealthCheck returns ErrNotConnected unless the session is polling.
func (s *Session) HealthCheck(_ context.Context) error {
	if s.State() != StatePolling {
		return ErrNotConnected
	}
	return nil
}

// Stats returns current operational statistics.
func (s *Session) Stats() Stats {
	c := s.counters
	state := s.State()
	return Stats{
		DeviceID:         s.device.id,
		Name:             s.device.name,
		Address:          s.device.Address(),
		State:            state.String(),
		Connected:        state == StatePolling,
		ConnectedSince:   loadTime(&c.connectedSince),
		LastActivity:     loadTime(&c.lastActivity),
		Inputs:           loadMask(&c.inputs),
		Outputs:          loadMask(&c.outputs),
		QueueDepth:       s.device.queue.Len(),
		CommandsSent:     c.commandsSent.Load(),
		CommandsAcked:    c.commandsAcked.Load(),
		CommandsRejected: c.commandsRejected.Load(),
		CommandsTimedOut: c.commandsTimedOut.Load(),
		ConnectAttempts:  c.connectAttempts.Load(),
		ConnectFailures:  c.connectFailures.Load(),
		Reconnects:       c.reconnects.Load(),
		TransportErrors:  c.transportErrors.Load(),
		BytesRx:          c.bytesRx.Load(),
		EventsEmitted:    c.eventsEmitted.Load(),
		EventsDropped:    s.dispatcher.dropped.Load(),
	}
}

// run is the session loop: one step, then a fixed sleep.
func (s *Session) run(ctx context.Context) {
	defer s.wg.Done()

	s.logInfo("session started", "device", s.device.name, "address", s.device.Address())

	for !s.stopping(ctx) {
		start := s.clock.Now()
		s.step(ctx)
		s.sleepRest(start)
	}

	s.closeTransport()
	s.counters.connectedSince.Store(0)
	s.logInfo("session stopped", "device", s.device.name)
}

// stopping reports whether shutdown has been requested.
func (s *Session) stopping(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return true
	case <-s.done.Done():
		return true
	default:
		return false
	}
}

// step runs one iteration of the state machine.
func (s *Session) step(ctx context.Context) {
	switch s.state {
	case StateConnecting:
		s.connect(ctx)
	case StateHold:
		if s.clock.Now().After(s.holdUntil) {
			s.setState(StateConnecting)
			s.connect(ctx)
		}
	case StatePolling:
		s.poll(ctx)
	default:
		s.logError("unknown session state", fmt.Errorf("%v", s.state), "device", s.device.name)
		s.setState(StateConnecting)
	}
}

// connect dials the device. Success queues a refresh and arms the
// keep-alive; failure arms the hold cooldown.
func (s *Session) connect(ctx context.Context) {
	s.closeTransport()
	s.counters.connectAttempts.Add(1)

	address := s.device.Address()
	s.logDebug("connecting", "device", s.device.name, "address", address)

	t, err := s.dialer.Dial(ctx, address, s.cfg.ConnectTimeout)
	if err != nil {
		s.counters.connectFailures.Add(1)
		s.holdUntil = s.clock.Now().Add(s.cfg.HoldInterval)
		s.logWarn("connect failed, holding before retry",
			"device", s.device.name,
			"address", address,
			"hold", s.cfg.HoldInterval.String(),
			"error", err)
		s.setState(StateHold)
		return
	}

	now := s.clock.Now()
	s.transport = t
	if s.connectedOnce {
		s.counters.reconnects.Add(1)
	}
	s.connectedOnce = true
	s.counters.connectedSince.Store(now.UnixNano())

	s.device.queue.pushInternal(CommandRefresh)
	s.keepAliveAt = now.Add(s.cfg.KeepAliveInterval)

	s.logInfo("connected", "device", s.device.name, "address", address)
	s.setState(StatePolling)
}

// poll queues a keep-alive when due, writes the head command, then reads
// once.
func (s *Session) poll(ctx context.Context) {
	if now := s.clock.Now(); now.After(s.keepAliveAt) {
		s.keepAliveAt = now.Add(s.cfg.KeepAliveInterval)
		s.device.queue.pushInternal(CommandKeepAlive)
	}

	if cmd, ok := s.device.queue.Peek(); ok {
		attempts, err := s.writeCommand(ctx, cmd)
		switch {
		case err == nil:
			s.device.queue.Pop()
			s.counters.commandsAcked.Add(1)
			s.reportOutcome(cmd, ResultAcked, attempts)
		case errors.Is(err, ErrRejected):
			s.device.queue.Pop()
			s.counters.commandsRejected.Add(1)
			s.logWarn("command rejected, dropping", "device", s.device.name, "command", cmd)
			s.reportOutcome(cmd, ResultRejected, attempts)
		case errors.Is(err, ErrProtocolTimeout):
			s.device.queue.Pop()
			s.counters.commandsTimedOut.Add(1)
			s.logWarn("command unanswered, dropping",
				"device", s.device.name,
				"command", cmd,
				"attempts", attempts)
			s.reportOutcome(cmd, ResultTimedOut, attempts)
		case errors.Is(err, errStopping):
			// Left queued; run closes the transport.
			return
		default:
			s.dropConnection(err)
			return
		}
	}

	lines, err := s.receive()
	if err != nil {
		s.dropConnection(err)
		return
	}
	if len(lines) > 0 {
		s.handleLines(lines)
	}
	s.resyncIfDrained()
}

// writeCommand sends cmd up to MaxAttempts times, each time polling for
// OK or ERROR within ResponseWindow. Returns the number of sends made.
// Transport errors are returned as is; the caller keeps cmd queued.
func (s *Session) writeCommand(ctx context.Context, cmd string) (int, error) {
	for attempt := 1; attempt <= s.cfg.MaxAttempts; attempt++ {
		s.logDebug("tx", "device", s.device.name, "command", cmd, "attempt", attempt)
		if err := s.transport.Send(cmd); err != nil {
			return attempt, err
		}
		s.counters.commandsSent.Add(1)

		deadline := s.clock.Now().Add(s.cfg.ResponseWindow)
		for s.clock.Now().Before(deadline) {
			if s.stopping(ctx) {
				return attempt, errStopping
			}
			start := s.clock.Now()
			lines, err := s.receive()
			if err != nil {
				return attempt, err
			}
			if len(lines) > 0 {
				resp := Classify(lines)
				s.handleLines(lines)
				switch resp {
				case ResponseOK:
					return attempt, nil
				case ResponseError:
					return attempt, fmt.Errorf("%w: %q", ErrRejected, cmd)
				case ResponseTelemetry:
				}
			}
			s.sleepRest(start)
		}

		s.logDebug("no response within window",
			"device", s.device.name,
			"command", cmd,
			"attempt", attempt,
			"window", s.cfg.ResponseWindow.String())
	}

	return s.cfg.MaxAttempts, fmt.Errorf("%w: %q after %d attempts", ErrProtocolTimeout, cmd, s.cfg.MaxAttempts)
}

// sleepRest sleeps out the rest of the tick that began at start. Time
// spent blocked in Receive counts toward the tick.
func (s *Session) sleepRest(start time.Time) {
	if rest := s.cfg.PollInterval - s.clock.Now().Sub(start); rest > 0 {
		s.clock.Sleep(rest)
	}
}

// receive reads once and returns the complete lines buffered so far. A
// line cut off at the end of a read is held until its terminator arrives.
func (s *Session) receive() ([]byte, error) {
	chunk, err := s.transport.Receive(readChunkSize, s.cfg.ReceiveTimeout)
	if err != nil {
		return nil, err
	}
	if len(chunk) == 0 {
		return nil, nil
	}
	s.counters.bytesRx.Add(uint64(len(chunk)))
	s.counters.lastActivity.Store(s.clock.Now().UnixNano())
	s.logDebug("rx", "device", s.device.name, "data", string(chunk))
	return s.rx.feed(chunk), nil
}

// handleLines decodes complete lines and emits pin events for mask changes.
func (s *Session) handleLines(lines []byte) {
	now := s.clock.Now()
	for _, f := range Decode(lines) {
		if f.Value < 0 || f.Value > 0xFFFF {
			s.logDebug("ignoring out of range mask", "device", s.device.name, "key", f.Key, "value", f.Value)
			continue
		}
		mask := uint16(f.Value)

		var events []PinEvent
		switch f.Key {
		case KeyInputs:
			events = s.tracker.ApplyInputMask(mask)
			s.counters.inputs.Store(int32(mask))
		case KeyOutputs:
			events = s.tracker.ApplyOutputMask(mask)
			s.counters.outputs.Store(int32(mask))
		default:
			continue
		}
		s.emit(events, now)
	}
}

// emit hands events to the dispatcher.
func (s *Session) emit(events []PinEvent, at time.Time) {
	for _, ev := range events {
		ev.DeviceID = s.device.id
		ev.At = at
		s.counters.eventsEmitted.Add(1)
		s.logDebug("pin changed",
			"device", s.device.name,
			"kind", ev.Kind.String(),
			"pin", ev.Pin,
			"on", ev.On)
		s.dispatcher.submit(func() { s.deliver(ev) })
	}
}

// deliver runs on a dispatcher worker. Output events go to the bound pin
// handler; every event goes to the sinks.
func (s *Session) deliver(ev PinEvent) {
	if ev.Kind == KindOutput {
		if h := s.device.outputHandler(ev.Pin); h != nil {
			s.invoke("output handler", func() { h(ev.Pin, ev.On) })
		}
	}
	for _, sink := range s.snapshotSinks() {
		s.invoke("event sink", func() { sink.HandlePinEvent(ev) })
	}
}

// resyncIfDrained re-sends the current output mask to bound handlers
// after a dropped delivery, once the dispatcher queue has emptied. Sinks
// are not replayed; their misses show in EventsDropped.
func (s *Session) resyncIfDrained() {
	if !s.resyncPending.Load() || !s.dispatcher.idle() {
		return
	}
	mask, known := s.tracker.Outputs()
	if !known {
		return
	}
	if s.dispatcher.submit(func() { s.replayOutputs(mask) }) {
		s.resyncPending.Store(false)
		s.logDebug("output handlers resynced", "device", s.device.name, "outputs", mask)
	}
}

// replayOutputs calls every bound output handler with its pin's state in mask.
func (s *Session) replayOutputs(mask uint16) {
	for pin := 1; pin <= PinCount; pin++ {
		h := s.device.outputHandler(pin)
		if h == nil {
			continue
		}
		on := mask&(1<<(pin-1)) != 0
		s.invoke("output handler", func() { h(pin, on) })
	}
}

// reportOutcome hands a command outcome to sinks that accept outcomes.
func (s *Session) reportOutcome(cmd string, result Result, attempts int) {
	out := CommandOutcome{
		DeviceID: s.device.id,
		Command:  cmd,
		Result:   result,
		Attempts: attempts,
		At:       s.clock.Now(),
	}
	s.dispatcher.submit(func() {
		for _, sink := range s.snapshotSinks() {
			if outSink, ok := sink.(OutcomeSink); ok {
				s.invoke("outcome sink", func() { outSink.HandleCommandOutcome(out) })
			}
		}
	})
}

// invoke calls fn and logs a panic instead of letting it kill the worker.
func (s *Session) invoke(what string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			s.logError(what+" panic", panicError(r), "device", s.device.id)
		}
	}()
	fn()
}

func (s *Session) snapshotSinks() []EventSink {
	s.sinksMu.RLock()
	defer s.sinksMu.RUnlock()
	out := make([]EventSink, len(s.sinks))
	copy(out, s.sinks)
	return out
}

// dropConnection closes the transport after a transport error and goes
// back to connecting. The command queue is left untouched.
func (s *Session) dropConnection(err error) {
	s.counters.transportErrors.Add(1)
	s.logWarn("connection lost, reconnecting", "device", s.device.name, "error", err)
	s.closeTransport()
	s.counters.connectedSince.Store(0)
	s.setState(StateConnecting)
}

// closeTransport closes and forgets the current transport, if any.
func (s *Session) closeTransport() {
	s.rx.reset()
	if s.transport == nil {
		return
	}
	if err := s.transport.Close(); err != nil {
		s.logDebug("close transport", "device", s.device.name, "error", err)
	}
	s.transport = nil
}

func (s *Session) setState(state State) {
	if s.state != state {
		s.logDebug("state change",
			"device", s.device.name,
			"from", s.state.String(),
			"to", state.String())
	}
	s.state = state
	s.stateValue.Store(int32(state))
}

func (s *Session) getLogger() Logger {
	s.loggerMu.RLock()
	defer s.loggerMu.RUnlock()
	return s.logger
}

func (s *Session) logDebug(msg string, keysAndValues ...any) {
	if l := s.getLogger(); l != nil {
		l.Debug(msg, keysAndValues...)
	}
}

func (s *Session) logInfo(msg string, keysAndValues ...any) {
	if l := s.getLogger(); l != nil {
		l.Info(msg, keysAndValues...)
	}
}

func (s *Session) logWarn(msg string, keysAndValues ...any) {
	if l := s.getLogger(); l != nil {
		l.Warn(msg, keysAndValues...)
	}
}

// logError logs an error message if logger is set.
func (s *Session) logError(msg string, err error, keysAndValues ...any) {
	if l := s.getLogger(); l != nil {
		l.Error(msg, append([]any{"error", err}, keysAndValues...)...)
	}
}
