package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/webio-bridge/internal/infrastructure/mqtt"
	"github.com/nerrad567/webio-bridge/internal/webio"
)

const defaultHealthInterval = 30 * time.Second

// HealthPublisher publishes health messages. Usually the MQTT client.
type HealthPublisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	IsConnected() bool
}

// HealthReporterConfig holds configuration for the health reporter.
type HealthReporterConfig struct {
	BridgeID string
	Version  string

	// Interval between reports. Default: 30 seconds.
	Interval time.Duration

	// Publisher may be nil, in which case nothing is published.
	Publisher HealthPublisher

	// Source returns the current per-device stats.
	Source func() []webio.Stats

	// Telemetry, when set, receives a session sample per device per tick.
	Telemetry TelemetryWriter
}

// HealthReporter publishes bridge health on a fixed interval and samples
// session stats into telemetry.
type HealthReporter struct {
	cfg       HealthReporterConfig
	startTime time.Time

	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
	started  bool
	startMu  sync.Mutex

	logger   Logger
	loggerMu sync.RWMutex
}

// NewHealthReporter creates a reporter. Call Start to begin reporting.
func NewHealthReporter(cfg HealthReporterConfig) *HealthReporter {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultHealthInterval
	}
	if cfg.Source == nil {
		cfg.Source = func() []webio.Stats { return nil }
	}
	return &HealthReporter{
		cfg:       cfg,
		startTime: time.Now(),
		done:      make(chan struct{}),
	}
}

// Start begins periodic reporting until ctx ends or Stop is called.
func (h *HealthReporter) Start(ctx context.Context) {
	h.startMu.Lock()
	defer h.startMu.Unlock()
	if h.started {
		return
	}
	h.started = true
	h.wg.Add(1)
	go h.reportLoop(ctx)
}

// Stop ends reporting and publishes a final stopping status.
// Safe to call multiple times.
func (h *HealthReporter) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)
		h.wg.Wait()
		//nolint:errcheck // Best-effort during shutdown
		h.publish(HealthStopping, "bridge stopping")
	})
}

// SetLogger sets the logger for this reporter.
func (h *HealthReporter) SetLogger(logger Logger) {
	h.loggerMu.Lock()
	h.logger = logger
	h.loggerMu.Unlock()
}

// PublishStarting publishes a starting status.
func (h *HealthReporter) PublishStarting() error {
	return h.publish(HealthStarting, "bridge starting")
}

// PublishNow publishes the current health immediately.
func (h *HealthReporter) PublishNow() error {
	status, reason := h.determineStatus(h.cfg.Source())
	return h.publish(status, reason)
}

func (h *HealthReporter) reportLoop(ctx context.Context) {
	defer h.wg.Done()

	ticker := time.NewTicker(h.cfg.Interval)
	defer ticker.Stop()

	h.tick()
	for {
		select {
		case <-ctx.Done():
			return
		case <-h.done:
			return
		case <-ticker.C:
			h.tick()
		}
	}
}

func (h *HealthReporter) tick() {
	stats := h.cfg.Source()
	if h.cfg.Telemetry != nil {
		now := time.Now()
		for _, st := range stats {
			h.cfg.Telemetry.WriteSessionStats(sampleFromStats(st, now))
		}
	}
	status, reason := h.determineStatus(stats)
	if err := h.publishStats(status, reason, stats); err != nil {
		h.logError("failed to publish health", err)
	}
}

// determineStatus is degraded when MQTT is down or any device is not
// polling.
func (h *HealthReporter) determineStatus(stats []webio.Stats) (HealthStatus, string) {
	if h.cfg.Publisher != nil && !h.cfg.Publisher.IsConnected() {
		return HealthDegraded, "MQTT disconnected"
	}
	offline := 0
	for _, st := range stats {
		if !st.Connected {
			offline++
		}
	}
	if offline > 0 {
		return HealthDegraded, fmt.Sprintf("%d of %d devices not connected", offline, len(stats))
	}
	return HealthHealthy, ""
}

func (h *HealthReporter) publish(status HealthStatus, reason string) error {
	return h.publishStats(status, reason, h.cfg.Source())
}

func (h *HealthReporter) publishStats(status HealthStatus, reason string, stats []webio.Stats) error {
	if h.cfg.Publisher == nil || !h.cfg.Publisher.IsConnected() {
		return nil
	}

	msg := HealthMessage{
		Bridge:        h.cfg.BridgeID,
		Timestamp:     time.Now().UTC(),
		Status:        status,
		Version:       h.cfg.Version,
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
		Devices:       stats,
		Reason:        reason,
	}
	if msg.Devices == nil {
		msg.Devices = []webio.Stats{}
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return h.cfg.Publisher.Publish(mqtt.Topics{}.Health(h.cfg.BridgeID), payload, stateQoS, true)
}

func (h *HealthReporter) logError(msg string, err error) {
	h.loggerMu.RLock()
	logger := h.logger
	h.loggerMu.RUnlock()

	if logger != nil {
		logger.Error(msg, "error", err)
	}
}
