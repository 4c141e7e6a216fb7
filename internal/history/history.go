package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/webio-bridge/internal/webio"
)

const (
	defaultLimit = 50
	maxLimit     = 500

	// sinkTimeout bounds writes made from the session callback path.
	sinkTimeout = 2 * time.Second
)

// Command sources recorded in command_log.
const (
	SourceMQTT   = "mqtt"
	SourceAPI    = "api"
	SourceSwitch = "switch"
)

// ResultQueued marks a command_log row that has not finished yet.
const ResultQueued = "queued"

// ErrDeviceIDRequired is returned when a query or record has no device.
var ErrDeviceIDRequired = errors.New("history: device id is required")

// PinEventRecord is a stored pin transition.
type PinEventRecord struct {
	ID         int64     `json:"id"`
	DeviceID   string    `json:"device_id"`
	Pin        int       `json:"pin"`
	Kind       string    `json:"kind"`
	On         bool      `json:"on"`
	RecordedAt time.Time `json:"recorded_at"`
}

// CommandRecord is a stored command and, once finished, its outcome.
type CommandRecord struct {
	ID         string     `json:"id"`
	DeviceID   string     `json:"device_id"`
	Command    string     `json:"command"`
	Source     string     `json:"source"`
	Result     string     `json:"result"`
	Attempts   int        `json:"attempts"`
	QueuedAt   time.Time  `json:"queued_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// Logger is the logging surface used by the sink methods.
type Logger interface {
	Warn(msg string, keysAndValues ...any)
}

// Repository stores pin events and command outcomes in SQLite.
//
// It implements webio.EventSink and webio.OutcomeSink so it can be added
// to every session. Sink writes that fail are logged and dropped.
type Repository struct {
	db  *sql.DB
	now func() time.Time

	logger   Logger
	loggerMu sync.RWMutex
}

// NewRepository creates a repository over an open, migrated database.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db, now: time.Now}
}

// SetLogger sets the logger used when sink writes fail.
func (r *Repository) SetLogger(logger Logger) {
	r.loggerMu.Lock()
	r.logger = logger
	r.loggerMu.Unlock()
}

// RecordPinEvent inserts one pin transition.
func (r *Repository) RecordPinEvent(ctx context.Context, ev webio.PinEvent) error {
	if ev.DeviceID == "" {
		return ErrDeviceIDRequired
	}
	at := ev.At
	if at.IsZero() {
		at = r.now()
	}

	_, err := r.db.ExecContext(ctx,
		"INSERT INTO pin_events (device_id, pin, kind, state, recorded_at) VALUES (?, ?, ?, ?, ?)",
		ev.DeviceID, ev.Pin, ev.Kind.String(), boolToInt(ev.On), at.UTC().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("inserting pin event: %w", err)
	}
	return nil
}

// RecordCommandQueued logs a command accepted into a device queue.
// An empty rec.ID is filled with a new UUID, which is returned.
func (r *Repository) RecordCommandQueued(ctx context.Context, rec CommandRecord) (string, error) {
	if rec.DeviceID == "" {
		return "", ErrDeviceIDRequired
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.QueuedAt.IsZero() {
		rec.QueuedAt = r.now()
	}

	_, err := r.db.ExecContext(ctx,
		"INSERT INTO command_log (id, device_id, command, source, result, queued_at) VALUES (?, ?, ?, ?, ?, ?)",
		rec.ID, rec.DeviceID, rec.Command, rec.Source, ResultQueued, rec.QueuedAt.UTC().UnixMilli(),
	)
	if err != nil {
		return "", fmt.Errorf("inserting command: %w", err)
	}
	return rec.ID, nil
}

// FailCommand marks a logged command as finished without reaching the
// device, for example when the device queue refused it.
func (r *Repository) FailCommand(ctx context.Context, id, result string) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE command_log SET result = ?, finished_at = ? WHERE id = ?",
		result, r.now().UTC().UnixMilli(), id,
	)
	if err != nil {
		return fmt.Errorf("failing command: %w", err)
	}
	return nil
}

// RecordCommandOutcome finishes the oldest queued row for the same device
// and command text. Device queues are FIFO, so that row is the command
// the outcome belongs to. Commands that were never logged as queued (for
// example from a local switch) get a fresh row.
func (r *Repository) RecordCommandOutcome(ctx context.Context, out webio.CommandOutcome) error {
	if out.DeviceID == "" {
		return ErrDeviceIDRequired
	}
	at := out.At
	if at.IsZero() {
		at = r.now()
	}
	finished := at.UTC().UnixMilli()

	res, err := r.db.ExecContext(ctx,
		`UPDATE command_log SET result = ?, attempts = ?, finished_at = ?
		 WHERE id = (
		     SELECT id FROM command_log
		     WHERE device_id = ? AND command = ? AND result = ?
		     ORDER BY queued_at ASC, rowid ASC
		     LIMIT 1
		 )`,
		string(out.Result), out.Attempts, finished,
		out.DeviceID, out.Command, ResultQueued,
	)
	if err != nil {
		return fmt.Errorf("updating command: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		return nil
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO command_log (id, device_id, command, source, result, attempts, queued_at, finished_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), out.DeviceID, out.Command, SourceSwitch, string(out.Result), out.Attempts, finished, finished,
	)
	if err != nil {
		return fmt.Errorf("inserting command outcome: %w", err)
	}
	return nil
}

// RecentPinEvents returns the newest events for a device, newest first.
// limit defaults to 50 and is capped at 500.
func (r *Repository) RecentPinEvents(ctx context.Context, deviceID string, limit int) ([]PinEventRecord, error) {
	if deviceID == "" {
		return nil, ErrDeviceIDRequired
	}
	limit = clampLimit(limit)

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, device_id, pin, kind, state, recorded_at
		 FROM pin_events
		 WHERE device_id = ?
		 ORDER BY recorded_at DESC, id DESC
		 LIMIT ?`,
		deviceID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying pin events: %w", err)
	}
	defer rows.Close()

	records := make([]PinEventRecord, 0, limit)
	for rows.Next() {
		var rec PinEventRecord
		var state int
		var recordedAt int64
		if err := rows.Scan(&rec.ID, &rec.DeviceID, &rec.Pin, &rec.Kind, &state, &recordedAt); err != nil {
			return nil, fmt.Errorf("scanning pin event: %w", err)
		}
		rec.On = state == 1
		rec.RecordedAt = time.UnixMilli(recordedAt).UTC()
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating pin events: %w", err)
	}
	return records, nil
}

// RecentCommands returns the newest command_log rows for a device.
func (r *Repository) RecentCommands(ctx context.Context, deviceID string, limit int) ([]CommandRecord, error) {
	if deviceID == "" {
		return nil, ErrDeviceIDRequired
	}
	limit = clampLimit(limit)

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, device_id, command, source, result, attempts, queued_at, finished_at
		 FROM command_log
		 WHERE device_id = ?
		 ORDER BY queued_at DESC, rowid DESC
		 LIMIT ?`,
		deviceID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying commands: %w", err)
	}
	defer rows.Close()

	records := make([]CommandRecord, 0, limit)
	for rows.Next() {
		var rec CommandRecord
		var queuedAt int64
		var finishedAt sql.NullInt64
		if err := rows.Scan(&rec.ID, &rec.DeviceID, &rec.Command, &rec.Source, &rec.Result,
			&rec.Attempts, &queuedAt, &finishedAt); err != nil {
			return nil, fmt.Errorf("scanning command: %w", err)
		}
		rec.QueuedAt = time.UnixMilli(queuedAt).UTC()
		if finishedAt.Valid {
			t := time.UnixMilli(finishedAt.Int64).UTC()
			rec.FinishedAt = &t
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating commands: %w", err)
	}
	return records, nil
}

// Prune deletes pin events and finished commands older than olderThan.
func (r *Repository) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, fmt.Errorf("history: olderThan must be positive")
	}
	cutoff := r.now().UTC().Add(-olderThan).UnixMilli()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("starting prune: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // Rollback is no-op after commit

	var total int64
	for _, stmt := range []string{
		"DELETE FROM pin_events WHERE recorded_at < ?",
		"DELETE FROM command_log WHERE finished_at IS NOT NULL AND finished_at < ?",
	} {
		res, err := tx.ExecContext(ctx, stmt, cutoff)
		if err != nil {
			return 0, fmt.Errorf("pruning history: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("checking rows affected: %w", err)
		}
		total += n
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing prune: %w", err)
	}
	return total, nil
}

// HandlePinEvent implements webio.EventSink.
func (r *Repository) HandlePinEvent(ev webio.PinEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), sinkTimeout)
	defer cancel()
	if err := r.RecordPinEvent(ctx, ev); err != nil {
		r.logWarn("recording pin event failed", "device", ev.DeviceID, "pin", ev.Pin, "error", err)
	}
}

// HandleCommandOutcome implements webio.OutcomeSink.
func (r *Repository) HandleCommandOutcome(out webio.CommandOutcome) {
	ctx, cancel := context.WithTimeout(context.Background(), sinkTimeout)
	defer cancel()
	if err := r.RecordCommandOutcome(ctx, out); err != nil {
		r.logWarn("recording command outcome failed", "device", out.DeviceID, "command", out.Command, "error", err)
	}
}

func (r *Repository) logWarn(msg string, keysAndValues ...any) {
	r.loggerMu.RLock()
	logger := r.logger
	r.loggerMu.RUnlock()
	if logger != nil {
		logger.Warn(msg, keysAndValues...)
	}
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultLimit
	}
	if limit > maxLimit {
		return maxLimit
	}
	return limit
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
