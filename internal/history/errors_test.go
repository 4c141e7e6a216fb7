package history

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/nerrad567/webio-bridge/internal/webio"
)

var errDiskIO = errors.New("disk I/O error")

func newMockRepo(t *testing.T) (*Repository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock new: %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup

	repo := NewRepository(db)
	repo.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	return repo, mock
}

func expectationsMet(t *testing.T, mock sqlmock.Sqlmock) {
	t.Helper()
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("mock expectations: %v", err)
	}
}

func TestRecordPinEvent_DBError(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO pin_events")).
		WithArgs("garage", 3, "output", 1, sqlmock.AnyArg()).
		WillReturnError(errDiskIO)

	err := repo.RecordPinEvent(context.Background(), webio.PinEvent{
		DeviceID: "garage",
		Pin:      3,
		Kind:     webio.KindOutput,
		On:       true,
	})
	if !errors.Is(err, errDiskIO) {
		t.Fatalf("RecordPinEvent() error = %v, want wrapped disk error", err)
	}
	expectationsMet(t, mock)
}

func TestRecordPinEvent_ZeroTimeUsesClock(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO pin_events")).
		WithArgs("garage", 1, "input", 0, repo.now().UnixMilli()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	if err := repo.RecordPinEvent(context.Background(), webio.PinEvent{DeviceID: "garage", Pin: 1}); err != nil {
		t.Fatalf("RecordPinEvent() error: %v", err)
	}
	expectationsMet(t, mock)
}

func TestRecordCommandQueued_DBError(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO command_log")).
		WillReturnError(errDiskIO)

	id, err := repo.RecordCommandQueued(context.Background(), CommandRecord{
		DeviceID: "garage",
		Command:  "output1=on",
		Source:   SourceMQTT,
	})
	if !errors.Is(err, errDiskIO) || id != "" {
		t.Fatalf("RecordCommandQueued() = (%q, %v)", id, err)
	}
	expectationsMet(t, mock)
}

func TestRecordCommandOutcome_UpdateError(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE command_log SET result = ?, attempts = ?")).
		WithArgs(string(webio.ResultAcked), 1, sqlmock.AnyArg(), "garage", "output1=on", ResultQueued).
		WillReturnError(errDiskIO)

	err := repo.RecordCommandOutcome(context.Background(), webio.CommandOutcome{
		DeviceID: "garage",
		Command:  "output1=on",
		Result:   webio.ResultAcked,
		Attempts: 1,
	})
	if !errors.Is(err, errDiskIO) {
		t.Fatalf("RecordCommandOutcome() error = %v", err)
	}
	expectationsMet(t, mock)
}

func TestRecordCommandOutcome_InsertError(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE command_log")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO command_log")).
		WillReturnError(errDiskIO)

	err := repo.RecordCommandOutcome(context.Background(), webio.CommandOutcome{
		DeviceID: "garage",
		Command:  "output2=off",
		Result:   webio.ResultRejected,
		Attempts: 1,
	})
	if !errors.Is(err, errDiskIO) {
		t.Fatalf("RecordCommandOutcome() error = %v", err)
	}
	expectationsMet(t, mock)
}

func TestPrune_RollsBackOnError(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM pin_events")).
		WillReturnResult(sqlmock.NewResult(0, 4))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM command_log")).
		WillReturnError(errDiskIO)
	mock.ExpectRollback()

	n, err := repo.Prune(context.Background(), 24*time.Hour)
	if !errors.Is(err, errDiskIO) || n != 0 {
		t.Fatalf("Prune() = (%d, %v)", n, err)
	}
	expectationsMet(t, mock)
}

func TestPrune_BeginError(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectBegin().WillReturnError(errDiskIO)

	if _, err := repo.Prune(context.Background(), time.Hour); !errors.Is(err, errDiskIO) {
		t.Fatalf("Prune() error = %v", err)
	}
	expectationsMet(t, mock)
}

func TestRecentPinEvents_QueryError(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectQuery(regexp.QuoteMeta("FROM pin_events")).
		WillReturnError(errDiskIO)

	if _, err := repo.RecentPinEvents(context.Background(), "garage", 10); !errors.Is(err, errDiskIO) {
		t.Fatalf("RecentPinEvents() error = %v", err)
	}
	expectationsMet(t, mock)
}

func TestHandlePinEvent_LogsDBError(t *testing.T) {
	repo, mock := newMockRepo(t)
	logger := &warnLogger{}
	repo.SetLogger(logger)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO pin_events")).
		WillReturnError(errDiskIO)

	repo.HandlePinEvent(webio.PinEvent{DeviceID: "garage", Pin: 5, Kind: webio.KindInput, On: true})

	logger.mu.Lock()
	got := len(logger.msgs)
	logger.mu.Unlock()
	if got != 1 {
		t.Errorf("warnings = %d, want 1", got)
	}
	expectationsMet(t, mock)
}
