package db

import (
	"database/sql"
	"encoding/json"
	"errors"
	"testing"
)

func testDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := OpenDB(t.TempDir() + "/test.db")
	if err != nil {
		t.Fatal(err)
	}
	if err := InitSchema(db); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestInitSchema(t *testing.T) {
	db := testDB(t)

	tables := map[string]bool{}
	rows, err := db.Query(`SELECT name FROM sqlite_master WHERE type='table' AND name IN ('events','inbox')`)
	if err != nil {
		t.Fatal(err)
	}
	defer rows.Close()
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			t.Fatal(err)
		}
		tables[name] = true
	}

	for _, want := range []string{"events", "inbox"} {
		if !tables[want] {
			t.Errorf("table %q not created", want)
		}
	}

	// Second call is a no-op.
	if err := InitSchema(db); err != nil {
		t.Fatalf("re-init failed: %v", err)
	}
}

func TestLogEvent_Basic(t *testing.T) {
	db := testDB(t)

	id1, err := LogEvent(db, nil, EventProcessStarted, map[string]any{"role": "bot", "pid": 123})
	if err != nil {
		t.Fatal(err)
	}
	if id1 <= 0 {
		t.Errorf("expected positive id, got %d", id1)
	}

	id2, err := LogEvent(db, nil, EventMessageReceived, map[string]any{"chat_id": 456})
	if err != nil {
		t.Fatal(err)
	}
	if id2 <= id1 {
		t.Errorf("expected id2 > id1, got %d <= %d", id2, id1)
	}

	var ts int64
	err = db.QueryRow(`SELECT timestamp FROM events WHERE id = ?`, id1).Scan(&ts)
	if err != nil {
		t.Fatal(err)
	}
	if ts == 0 {
		t.Error("expected non-zero timestamp")
	}

	var payloadStr string
	err = db.QueryRow(`SELECT payload FROM events WHERE id = ?`, id1).Scan(&payloadStr)
	if err != nil {
		t.Fatal(err)
	}
	var payload map[string]any
	if err := json.Unmarshal([]byte(payloadStr), &payload); err != nil {
		t.Fatalf("invalid payload JSON: %v", err)
	}
	if payload["role"] != "bot" {
		t.Errorf("expected role=bot, got %v", payload["role"])
	}
}

func TestLogEvent_WithParent(t *testing.T) {
	db := testDB(t)

	parentID, err := LogEvent(db, nil, EventMessageReceived, map[string]any{"chat_id": 1})
	if err != nil {
		t.Fatal(err)
	}

	childID, err := LogEvent(db, &parentID, EventTurnStarted, map[string]any{"model_name": "gpt-4o"})
	if err != nil {
		t.Fatal(err)
	}

	var storedParent int64
	err = db.QueryRow(`SELECT parent_id FROM events WHERE id = ?`, childID).Scan(&storedParent)
	if err != nil {
		t.Fatal(err)
	}
	if storedParent != parentID {
		t.Errorf("expected parent_id=%d, got %d", parentID, storedParent)
	}

	var nullParent sql.NullInt64
	err = db.QueryRow(`SELECT parent_id FROM events WHERE id = ?`, parentID).Scan(&nullParent)
	if err != nil {
		t.Fatal(err)
	}
	if nullParent.Valid {
		t.Errorf("expected NULL parent_id for root event, got %d", nullParent.Int64)
	}
}

func TestLogEvent_NilPayload(t *testing.T) {
	db := testDB(t)

	id, err := LogEvent(db, nil, EventReplySent, nil)
	if err != nil {
		t.Fatal(err)
	}
	if id <= 0 {
		t.Errorf("expected positive id, got %d", id)
	}

	var payload sql.NullString
	err = db.QueryRow(`SELECT payload FROM events WHERE id = ?`, id).Scan(&payload)
	if err != nil {
		t.Fatal(err)
	}
	if payload.Valid {
		t.Errorf("expected NULL payload, got %q", payload.String)
	}
}

func TestDeriveOffset(t *testing.T) {
	db := testDB(t)

	offset, err := DeriveOffset(db)
	if err != nil {
		t.Fatal(err)
	}
	if offset != 0 {
		t.Errorf("expected 0, got %d", offset)
	}

	for _, id := range []int64{100, 200} {
		if _, err := RecordUpdate(db, id, 1, "1", "text", 0); err != nil {
			t.Fatal(err)
		}
	}

	offset, err = DeriveOffset(db)
	if err != nil {
		t.Fatal(err)
	}
	if offset != 201 {
		t.Errorf("expected 201, got %d", offset)
	}
}

func TestEventLog_RecordUsesRoot(t *testing.T) {
	db := testDB(t)
	rootID, err := LogEvent(db, nil, EventProcessStarted, map[string]any{"role": "bot"})
	if err != nil {
		t.Fatal(err)
	}
	log := NewEventLog(db, rootID, nil)

	msgID := log.Record(0, EventMessageReceived, map[string]any{"kind": "text"})
	if msgID <= 0 {
		t.Fatalf("expected id, got %d", msgID)
	}
	childID := log.Record(msgID, EventReplySent, nil)

	var parent int64
	if err := db.QueryRow(`SELECT parent_id FROM events WHERE id = ?`, msgID).Scan(&parent); err != nil {
		t.Fatal(err)
	}
	if parent != rootID {
		t.Fatalf("expected root parent %d, got %d", rootID, parent)
	}
	if err := db.QueryRow(`SELECT parent_id FROM events WHERE id = ?`, childID).Scan(&parent); err != nil {
		t.Fatal(err)
	}
	if parent != msgID {
		t.Fatalf("expected parent %d, got %d", msgID, parent)
	}
}

func TestEventLog_NilSafe(t *testing.T) {
	var log *EventLog
	if id := log.Record(0, EventReplySent, nil); id != 0 {
		t.Fatalf("nil log returned %d", id)
	}
}

func TestEventLog_InsertFailureReturnsZero(t *testing.T) {
	db := testDB(t)
	log := NewEventLog(db, 0, nil)
	db.Close()
	if id := log.Record(0, EventReplySent, nil); id != 0 {
		t.Fatalf("expected 0 after close, got %d", id)
	}
}

func TestRecordUpdate_Duplicate(t *testing.T) {
	db := testDB(t)
	created, err := RecordUpdate(db, 7, 42, "42", "text", 1700000000)
	if err != nil || !created {
		t.Fatalf("expected first insert, created=%v err=%v", created, err)
	}
	created, err = RecordUpdate(db, 7, 42, "42", "text", 1700000000)
	if err != nil {
		t.Fatal(err)
	}
	if created {
		t.Fatal("duplicate update should not be recorded twice")
	}
	if _, err := RecordUpdate(db, 8, 42, "42", " ", 0); err == nil {
		t.Fatal("expected error for empty kind")
	}
}

func TestTransitionUpdate(t *testing.T) {
	db := testDB(t)
	if _, err := RecordUpdate(db, 1, 42, "42", "voice", 0); err != nil {
		t.Fatal(err)
	}

	ok, err := TransitionUpdate(db, 1, UpdateStatusReceived, UpdateStatusProcessing, "")
	if err != nil || !ok {
		t.Fatalf("expected transition, ok=%v err=%v", ok, err)
	}
	// Stale from-status is a no-op.
	ok, err = TransitionUpdate(db, 1, UpdateStatusReceived, UpdateStatusProcessing, "")
	if err != nil || ok {
		t.Fatalf("expected mismatch no-op, ok=%v err=%v", ok, err)
	}
	ok, err = TransitionUpdate(db, 1, UpdateStatusProcessing, UpdateStatusFailed, "model failure kind=quota")
	if err != nil || !ok {
		t.Fatalf("expected failed transition, ok=%v err=%v", ok, err)
	}

	u, err := GetUpdate(db, 1)
	if err != nil {
		t.Fatal(err)
	}
	if u.Status != UpdateStatusFailed || u.Kind != "voice" || !u.Error.Valid {
		t.Fatalf("unexpected row: %+v", u)
	}

	_, err = TransitionUpdate(db, 1, UpdateStatusDone, UpdateStatusProcessing, "")
	if !errors.Is(err, ErrInvalidStatusTransit) {
		t.Fatalf("expected invalid transition error, got %v", err)
	}
}

func TestGetUpdate_NotFound(t *testing.T) {
	db := testDB(t)
	if _, err := GetUpdate(db, 99); !errors.Is(err, ErrUpdateNotFound) {
		t.Fatalf("expected ErrUpdateNotFound, got %v", err)
	}
}

func TestCleanupInFlightUpdates(t *testing.T) {
	db := testDB(t)
	for id := int64(1); id <= 3; id++ {
		if _, err := RecordUpdate(db, id, 1, "1", "text", 0); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := TransitionUpdate(db, 2, UpdateStatusReceived, UpdateStatusProcessing, ""); err != nil {
		t.Fatal(err)
	}
	if _, err := TransitionUpdate(db, 3, UpdateStatusReceived, UpdateStatusProcessing, ""); err != nil {
		t.Fatal(err)
	}
	if _, err := TransitionUpdate(db, 3, UpdateStatusProcessing, UpdateStatusDone, ""); err != nil {
		t.Fatal(err)
	}

	n, err := CleanupInFlightUpdates(db)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Fatalf("expected 2 abandoned, got %d", n)
	}
	counts, err := CountUpdatesByStatus(db)
	if err != nil {
		t.Fatal(err)
	}
	if counts[UpdateStatusAbandoned] != 2 || counts[UpdateStatusDone] != 1 {
		t.Fatalf("unexpected counts: %v", counts)
	}
}
