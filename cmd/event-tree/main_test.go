package main

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stupiduntilnot/enerlytic/internal/db"
)

func testDB(t *testing.T) *sql.DB {
	t.Helper()
	database, err := db.OpenDB(t.TempDir() + "/test.db")
	if err != nil {
		t.Fatal(err)
	}
	if err := db.InitSchema(database); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { database.Close() })
	return database
}

// seedBotTree inserts two exchanges under one bot process and returns the
// root event ID.
//
//	process.started (bot)              id=1
//	├── history.warmed                 id=2
//	├── message.received (user 7)      id=3
//	│   ├── context.assembled          id=4
//	│   ├── turn.started               id=5
//	│   │   └── turn.completed         id=6
//	│   ├── history.persisted          id=7
//	│   └── reply.sent                 id=8
//	├── message.received (user 9)      id=9
//	│   ├── turn.started               id=10
//	│   │   └── turn.failed            id=11
//	│   └── reply.sent                 id=12
//	├── circuit.opened                 id=13
//	└── process.stopped                id=14
func seedBotTree(t *testing.T, database *sql.DB) int64 {
	t.Helper()

	rootID, _ := db.LogEvent(database, nil, db.EventProcessStarted, map[string]any{"role": "bot", "pid": 100})
	db.LogEvent(database, &rootID, db.EventHistoryWarmed, map[string]any{"records": 2})

	first, _ := db.LogEvent(database, &rootID, db.EventMessageReceived, map[string]any{"request_id": "req-a", "user_id": "7", "kind": "text"})
	db.LogEvent(database, &first, db.EventContextAssembled, map[string]any{"messages": 3})
	turn, _ := db.LogEvent(database, &first, db.EventTurnStarted, map[string]any{"model_name": "gpt-4o-mini"})
	db.LogEvent(database, &turn, db.EventTurnCompleted, map[string]any{"latency_ms": 1820, "input_tokens": 42, "output_tokens": 7})
	db.LogEvent(database, &first, db.EventHistoryPersisted, map[string]any{"record_turns": 3})
	db.LogEvent(database, &first, db.EventReplySent, map[string]any{"chars": 120})

	second, _ := db.LogEvent(database, &rootID, db.EventMessageReceived, map[string]any{"request_id": "req-b", "user_id": "9", "kind": "voice"})
	turn2, _ := db.LogEvent(database, &second, db.EventTurnStarted, map[string]any{"model_name": "gpt-4o-mini"})
	db.LogEvent(database, &turn2, db.EventTurnFailed, map[string]any{"kind": "quota"})
	db.LogEvent(database, &second, db.EventReplySent, map[string]any{"chars": 80})

	db.LogEvent(database, &rootID, db.EventCircuitOpened, map[string]any{"error_class": "command_source_api"})
	db.LogEvent(database, &rootID, db.EventProcessStopped, map[string]any{"handled": 2})
	return rootID
}

func loadTree(t *testing.T, database *sql.DB, rootID int64) *Event {
	t.Helper()
	events, err := querySubtree(database, rootID)
	if err != nil {
		t.Fatal(err)
	}
	root := buildTree(events, rootID)
	if root == nil {
		t.Fatalf("root %d not found", rootID)
	}
	return root
}

func TestLatestBotRoot(t *testing.T) {
	database := testDB(t)
	rootID := seedBotTree(t, database)

	got, err := latestBotRoot(database)
	if err != nil {
		t.Fatal(err)
	}
	if got != rootID {
		t.Errorf("expected root id=%d, got %d", rootID, got)
	}
}

func TestLatestBotRoot_NoEvents(t *testing.T) {
	database := testDB(t)
	if _, err := latestBotRoot(database); err == nil {
		t.Fatal("expected error for empty database")
	}
}

func TestLatestBotRoot_PicksLatest(t *testing.T) {
	database := testDB(t)
	db.LogEvent(database, nil, db.EventProcessStarted, map[string]any{"role": "bot", "pid": 100})
	second, _ := db.LogEvent(database, nil, db.EventProcessStarted, map[string]any{"role": "bot", "pid": 200})
	db.LogEvent(database, nil, db.EventProcessStarted, map[string]any{"role": "other", "pid": 300})

	got, err := latestBotRoot(database)
	if err != nil {
		t.Fatal(err)
	}
	if got != second {
		t.Errorf("expected latest bot id=%d, got %d", second, got)
	}
}

func TestRequestRoot(t *testing.T) {
	database := testDB(t)
	seedBotTree(t, database)

	got, err := requestRoot(database, "req-b")
	if err != nil {
		t.Fatal(err)
	}
	if got != 9 {
		t.Errorf("expected message.received id=9, got %d", got)
	}
	if _, err := requestRoot(database, "missing"); err == nil {
		t.Fatal("expected error for unknown request id")
	}
}

func TestQuerySubtree(t *testing.T) {
	database := testDB(t)
	rootID := seedBotTree(t, database)

	events, err := querySubtree(database, rootID)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 14 {
		t.Errorf("expected 14 events, got %d", len(events))
	}
}

func TestQuerySubtree_SingleExchange(t *testing.T) {
	database := testDB(t)
	seedBotTree(t, database)

	events, err := querySubtree(database, 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 6 {
		t.Errorf("expected 6 events in exchange subtree, got %d", len(events))
		for _, ev := range events {
			t.Logf("  id=%d type=%s parent=%v", ev.ID, ev.EventType, ev.ParentID)
		}
	}
}

func TestBuildTree(t *testing.T) {
	database := testDB(t)
	rootID := seedBotTree(t, database)
	root := loadTree(t, database, rootID)

	if root.EventType != "process.started" {
		t.Errorf("expected process.started, got %s", root.EventType)
	}
	if len(root.Children) != 5 {
		t.Fatalf("expected 5 root children, got %d", len(root.Children))
	}
	exchange := root.Children[1]
	if exchange.EventType != "message.received" || len(exchange.Children) != 4 {
		t.Fatalf("unexpected exchange node: %s with %d children", exchange.EventType, len(exchange.Children))
	}
	turn := exchange.Children[1]
	if turn.EventType != "turn.started" || len(turn.Children) != 1 || turn.Children[0].EventType != "turn.completed" {
		t.Errorf("expected turn.started -> turn.completed, got %s with %d children", turn.EventType, len(turn.Children))
	}
}

func TestFilterUser(t *testing.T) {
	database := testDB(t)
	rootID := seedBotTree(t, database)
	root := loadTree(t, database, rootID)

	filterUser(root, "7")
	if len(root.Children) != 4 {
		t.Fatalf("expected 4 root children after filter, got %d", len(root.Children))
	}
	for _, c := range root.Children {
		if c.EventType == "message.received" && payloadString(c, "user_id") != "7" {
			t.Errorf("exchange of user %s survived the filter", payloadString(c, "user_id"))
		}
	}
}

func TestFormatEvent(t *testing.T) {
	ev := &Event{
		ID:        42,
		Timestamp: 1739781001,
		EventType: "message.received",
		Payload:   sql.NullString{String: `{"user_id":"123","kind":"text"}`, Valid: true},
	}

	line := formatEvent(ev, false)
	for _, want := range []string{"[42]", "2025-02-17", "message.received", "kind=text", "user_id=123"} {
		if !strings.Contains(line, want) {
			t.Errorf("expected %q in output: %s", want, line)
		}
	}
	if strings.Index(line, "kind=") > strings.Index(line, "user_id=") {
		t.Errorf("expected sorted payload keys: %s", line)
	}
}

func TestFormatEvent_NoPayload(t *testing.T) {
	ev := &Event{
		ID:        42,
		Timestamp: 1739781001,
		EventType: "message.received",
		Payload:   sql.NullString{String: `{"user_id":"123"}`, Valid: true},
	}
	if line := formatEvent(ev, true); strings.Contains(line, "user_id") {
		t.Errorf("expected no payload in output: %s", line)
	}
}

func TestFormatEvent_NullPayload(t *testing.T) {
	ev := &Event{ID: 1, Timestamp: 1739781001, EventType: "process.stopped"}
	if line := formatEvent(ev, false); !strings.HasSuffix(line, "process.stopped") {
		t.Errorf("expected bare line ending in event type: %s", line)
	}
}

func TestFormatValue(t *testing.T) {
	if v := formatValue(float64(42)); v != "42" {
		t.Errorf("expected 42, got %s", v)
	}
	if v := formatValue(1.5); v != "1.5" {
		t.Errorf("expected 1.5, got %s", v)
	}
	long := formatValue(strings.Repeat("ä", 100))
	if !strings.HasSuffix(long, `..."`) {
		t.Errorf("expected quoted truncation: %s", long)
	}
	if v := formatValue(true); v != "true" {
		t.Errorf("expected true, got %s", v)
	}
}

func TestPrintTree_Full(t *testing.T) {
	database := testDB(t)
	rootID := seedBotTree(t, database)
	root := loadTree(t, database, rootID)

	var buf bytes.Buffer
	printTree(&buf, root, "", true, 1, 0, false)
	output := buf.String()

	for _, want := range []string{
		"process.started", "history.warmed", "message.received",
		"context.assembled", "turn.completed", "turn.failed",
		"reply.sent", "circuit.opened", "process.stopped",
	} {
		if !strings.Contains(output, want) {
			t.Errorf("expected %q in output:\n%s", want, output)
		}
	}
	if !strings.Contains(output, "├── ") || !strings.Contains(output, "│   ") {
		t.Errorf("expected tree characters in output:\n%s", output)
	}
	if lines := strings.Split(strings.TrimSpace(output), "\n"); len(lines) != 14 {
		t.Errorf("expected 14 lines, got %d:\n%s", len(lines), output)
	}
}

func TestPrintTree_DepthLimit(t *testing.T) {
	database := testDB(t)
	rootID := seedBotTree(t, database)
	root := loadTree(t, database, rootID)

	var buf bytes.Buffer
	printTree(&buf, root, "", true, 1, 2, false)
	output := buf.String()

	if !strings.Contains(output, "message.received") {
		t.Errorf("expected message.received at depth 2:\n%s", output)
	}
	if strings.Contains(output, "context.assembled") {
		t.Errorf("context.assembled should be truncated at -L 2:\n%s", output)
	}
	if !strings.Contains(output, "[...]") {
		t.Errorf("expected [...] indicator for truncated nodes:\n%s", output)
	}
}

func TestPrintTree_DepthLimit1(t *testing.T) {
	database := testDB(t)
	rootID := seedBotTree(t, database)
	root := loadTree(t, database, rootID)

	var buf bytes.Buffer
	printTree(&buf, root, "", true, 1, 1, false)
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Errorf("expected 2 lines (root + [...]), got %d:\n%s", len(lines), buf.String())
	}
}

func TestPrintJSON(t *testing.T) {
	database := testDB(t)
	rootID := seedBotTree(t, database)
	root := loadTree(t, database, rootID)

	var buf bytes.Buffer
	if err := printJSON(&buf, root, 0, false); err != nil {
		t.Fatal(err)
	}
	var je jsonEvent
	if err := json.Unmarshal(buf.Bytes(), &je); err != nil {
		t.Fatalf("invalid JSON output: %v\n%s", err, buf.String())
	}
	if je.EventType != "process.started" {
		t.Errorf("expected process.started, got %s", je.EventType)
	}
	if len(je.Children) != 5 {
		t.Errorf("expected 5 children, got %d", len(je.Children))
	}
}

func TestPrintJSON_DepthLimit(t *testing.T) {
	database := testDB(t)
	rootID := seedBotTree(t, database)
	root := loadTree(t, database, rootID)

	var buf bytes.Buffer
	if err := printJSON(&buf, root, 2, false); err != nil {
		t.Fatal(err)
	}
	var je jsonEvent
	if err := json.Unmarshal(buf.Bytes(), &je); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if len(je.Children) == 0 {
		t.Fatal("expected children at depth 2")
	}
	for _, child := range je.Children {
		if len(child.Children) > 0 {
			t.Errorf("expected no grandchildren at -L 2, but %s (id=%d) has %d",
				child.EventType, child.ID, len(child.Children))
		}
	}
}

func TestPrintJSON_NoPayload(t *testing.T) {
	database := testDB(t)
	rootID := seedBotTree(t, database)
	root := loadTree(t, database, rootID)

	var buf bytes.Buffer
	if err := printJSON(&buf, root, 0, true); err != nil {
		t.Fatal(err)
	}
	if strings.Contains(buf.String(), `"role"`) {
		t.Errorf("expected no payload in output:\n%s", buf.String())
	}
}

func TestRun_RequestSubtree(t *testing.T) {
	database := testDB(t)
	seedBotTree(t, database)

	var buf bytes.Buffer
	if err := run(&buf, database, options{requestID: "req-a"}); err != nil {
		t.Fatal(err)
	}
	output := buf.String()
	if !strings.HasPrefix(output, "[3] ") {
		t.Errorf("expected exchange id=3 as root:\n%s", output)
	}
	if strings.Contains(output, "turn.failed") || strings.Contains(output, "process.started") {
		t.Errorf("unexpected events outside the exchange:\n%s", output)
	}
}

func TestRun_UserFilter(t *testing.T) {
	database := testDB(t)
	seedBotTree(t, database)

	var buf bytes.Buffer
	if err := run(&buf, database, options{userID: "9", noPayload: true}); err != nil {
		t.Fatal(err)
	}
	output := buf.String()
	if !strings.Contains(output, "turn.failed") || strings.Contains(output, "turn.completed") {
		t.Errorf("expected only user 9's exchange:\n%s", output)
	}
	if !strings.Contains(output, "circuit.opened") {
		t.Errorf("expected process events to be kept:\n%s", output)
	}
}
