package db

import (
	"database/sql"
	"log/slog"
)

// EventLog writes lifecycle events under a single process root. Insert
// failures are logged and swallowed so journaling never blocks a reply.
type EventLog struct {
	db     *sql.DB
	rootID int64
	logger *slog.Logger
}

func NewEventLog(database *sql.DB, rootID int64, logger *slog.Logger) *EventLog {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventLog{db: database, rootID: rootID, logger: logger}
}

// RootID is the process.started event all records hang from.
func (l *EventLog) RootID() int64 { return l.rootID }

// Record inserts an event with parentID as parent, or the root when
// parentID is 0. It returns the new id, or 0 on failure.
func (l *EventLog) Record(parentID int64, eventType string, payload map[string]any) int64 {
	if l == nil || l.db == nil {
		return 0
	}
	if parentID == 0 {
		parentID = l.rootID
	}
	var parent *int64
	if parentID > 0 {
		parent = &parentID
	}
	id, err := LogEvent(l.db, parent, eventType, payload)
	if err != nil {
		l.logger.Warn("event insert failed", "event_type", eventType, "error", err)
		return 0
	}
	return id
}
