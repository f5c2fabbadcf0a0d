package db

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

const (
	UpdateStatusReceived   = "received"
	UpdateStatusProcessing = "processing"
	UpdateStatusDone       = "done"
	UpdateStatusFailed     = "failed"
	UpdateStatusSkipped    = "skipped"
	UpdateStatusAbandoned  = "abandoned"
)

var (
	ErrUpdateNotFound       = errors.New("update not found")
	ErrInvalidStatusTransit = errors.New("invalid update status transition")
)

// InboxUpdate is one journaled inbound update. Only routing metadata is kept.
type InboxUpdate struct {
	ID          int64
	UpdateID    int64
	ChatID      int64
	UserID      string
	Kind        string
	MessageDate int64
	Status      string
	Error       sql.NullString
	CreatedAt   int64
	UpdatedAt   int64
}

var updateStatusTransitions = map[string]map[string]struct{}{
	UpdateStatusReceived: {
		UpdateStatusProcessing: struct{}{},
		UpdateStatusSkipped:    struct{}{},
		UpdateStatusAbandoned:  struct{}{},
	},
	UpdateStatusProcessing: {
		UpdateStatusDone:      struct{}{},
		UpdateStatusFailed:    struct{}{},
		UpdateStatusAbandoned: struct{}{},
	},
}

func IsValidUpdateStatusTransition(from, to string) bool {
	next, ok := updateStatusTransitions[from]
	if !ok {
		return false
	}
	_, ok = next[to]
	return ok
}

// RecordUpdate journals an inbound update. It reports false when the update
// id was already recorded, which lets the poller drop redeliveries.
func RecordUpdate(database *sql.DB, updateID, chatID int64, userID, kind string, messageDate int64) (bool, error) {
	kind = strings.TrimSpace(kind)
	if kind == "" {
		return false, fmt.Errorf("kind cannot be empty")
	}
	res, err := database.Exec(
		`INSERT OR IGNORE INTO inbox (update_id, chat_id, user_id, kind, message_date, status)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		updateID, chatID, userID, kind, messageDate, UpdateStatusReceived,
	)
	if err != nil {
		return false, fmt.Errorf("record update %d: %w", updateID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func GetUpdate(database *sql.DB, updateID int64) (*InboxUpdate, error) {
	row := database.QueryRow(
		`SELECT id, update_id, chat_id, user_id, kind, message_date, status, error, created_at, updated_at
		   FROM inbox
		  WHERE update_id = ?`,
		updateID,
	)
	var u InboxUpdate
	if err := row.Scan(
		&u.ID, &u.UpdateID, &u.ChatID, &u.UserID, &u.Kind, &u.MessageDate,
		&u.Status, &u.Error, &u.CreatedAt, &u.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUpdateNotFound
		}
		return nil, err
	}
	return &u, nil
}

// TransitionUpdate moves an update from fromStatus to toStatus. It reports
// false when the row was not in fromStatus.
func TransitionUpdate(database *sql.DB, updateID int64, fromStatus, toStatus, lastError string) (bool, error) {
	if !IsValidUpdateStatusTransition(fromStatus, toStatus) {
		return false, fmt.Errorf("%w: %s -> %s", ErrInvalidStatusTransit, fromStatus, toStatus)
	}

	res, err := database.Exec(
		`UPDATE inbox
		    SET status = ?, error = ?, updated_at = unixepoch()
		  WHERE update_id = ? AND status = ?`,
		toStatus, nullIfEmpty(truncate(lastError, 1000)), updateID, fromStatus,
	)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// CleanupInFlightUpdates marks updates left received or processing by a
// previous process as abandoned. Their content was never stored, so they
// cannot be replayed.
func CleanupInFlightUpdates(database *sql.DB) (int64, error) {
	res, err := database.Exec(
		`UPDATE inbox
		    SET status = ?, updated_at = unixepoch(),
		        error = 'interrupted before completion'
		  WHERE status IN (?, ?)`,
		UpdateStatusAbandoned, UpdateStatusReceived, UpdateStatusProcessing,
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// CountUpdatesByStatus returns the number of journaled updates per status.
func CountUpdatesByStatus(database *sql.DB) (map[string]int64, error) {
	rows, err := database.Query(`SELECT status, COUNT(*) FROM inbox GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string]int64{}
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		out[status] = n
	}
	return out, rows.Err()
}

func nullIfEmpty(s string) any {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return s
}

func truncate(s string, maxChars int) string {
	runes := []rune(s)
	if len(runes) <= maxChars {
		return s
	}
	return string(runes[:maxChars])
}
