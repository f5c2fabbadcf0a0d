// Package conversation owns the in-memory conversation records and is the
// only path through which they reach the history store.
package conversation

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	ctxpkg "github.com/stupiduntilnot/enerlytic/internal/context"
	"github.com/stupiduntilnot/enerlytic/internal/history"
)

// Manager caches one record per user. Operations for the same user are
// serialized, including the store write; different users never wait on
// each other.
type Manager struct {
	store        history.Store
	systemPrompt string
	logger       *slog.Logger

	locks *Locker

	mu      sync.RWMutex
	records map[string][]ctxpkg.Turn
	// durable holds how many leading turns of each record are known to be
	// on disk.
	durable map[string]int
}

// NewManager creates a Manager that seeds new records with systemPrompt.
func NewManager(store history.Store, systemPrompt string, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		store:        store,
		systemPrompt: systemPrompt,
		logger:       logger,
		locks:        NewLocker(),
		records:      make(map[string][]ctxpkg.Turn),
		durable:      make(map[string]int),
	}
}

// Warm loads every stored record into the cache. Records that cannot be
// read are logged and skipped. It returns the number of records loaded.
func (m *Manager) Warm() (int, error) {
	ids, err := m.store.ListKnownUsers()
	if err != nil {
		return 0, fmt.Errorf("warm conversation cache: %w", err)
	}
	loaded := 0
	for _, id := range ids {
		unlock := m.locks.Lock(id)
		turns, err := m.store.Load(id)
		if err != nil {
			unlock()
			m.logger.Warn("skipping unreadable history", "user_id", id, "error", err)
			continue
		}
		m.put(id, m.ensureSystem(turns), len(turns))
		unlock()
		loaded++
	}
	return loaded, nil
}

// GetOrCreate returns a copy of the user's record. The result always starts
// with the system turn.
func (m *Manager) GetOrCreate(userID string) []ctxpkg.Turn {
	unlock := m.locks.Lock(userID)
	defer unlock()
	record, _ := m.recordLocked(userID)
	return ctxpkg.CloneTurns(record)
}

// AppendUserTurn appends a user turn and persists it. On a store failure the
// in-memory record keeps the turn and the error is returned.
func (m *Manager) AppendUserTurn(userID, content string, attachments []ctxpkg.Attachment) ([]ctxpkg.Turn, error) {
	turn := ctxpkg.Turn{Role: ctxpkg.RoleUser, Content: content}
	if len(attachments) > 0 {
		turn.Attachments = append([]ctxpkg.Attachment(nil), attachments...)
	}
	return m.appendTurn(userID, turn)
}

// AppendAssistantTurn appends an assistant turn and persists it.
func (m *Manager) AppendAssistantTurn(userID, content string) ([]ctxpkg.Turn, error) {
	return m.appendTurn(userID, ctxpkg.Turn{Role: ctxpkg.RoleAssistant, Content: content})
}

// Reset replaces the user's record with just the system turn.
func (m *Manager) Reset(userID string) ([]ctxpkg.Turn, error) {
	unlock := m.locks.Lock(userID)
	defer unlock()

	fresh := []ctxpkg.Turn{ctxpkg.SystemTurn(m.systemPrompt)}
	m.put(userID, fresh, 0)
	if err := m.store.Replace(userID, fresh); err != nil {
		return ctxpkg.CloneTurns(fresh), fmt.Errorf("persist reset: %w", err)
	}
	m.markDurable(userID, len(fresh))
	return ctxpkg.CloneTurns(fresh), nil
}

// TrimmedHistory returns at most maxTurns turns: the system turn followed by
// the most recent ones.
func (m *Manager) TrimmedHistory(userID string, maxTurns int) []ctxpkg.Turn {
	record := m.GetOrCreate(userID)
	return (&ctxpkg.HeadKeepingCompressor{MaxTurns: maxTurns}).Compress(record)
}

// Len returns the number of turns in the user's record.
func (m *Manager) Len(userID string) int {
	return len(m.GetOrCreate(userID))
}

func (m *Manager) appendTurn(userID string, turn ctxpkg.Turn) ([]ctxpkg.Turn, error) {
	unlock := m.locks.Lock(userID)
	defer unlock()

	record, cached := m.recordLocked(userID)
	record = append(record, turn)
	if !cached {
		// Disk state is unknown. Append leaves whatever is stored intact and
		// the record is loaded again on next access.
		if err := m.store.Append(userID, turn); err != nil {
			return ctxpkg.CloneTurns(record), fmt.Errorf("persist %s turn: %w", turn.Role, err)
		}
		return ctxpkg.CloneTurns(record), nil
	}
	m.mu.Lock()
	m.records[userID] = record
	durable := m.durable[userID]
	m.mu.Unlock()

	if err := m.persistLocked(userID, record, durable); err != nil {
		return ctxpkg.CloneTurns(record), fmt.Errorf("persist %s turn: %w", turn.Role, err)
	}
	m.markDurable(userID, len(record))
	return ctxpkg.CloneTurns(record), nil
}

// persistLocked appends the newest turn when everything before it is already
// on disk. Otherwise (a seeded record never written, or an earlier failed
// write) the full record goes out so disk catches up with memory.
func (m *Manager) persistLocked(userID string, record []ctxpkg.Turn, durable int) error {
	if durable > 0 && durable == len(record)-1 {
		return m.store.Append(userID, record[len(record)-1])
	}
	return m.store.Replace(userID, record)
}

// recordLocked must be called with the user's lock held. It reports whether
// the returned record is cached. A load failure other than a quarantined
// corrupt file yields a seeded record that is not cached, so nothing based
// on it ever replaces the stored file.
func (m *Manager) recordLocked(userID string) ([]ctxpkg.Turn, bool) {
	m.mu.RLock()
	record, ok := m.records[userID]
	m.mu.RUnlock()
	if ok {
		return record, true
	}

	turns, err := m.store.Load(userID)
	switch {
	case err == nil:
	case errors.Is(err, history.ErrCorrupt):
		m.logger.Warn("history corrupt, starting fresh", "user_id", userID, "error", err)
		turns = nil
	default:
		m.logger.Error("history load failed", "user_id", userID, "error", err)
		return m.ensureSystem(nil), false
	}
	record = m.ensureSystem(turns)
	m.put(userID, record, len(turns))
	return record, true
}

func (m *Manager) ensureSystem(turns []ctxpkg.Turn) []ctxpkg.Turn {
	if len(turns) > 0 && turns[0].Role == ctxpkg.RoleSystem {
		return turns
	}
	out := make([]ctxpkg.Turn, 0, len(turns)+1)
	out = append(out, ctxpkg.SystemTurn(m.systemPrompt))
	return append(out, turns...)
}

func (m *Manager) put(userID string, record []ctxpkg.Turn, durable int) {
	m.mu.Lock()
	m.records[userID] = record
	m.durable[userID] = durable
	m.mu.Unlock()
}

func (m *Manager) markDurable(userID string, n int) {
	m.mu.Lock()
	m.durable[userID] = n
	m.mu.Unlock()
}
