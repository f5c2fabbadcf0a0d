// Package history persists per-user conversation records as JSON files.
//
// Each user has exactly one file, <dir>/<user_id>.json, holding the full
// ordered turn sequence. Every write goes through a temp file in the same
// directory followed by fsync and rename, so a crash never leaves a mix of
// old and new content behind.
package history

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	ctxpkg "github.com/stupiduntilnot/enerlytic/internal/context"
)

var (
	// ErrInvalidUserID is returned for ids that cannot be mapped to a file name.
	ErrInvalidUserID = errors.New("invalid user id")
	// ErrCorrupt is returned by Load when a record exists but cannot be parsed.
	// The offending file has been moved aside to a timestamped
	// <user_id>.json.corrupt-* name by the time the error is seen.
	ErrCorrupt = errors.New("corrupt history record")
)

const (
	fileExt    = ".json"
	corruptExt = ".corrupt"
)

var userIDPattern = regexp.MustCompile(`^-?[A-Za-z0-9_]+$`)

// Store is the durable side of a conversation record.
type Store interface {
	Load(userID string) ([]ctxpkg.Turn, error)
	Append(userID string, turn ctxpkg.Turn) error
	Replace(userID string, turns []ctxpkg.Turn) error
	ListKnownUsers() ([]string, error)
}

// FileStore is a Store backed by one JSON file per user.
//
// FileStore does no locking of its own; callers serialize operations for the
// same user.
type FileStore struct {
	dir    string
	logger *slog.Logger
}

// NewFileStore creates the data directory if needed.
func NewFileStore(dir string, logger *slog.Logger) (*FileStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create history directory %s: %w", dir, err)
	}
	return &FileStore{dir: dir, logger: logger}, nil
}

// ValidUserID reports whether id can be stored.
func ValidUserID(id string) bool {
	return userIDPattern.MatchString(id)
}

func (s *FileStore) path(userID string) (string, error) {
	if !ValidUserID(userID) {
		return "", fmt.Errorf("%w: %q", ErrInvalidUserID, userID)
	}
	return filepath.Join(s.dir, userID+fileExt), nil
}

// Load returns the stored turns for userID. A missing record yields an
// empty slice and no error.
func (s *FileStore) Load(userID string) ([]ctxpkg.Turn, error) {
	path, err := s.path(userID)
	if err != nil {
		return nil, err
	}
	turns, err := readTurns(path)
	if err == nil || !errors.Is(err, ErrCorrupt) {
		return turns, err
	}

	aside := path + corruptExt + "-" + time.Now().UTC().Format("20060102T150405.000000000Z")
	if renameErr := os.Rename(path, aside); renameErr != nil {
		s.logger.Error("failed to quarantine corrupt history",
			"user_id", userID, "path", path, "error", renameErr)
	} else {
		s.logger.Warn("corrupt history quarantined",
			"user_id", userID, "moved_to", aside)
	}
	return nil, err
}

// Append adds turn to the end of the user's record.
func (s *FileStore) Append(userID string, turn ctxpkg.Turn) error {
	path, err := s.path(userID)
	if err != nil {
		return err
	}
	turns, err := readTurns(path)
	if err != nil {
		return fmt.Errorf("append history for %s: %w", userID, err)
	}
	turns = append(turns, turn)
	if err := writeAtomic(path, turns); err != nil {
		return fmt.Errorf("append history for %s: %w", userID, err)
	}
	return nil
}

// Replace overwrites the user's record with turns.
func (s *FileStore) Replace(userID string, turns []ctxpkg.Turn) error {
	path, err := s.path(userID)
	if err != nil {
		return err
	}
	if turns == nil {
		turns = []ctxpkg.Turn{}
	}
	if err := writeAtomic(path, turns); err != nil {
		return fmt.Errorf("replace history for %s: %w", userID, err)
	}
	return nil
}

// ListKnownUsers returns the ids of all stored records. Entries that do not
// look like records are skipped.
func (s *FileStore) ListKnownUsers() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("list history directory %s: %w", s.dir, err)
	}
	var ids []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, fileExt) {
			continue
		}
		id := strings.TrimSuffix(name, fileExt)
		if !ValidUserID(id) {
			s.logger.Warn("skipping unrecognized history file", "file", name)
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func readTurns(path string) ([]ctxpkg.Turn, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return []ctxpkg.Turn{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return []ctxpkg.Turn{}, nil
	}
	var turns []ctxpkg.Turn
	if err := json.Unmarshal(data, &turns); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, path, err)
	}
	if turns == nil {
		turns = []ctxpkg.Turn{}
	}
	return turns, nil
}

func encodeTurns(turns []ctxpkg.Turn) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(turns); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeAtomic(path string, turns []ctxpkg.Turn) error {
	data, err := encodeTurns(turns)
	if err != nil {
		return fmt.Errorf("encode turns: %w", err)
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename temp file: %w", err)
	}
	committed = true

	// Best effort: persist the rename itself.
	if d, err := os.Open(dir); err == nil {
		_ = d.Sync()
		d.Close()
	}
	return nil
}
