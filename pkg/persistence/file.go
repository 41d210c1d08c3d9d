package persistence

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/harun/tandem/pkg/session"
	"github.com/rs/zerolog"
)

const (
	sessionsDir    = "sessions"
	checkpointsDir = "checkpoints"
	fileDriver     = "file"
)

// FileStore keeps one JSON file per snapshot under the data directory.
type FileStore struct {
	dir    string
	logger zerolog.Logger
	mu     sync.Mutex
}

// NewFileStore creates the sessions and checkpoints directories under dir.
func NewFileStore(dir string, logger zerolog.Logger) (*FileStore, error) {
	if dir == "" {
		return nil, errors.New("data directory is required")
	}
	for _, ns := range []string{sessionsDir, checkpointsDir} {
		if err := os.MkdirAll(filepath.Join(dir, ns), 0o700); err != nil {
			return nil, fmt.Errorf("failed to create %s directory: %w", ns, err)
		}
	}
	return &FileStore{
		dir:    dir,
		logger: logger.With().Str("component", "store").Str("driver", fileDriver).Logger(),
	}, nil
}

func (s *FileStore) path(ns, id string) string {
	return filepath.Join(s.dir, ns, id+".json")
}

// Save implements Store
func (s *FileStore) Save(ctx context.Context, snap *session.Snapshot) error {
	id := ""
	if snap != nil {
		id = snap.SessionID
	}
	return observe(ctx, fileDriver, "save", id, func(ctx context.Context) error {
		data, err := encode(snap)
		if err != nil {
			return err
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		if err := writeAtomic(s.path(sessionsDir, snap.SessionID), data); err != nil {
			return err
		}
		s.logger.Debug().Str("session_id", snap.SessionID).Int("messages", len(snap.Messages)).Msg("Session saved")
		return nil
	})
}

// Load implements Store
func (s *FileStore) Load(ctx context.Context, id string) (*session.Snapshot, error) {
	var snap *session.Snapshot
	err := observe(ctx, fileDriver, "load", id, func(ctx context.Context) error {
		var err error
		snap, err = s.read(sessionsDir, id)
		return err
	})
	return snap, err
}

// List implements Store
func (s *FileStore) List(ctx context.Context) ([]Summary, error) {
	var out []Summary
	err := observe(ctx, fileDriver, "list", "", func(ctx context.Context) error {
		return s.scan(sessionsDir, func(id string, snap *session.Snapshot) {
			out = append(out, summarize(snap))
		})
	})
	sortSummaries(out)
	return out, err
}

// SaveCheckpoint implements Store
func (s *FileStore) SaveCheckpoint(ctx context.Context, snap *session.Snapshot) (string, error) {
	var id string
	sessionID := ""
	if snap != nil {
		sessionID = snap.SessionID
	}
	err := observe(ctx, fileDriver, "save_checkpoint", sessionID, func(ctx context.Context) error {
		data, err := encode(snap)
		if err != nil {
			return err
		}

		s.mu.Lock()
		defer s.mu.Unlock()

		at := time.Now()
		id = checkpointID(snap.SessionID, at)
		for exists(s.path(checkpointsDir, id)) {
			at = at.Add(time.Millisecond)
			id = checkpointID(snap.SessionID, at)
		}
		if err := writeAtomic(s.path(checkpointsDir, id), data); err != nil {
			return err
		}
		s.logger.Info().Str("checkpoint_id", id).Msg("Checkpoint saved")
		return nil
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

// LoadCheckpoint implements Store
func (s *FileStore) LoadCheckpoint(ctx context.Context, id string) (*session.Snapshot, error) {
	var snap *session.Snapshot
	err := observe(ctx, fileDriver, "load_checkpoint", id, func(ctx context.Context) error {
		var err error
		snap, err = s.read(checkpointsDir, id)
		return err
	})
	return snap, err
}

// ListCheckpoints implements Store
func (s *FileStore) ListCheckpoints(ctx context.Context) ([]CheckpointSummary, error) {
	var out []CheckpointSummary
	err := observe(ctx, fileDriver, "list_checkpoints", "", func(ctx context.Context) error {
		return s.scan(checkpointsDir, func(id string, snap *session.Snapshot) {
			out = append(out, summarizeCheckpoint(id, snap))
		})
	})
	sortCheckpoints(out)
	return out, err
}

// Close implements Store
func (s *FileStore) Close() error { return nil }

func (s *FileStore) read(ns, id string) (*session.Snapshot, error) {
	if err := ValidateID(id); err != nil {
		return nil, fmt.Errorf("invalid id: %w", err)
	}
	data, err := os.ReadFile(s.path(ns, id))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read %s: %w", id, err)
	}
	return decode(data)
}

// scan decodes every snapshot in ns. Unreadable files are logged and skipped.
func (s *FileStore) scan(ns string, fn func(id string, snap *session.Snapshot)) error {
	entries, err := os.ReadDir(filepath.Join(s.dir, ns))
	if err != nil {
		return fmt.Errorf("failed to list %s: %w", ns, err)
	}
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		id := strings.TrimSuffix(name, ".json")
		data, err := os.ReadFile(filepath.Join(s.dir, ns, name))
		if err != nil {
			s.logger.Warn().Err(err).Str("file", name).Msg("Skipping unreadable snapshot")
			continue
		}
		snap, err := decode(data)
		if err != nil {
			s.logger.Warn().Err(err).Str("file", name).Msg("Skipping corrupt snapshot")
			continue
		}
		fn(id, snap)
	}
	return nil
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// writeAtomic writes data to a temp file in the target directory, syncs it
// and renames it over path.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpPath) }

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, 0o600); err != nil {
		cleanup()
		return fmt.Errorf("failed to set permissions: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		cleanup()
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}
