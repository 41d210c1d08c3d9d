package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/harun/tandem/pkg/session"
	"github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

const sqliteDriver = "sqlite"

const sqliteSchema = `
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		turn_count INTEGER NOT NULL,
		message_count INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		snapshot TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_updated ON sessions(updated_at);

	CREATE TABLE IF NOT EXISTS checkpoints (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		turn_count INTEGER NOT NULL,
		message_count INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		snapshot TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_checkpoints_created ON checkpoints(created_at);
`

// SQLiteStore keeps snapshots in a SQLite database.
type SQLiteStore struct {
	db     *sql.DB
	logger zerolog.Logger
}

// NewSQLiteStore opens (or creates) the database at path.
func NewSQLiteStore(path string, logger zerolog.Logger) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStore{
		db:     db,
		logger: logger.With().Str("component", "store").Str("driver", sqliteDriver).Logger(),
	}, nil
}

// Save implements Store
func (s *SQLiteStore) Save(ctx context.Context, snap *session.Snapshot) error {
	id := ""
	if snap != nil {
		id = snap.SessionID
	}
	return observe(ctx, sqliteDriver, "save", id, func(ctx context.Context) error {
		data, err := encode(snap)
		if err != nil {
			return err
		}
		_, err = s.db.ExecContext(ctx, `
			INSERT INTO sessions (id, turn_count, message_count, created_at, updated_at, snapshot)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				turn_count = excluded.turn_count,
				message_count = excluded.message_count,
				created_at = excluded.created_at,
				updated_at = excluded.updated_at,
				snapshot = excluded.snapshot`,
			snap.SessionID, snap.TurnCount, len(snap.Messages),
			snap.CreatedAt.UnixNano(), snap.UpdatedAt.UnixNano(), string(data))
		if err != nil {
			return fmt.Errorf("failed to save session: %w", err)
		}
		s.logger.Debug().Str("session_id", snap.SessionID).Msg("Session saved")
		return nil
	})
}

// Load implements Store
func (s *SQLiteStore) Load(ctx context.Context, id string) (*session.Snapshot, error) {
	var snap *session.Snapshot
	err := observe(ctx, sqliteDriver, "load", id, func(ctx context.Context) error {
		var err error
		snap, err = s.loadFrom(ctx, "sessions", id)
		return err
	})
	return snap, err
}

// List implements Store
func (s *SQLiteStore) List(ctx context.Context) ([]Summary, error) {
	var out []Summary
	err := observe(ctx, sqliteDriver, "list", "", func(ctx context.Context) error {
		rows, err := s.db.QueryContext(ctx, `
			SELECT id, turn_count, message_count, created_at, updated_at
			FROM sessions ORDER BY updated_at DESC`)
		if err != nil {
			return fmt.Errorf("failed to list sessions: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var sum Summary
			var created, updated int64
			if err := rows.Scan(&sum.SessionID, &sum.TurnCount, &sum.MessageCount, &created, &updated); err != nil {
				return fmt.Errorf("failed to scan session: %w", err)
			}
			sum.CreatedAt = time.Unix(0, created)
			sum.UpdatedAt = time.Unix(0, updated)
			out = append(out, sum)
		}
		return rows.Err()
	})
	return out, err
}

// SaveCheckpoint implements Store
func (s *SQLiteStore) SaveCheckpoint(ctx context.Context, snap *session.Snapshot) (string, error) {
	var id string
	sessionID := ""
	if snap != nil {
		sessionID = snap.SessionID
	}
	err := observe(ctx, sqliteDriver, "save_checkpoint", sessionID, func(ctx context.Context) error {
		data, err := encode(snap)
		if err != nil {
			return err
		}

		at := time.Now()
		for attempt := 0; attempt < 100; attempt++ {
			id = checkpointID(snap.SessionID, at)
			_, err = s.db.ExecContext(ctx, `
				INSERT INTO checkpoints (id, session_id, turn_count, message_count, created_at, snapshot)
				VALUES (?, ?, ?, ?, ?, ?)`,
				id, snap.SessionID, snap.TurnCount, len(snap.Messages), at.UnixNano(), string(data))
			if err == nil {
				s.logger.Info().Str("checkpoint_id", id).Msg("Checkpoint saved")
				return nil
			}
			if !isUniqueViolation(err) {
				return fmt.Errorf("failed to save checkpoint: %w", err)
			}
			at = at.Add(time.Millisecond)
		}
		return fmt.Errorf("failed to allocate checkpoint id: %w", err)
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

// LoadCheckpoint implements Store
func (s *SQLiteStore) LoadCheckpoint(ctx context.Context, id string) (*session.Snapshot, error) {
	var snap *session.Snapshot
	err := observe(ctx, sqliteDriver, "load_checkpoint", id, func(ctx context.Context) error {
		var err error
		snap, err = s.loadFrom(ctx, "checkpoints", id)
		return err
	})
	return snap, err
}

// ListCheckpoints implements Store
func (s *SQLiteStore) ListCheckpoints(ctx context.Context) ([]CheckpointSummary, error) {
	var out []CheckpointSummary
	err := observe(ctx, sqliteDriver, "list_checkpoints", "", func(ctx context.Context) error {
		rows, err := s.db.QueryContext(ctx, `
			SELECT id, session_id, turn_count, message_count, created_at
			FROM checkpoints ORDER BY created_at DESC, id DESC`)
		if err != nil {
			return fmt.Errorf("failed to list checkpoints: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var sum CheckpointSummary
			var created int64
			if err := rows.Scan(&sum.CheckpointID, &sum.SessionID, &sum.TurnCount, &sum.MessageCount, &created); err != nil {
				return fmt.Errorf("failed to scan checkpoint: %w", err)
			}
			sum.CreatedAt = time.Unix(0, created)
			out = append(out, sum)
		}
		return rows.Err()
	})
	return out, err
}

// Close implements Store
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// table is always a constant from this file.
func (s *SQLiteStore) loadFrom(ctx context.Context, table, id string) (*session.Snapshot, error) {
	if err := ValidateID(id); err != nil {
		return nil, fmt.Errorf("invalid id: %w", err)
	}
	var data string
	err := s.db.QueryRowContext(ctx, "SELECT snapshot FROM "+table+" WHERE id = ?", id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", id, err)
	}
	return decode([]byte(data))
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey ||
		sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
}
