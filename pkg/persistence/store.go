package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/harun/tandem/internal/config"
	"github.com/harun/tandem/internal/observability"
	"github.com/harun/tandem/internal/tracing"
	"github.com/harun/tandem/pkg/session"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
)

// ErrNotFound is returned when loading an id that was never stored.
var ErrNotFound = errors.New("not found")

// Summary describes a stored session.
type Summary struct {
	SessionID    string    `json:"session_id"`
	TurnCount    int       `json:"turn_count"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	MessageCount int       `json:"message_count"`
}

// CheckpointSummary describes a stored checkpoint.
type CheckpointSummary struct {
	CheckpointID string    `json:"checkpoint_id"`
	SessionID    string    `json:"session_id"`
	TurnCount    int       `json:"turn_count"`
	CreatedAt    time.Time `json:"created_at"`
	MessageCount int       `json:"message_count"`
}

// Store persists session snapshots.
type Store interface {
	Save(ctx context.Context, snap *session.Snapshot) error
	Load(ctx context.Context, id string) (*session.Snapshot, error)
	List(ctx context.Context) ([]Summary, error)
	SaveCheckpoint(ctx context.Context, snap *session.Snapshot) (string, error)
	LoadCheckpoint(ctx context.Context, id string) (*session.Snapshot, error)
	ListCheckpoints(ctx context.Context) ([]CheckpointSummary, error)
	Close() error
}

// Open creates the store selected by cfg.Storage.Driver.
func Open(cfg *config.Config, logger zerolog.Logger) (Store, error) {
	switch cfg.Storage.Driver {
	case "file", "":
		return NewFileStore(cfg.DataDir, logger)
	case "sqlite":
		path := cfg.Storage.Path
		if path == "" {
			path = filepath.Join(cfg.DataDir, "tandem.db")
		}
		return NewSQLiteStore(path, logger)
	default:
		return nil, fmt.Errorf("unsupported storage driver: %s", cfg.Storage.Driver)
	}
}

// ValidateID rejects ids that are empty or could escape the store's directory.
func ValidateID(id string) error {
	if id == "" {
		return errors.New("id cannot be empty")
	}
	if strings.Contains(id, "..") {
		return errors.New("id cannot contain '..'")
	}
	if strings.ContainsAny(id, "/\\") {
		return errors.New("id cannot contain path separators")
	}
	if strings.ContainsRune(id, 0) {
		return errors.New("id cannot contain null bytes")
	}
	return nil
}

func checkpointID(sessionID string, at time.Time) string {
	return fmt.Sprintf("%s-%d", sessionID, at.UnixMilli())
}

func summarize(snap *session.Snapshot) Summary {
	return Summary{
		SessionID:    snap.SessionID,
		TurnCount:    snap.TurnCount,
		CreatedAt:    snap.CreatedAt,
		UpdatedAt:    snap.UpdatedAt,
		MessageCount: len(snap.Messages),
	}
}

func encode(snap *session.Snapshot) ([]byte, error) {
	if snap == nil {
		return nil, errors.New("snapshot is nil")
	}
	if err := ValidateID(snap.SessionID); err != nil {
		return nil, fmt.Errorf("invalid session id: %w", err)
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode snapshot: %w", err)
	}
	return data, nil
}

func decode(data []byte) (*session.Snapshot, error) {
	var snap session.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	return &snap, nil
}

func sortSummaries(list []Summary) {
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].UpdatedAt.After(list[j].UpdatedAt)
	})
}

func sortCheckpoints(list []CheckpointSummary) {
	sort.SliceStable(list, func(i, j int) bool {
		if list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].CheckpointID > list[j].CheckpointID
		}
		return list[i].CreatedAt.After(list[j].CreatedAt)
	})
}

// observe wraps one store operation in a span and a timing metric.
func observe(ctx context.Context, driver, op, id string, fn func(ctx context.Context) error) error {
	ctx, span := tracing.StartSpan(ctx, "tandem.persistence", "store."+op,
		attribute.String("store.driver", driver),
		attribute.String("store.id", id),
	)
	start := time.Now()
	err := fn(ctx)
	observability.RecordStoreOp(driver, op, time.Since(start), err)
	tracing.EndSpan(span, err)
	return err
}

// checkpointTime recovers the creation time encoded in a checkpoint id.
func checkpointTime(id string) (time.Time, bool) {
	i := strings.LastIndexByte(id, '-')
	if i < 0 || i == len(id)-1 {
		return time.Time{}, false
	}
	var ms int64
	if _, err := fmt.Sscanf(id[i+1:], "%d", &ms); err != nil {
		return time.Time{}, false
	}
	return time.UnixMilli(ms), true
}

func summarizeCheckpoint(id string, snap *session.Snapshot) CheckpointSummary {
	created, ok := checkpointTime(id)
	if !ok {
		created = snap.UpdatedAt
	}
	return CheckpointSummary{
		CheckpointID: id,
		SessionID:    snap.SessionID,
		TurnCount:    snap.TurnCount,
		CreatedAt:    created,
		MessageCount: len(snap.Messages),
	}
}
