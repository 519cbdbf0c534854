// Package store persists SearchSession state between runs, the way the
// original client kept its user record and ranked list in browser storage.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/velia-labs/imagematch/internal/retrieval"
)

// SchemaVersion is bumped whenever Snapshot changes incompatibly. A stored
// snapshot with a different version is reported as ErrSchemaMismatch and must
// be treated as absent by callers.
const SchemaVersion = 1

var (
	ErrNotFound       = errors.New("no session snapshot stored")
	ErrSchemaMismatch = errors.New("stored session snapshot has a different schema version")
)

// Snapshot is the resumable portion of a search-and-refine cycle.
type Snapshot struct {
	SchemaVersion    int                           `json:"schema_version"`
	User             *retrieval.User               `json:"user,omitempty"`
	UploadedImageURL string                        `json:"uploaded_image_url,omitempty"`
	Results          []retrieval.SimilarityResult  `json:"similar_images"`
	QueryDescriptors *retrieval.DescriptorSet      `json:"query_descriptors,omitempty"`
	SavedAt          time.Time                     `json:"saved_at"`
}

// SessionStore loads and saves session snapshots. Implementations are injected
// into the session rather than accessed ad hoc.
type SessionStore interface {
	Load(ctx context.Context) (*Snapshot, error)
	Save(ctx context.Context, snap *Snapshot) error
	Clear(ctx context.Context) error
}

// FileStore keeps the snapshot as plain JSON on disk.
type FileStore struct {
	path string
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (s *FileStore) Load(_ context.Context) (*Snapshot, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read session file: %w", err)
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to parse session file: %w", err)
	}
	if snap.SchemaVersion != SchemaVersion {
		return nil, ErrSchemaMismatch
	}
	return &snap, nil
}

func (s *FileStore) Save(_ context.Context, snap *Snapshot) error {
	snap.SchemaVersion = SchemaVersion
	snap.SavedAt = time.Now()

	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal session snapshot: %w", err)
	}

	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create session directory: %w", err)
		}
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write session file: %w", err)
	}
	return os.Rename(tmp, s.path)
}

func (s *FileStore) Clear(_ context.Context) error {
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to clear session file: %w", err)
	}
	return nil
}

// RedisStore keeps the snapshot in Redis under a per-session key.
type RedisStore struct {
	client     *redis.Client
	key        string
	expiration time.Duration
}

// NewRedisStore creates a store keyed by sessionID. A zero expiration keeps
// snapshots until cleared, matching the no-expiry behavior of the original
// client's storage.
func NewRedisStore(client *redis.Client, sessionID string, expiration time.Duration) *RedisStore {
	return &RedisStore{
		client:     client,
		key:        fmt.Sprintf("session:snapshot:%s", sessionID),
		expiration: expiration,
	}
}

func (s *RedisStore) Load(ctx context.Context) (*Snapshot, error) {
	data, err := s.client.Get(ctx, s.key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load session snapshot: %w", err)
	}

	var snap Snapshot
	if err := json.Unmarshal([]byte(data), &snap); err != nil {
		return nil, fmt.Errorf("failed to parse session snapshot: %w", err)
	}
	if snap.SchemaVersion != SchemaVersion {
		return nil, ErrSchemaMismatch
	}
	return &snap, nil
}

func (s *RedisStore) Save(ctx context.Context, snap *Snapshot) error {
	snap.SchemaVersion = SchemaVersion
	snap.SavedAt = time.Now()

	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal session snapshot: %w", err)
	}
	return s.client.Set(ctx, s.key, data, s.expiration).Err()
}

func (s *RedisStore) Clear(ctx context.Context) error {
	return s.client.Del(ctx, s.key).Err()
}
