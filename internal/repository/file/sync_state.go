package file

import (
	"context"
	"encoding/json"
	"os"

	"github.com/google/renameio/v2"

	"tradelog/internal/domain/syncstate"
	"tradelog/pkg/errors"
)

// SyncStateRepository implements syncstate.Repository on a local JSON file
type SyncStateRepository struct {
	path string
}

// NewSyncStateRepository creates a new file-backed sync state repository
func NewSyncStateRepository(path string) *SyncStateRepository {
	return &SyncStateRepository{path: path}
}

// Path returns the state file location
func (r *SyncStateRepository) Path() string {
	return r.path
}

// Load reads the state file. A missing file yields an empty state.
func (r *SyncStateRepository) Load(ctx context.Context) (*syncstate.State, error) {
	data, err := os.ReadFile(r.path)
	if errors.Is(err, os.ErrNotExist) {
		return syncstate.New(), nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read sync state: path=%s", r.path)
	}

	st := syncstate.New()
	if err := json.Unmarshal(data, st); err != nil {
		return syncstate.New(), errors.Wrapf(syncstate.ErrCorruptState, "failed to decode sync state: path=%s: %v", r.path, err)
	}
	return st, nil
}

// Save replaces the state file atomically; readers see either the old or the new file.
func (r *SyncStateRepository) Save(ctx context.Context, st *syncstate.State) error {
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to encode sync state")
	}

	if err := renameio.WriteFile(r.path, data, 0o644); err != nil {
		return errors.Wrapf(err, "failed to replace sync state: path=%s", r.path)
	}
	return nil
}
