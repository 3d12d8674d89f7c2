package redis

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"

	"tradelog/internal/domain/syncstate"
	"tradelog/pkg/errors"
)

// SyncStateRepository implements syncstate.Repository using a single Redis key
type SyncStateRepository struct {
	client *redis.Client
	key    string
}

// NewSyncStateRepository creates a new sync state repository
func NewSyncStateRepository(client *redis.Client, key string) *SyncStateRepository {
	return &SyncStateRepository{
		client: client,
		key:    key,
	}
}

// Load reads the state. A missing key yields an empty state.
func (r *SyncStateRepository) Load(ctx context.Context) (*syncstate.State, error) {
	data, err := r.client.Get(ctx, r.key).Bytes()
	if err == redis.Nil {
		return syncstate.New(), nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get sync state from redis: key=%s", r.key)
	}

	st := syncstate.New()
	if err := json.Unmarshal(data, st); err != nil {
		return syncstate.New(), errors.Wrapf(syncstate.ErrCorruptState, "failed to unmarshal sync state: key=%s: %v", r.key, err)
	}
	return st, nil
}

// Save overwrites the state. A single SET replaces the whole value at once.
func (r *SyncStateRepository) Save(ctx context.Context, st *syncstate.State) error {
	data, err := json.Marshal(st)
	if err != nil {
		return errors.Wrap(err, "failed to marshal sync state")
	}

	if err := r.client.Set(ctx, r.key, data, 0).Err(); err != nil {
		return errors.Wrapf(err, "failed to save sync state to redis: key=%s", r.key)
	}
	return nil
}
