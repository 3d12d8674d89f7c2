package syncstate

import (
	"context"

	"tradelog/pkg/errors"
)

// ErrCorruptState marks stored state that was read but could not be decoded
var ErrCorruptState = errors.New("sync state corrupt")

// Repository persists State between process runs.
// Load returns an empty state when nothing is stored. Undecodable data yields
// an empty state and an error wrapping ErrCorruptState. Any other failure
// yields a nil state; the stored data may be intact and must not be replaced.
type Repository interface {
	Load(ctx context.Context) (*State, error)
	Save(ctx context.Context, s *State) error
}
