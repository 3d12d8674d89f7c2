package exchanges

import (
	"context"

	"tradelog/internal/domain/position"
)

// Exchange defines the read-only contract each exchange adapter must satisfy.
type Exchange interface {
	Name() string

	// Scheme tells the reconciler how open positions of this venue are keyed
	Scheme() position.Scheme

	// Account
	GetOpenPositions(ctx context.Context) ([]position.Position, error)
	GetClosedPositions(ctx context.Context) ([]position.ClosedPosition, error)
}
