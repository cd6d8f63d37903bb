// Package cache persists the per-user booking cache, the only state this
// service writes durably. Entries are JSON blobs keyed by a stable
// user-derived identifier; the server remains authoritative for everything.
package cache

import (
	"context"

	"github.com/rf-almeida/cortegrid/internal/model"
)

// Store is the per-user booking cache. Load returns (nil, nil) when no entry
// exists. Save is write-through: callers persist immediately after every
// mutation, never on a delay.
type Store interface {
	Load(ctx context.Context, key string) ([]model.Booking, error)
	Save(ctx context.Context, key string, bookings []model.Booking) error
	// Rotate clears oldKey and rewrites the bookings under newKey. Used when
	// the reconciled identity turns out to differ from the cached one, so a
	// stale entry can never leak across users.
	Rotate(ctx context.Context, oldKey, newKey string, bookings []model.Booking) error
}

// Key builds the storage key for an identity.
func Key(id model.Identity) string {
	return "bookings:" + id.CacheKey()
}
