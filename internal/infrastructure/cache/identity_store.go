// Package cache holds the short-lived key stores of the connector.
// Job identity keys live in Redis when it is configured, in memory otherwise.
package cache

import (
	"context"
	"time"
)

// IdentityStore reserves job identity keys so that the same job is not
// queued twice while one copy is still pending.
type IdentityStore interface {
	// Reserve claims key for ttl. It returns false when the key is already held.
	Reserve(ctx context.Context, key string, ttl time.Duration) (bool, error)
	// Release frees key. Releasing an unknown key is not an error.
	Release(ctx context.Context, key string) error
	// Close releases the resources of the store
	Close() error
}
