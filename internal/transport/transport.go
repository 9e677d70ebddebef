// Package transport provides the keyed TTL storage and publish/subscribe
// primitives the permission broker runs on. Two implementations exist: a
// Redis-backed one for multi-process deployments and an in-memory one for
// single-process setups and tests.
package transport

import (
	"context"
	"errors"
	"time"
)

// ErrKeyNotFound is returned when a key does not exist or has expired.
var ErrKeyNotFound = errors.New("key not found")

// KV is keyed byte storage with per-key expiry.
type KV interface {
	// Get returns the value for key, or ErrKeyNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// SetTTL stores value under key, expiring after ttl.
	SetTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Expire resets the remaining lifetime of key. Expiring a missing key
	// returns ErrKeyNotFound.
	Expire(ctx context.Context, key string, ttl time.Duration) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
}

// Subscription is a live channel subscription. Messages published after
// Subscribe returns are delivered on C. A slow consumer may miss messages;
// delivery is best effort.
type Subscription interface {
	C() <-chan []byte
	Close() error
}

// PubSub is fire-and-forget channel messaging.
type PubSub interface {
	// Publish sends payload to every current subscriber of channel.
	Publish(ctx context.Context, channel string, payload []byte) error

	// Subscribe starts listening on channel.
	Subscribe(ctx context.Context, channel string) (Subscription, error)
}

// Bus combines the storage and messaging halves behind one handle.
type Bus interface {
	KV
	PubSub

	// Close releases the underlying connections or goroutines.
	Close() error
}
