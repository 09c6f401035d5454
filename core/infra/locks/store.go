package locks

import (
	"context"
	"time"
)

// Store manages exclusive, TTL-bounded leases on named resources. The
// scheduler uses it to claim a fire slot; engine instances use it to
// advertise liveness.
type Store interface {
	// Acquire claims resource for owner. It returns false without error when
	// another owner holds the lease. Re-acquiring an owned lease refreshes it.
	Acquire(ctx context.Context, resource, owner string, ttl time.Duration) (bool, error)
	// Release drops the lease if owner still holds it.
	Release(ctx context.Context, resource, owner string) (bool, error)
	// Renew extends the lease if owner still holds it.
	Renew(ctx context.Context, resource, owner string, ttl time.Duration) (bool, error)
	// Owner returns the current holder, or "" when the resource is free.
	Owner(ctx context.Context, resource string) (string, error)
}
