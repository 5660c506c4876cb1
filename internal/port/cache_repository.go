package port

import (
	"context"
	"time"
)

type CacheRepository interface {
	// SetIdempotency sets a key for idempotency check, returns false if already exists
	SetIdempotency(ctx context.Context, key string) (bool, error)

	// ClearIdempotency forgets a key so a failed request can be retried
	ClearIdempotency(ctx context.Context, key string) error

	// AcquireLock takes a lease on key for ttl, returns false if another holder has it
	AcquireLock(ctx context.Context, key, token string, ttl time.Duration) (bool, error)

	// ReleaseLock drops the lease only if token still owns it
	ReleaseLock(ctx context.Context, key, token string) error
}
