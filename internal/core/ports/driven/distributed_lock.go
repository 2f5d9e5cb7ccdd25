package driven

import (
	"context"
	"time"
)

// DistributedLock serialises reindex jobs and scheduler runs across
// instances. Lock names are scopes such as "reindex:all" or
// "reindex:project:<id>".
type DistributedLock interface {
	// Acquire takes the lock for ttl. It returns false, nil when another
	// holder has it.
	Acquire(ctx context.Context, name string, ttl time.Duration) (acquired bool, err error)

	// Release drops the lock. Releasing a lock that expired is not an error.
	Release(ctx context.Context, name string) error

	// Extend pushes the expiry of a held lock out to ttl from now. Long
	// reindex jobs call it after every batch.
	Extend(ctx context.Context, name string, ttl time.Duration) error

	Ping(ctx context.Context) error
}
