package guard

import (
	"context"
	"fmt"
)

// Locker takes non-blocking locks shared by every replica.
type Locker interface {
	TryLock(ctx context.Context, key string) (unlock func(), ok bool, err error)
}

// Cluster checks the local tracker first and then a shared lock, so a kind
// runs on at most one replica at a time.
type Cluster struct {
	local  *Tracker
	locker Locker
}

var _ Guard = (*Cluster)(nil)

// NewCluster layers locker behind local.
func NewCluster(local *Tracker, locker Locker) *Cluster {
	return &Cluster{local: local, locker: locker}
}

// LockKey is the shared lock name of a pull job kind.
func LockKey(kind string) string {
	return "pull:" + kind
}

// Begin registers kind locally, then takes the shared lock. A lock held by
// another replica is reported as busy, not as an error.
func (c *Cluster) Begin(ctx context.Context, kind string) (func(), bool, error) {
	release, ok := c.local.tryBegin(kind)
	if !ok {
		return func() {}, false, nil
	}

	unlock, ok, err := c.locker.TryLock(ctx, LockKey(kind))
	if err != nil {
		release()
		return func() {}, false, fmt.Errorf("lock %s: %w", kind, err)
	}
	if !ok {
		release()
		return func() {}, false, nil
	}

	return func() {
		unlock()
		release()
	}, true, nil
}
