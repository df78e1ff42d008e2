package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"gitlab.com/timkado/api/spoke-identity-sync/internal/apperrors"
	"gitlab.com/timkado/api/spoke-identity-sync/internal/observer"
	"gitlab.com/timkado/api/spoke-identity-sync/pkg/logger"
	"gitlab.com/timkado/api/spoke-identity-sync/pkg/utils"
)

const unlockTimeout = 5 * time.Second

// TryLock takes a session-level advisory lock on key without waiting.
// Session locks belong to one backend connection, so the lock pins a pooled
// connection until unlock runs. If the process dies the connection drops and
// Postgres releases the lock.
func (r *PostgresRepo) TryLock(ctx context.Context, key string) (func(), bool, error) {
	startTime := utils.Now()
	unlock, ok, err := r.tryLock(ctx, key)
	observer.ObserveDbOperationDuration("try_lock", "advisory_lock", time.Since(startTime), err)
	return unlock, ok, err
}

func (r *PostgresRepo) tryLock(ctx context.Context, key string) (func(), bool, error) {
	sqlDB, err := r.db.DB()
	if err != nil {
		return nil, false, fmt.Errorf("%w: failed to get SQL DB: %w", apperrors.ErrDatabase, err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return nil, false, checkConstraintViolation(err)
	}

	var acquired bool
	if err := conn.QueryRowContext(ctx, "SELECT pg_try_advisory_lock(hashtext($1))", key).Scan(&acquired); err != nil {
		_ = conn.Close()
		return nil, false, checkConstraintViolation(err)
	}
	if !acquired {
		_ = conn.Close()
		return func() {}, false, nil
	}

	var once sync.Once
	unlock := func() {
		once.Do(func() {
			unlockCtx, cancel := context.WithTimeout(context.Background(), unlockTimeout)
			defer cancel()
			if _, err := conn.ExecContext(unlockCtx, "SELECT pg_advisory_unlock(hashtext($1))", key); err != nil {
				logger.FromContext(ctx).Warn("Failed to release advisory lock", zap.String("lock", key), zap.Error(err))
			}
			_ = conn.Close()
		})
	}
	return unlock, true, nil
}
