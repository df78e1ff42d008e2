package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"gitlab.com/timkado/api/spoke-identity-sync/internal/apperrors"
	"gitlab.com/timkado/api/spoke-identity-sync/internal/model"
	"gitlab.com/timkado/api/spoke-identity-sync/internal/observer"
	"gitlab.com/timkado/api/spoke-identity-sync/pkg/logger"
	"gitlab.com/timkado/api/spoke-identity-sync/pkg/utils"
)

// GetWatermark returns the stored cursor for key, or def when none has been written.
func (r *PostgresRepo) GetWatermark(ctx context.Context, key string, def time.Time) (time.Time, error) {
	var wm model.Watermark
	operation := func() error {
		return r.db.WithContext(ctx).Where("key = ?", key).Take(&wm).Error
	}

	startTime := utils.Now()
	err := Retry(ctx, "GetWatermark", operation)
	observer.ObserveDbOperationDuration("get", "watermark", time.Since(startTime), ignoreNotFound(err))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return def.UTC(), nil
		}
		logger.FromContext(ctx).Error("Failed to read watermark", zap.String("key", key), zap.Error(err))
		return time.Time{}, checkConstraintViolation(err)
	}
	return wm.Value.UTC(), nil
}

// SetWatermark stores value for key. The stored cursor never moves backwards.
func (r *PostgresRepo) SetWatermark(ctx context.Context, key string, value time.Time) error {
	if key == "" {
		return fmt.Errorf("%w: watermark key is required", apperrors.ErrBadRequest)
	}
	wm := model.Watermark{Key: key, Value: value.UTC(), UpdatedAt: utils.Now()}

	operation := func() error {
		return r.db.WithContext(ctx).Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "key"}},
			DoUpdates: clause.Set{
				{Column: clause.Column{Name: "value"}, Value: gorm.Expr("GREATEST(sync_watermarks.value, EXCLUDED.value)")},
				{Column: clause.Column{Name: "updated_at"}, Value: gorm.Expr("EXCLUDED.updated_at")},
			},
		}).Create(&wm).Error
	}

	startTime := utils.Now()
	err := RetryCommit(ctx, "SetWatermark", operation)
	observer.ObserveDbOperationDuration("set", "watermark", time.Since(startTime), err)
	if err != nil {
		logger.FromContext(ctx).Error("Failed to write watermark", zap.String("key", key), zap.Error(err))
		return checkConstraintViolation(err)
	}
	return nil
}

func ignoreNotFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	return err
}
