package storage

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm/clause"

	"gitlab.com/timkado/api/spoke-identity-sync/internal/apperrors"
	"gitlab.com/timkado/api/spoke-identity-sync/internal/model"
	"gitlab.com/timkado/api/spoke-identity-sync/internal/observer"
	"gitlab.com/timkado/api/spoke-identity-sync/pkg/logger"
	"gitlab.com/timkado/api/spoke-identity-sync/pkg/utils"
)

// UpsertContactCampaign creates or overwrites the campaign keyed by (external_id, system).
// The stored id is written back to cc.
func (r *PostgresRepo) UpsertContactCampaign(ctx context.Context, cc *model.ContactCampaign) error {
	if cc.ExternalID == "" || cc.System == "" {
		return fmt.Errorf("%w: contact campaign requires external_id and system", apperrors.ErrValidation)
	}

	operation := func() error {
		cc.ID = 0
		return r.db.WithContext(ctx).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "external_id"}, {Name: "system"}},
			DoUpdates: clause.AssignmentColumns(model.ContactCampaignUpdateColumns()),
		}).Create(cc).Error
	}

	startTime := utils.Now()
	err := RetryCommit(ctx, "UpsertContactCampaign", operation)
	observer.ObserveDbOperationDuration("upsert", "contact_campaign", time.Since(startTime), err)
	if err != nil {
		logger.FromContext(ctx).Error("Failed to upsert contact campaign", zap.String("external_id", cc.ExternalID), zap.Error(err))
		return checkConstraintViolation(err)
	}
	return nil
}

// UpsertContact creates or updates in place the contact keyed by (external_id, system).
func (r *PostgresRepo) UpsertContact(ctx context.Context, c *model.Contact) error {
	if c.ExternalID == "" || c.System == "" {
		return fmt.Errorf("%w: contact requires external_id and system", apperrors.ErrValidation)
	}

	operation := func() error {
		c.ID = 0
		return r.db.WithContext(ctx).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "external_id"}, {Name: "system"}},
			DoUpdates: clause.AssignmentColumns(model.ContactUpdateColumns()),
		}).Create(c).Error
	}

	startTime := utils.Now()
	err := RetryCommit(ctx, "UpsertContact", operation)
	observer.ObserveDbOperationDuration("upsert", "contact", time.Since(startTime), err)
	if err != nil {
		logger.FromContext(ctx).Error("Failed to upsert contact", zap.String("external_id", c.ExternalID), zap.Error(err))
		return checkConstraintViolation(err)
	}
	return nil
}

// UpsertContactResponseKey finds or creates the key scoped to its contact campaign.
// Existing keys are left untouched; the stored id is written back to k.
func (r *PostgresRepo) UpsertContactResponseKey(ctx context.Context, k *model.ContactResponseKey) error {
	if k.Key == "" || k.ContactCampaignID == 0 {
		return fmt.Errorf("%w: contact response key requires key and contact_campaign_id", apperrors.ErrValidation)
	}

	operation := func() error {
		k.ID = 0
		db := r.db.WithContext(ctx)
		if err := db.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "key"}, {Name: "contact_campaign_id"}},
			DoNothing: true,
		}).Create(k).Error; err != nil {
			return err
		}
		if k.ID != 0 {
			return nil
		}
		return db.Where("key = ? AND contact_campaign_id = ?", k.Key, k.ContactCampaignID).Take(k).Error
	}

	startTime := utils.Now()
	err := RetryCommit(ctx, "UpsertContactResponseKey", operation)
	observer.ObserveDbOperationDuration("upsert", "contact_response_key", time.Since(startTime), err)
	if err != nil {
		logger.FromContext(ctx).Error("Failed to upsert contact response key", zap.String("key", k.Key), zap.Error(err))
		return checkConstraintViolation(err)
	}
	return nil
}

// CreateContactResponseIfAbsent inserts the response unless one already exists
// for the same (contactee, value, key). It reports whether a row was created.
func (r *PostgresRepo) CreateContactResponseIfAbsent(ctx context.Context, resp *model.ContactResponse) (bool, error) {
	if resp.ContacteeID == 0 || resp.ContactResponseKeyID == 0 || resp.ContactID == 0 {
		return false, fmt.Errorf("%w: contact response requires contact, contactee and key", apperrors.ErrValidation)
	}

	var created bool
	operation := func() error {
		resp.ID = 0
		result := r.db.WithContext(ctx).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "contactee_id"}, {Name: "value"}, {Name: "contact_response_key_id"}},
			DoNothing: true,
		}).Create(resp)
		if result.Error != nil {
			return result.Error
		}
		created = result.RowsAffected > 0
		return nil
	}

	startTime := utils.Now()
	err := RetryCommit(ctx, "CreateContactResponseIfAbsent", operation)
	observer.ObserveDbOperationDuration("insert", "contact_response", time.Since(startTime), err)
	if err != nil {
		logger.FromContext(ctx).Error("Failed to create contact response", zap.String("value", resp.Value), zap.Error(err))
		return false, checkConstraintViolation(err)
	}
	return created, nil
}
