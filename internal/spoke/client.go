package spoke

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"gitlab.com/timkado/api/spoke-identity-sync/internal/apperrors"
	"gitlab.com/timkado/api/spoke-identity-sync/internal/observer"
	"gitlab.com/timkado/api/spoke-identity-sync/internal/storage"
	"gitlab.com/timkado/api/spoke-identity-sync/pkg/logger"
	"gitlab.com/timkado/api/spoke-identity-sync/pkg/utils"
)

// Client reads deltas from, and writes campaign contacts to, the Spoke database.
type Client interface {
	UpdatedMessages(ctx context.Context, cursor Cursor, limit int) ([]Message, error)
	UpdatedOptOuts(ctx context.Context, cursor Cursor, limit int) ([]OptOut, error)
	ActiveCampaigns(ctx context.Context, afterID int64, limit int) ([]Campaign, error)

	FindMessage(ctx context.Context, id int64) (*Message, error)
	FindOptOut(ctx context.Context, id int64) (*OptOut, error)
	FindCampaign(ctx context.Context, id int64) (*Campaign, error)
	FindCampaignContact(ctx context.Context, campaignID int64, cell string) (*CampaignContact, error)
	LatestCampaignContactByCell(ctx context.Context, cell string) (*CampaignContact, error)
	QuestionResponses(ctx context.Context, campaignContactID int64) ([]QuestionResponse, error)

	AddCampaignContacts(ctx context.Context, rows []CampaignContactRow) (int, error)

	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}

// GormClient implements Client over the Spoke Postgres database.
type GormClient struct {
	db *gorm.DB
}

// NewGormClient connects to the Spoke database.
func NewGormClient(dsn string) (*GormClient, error) {
	db, err := storage.Open(dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", apperrors.ErrExternalStore, err)
	}
	return &GormClient{db: db}, nil
}

// NewGormClientWithDB wraps an existing gorm handle.
func NewGormClientWithDB(db *gorm.DB) *GormClient {
	return &GormClient{db: db}
}

func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return storage.MapError(err)
	}
	return fmt.Errorf("%w: %w", apperrors.ErrExternalStore, storage.MapError(err))
}

func applyCursor(db *gorm.DB, cursor Cursor) *gorm.DB {
	if cursor.AfterID == 0 {
		return db.Where("created_at > ?", cursor.Since)
	}
	return db.Where("created_at > ? OR (created_at = ? AND id > ?)", cursor.Since, cursor.Since, cursor.AfterID)
}

func (c *GormClient) read(ctx context.Context, opName, entity string, operation func() error) error {
	startTime := utils.Now()
	err := storage.Retry(ctx, opName, operation)
	observer.ObserveDbOperationDuration("spoke_"+opName, entity, time.Since(startTime), err)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		logger.FromContext(ctx).Error("Spoke read failed", zap.String("operation", opName), zap.Error(err))
	}
	return mapError(err)
}

// UpdatedMessages returns messages created after the cursor, skipping errored sends.
func (c *GormClient) UpdatedMessages(ctx context.Context, cursor Cursor, limit int) ([]Message, error) {
	var messages []Message
	err := c.read(ctx, "updated_messages", "message", func() error {
		messages = nil
		q := applyCursor(c.db.WithContext(ctx).Model(&Message{}), cursor).
			Where("send_status <> ?", SendStatusError).
			Order("created_at ASC, id ASC")
		if limit > 0 {
			q = q.Limit(limit)
		}
		return q.Find(&messages).Error
	})
	return messages, err
}

// UpdatedOptOuts returns opt-outs created after the cursor.
func (c *GormClient) UpdatedOptOuts(ctx context.Context, cursor Cursor, limit int) ([]OptOut, error) {
	var optOuts []OptOut
	err := c.read(ctx, "updated_opt_outs", "opt_out", func() error {
		optOuts = nil
		q := applyCursor(c.db.WithContext(ctx).Model(&OptOut{}), cursor).
			Order("created_at ASC, id ASC")
		if limit > 0 {
			q = q.Limit(limit)
		}
		return q.Find(&optOuts).Error
	})
	return optOuts, err
}

// ActiveCampaigns pages through started, unarchived campaigns by id.
func (c *GormClient) ActiveCampaigns(ctx context.Context, afterID int64, limit int) ([]Campaign, error) {
	var campaigns []Campaign
	err := c.read(ctx, "active_campaigns", "campaign", func() error {
		campaigns = nil
		q := c.db.WithContext(ctx).
			Where("is_started = ? AND is_archived = ?", true, false).
			Where("id > ?", afterID).
			Order("id ASC")
		if limit > 0 {
			q = q.Limit(limit)
		}
		return q.Find(&campaigns).Error
	})
	return campaigns, err
}

// FindMessage loads a message with its assignment, campaign and sender.
func (c *GormClient) FindMessage(ctx context.Context, id int64) (*Message, error) {
	var msg Message
	err := c.read(ctx, "find_message", "message", func() error {
		return c.db.WithContext(ctx).
			Preload("Assignment.Campaign").
			Preload("Assignment.User").
			Where("id = ?", id).
			Take(&msg).Error
	})
	if err != nil {
		return nil, err
	}
	if msg.Assignment == nil || msg.Assignment.Campaign == nil || msg.Assignment.User == nil {
		return nil, fmt.Errorf("%w: message %d has no assignment, campaign or user", apperrors.ErrNotFound, id)
	}
	return &msg, nil
}

func (c *GormClient) FindOptOut(ctx context.Context, id int64) (*OptOut, error) {
	var optOut OptOut
	err := c.read(ctx, "find_opt_out", "opt_out", func() error {
		return c.db.WithContext(ctx).Where("id = ?", id).Take(&optOut).Error
	})
	if err != nil {
		return nil, err
	}
	return &optOut, nil
}

// FindCampaign loads a campaign with its live interaction steps.
func (c *GormClient) FindCampaign(ctx context.Context, id int64) (*Campaign, error) {
	var campaign Campaign
	err := c.read(ctx, "find_campaign", "campaign", func() error {
		return c.db.WithContext(ctx).
			Preload("InteractionSteps", func(db *gorm.DB) *gorm.DB {
				return db.Where("is_deleted = ?", false).Order("id ASC")
			}).
			Where("id = ?", id).
			Take(&campaign).Error
	})
	if err != nil {
		return nil, err
	}
	return &campaign, nil
}

func (c *GormClient) FindCampaignContact(ctx context.Context, campaignID int64, cell string) (*CampaignContact, error) {
	var cc CampaignContact
	err := c.read(ctx, "find_campaign_contact", "campaign_contact", func() error {
		return c.db.WithContext(ctx).
			Where("campaign_id = ? AND cell = ?", campaignID, cell).
			Order("id ASC").
			Take(&cc).Error
	})
	if err != nil {
		return nil, err
	}
	return &cc, nil
}

// LatestCampaignContactByCell returns the newest campaign contact with the given cell.
func (c *GormClient) LatestCampaignContactByCell(ctx context.Context, cell string) (*CampaignContact, error) {
	var cc CampaignContact
	err := c.read(ctx, "latest_campaign_contact", "campaign_contact", func() error {
		return c.db.WithContext(ctx).
			Where("cell = ?", cell).
			Order("id DESC").
			Take(&cc).Error
	})
	if err != nil {
		return nil, err
	}
	return &cc, nil
}

func (c *GormClient) QuestionResponses(ctx context.Context, campaignContactID int64) ([]QuestionResponse, error) {
	var responses []QuestionResponse
	err := c.read(ctx, "question_responses", "question_response", func() error {
		responses = nil
		return c.db.WithContext(ctx).
			Preload("InteractionStep").
			Where("campaign_contact_id = ?", campaignContactID).
			Order("id ASC").
			Find(&responses).Error
	})
	return responses, err
}

// AddCampaignContacts inserts the rows in one statement and returns how many were written.
// Rows colliding with an existing campaign contact are skipped.
func (c *GormClient) AddCampaignContacts(ctx context.Context, rows []CampaignContactRow) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	now := utils.Now()
	contacts := make([]CampaignContact, len(rows))
	for i, row := range rows {
		contacts[i] = CampaignContact{
			CampaignID:    row.CampaignID,
			ExternalID:    row.ExternalID,
			FirstName:     row.FirstName,
			LastName:      row.LastName,
			Cell:          row.Cell,
			CustomFields:  row.CustomFields,
			MessageStatus: "needsMessage",
			CreatedAt:     now,
			UpdatedAt:     now,
		}
	}

	var written int64
	operation := func() error {
		for i := range contacts {
			contacts[i].ID = 0
		}
		result := c.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&contacts)
		if result.Error != nil {
			return result.Error
		}
		written = result.RowsAffected
		return nil
	}

	startTime := utils.Now()
	err := storage.RetryCommit(ctx, "AddCampaignContacts", operation)
	observer.ObserveDbOperationDuration("spoke_insert", "campaign_contact", time.Since(startTime), err)
	if err != nil {
		logger.FromContext(ctx).Error("Failed to write campaign contacts", zap.Int("rows", len(rows)), zap.Error(err))
		return 0, mapError(err)
	}
	return int(written), nil
}

// Ping checks the Spoke database connection.
func (c *GormClient) Ping(ctx context.Context) error {
	sqlDB, err := c.db.DB()
	if err != nil {
		return fmt.Errorf("%w: %w", apperrors.ErrExternalStore, err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: ping failed: %w", apperrors.ErrExternalStore, err)
	}
	return nil
}

func (c *GormClient) Close(ctx context.Context) error {
	return storage.CloseDB(ctx, c.db)
}

var _ Client = (*GormClient)(nil)
