package usecase

import (
	"context"
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"gitlab.com/timkado/api/spoke-identity-sync/internal/audit"
	"gitlab.com/timkado/api/spoke-identity-sync/internal/model"
	"gitlab.com/timkado/api/spoke-identity-sync/pkg/logger"
)

// HandleCampaign mirrors an active Spoke campaign and its survey questions.
func (s *SyncService) HandleCampaign(ctx context.Context, syncID string, campaignID int64) error {
	ctx = audit.WithSyncID(ctx, syncID)
	auditData := audit.FromContext(ctx, entryPoint(HandlerCampaign)).JSON()

	campaign, err := s.spoke.FindCampaign(ctx, campaignID)
	if err != nil {
		return fmt.Errorf("load campaign %d: %w", campaignID, err)
	}

	contactCampaign := &model.ContactCampaign{
		ExternalID:  strconv.FormatInt(campaign.ID, 10),
		System:      SystemName,
		Name:        campaign.Title,
		ContactType: ContactType,
		AuditData:   auditData,
	}
	if err := s.contacts.UpsertContactCampaign(ctx, contactCampaign); err != nil {
		return handleRepositoryError(ctx, err, "UpsertContactCampaign")
	}

	for _, step := range campaign.InteractionSteps {
		if step.Question == "" {
			continue
		}
		key := &model.ContactResponseKey{
			Key:               step.Question,
			ContactCampaignID: contactCampaign.ID,
			AuditData:         auditData,
		}
		if err := s.contacts.UpsertContactResponseKey(ctx, key); err != nil {
			return handleRepositoryError(ctx, err, "UpsertContactResponseKey")
		}
	}

	logger.FromContext(ctx).Debug("Campaign synced",
		zap.Int64("campaign_id", campaign.ID),
		zap.Uint("contact_campaign_id", contactCampaign.ID),
		zap.Int("interaction_steps", len(campaign.InteractionSteps)),
	)
	return nil
}
