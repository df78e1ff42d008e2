package usecase

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"gitlab.com/timkado/api/spoke-identity-sync/internal/apperrors"
	"gitlab.com/timkado/api/spoke-identity-sync/internal/audit"
	"gitlab.com/timkado/api/spoke-identity-sync/pkg/logger"
	"gitlab.com/timkado/api/spoke-identity-sync/pkg/utils"
)

// HandleNewOptOut unsubscribes the member behind the latest campaign contact
// with the opted-out cell from the configured subscription.
func (s *SyncService) HandleNewOptOut(ctx context.Context, syncID string, optOutID int64) error {
	ctx = audit.WithSyncID(ctx, syncID)
	log := logger.FromContext(ctx).With(zap.Int64("opt_out_id", optOutID))

	if s.optOutSubscriptionID == 0 {
		log.Debug("No opt-out subscription configured, skipping")
		return nil
	}

	optOut, err := s.spoke.FindOptOut(ctx, optOutID)
	if err != nil {
		return fmt.Errorf("load opt out %d: %w", optOutID, err)
	}

	campaignContact, err := s.spoke.LatestCampaignContactByCell(ctx, optOut.Cell)
	if errors.Is(err, apperrors.ErrNotFound) {
		log.Info("No campaign contact for opted-out cell", zap.String("cell", optOut.Cell))
		return nil
	}
	if err != nil {
		return fmt.Errorf("load campaign contact for opt out %d: %w", optOutID, err)
	}

	member, err := s.members.ResolveMember(ctx, campaignContactInput(campaignContact, HandlerNewOptOut), true)
	if err != nil {
		return handleRepositoryError(ctx, err, "ResolveMember(campaign_contact)")
	}

	subscription, err := s.members.FindSubscription(ctx, s.optOutSubscriptionID)
	if err != nil {
		return handleRepositoryError(ctx, err, "FindSubscription")
	}

	if err := s.members.Unsubscribe(ctx, member.ID, subscription.ID, OptOutReason, utils.Now()); err != nil {
		return handleRepositoryError(ctx, err, "Unsubscribe")
	}

	log.Info("Member unsubscribed",
		zap.Uint("member_id", member.ID),
		zap.String("subscription", subscription.Slug),
	)
	return nil
}
