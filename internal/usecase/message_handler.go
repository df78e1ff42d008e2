package usecase

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"gitlab.com/timkado/api/spoke-identity-sync/internal/apperrors"
	"gitlab.com/timkado/api/spoke-identity-sync/internal/audit"
	"gitlab.com/timkado/api/spoke-identity-sync/internal/model"
	"gitlab.com/timkado/api/spoke-identity-sync/internal/spoke"
	"gitlab.com/timkado/api/spoke-identity-sync/pkg/logger"
)

// HandleNewMessage records one Spoke message as a canonical Contact between
// the campaign contact and the texter. Outbound messages also record the
// campaign contact's survey answers.
func (s *SyncService) HandleNewMessage(ctx context.Context, syncID string, messageID int64) error {
	ctx = audit.WithSyncID(ctx, syncID)
	log := logger.FromContext(ctx).With(zap.Int64("message_id", messageID))
	auditData := audit.FromContext(ctx, entryPoint(HandlerNewMessage)).JSON()

	message, err := s.spoke.FindMessage(ctx, messageID)
	if err != nil {
		return fmt.Errorf("load message %d: %w", messageID, err)
	}
	campaign := message.Assignment.Campaign
	user := message.Assignment.User

	campaignContact, err := s.spoke.FindCampaignContact(ctx, campaign.ID, message.ContactNumber)
	if errors.Is(err, apperrors.ErrNotFound) {
		s.alerts.Warning(ctx, "Spoke: CampaignContact Find Failed",
			fmt.Sprintf("campaign_id: %d, cell: %s", campaign.ID, message.ContactNumber))
		return nil
	}
	if err != nil {
		return fmt.Errorf("load campaign contact for message %d: %w", messageID, err)
	}

	campaignContactMember, err := s.members.ResolveMember(ctx, campaignContactInput(campaignContact, HandlerNewMessage), true)
	if err != nil {
		return handleRepositoryError(ctx, err, "ResolveMember(campaign_contact)")
	}
	userMember, err := s.members.ResolveMember(ctx, model.MemberInput{
		Phones:     []model.MemberPhoneInput{{Phone: user.Cell}},
		FirstName:  user.FirstName,
		LastName:   user.LastName,
		EntryPoint: entryPoint(HandlerNewMessage),
	}, false)
	if err != nil {
		return handleRepositoryError(ctx, err, "ResolveMember(user)")
	}

	contactor, contactee := userMember, campaignContactMember
	notes := model.ContactNotesOutbound
	if message.IsFromContact {
		contactor, contactee = campaignContactMember, userMember
		notes = model.ContactNotesInbound
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

	contact := &model.Contact{
		ExternalID:        strconv.FormatInt(message.ID, 10),
		System:            SystemName,
		ContacteeID:       contactee.ID,
		ContactorID:       contactor.ID,
		ContactCampaignID: contactCampaign.ID,
		ContactType:       ContactType,
		HappenedAt:        message.CreatedAt.UTC(),
		Status:            message.SendStatus,
		Notes:             notes,
		AuditData:         auditData,
	}
	if err := s.contacts.UpsertContact(ctx, contact); err != nil {
		return handleRepositoryError(ctx, err, "UpsertContact")
	}

	if message.IsFromContact {
		log.Debug("Inbound message recorded", zap.Uint("contact_id", contact.ID))
		return nil
	}

	responses, err := s.spoke.QuestionResponses(ctx, campaignContact.ID)
	if err != nil {
		return fmt.Errorf("load question responses for campaign contact %d: %w", campaignContact.ID, err)
	}

	created := 0
	for _, qr := range responses {
		if qr.InteractionStep == nil || qr.InteractionStep.Question == "" {
			log.Warn("Skipping question response without a question", zap.Int64("question_response_id", qr.ID))
			continue
		}

		key := &model.ContactResponseKey{
			Key:               qr.InteractionStep.Question,
			ContactCampaignID: contactCampaign.ID,
			AuditData:         auditData,
		}
		if err := s.contacts.UpsertContactResponseKey(ctx, key); err != nil {
			return handleRepositoryError(ctx, err, "UpsertContactResponseKey")
		}

		ok, err := s.contacts.CreateContactResponseIfAbsent(ctx, &model.ContactResponse{
			ContactID:            contact.ID,
			ContacteeID:          contactee.ID,
			Value:                qr.Value,
			ContactResponseKeyID: key.ID,
			AuditData:            auditData,
		})
		if err != nil {
			return handleRepositoryError(ctx, err, "CreateContactResponseIfAbsent")
		}
		if ok {
			created++
		}
	}

	log.Debug("Outbound message recorded",
		zap.Uint("contact_id", contact.ID),
		zap.Int("question_responses", len(responses)),
		zap.Int("contact_responses_created", created),
	)
	return nil
}

// campaignContactInput is the authoritative member description of a campaign contact.
func campaignContactInput(cc *spoke.CampaignContact, handler string) model.MemberInput {
	return model.MemberInput{
		Phones:     []model.MemberPhoneInput{{Phone: cc.Cell}},
		FirstName:  cc.FirstName,
		LastName:   cc.LastName,
		ExternalID: cc.ExternalID,
		EntryPoint: entryPoint(handler),
	}
}
