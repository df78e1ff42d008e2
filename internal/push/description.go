package push

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"gitlab.com/timkado/api/spoke-identity-sync/internal/apperrors"
	"gitlab.com/timkado/api/spoke-identity-sync/internal/model"
)

// Description renders the human label of a sync. Pushes name the target
// campaign; pulls name the job.
func Description(syncType, externalSystemParams, campaignName string) (string, error) {
	var params struct {
		CampaignID json.Number `json:"campaign_id"`
		PullJob    string      `json:"pull_job"`
	}
	if err := json.Unmarshal([]byte(externalSystemParams), &params); err != nil {
		return "", fmt.Errorf("%w: external_system_params: %v", apperrors.ErrBadRequest, err)
	}
	if syncType == model.SyncTypePush {
		return fmt.Sprintf("Spoke - Campaign: %s #%s (sms)", campaignName, params.CampaignID.String()), nil
	}
	return "Spoke: " + params.PullJob, nil
}

// BaseCampaignURL renders the configured campaign URL template, or "" when
// no template is configured.
func (b *Batcher) BaseCampaignURL(campaignID int64) string {
	return BaseCampaignURL(b.baseCampaignURL, campaignID)
}

// BaseCampaignURL fills template with the campaign id.
func BaseCampaignURL(template string, campaignID int64) string {
	if template == "" {
		return ""
	}
	return fmt.Sprintf(template, strconv.FormatInt(campaignID, 10))
}

// CampaignName loads the title of the target campaign.
func (b *Batcher) CampaignName(ctx context.Context, campaignID int64) (string, error) {
	campaign, err := b.writer.FindCampaign(ctx, campaignID)
	if err != nil {
		return "", fmt.Errorf("load campaign %d: %w", campaignID, err)
	}
	return campaign.Title, nil
}
