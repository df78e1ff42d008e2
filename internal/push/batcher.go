package push

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/sourcegraph/conc/iter"
	"go.uber.org/zap"

	"gitlab.com/timkado/api/spoke-identity-sync/internal/apperrors"
	"gitlab.com/timkado/api/spoke-identity-sync/internal/audit"
	"gitlab.com/timkado/api/spoke-identity-sync/internal/config"
	"gitlab.com/timkado/api/spoke-identity-sync/internal/model"
	"gitlab.com/timkado/api/spoke-identity-sync/internal/observer"
	"gitlab.com/timkado/api/spoke-identity-sync/internal/spoke"
	"gitlab.com/timkado/api/spoke-identity-sync/internal/validator"
	"gitlab.com/timkado/api/spoke-identity-sync/pkg/logger"
)

// MemberLoader loads canonical members with their phones and custom fields.
type MemberLoader interface {
	FindMembersWithPhones(ctx context.Context, ids []uint) ([]model.Member, error)
}

// CampaignWriter is the part of the Spoke client a push writes through.
type CampaignWriter interface {
	FindCampaign(ctx context.Context, id int64) (*spoke.Campaign, error)
	AddCampaignContacts(ctx context.Context, rows []spoke.CampaignContactRow) (int, error)
}

// BatchResult is reported once per written batch.
type BatchResult struct {
	BatchIndex int
	WriteCount int
}

// Reply converts the result to its wire shape.
func (r BatchResult) Reply() model.PushReply {
	return model.PushReply{BatchIndex: r.BatchIndex, WriteCount: r.WriteCount}
}

// Batcher pushes canonical members into a Spoke campaign.
type Batcher struct {
	members         MemberLoader
	writer          CampaignWriter
	batchSize       int
	baseCampaignURL string
}

// NewBatcher creates a batcher.
func NewBatcher(members MemberLoader, writer CampaignWriter, cfg config.SpokeConfig) *Batcher {
	return &Batcher{
		members:         members,
		writer:          writer,
		batchSize:       cfg.PushBatch(),
		baseCampaignURL: cfg.BaseCampaignURL,
	}
}

// CampaignID extracts the target campaign from push params.
func CampaignID(params model.PushParams) (int64, error) {
	id, err := strconv.ParseInt(params.CampaignID.String(), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: invalid campaign_id %q", apperrors.ErrBadRequest, params.CampaignID.String())
	}
	return id, nil
}

// Push partitions memberIDs into batches, preserving order, and writes each
// batch to the campaign. yield is called after every successful write. The
// first failure aborts the push; batches already written stay written.
func (b *Batcher) Push(ctx context.Context, syncID string, campaignID int64, memberIDs []uint, yield func(BatchResult) error) error {
	ctx = audit.WithSyncID(ctx, syncID)
	log := logger.FromContext(ctx).With(zap.Int64("campaign_id", campaignID))

	start := time.Now()
	batches := Partition(memberIDs, b.batchSize)
	for index, ids := range batches {
		written, err := b.pushBatch(ctx, campaignID, ids)
		observer.ObservePushBatch(written, err)
		if err != nil {
			log.Error("Push batch failed", zap.Int("batch_index", index), zap.Error(err))
			return fmt.Errorf("push batch %d: %w", index, err)
		}
		log.Debug("Push batch written",
			zap.Int("batch_index", index),
			zap.Int("members", len(ids)),
			zap.Int("written", written),
		)
		if yield != nil {
			if err := yield(BatchResult{BatchIndex: index, WriteCount: written}); err != nil {
				return err
			}
		}
	}

	log.Info("Push completed",
		zap.Int("members", len(memberIDs)),
		zap.Int("batches", len(batches)),
		zap.Duration("duration", time.Since(start)),
	)
	return nil
}

// PushAll runs Push and collects every batch result.
func (b *Batcher) PushAll(ctx context.Context, syncID string, campaignID int64, memberIDs []uint) ([]BatchResult, error) {
	results := []BatchResult{}
	err := b.Push(ctx, syncID, campaignID, memberIDs, func(r BatchResult) error {
		results = append(results, r)
		return nil
	})
	return results, err
}

func (b *Batcher) pushBatch(ctx context.Context, campaignID int64, ids []uint) (int, error) {
	members, err := b.members.FindMembersWithPhones(ctx, ids)
	if err != nil {
		return 0, err
	}

	rows, err := SerializeRows(members, campaignID)
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}
	return b.writer.AddCampaignContacts(ctx, rows)
}

// SerializeRows converts members into campaign contact rows. Members without
// a mobile number are left out. Every row is validated before it is returned.
func SerializeRows(members []model.Member, campaignID int64) ([]spoke.CampaignContactRow, error) {
	withMobile := make([]model.Member, 0, len(members))
	for _, m := range members {
		if _, ok := m.LatestPhone(model.PhoneTypeMobile); ok {
			withMobile = append(withMobile, m)
		}
	}

	rows, err := iter.MapErr(withMobile, func(m *model.Member) (spoke.CampaignContactRow, error) {
		return serializeMember(*m, campaignID)
	})
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func serializeMember(m model.Member, campaignID int64) (spoke.CampaignContactRow, error) {
	mobile, _ := m.LatestPhone(model.PhoneTypeMobile)
	customFields, err := json.Marshal(m.CustomFieldMap())
	if err != nil {
		return spoke.CampaignContactRow{}, fmt.Errorf("marshal custom fields of member %d: %w", m.ID, err)
	}

	row := spoke.CampaignContactRow{
		CampaignID:   campaignID,
		ExternalID:   strconv.FormatUint(uint64(m.ID), 10),
		FirstName:    m.FirstName,
		LastName:     m.LastName,
		Cell:         "+" + mobile,
		CustomFields: string(customFields),
	}
	if err := validator.Validate(row); err != nil {
		return spoke.CampaignContactRow{}, fmt.Errorf("member %d: %w", m.ID, err)
	}
	return row, nil
}

// Partition splits ids into consecutive chunks of at most size.
func Partition(ids []uint, size int) [][]uint {
	if size <= 0 {
		size = len(ids)
	}
	var out [][]uint
	for start := 0; start < len(ids); start += size {
		end := min(start+size, len(ids))
		out = append(out, ids[start:end])
	}
	return out
}
