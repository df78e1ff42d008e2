package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"gitlab.com/timkado/api/spoke-identity-sync/internal/apperrors"
	"gitlab.com/timkado/api/spoke-identity-sync/internal/audit"
	"gitlab.com/timkado/api/spoke-identity-sync/internal/model"
	"gitlab.com/timkado/api/spoke-identity-sync/internal/observer"
	"gitlab.com/timkado/api/spoke-identity-sync/pkg/logger"
	"gitlab.com/timkado/api/spoke-identity-sync/pkg/utils"
)

// ResolveMember finds or creates the Member described by in.
//
// An authoritative resolve matches on external id first, then phone, and may
// set the external id and names of the matched member. A best-effort resolve
// matches on phone only and never touches external ids. Both record every
// phone in the input. Resolution is serialized per natural key with
// transaction-scoped advisory locks so concurrent handlers cannot create
// duplicates.
func (r *PostgresRepo) ResolveMember(ctx context.Context, in model.MemberInput, authoritative bool) (*model.Member, error) {
	phones := normalizedPhones(in)
	if len(phones) == 0 {
		return nil, fmt.Errorf("%w: member input has no phone number", apperrors.ErrValidation)
	}
	auditData := audit.FromContext(ctx, in.EntryPoint).JSON()
	lockKeys := memberLockKeys(in, phones, authoritative)

	var resolved *model.Member
	operation := func() error {
		return r.withTx(ctx, func(tx *gorm.DB) error {
			for _, key := range lockKeys {
				if err := tx.Exec("SELECT pg_advisory_xact_lock(hashtext(?))", key).Error; err != nil {
					return checkConstraintViolation(err)
				}
			}

			member, err := matchMember(tx, in, phones, authoritative)
			if err != nil {
				return err
			}

			if member == nil {
				member = &model.Member{FirstName: in.FirstName, LastName: in.LastName, AuditData: auditData}
				if authoritative && in.ExternalID != "" {
					ext := in.ExternalID
					member.ExternalID = &ext
				}
				if err := tx.Create(member).Error; err != nil {
					return checkConstraintViolation(err)
				}
			} else if updates := memberUpdates(member, in, authoritative); len(updates) > 0 {
				updates["audit_data"] = auditData
				if err := tx.Model(member).Updates(updates).Error; err != nil {
					return checkConstraintViolation(err)
				}
			}

			now := utils.Now()
			for _, phone := range phones {
				pn := model.PhoneNumber{
					MemberID:  member.ID,
					Phone:     phone,
					PhoneType: r.phoneType(phone),
					UpdatedAt: now,
				}
				if err := tx.Clauses(clause.OnConflict{
					Columns:   []clause.Column{{Name: "member_id"}, {Name: "phone"}},
					DoUpdates: clause.AssignmentColumns(model.PhoneNumberUpdateColumns()),
				}).Create(&pn).Error; err != nil {
					return checkConstraintViolation(err)
				}
			}

			if err := tx.Where("member_id = ?", member.ID).Order("updated_at DESC").Find(&member.PhoneNumbers).Error; err != nil {
				return checkConstraintViolation(err)
			}
			resolved = member
			return nil
		})
	}

	startTime := utils.Now()
	err := RetryCommit(ctx, "ResolveMember", operation)
	observer.ObserveDbOperationDuration("resolve", "member", time.Since(startTime), err)
	if err != nil {
		logger.FromContext(ctx).Error("Failed to resolve member",
			zap.Strings("phones", phones),
			zap.Bool("authoritative", authoritative),
			zap.Error(err))
		return nil, err
	}
	return resolved, nil
}

// matchMember returns nil without error when no member matches.
func matchMember(tx *gorm.DB, in model.MemberInput, phones []string, authoritative bool) (*model.Member, error) {
	if authoritative && in.ExternalID != "" {
		var byExternal model.Member
		err := tx.Where("external_id = ?", in.ExternalID).Take(&byExternal).Error
		if err == nil {
			return &byExternal, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, checkConstraintViolation(err)
		}
	}

	var byPhone model.Member
	err := tx.Model(&model.Member{}).
		Select("members.*").
		Joins("JOIN phone_numbers ON phone_numbers.member_id = members.id").
		Where("phone_numbers.phone IN ?", phones).
		Order("phone_numbers.updated_at DESC, members.id ASC").
		Take(&byPhone).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, checkConstraintViolation(err)
	}

	// A member already bound to a different external id is someone else.
	if authoritative && in.ExternalID != "" && byPhone.ExternalID != nil && *byPhone.ExternalID != in.ExternalID {
		return nil, nil
	}
	return &byPhone, nil
}

func memberUpdates(member *model.Member, in model.MemberInput, authoritative bool) map[string]interface{} {
	updates := map[string]interface{}{}
	if authoritative {
		if in.ExternalID != "" && member.ExternalID == nil {
			ext := in.ExternalID
			member.ExternalID = &ext
			updates["external_id"] = ext
		}
		if in.FirstName != "" && in.FirstName != member.FirstName {
			member.FirstName = in.FirstName
			updates["first_name"] = in.FirstName
		}
		if in.LastName != "" && in.LastName != member.LastName {
			member.LastName = in.LastName
			updates["last_name"] = in.LastName
		}
		return updates
	}

	if in.FirstName != "" && member.FirstName == "" {
		member.FirstName = in.FirstName
		updates["first_name"] = in.FirstName
	}
	if in.LastName != "" && member.LastName == "" {
		member.LastName = in.LastName
		updates["last_name"] = in.LastName
	}
	return updates
}

func normalizedPhones(in model.MemberInput) []string {
	seen := make(map[string]struct{}, len(in.Phones))
	phones := make([]string, 0, len(in.Phones))
	for _, p := range in.Phones {
		phone := utils.NormalizePhone(p.Phone)
		if phone == "" {
			continue
		}
		if _, ok := seen[phone]; ok {
			continue
		}
		seen[phone] = struct{}{}
		phones = append(phones, phone)
	}
	return phones
}

// memberLockKeys returns the advisory lock keys in a stable order so two
// resolvers sharing keys always acquire them in the same sequence.
func memberLockKeys(in model.MemberInput, phones []string, authoritative bool) []string {
	keys := make([]string, 0, len(phones)+1)
	for _, p := range phones {
		keys = append(keys, "member:phone:"+p)
	}
	if authoritative && in.ExternalID != "" {
		keys = append(keys, "member:external_id:"+in.ExternalID)
	}
	sort.Strings(keys)
	return keys
}

func (r *PostgresRepo) phoneType(phone string) string {
	if utils.HasAnyPrefix(phone, r.mobilePrefixes) {
		return model.PhoneTypeMobile
	}
	return model.PhoneTypeLandline
}

// FindMembersWithPhones loads members with phones and custom fields, in the order of ids.
func (r *PostgresRepo) FindMembersWithPhones(ctx context.Context, ids []uint) ([]model.Member, error) {
	if len(ids) == 0 {
		return []model.Member{}, nil
	}

	var members []model.Member
	operation := func() error {
		members = nil
		return r.db.WithContext(ctx).
			Preload("PhoneNumbers").
			Preload("CustomFields").
			Where("id IN ?", ids).
			Find(&members).Error
	}

	startTime := utils.Now()
	err := Retry(ctx, "FindMembersWithPhones", operation)
	observer.ObserveDbOperationDuration("find", "member", time.Since(startTime), err)
	if err != nil {
		logger.FromContext(ctx).Error("Failed to load members", zap.Int("count", len(ids)), zap.Error(err))
		return nil, checkConstraintViolation(err)
	}

	return orderByIDs(members, ids), nil
}

func orderByIDs(members []model.Member, ids []uint) []model.Member {
	byID := make(map[uint]model.Member, len(members))
	for _, m := range members {
		byID[m.ID] = m
	}
	ordered := make([]model.Member, 0, len(members))
	for _, id := range ids {
		if m, ok := byID[id]; ok {
			ordered = append(ordered, m)
			delete(byID, id)
		}
	}
	return ordered
}

// FindSubscription loads a subscription by id.
func (r *PostgresRepo) FindSubscription(ctx context.Context, id uint) (*model.Subscription, error) {
	var sub model.Subscription
	operation := func() error {
		return r.db.WithContext(ctx).Where("id = ?", id).Take(&sub).Error
	}
	startTime := utils.Now()
	err := Retry(ctx, "FindSubscription", operation)
	observer.ObserveDbOperationDuration("find", "subscription", time.Since(startTime), ignoreNotFound(err))
	if err != nil {
		return nil, checkConstraintViolation(err)
	}
	return &sub, nil
}

// Unsubscribe marks the member unsubscribed from the subscription, recording reason and time.
func (r *PostgresRepo) Unsubscribe(ctx context.Context, memberID, subscriptionID uint, reason string, at time.Time) error {
	ms := model.MemberSubscription{
		MemberID:          memberID,
		SubscriptionID:    subscriptionID,
		Subscribed:        false,
		UnsubscribedAt:    &at,
		UnsubscribeReason: reason,
		AuditData:         audit.FromContext(ctx, reason).JSON(),
		UpdatedAt:         utils.Now(),
	}

	operation := func() error {
		return r.withTx(ctx, func(tx *gorm.DB) error {
			var sub model.Subscription
			if err := tx.Where("id = ?", subscriptionID).Take(&sub).Error; err != nil {
				return checkConstraintViolation(err)
			}
			return checkConstraintViolation(tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "member_id"}, {Name: "subscription_id"}},
				DoUpdates: clause.AssignmentColumns(model.MemberSubscriptionUnsubscribeColumns()),
			}).Create(&ms).Error)
		})
	}

	startTime := utils.Now()
	err := RetryCommit(ctx, "Unsubscribe", operation)
	observer.ObserveDbOperationDuration("unsubscribe", "member_subscription", time.Since(startTime), err)
	if err != nil {
		logger.FromContext(ctx).Error("Failed to unsubscribe member",
			zap.Uint("member_id", memberID),
			zap.Uint("subscription_id", subscriptionID),
			zap.Error(err))
		return err
	}
	return nil
}
