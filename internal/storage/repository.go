package storage

import (
	"context"
	"time"

	"gitlab.com/timkado/api/spoke-identity-sync/internal/model"
)

// WatermarkRepo persists one cursor per pull job kind.
type WatermarkRepo interface {
	Get(ctx context.Context, key string, def time.Time) (time.Time, error)
	Set(ctx context.Context, key string, value time.Time) error
}

// MemberRepo resolves canonical members and their subscriptions.
type MemberRepo interface {
	ResolveMember(ctx context.Context, in model.MemberInput, authoritative bool) (*model.Member, error)
	FindMembersWithPhones(ctx context.Context, ids []uint) ([]model.Member, error)
	FindSubscription(ctx context.Context, id uint) (*model.Subscription, error)
	Unsubscribe(ctx context.Context, memberID, subscriptionID uint, reason string, at time.Time) error
}

// ContactRepo upserts contacts, contact campaigns and survey responses.
type ContactRepo interface {
	UpsertContactCampaign(ctx context.Context, cc *model.ContactCampaign) error
	UpsertContact(ctx context.Context, c *model.Contact) error
	UpsertContactResponseKey(ctx context.Context, k *model.ContactResponseKey) error
	CreateContactResponseIfAbsent(ctx context.Context, resp *model.ContactResponse) (bool, error)
}

// Repository is the full canonical store.
type Repository interface {
	WatermarkRepo
	MemberRepo
	ContactRepo
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}
