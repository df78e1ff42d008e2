package storage

import (
	"context"
	"time"

	"gitlab.com/timkado/api/spoke-identity-sync/internal/model"
)

// RepoAdapter adapts the PostgresRepo to the Repository interface
type RepoAdapter struct {
	postgres *PostgresRepo
}

// NewRepoAdapter creates a new repository adapter
func NewRepoAdapter(postgres *PostgresRepo) Repository {
	return &RepoAdapter{postgres: postgres}
}

// Get reads a watermark
func (a *RepoAdapter) Get(ctx context.Context, key string, def time.Time) (time.Time, error) {
	return a.postgres.GetWatermark(ctx, key, def)
}

// Set writes a watermark
func (a *RepoAdapter) Set(ctx context.Context, key string, value time.Time) error {
	return a.postgres.SetWatermark(ctx, key, value)
}

func (a *RepoAdapter) ResolveMember(ctx context.Context, in model.MemberInput, authoritative bool) (*model.Member, error) {
	return a.postgres.ResolveMember(ctx, in, authoritative)
}

func (a *RepoAdapter) FindMembersWithPhones(ctx context.Context, ids []uint) ([]model.Member, error) {
	return a.postgres.FindMembersWithPhones(ctx, ids)
}

func (a *RepoAdapter) FindSubscription(ctx context.Context, id uint) (*model.Subscription, error) {
	return a.postgres.FindSubscription(ctx, id)
}

func (a *RepoAdapter) Unsubscribe(ctx context.Context, memberID, subscriptionID uint, reason string, at time.Time) error {
	return a.postgres.Unsubscribe(ctx, memberID, subscriptionID, reason, at)
}

func (a *RepoAdapter) UpsertContactCampaign(ctx context.Context, cc *model.ContactCampaign) error {
	return a.postgres.UpsertContactCampaign(ctx, cc)
}

func (a *RepoAdapter) UpsertContact(ctx context.Context, c *model.Contact) error {
	return a.postgres.UpsertContact(ctx, c)
}

func (a *RepoAdapter) UpsertContactResponseKey(ctx context.Context, k *model.ContactResponseKey) error {
	return a.postgres.UpsertContactResponseKey(ctx, k)
}

func (a *RepoAdapter) CreateContactResponseIfAbsent(ctx context.Context, resp *model.ContactResponse) (bool, error) {
	return a.postgres.CreateContactResponseIfAbsent(ctx, resp)
}

// Ping checks connectivity
func (a *RepoAdapter) Ping(ctx context.Context) error {
	return a.postgres.Ping(ctx)
}

// Close closes the repository
func (a *RepoAdapter) Close(ctx context.Context) error {
	return a.postgres.Close(ctx)
}

// Ensure adapters implement the interfaces
var _ Repository = (*RepoAdapter)(nil)
