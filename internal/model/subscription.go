package model

import (
	"time"

	"gorm.io/datatypes"
)

// Subscription is a communication channel members can be subscribed to (e.g. SMS).
type Subscription struct {
	ID        uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	Name      string    `json:"name" gorm:"type:text;not null"`
	Slug      string    `json:"slug" gorm:"type:text;uniqueIndex"`
	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

// TableName specifies the table name for the Subscription model.
func (Subscription) TableName() string {
	return "subscriptions"
}

// MemberSubscription records whether a member is subscribed to a channel.
type MemberSubscription struct {
	ID                uint           `json:"id" gorm:"primaryKey;autoIncrement"`
	MemberID          uint           `json:"member_id" gorm:"not null;uniqueIndex:idx_member_subscriptions_pair,priority:1"`
	SubscriptionID    uint           `json:"subscription_id" gorm:"not null;uniqueIndex:idx_member_subscriptions_pair,priority:2"`
	Subscribed        bool           `json:"subscribed" gorm:"not null"`
	UnsubscribedAt    *time.Time     `json:"unsubscribed_at,omitempty"`
	UnsubscribeReason string         `json:"unsubscribe_reason,omitempty" gorm:"type:text"` // source tag, e.g. spoke:opt_out
	AuditData         datatypes.JSON `json:"audit_data,omitempty" gorm:"type:jsonb"`
	CreatedAt         time.Time      `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt         time.Time      `json:"updated_at" gorm:"autoUpdateTime"`
}

// TableName specifies the table name for the MemberSubscription model.
func (MemberSubscription) TableName() string {
	return "member_subscriptions"
}

// MemberSubscriptionUnsubscribeColumns are written by an unsubscribe.
func MemberSubscriptionUnsubscribeColumns() []string {
	return []string{"subscribed", "unsubscribed_at", "unsubscribe_reason", "audit_data", "updated_at"}
}
