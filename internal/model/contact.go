package model

import (
	"time"

	"gorm.io/datatypes"
)

const (
	ContactNotesInbound  = "inbound"
	ContactNotesOutbound = "outbound"
)

// ContactCampaign groups contacts made as part of one external campaign.
type ContactCampaign struct {
	ID          uint           `json:"id" gorm:"primaryKey;autoIncrement"`
	ExternalID  string         `json:"external_id" gorm:"type:text;not null;uniqueIndex:idx_contact_campaigns_external,priority:1"`
	System      string         `json:"system" gorm:"type:text;not null;uniqueIndex:idx_contact_campaigns_external,priority:2"`
	Name        string         `json:"name" gorm:"type:text"`
	ContactType string         `json:"contact_type" gorm:"type:text"`
	AuditData   datatypes.JSON `json:"audit_data,omitempty" gorm:"type:jsonb"`
	CreatedAt   time.Time      `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt   time.Time      `json:"updated_at" gorm:"autoUpdateTime"`
}

// TableName specifies the table name for the ContactCampaign model.
func (ContactCampaign) TableName() string {
	return "contact_campaigns"
}

// ContactCampaignUpdateColumns are overwritten on re-sync (last write wins).
func ContactCampaignUpdateColumns() []string {
	return []string{"name", "contact_type", "audit_data", "updated_at"}
}

// Contact is one interaction between two members.
type Contact struct {
	ID                uint           `json:"id" gorm:"primaryKey;autoIncrement"`
	ExternalID        string         `json:"external_id" gorm:"type:text;not null;uniqueIndex:idx_contacts_external,priority:1"`
	System            string         `json:"system" gorm:"type:text;not null;uniqueIndex:idx_contacts_external,priority:2"`
	ContacteeID       uint           `json:"contactee_id" gorm:"not null;index"`
	ContactorID       uint           `json:"contactor_id" gorm:"not null;index"`
	ContactCampaignID uint           `json:"contact_campaign_id" gorm:"index"`
	ContactType       string         `json:"contact_type" gorm:"type:text"`
	HappenedAt        time.Time      `json:"happened_at"`
	Status            string         `json:"status" gorm:"type:text"`
	Notes             string         `json:"notes" gorm:"type:text"` // inbound | outbound
	AuditData         datatypes.JSON `json:"audit_data,omitempty" gorm:"type:jsonb"`
	CreatedAt         time.Time      `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt         time.Time      `json:"updated_at" gorm:"autoUpdateTime"`
}

// TableName specifies the table name for the Contact model.
func (Contact) TableName() string {
	return "contacts"
}

// ContactUpdateColumns are overwritten when the same external message is re-processed.
func ContactUpdateColumns() []string {
	return []string{
		"contactee_id", "contactor_id", "contact_campaign_id", "contact_type",
		"happened_at", "status", "notes", "audit_data", "updated_at",
	}
}

// ContactResponseKey is a survey question scoped to one contact campaign.
type ContactResponseKey struct {
	ID                uint           `json:"id" gorm:"primaryKey;autoIncrement"`
	Key               string         `json:"key" gorm:"type:text;not null;uniqueIndex:idx_contact_response_keys_key,priority:1"`
	ContactCampaignID uint           `json:"contact_campaign_id" gorm:"not null;uniqueIndex:idx_contact_response_keys_key,priority:2"`
	AuditData         datatypes.JSON `json:"audit_data,omitempty" gorm:"type:jsonb"`
	CreatedAt         time.Time      `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt         time.Time      `json:"updated_at" gorm:"autoUpdateTime"`
}

// TableName specifies the table name for the ContactResponseKey model.
func (ContactResponseKey) TableName() string {
	return "contact_response_keys"
}

// ContactResponse is one answer. ContacteeID is copied from the creating
// contact so (contactee, value, key) can carry a unique index.
type ContactResponse struct {
	ID                   uint           `json:"id" gorm:"primaryKey;autoIncrement"`
	ContactID            uint           `json:"contact_id" gorm:"not null;index"`
	ContacteeID          uint           `json:"contactee_id" gorm:"not null;uniqueIndex:idx_contact_responses_answer,priority:1"`
	Value                string         `json:"value" gorm:"type:text;not null;uniqueIndex:idx_contact_responses_answer,priority:2"`
	ContactResponseKeyID uint           `json:"contact_response_key_id" gorm:"not null;uniqueIndex:idx_contact_responses_answer,priority:3"`
	AuditData            datatypes.JSON `json:"audit_data,omitempty" gorm:"type:jsonb"`
	CreatedAt            time.Time      `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt            time.Time      `json:"updated_at" gorm:"autoUpdateTime"`
}

// TableName specifies the table name for the ContactResponse model.
func (ContactResponse) TableName() string {
	return "contact_responses"
}
