package model

import (
	"sort"
	"time"

	"gorm.io/datatypes"
)

const (
	PhoneTypeMobile   = "mobile"
	PhoneTypeLandline = "landline"
)

// Member is a canonical person. Members are never deleted by the sync.
type Member struct {
	ID         uint           `json:"id" gorm:"primaryKey;autoIncrement"`
	FirstName  string         `json:"first_name,omitempty" gorm:"type:text"`
	LastName   string         `json:"last_name,omitempty" gorm:"type:text"`
	ExternalID *string        `json:"external_id,omitempty" gorm:"type:text;uniqueIndex:idx_members_external_id"` // authoritative id supplied by an upstream system
	AuditData  datatypes.JSON `json:"audit_data,omitempty" gorm:"type:jsonb"`
	CreatedAt  time.Time      `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt  time.Time      `json:"updated_at" gorm:"autoUpdateTime"`

	PhoneNumbers []PhoneNumber `json:"phone_numbers,omitempty" gorm:"foreignKey:MemberID"`
	CustomFields []CustomField `json:"custom_fields,omitempty" gorm:"foreignKey:MemberID"`
}

// TableName specifies the table name for the Member model.
func (Member) TableName() string {
	return "members"
}

// LatestPhone returns the most recently updated phone number of the given type.
func (m Member) LatestPhone(phoneType string) (string, bool) {
	var (
		latest PhoneNumber
		found  bool
	)
	for _, p := range m.PhoneNumbers {
		if p.PhoneType != phoneType {
			continue
		}
		if !found || p.UpdatedAt.After(latest.UpdatedAt) || (p.UpdatedAt.Equal(latest.UpdatedAt) && p.ID > latest.ID) {
			latest = p
			found = true
		}
	}
	return latest.Phone, found
}

// CustomFieldMap flattens custom fields into key -> value.
func (m Member) CustomFieldMap() map[string]string {
	out := make(map[string]string, len(m.CustomFields))
	fields := append([]CustomField(nil), m.CustomFields...)
	sort.SliceStable(fields, func(i, j int) bool { return fields[i].UpdatedAt.Before(fields[j].UpdatedAt) })
	for _, f := range fields {
		out[f.Key] = f.Value
	}
	return out
}

// PhoneNumber belongs to one member; UpdatedAt is bumped every time the number is re-observed.
type PhoneNumber struct {
	ID        uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	MemberID  uint      `json:"member_id" gorm:"not null;uniqueIndex:idx_phone_numbers_member_phone,priority:1"`
	Phone     string    `json:"phone" gorm:"type:text;not null;index;uniqueIndex:idx_phone_numbers_member_phone,priority:2"`
	PhoneType string    `json:"phone_type" gorm:"type:text;not null;default:mobile"`
	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName specifies the table name for the PhoneNumber model.
func (PhoneNumber) TableName() string {
	return "phone_numbers"
}

// PhoneNumberUpdateColumns are refreshed when a known number is seen again.
func PhoneNumberUpdateColumns() []string {
	return []string{"phone_type", "updated_at"}
}

// CustomField is a free-form member attribute.
type CustomField struct {
	ID        uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	MemberID  uint      `json:"member_id" gorm:"not null;uniqueIndex:idx_custom_fields_member_key,priority:1"`
	Key       string    `json:"key" gorm:"type:text;not null;uniqueIndex:idx_custom_fields_member_key,priority:2"`
	Value     string    `json:"value" gorm:"type:text"`
	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

// TableName specifies the table name for the CustomField model.
func (CustomField) TableName() string {
	return "custom_fields"
}

// MemberPhoneInput is one phone observation fed to member resolution.
type MemberPhoneInput struct {
	Phone string `json:"phone" validate:"required"`
}

// MemberInput is what a handler knows about a person when resolving a Member.
type MemberInput struct {
	Phones     []MemberPhoneInput `json:"phones" validate:"required,min=1,dive"`
	FirstName  string             `json:"firstname,omitempty"`
	LastName   string             `json:"lastname,omitempty"`
	ExternalID string             `json:"member_id,omitempty"`
	EntryPoint string             `json:"-"` // recorded in audit_data, e.g. spoke:handle_new_message
}
