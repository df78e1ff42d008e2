package model

import (
	"encoding/json"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"gorm.io/datatypes"

	"gitlab.com/timkado/api/spoke-identity-sync/pkg/utils"
)

// RandomAuditData generates an audit_data payload for testing.
func RandomAuditData() datatypes.JSON {
	bytes, _ := json.Marshal(map[string]interface{}{
		"sync_id": gofakeit.UUID(),
	})
	return datatypes.JSON(bytes)
}

// init ensures gofakeit is seeded.
func init() {
	gofakeit.Seed(time.Now().UnixNano())
}

// RandomMobile returns an Australian style mobile number without the leading '+'.
func RandomMobile() string {
	return "614" + gofakeit.Numerify("########")
}

// NewMember creates a new Member instance with default fake data.
func NewMember(overrideDefaults ...*Member) *Member {
	base := &Member{
		FirstName: gofakeit.FirstName(),
		LastName:  gofakeit.LastName(),
		AuditData: RandomAuditData(),
		CreatedAt: utils.Now().Add(-time.Duration(gofakeit.Number(1, 365)) * 24 * time.Hour),
		UpdatedAt: utils.Now(),
	}

	if len(overrideDefaults) > 0 && overrideDefaults[0] != nil {
		ovr := overrideDefaults[0]
		base.ID = ovr.ID
		base.ExternalID = ovr.ExternalID
		if ovr.FirstName != "" {
			base.FirstName = ovr.FirstName
		}
		if ovr.LastName != "" {
			base.LastName = ovr.LastName
		}
		if ovr.PhoneNumbers != nil {
			base.PhoneNumbers = ovr.PhoneNumbers
		}
		if ovr.CustomFields != nil {
			base.CustomFields = ovr.CustomFields
		}
		if !ovr.CreatedAt.IsZero() {
			base.CreatedAt = ovr.CreatedAt
		}
		if !ovr.UpdatedAt.IsZero() {
			base.UpdatedAt = ovr.UpdatedAt
		}
	}
	return base
}

// NewPhoneNumber creates a new PhoneNumber instance with default fake data.
func NewPhoneNumber(overrideDefaults ...*PhoneNumber) *PhoneNumber {
	base := &PhoneNumber{
		Phone:     RandomMobile(),
		PhoneType: PhoneTypeMobile,
		CreatedAt: utils.Now().Add(-time.Duration(gofakeit.Number(1, 100)) * time.Hour),
		UpdatedAt: utils.Now(),
	}

	if len(overrideDefaults) > 0 && overrideDefaults[0] != nil {
		ovr := overrideDefaults[0]
		base.ID = ovr.ID
		base.MemberID = ovr.MemberID
		if ovr.Phone != "" {
			base.Phone = ovr.Phone
		}
		if ovr.PhoneType != "" {
			base.PhoneType = ovr.PhoneType
		}
		if !ovr.UpdatedAt.IsZero() {
			base.UpdatedAt = ovr.UpdatedAt
		}
	}
	return base
}

// NewContactCampaign creates a new ContactCampaign instance with default fake data.
func NewContactCampaign(overrideDefaults ...*ContactCampaign) *ContactCampaign {
	base := &ContactCampaign{
		ExternalID:  gofakeit.Numerify("####"),
		System:      "spoke",
		Name:        gofakeit.BuzzWord() + " " + gofakeit.Noun(),
		ContactType: "sms",
		AuditData:   RandomAuditData(),
	}

	if len(overrideDefaults) > 0 && overrideDefaults[0] != nil {
		ovr := overrideDefaults[0]
		base.ID = ovr.ID
		if ovr.ExternalID != "" {
			base.ExternalID = ovr.ExternalID
		}
		if ovr.System != "" {
			base.System = ovr.System
		}
		if ovr.Name != "" {
			base.Name = ovr.Name
		}
		if ovr.ContactType != "" {
			base.ContactType = ovr.ContactType
		}
	}
	return base
}

// NewContact creates a new Contact instance with default fake data.
func NewContact(overrideDefaults ...*Contact) *Contact {
	base := &Contact{
		ExternalID:  gofakeit.Numerify("######"),
		System:      "spoke",
		ContactType: "sms",
		HappenedAt:  utils.Now().Add(-time.Duration(gofakeit.Number(1, 100)) * time.Minute),
		Status:      gofakeit.RandomString([]string{"DELIVERED", "SENT", "QUEUED"}),
		Notes:       gofakeit.RandomString([]string{ContactNotesInbound, ContactNotesOutbound}),
		AuditData:   RandomAuditData(),
	}

	if len(overrideDefaults) > 0 && overrideDefaults[0] != nil {
		ovr := overrideDefaults[0]
		base.ID = ovr.ID
		base.ContacteeID = ovr.ContacteeID
		base.ContactorID = ovr.ContactorID
		base.ContactCampaignID = ovr.ContactCampaignID
		if ovr.ExternalID != "" {
			base.ExternalID = ovr.ExternalID
		}
		if ovr.System != "" {
			base.System = ovr.System
		}
		if ovr.Status != "" {
			base.Status = ovr.Status
		}
		if ovr.Notes != "" {
			base.Notes = ovr.Notes
		}
		if !ovr.HappenedAt.IsZero() {
			base.HappenedAt = ovr.HappenedAt
		}
	}
	return base
}
