package spoke

import "time"

// Spoke tables use singular names.

type Organization struct {
	ID   int64  `gorm:"primaryKey"`
	Name string `gorm:"type:text"`
}

func (Organization) TableName() string { return "organization" }

type Campaign struct {
	ID             int64 `gorm:"primaryKey"`
	OrganizationID int64
	Title          string `gorm:"type:text"`
	Description    string `gorm:"type:text"`
	IsStarted      bool
	IsArchived     bool
	CreatedAt      time.Time

	Organization     *Organization     `gorm:"foreignKey:OrganizationID"`
	InteractionSteps []InteractionStep `gorm:"foreignKey:CampaignID"`
}

func (Campaign) TableName() string { return "campaign" }

// Active reports whether the campaign is started and not archived.
func (c Campaign) Active() bool {
	return c.IsStarted && !c.IsArchived
}

type InteractionStep struct {
	ID         int64 `gorm:"primaryKey"`
	CampaignID int64
	Question   string `gorm:"type:text"`
	IsDeleted  bool
}

func (InteractionStep) TableName() string { return "interaction_step" }

type User struct {
	ID        int64  `gorm:"primaryKey"`
	FirstName string `gorm:"type:text"`
	LastName  string `gorm:"type:text"`
	Cell      string `gorm:"type:text"`
	Email     string `gorm:"type:text"`
}

func (User) TableName() string { return "user" }

type Assignment struct {
	ID         int64 `gorm:"primaryKey"`
	CampaignID int64
	UserID     int64

	Campaign *Campaign `gorm:"foreignKey:CampaignID"`
	User     *User     `gorm:"foreignKey:UserID"`
}

func (Assignment) TableName() string { return "assignment" }

// CampaignContact is one person enrolled in one campaign.
type CampaignContact struct {
	ID            int64 `gorm:"primaryKey"`
	CampaignID    int64
	AssignmentID  *int64
	ExternalID    string `gorm:"type:text"`
	FirstName     string `gorm:"type:text"`
	LastName      string `gorm:"type:text"`
	Cell          string `gorm:"type:text"`
	Zip           string `gorm:"type:text"`
	CustomFields  string `gorm:"type:text;default:'{}'"`
	MessageStatus string `gorm:"type:text;default:'needsMessage'"`
	IsOptedOut    bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (CampaignContact) TableName() string { return "campaign_contact" }

const SendStatusError = "ERROR"

type Message struct {
	ID            int64 `gorm:"primaryKey"`
	AssignmentID  int64
	UserNumber    string `gorm:"type:text"`
	ContactNumber string `gorm:"type:text"`
	IsFromContact bool
	Text          string `gorm:"type:text"`
	SendStatus    string `gorm:"type:text"`
	CreatedAt     time.Time

	Assignment *Assignment `gorm:"foreignKey:AssignmentID"`
}

func (Message) TableName() string { return "message" }

type QuestionResponse struct {
	ID                int64 `gorm:"primaryKey"`
	CampaignContactID int64
	InteractionStepID int64
	Value             string `gorm:"type:text"`
	CreatedAt         time.Time

	InteractionStep *InteractionStep `gorm:"foreignKey:InteractionStepID"`
}

func (QuestionResponse) TableName() string { return "question_response" }

type OptOut struct {
	ID             int64 `gorm:"primaryKey"`
	Cell           string `gorm:"type:text"`
	AssignmentID   *int64
	OrganizationID int64
	Reason         string `gorm:"type:text"`
	CreatedAt      time.Time
}

func (OptOut) TableName() string { return "opt_out" }

// CampaignContactRow is the push wire shape of one member.
type CampaignContactRow struct {
	CampaignID   int64  `json:"campaign_id" validate:"required,gt=0"`
	ExternalID   string `json:"external_id" validate:"required"`
	FirstName    string `json:"first_name"`
	LastName     string `json:"last_name"`
	Cell         string `json:"cell" validate:"required,startswith=+,min=4"`
	CustomFields string `json:"custom_fields" validate:"required,json"`
}

// Cursor positions a keyset scan over (created_at, id).
type Cursor struct {
	Since   time.Time
	AfterID int64
}
