package model

import "time"

// Watermark is the persisted cursor of one pull job.
type Watermark struct {
	Key       string    `json:"key" gorm:"primaryKey;type:text"`
	Value     time.Time `json:"value" gorm:"not null"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName specifies the table name for the Watermark model.
func (Watermark) TableName() string {
	return "sync_watermarks"
}
