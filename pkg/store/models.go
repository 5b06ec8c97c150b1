package store

import (
	"time"

	"gorm.io/datatypes"
)

// GORM models used for persistence.
type MessageModel struct {
	ID                string `gorm:"primaryKey"`
	AuthorUserID      string `gorm:"index"`
	AuthorDisplayName string `gorm:"size:50;not null"`
	AuthorAvatarURL   string
	Body              string    `gorm:"type:text;not null"`
	Visible           bool      `gorm:"not null;index"`
	CreatedAt         time.Time `gorm:"not null;index"`
}

// ModerationEventModel is the audit trail row written for every visibility
// change applied by the moderation pipeline.
type ModerationEventModel struct {
	ID        string         `gorm:"primaryKey"`
	MessageID string         `gorm:"not null;index"`
	Action    string         `gorm:"not null"`
	Detail    datatypes.JSON `gorm:"type:jsonb"`
	CreatedAt time.Time      `gorm:"not null"`
}
