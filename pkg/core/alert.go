package core

import (
	"time"

	"gorm.io/datatypes"
)

// AlertRule holds per-target alert thresholds keyed by signal name, e.g.
// {"titleChanged": true, "priceDeltaPct": 5}.
type AlertRule struct {
	ID          string `gorm:"primaryKey;size:36"`
	TargetID    string `gorm:"index;size:36;not null"`
	Name        string `gorm:"size:255"`
	Enabled     bool   `gorm:"index"`
	Thresholds  datatypes.JSONMap
	Destination string    `gorm:"size:512"` // transport-specific address, may be empty
	CreatedAt   time.Time `gorm:"autoCreateTime"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime"`
}

// AlertEvent is the write-once record of a fired notification.
type AlertEvent struct {
	ID      string         `gorm:"primaryKey;size:36"`
	RuleID  string         `gorm:"index;size:36;not null"`
	RunID   string         `gorm:"index;size:36;not null"`
	SentAt  time.Time      `gorm:"not null"`
	Subject string         `gorm:"size:512"`
	Preview string         `gorm:"type:text"`
	Fired   datatypes.JSON // names of the thresholds that fired
}
