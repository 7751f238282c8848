package store

import (
	"time"

	"gorm.io/datatypes"
)

// SessionCommit is one replicated record, appended in version order.
type SessionCommit struct {
	ID           uint           `gorm:"primaryKey"`
	Code         string         `gorm:"size:16;not null;uniqueIndex:idx_commits_code_version"`
	Version      int            `gorm:"not null;uniqueIndex:idx_commits_code_version"`
	Owner        string         `gorm:"size:64;not null"`
	SuccessCount int8           `gorm:"not null"`
	StageIndex   int8           `gorm:"not null"`
	VariantIndex int8           `gorm:"not null"`
	Events       datatypes.JSON `gorm:"type:jsonb;not null"`
	CreatedAt    time.Time      `gorm:"not null"`
}

type SessionBan struct {
	ID       uint      `gorm:"primaryKey"`
	Code     string    `gorm:"size:16;not null;uniqueIndex:idx_bans_code_actor"`
	Actor    string    `gorm:"size:64;not null;uniqueIndex:idx_bans_code_actor"`
	BannedAt time.Time `gorm:"not null"`
}
