package identity

import (
	"strings"
	"time"
)

const maxDisplayNameLength = 320

// Identity is a provisioned participant. UserID is the subject of every token
// issued to the participant and the createdBy stamp on the elements it draws.
type Identity struct {
	UserID      string    `gorm:"column:user_id;primaryKey;size:190;not null"`
	DisplayName string    `gorm:"column:display_name;size:320"`
	LastSeenAt  time.Time `gorm:"column:last_seen_at"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TableName exposes the table backing participant identities.
func (Identity) TableName() string {
	return "participant_identities"
}

func normalize(value string) string {
	return strings.TrimSpace(value)
}
