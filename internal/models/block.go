package models

import "time"

// BlockRelation records that BlockerID does not want live messages from
// BlockedID. It is directional.
type BlockRelation struct {
	BlockerID string    `gorm:"primaryKey;type:text" json:"blocker_id"`
	BlockedID string    `gorm:"primaryKey;type:text" json:"blocked_id"`
	CreatedAt time.Time `json:"created_at"`
}
