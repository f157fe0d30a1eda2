package models

import "time"

// Artifact is the single table behind every stored protocol object.
// ModelID is "<kind>-<id>"; UID, GrantID and UserCode are denormalized
// copies of payload fields so secondary lookups hit an index.
type Artifact struct {
	ModelID   string  `gorm:"column:model_id;primaryKey"`
	Kind      string  `gorm:"column:kind;index;not null"`
	Payload   string  `gorm:"column:payload;type:text"` // JSON object
	UID       *string `gorm:"column:uid;index"`
	GrantID   *string `gorm:"column:grant_id;index"`
	UserCode  *string `gorm:"column:user_code;index"`
	ExpiresAt *int64  `gorm:"column:expires_at;index"` // epoch seconds
	Consumed  *int64  `gorm:"column:consumed"`         // epoch seconds
	CreatedAt time.Time
	UpdatedAt time.Time
}
