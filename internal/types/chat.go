package types

import (
  "time"

  "gorm.io/datatypes"
  "gorm.io/gorm"
  "github.com/google/uuid"
)

// Chat is one conversation owned by exactly one user. Context is free text
// the user attached to steer the model; ModelSettings holds per-chat
// inference options (temperature, num_predict, ...) forwarded verbatim to
// the engine.
type Chat struct {
  gorm.Model

  ID            uuid.UUID         `gorm:"type:uuid;primaryKey" json:"id"`
  UserID        uuid.UUID         `gorm:"index" json:"userID"`
  Title         string            `gorm:"column:title" json:"title"`
  Context       string            `gorm:"column:context" json:"context,omitempty"`
  ModelSettings datatypes.JSON    `gorm:"column:model_settings" json:"modelSettings,omitempty"`
  CreatedAt     time.Time         `gorm:"not null" json:"createdAt"`
  UpdatedAt     time.Time         `gorm:"not null" json:"updatedAt"`
}

func (Chat) TableName() string {
  return "chat"
}
