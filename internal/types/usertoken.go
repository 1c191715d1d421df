package types

import (
  "time"

  "gorm.io/gorm"
  "github.com/google/uuid"
)

type UserToken struct {
  gorm.Model

  ID            uuid.UUID       `gorm:"type:uuid;primaryKey"`
  UserID        uuid.UUID       `gorm:"index"`
  AccessToken   string          `gorm:"index;column:access_token"`
  RefreshToken  string          `gorm:"index;column:refresh_token"`
  ExpiresAt     time.Time       `gorm:"column:expires_at"`
  CreatedAt     time.Time       `gorm:"not null"`
  UpdatedAt     time.Time       `gorm:"not null"`
}

func (UserToken) TableName() string {
  return "user_token"
}
