package types

import (
  "time"

  "gorm.io/gorm"
  "github.com/google/uuid"
)

type User struct {
  gorm.Model
  ID                  uuid.UUID                 `gorm:"type:uuid;primaryKey" json:"id"`

  Email               string                    `gorm:"uniqueIndex;not null;column:email" json:"email"`
  Username            string                    `gorm:"uniqueIndex;not null;column:username" json:"username"`
  Password            string                    `gorm:"not null;column:password" json:"-"`
  AvatarURL           string                    `gorm:"column:avatar_url" json:"avatarURL"`
  LastLoginAt         *time.Time                `gorm:"column:last_login_at" json:"lastLoginAt,omitempty"`

  CreatedAt           time.Time                 `gorm:"not null" json:"createdAt"`
  UpdatedAt           time.Time                 `gorm:"not null" json:"updatedAt"`
}

func (User) TableName() string {
  return "user"
}
