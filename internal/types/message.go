package types

import (
  "time"

  "github.com/google/uuid"
)

const (
  RoleUser      = "user"
  RoleAssistant = "assistant"
  RoleSystem    = "system"
)

// Message rows are immutable once persisted. The auto-incremented ID gives a
// total insertion order within a chat, which breaks created-at ties when the
// recent history is replayed as model context.
type Message struct {
  ID          uint64          `gorm:"primaryKey;autoIncrement" json:"id"`
  ChatID      uuid.UUID       `gorm:"index;not null" json:"chatID"`
  Role        string          `gorm:"column:role;not null" json:"role"`
  Content     string          `gorm:"column:content;type:text;not null" json:"content"`
  CreatedAt   time.Time       `gorm:"not null" json:"createdAt"`
}

func (Message) TableName() string {
  return "message"
}
