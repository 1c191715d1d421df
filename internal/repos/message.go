package repos

import (
    "context"

    "github.com/google/uuid"
    "gorm.io/gorm"

    "github.com/localchat-ai/localchat-backend/internal/logger"
    "github.com/localchat-ai/localchat-backend/internal/types"
)

type MessageRepo interface {
    CreateMessages(ctx context.Context, tx *gorm.DB, msgs []*types.Message) ([]*types.Message, error)
    GetByChatID(ctx context.Context, tx *gorm.DB, chatID uuid.UUID) ([]*types.Message, error)
    // GetRecentMessages returns the newest messages first; callers that need
    // chronological order reverse the slice.
    GetRecentMessages(ctx context.Context, tx *gorm.DB, chatID uuid.UUID, limit int) ([]*types.Message, error)
}

type messageRepo struct {
    db      *gorm.DB
    log     *logger.Logger
}

func NewMessageRepo(db *gorm.DB, baseLog *logger.Logger) MessageRepo {
    return &messageRepo{
        db:     db,
        log:    baseLog.With("repo", "MessageRepo"),
    }
}

func (mr *messageRepo) CreateMessages(ctx context.Context, tx *gorm.DB, msgs []*types.Message) ([]*types.Message, error) {
    if tx == nil {
        tx = mr.db
    }
    if len(msgs) == 0 {
        return msgs, nil
    }
    if err := tx.WithContext(ctx).Create(&msgs).Error; err != nil {
        mr.log.Error("failed to create messages", "error", err)
        return nil, err
    }
    return msgs, nil
}

func (mr *messageRepo) GetByChatID(ctx context.Context, tx *gorm.DB, chatID uuid.UUID) ([]*types.Message, error) {
    if tx == nil {
        tx = mr.db
    }
    var msgs []*types.Message
    if err := tx.WithContext(ctx).
        Where("chat_id = ?", chatID).
        Order("created_at ASC, id ASC").
        Find(&msgs).Error; err != nil {
        mr.log.Error("failed to get messages by chatID", "error", err)
        return nil, err
    }
    return msgs, nil
}

func (mr *messageRepo) GetRecentMessages(ctx context.Context, tx *gorm.DB, chatID uuid.UUID, limit int) ([]*types.Message, error) {
    if tx == nil {
        tx = mr.db
    }
    if limit <= 0 {
        limit = 20
    }
    var msgs []*types.Message
    if err := tx.WithContext(ctx).
        Where("chat_id = ?", chatID).
        Order("created_at DESC, id DESC").
        Limit(limit).
        Find(&msgs).Error; err != nil {
        mr.log.Error("failed to get recent messages", "error", err)
        return nil, err
    }
    return msgs, nil
}
