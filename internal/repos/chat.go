package repos

import (
    "context"
    "time"

    "github.com/google/uuid"
    "gorm.io/gorm"

    "github.com/localchat-ai/localchat-backend/internal/logger"
    "github.com/localchat-ai/localchat-backend/internal/types"
)

type ChatRepo interface {
    CreateChat(ctx context.Context, tx *gorm.DB, chat *types.Chat) (*types.Chat, error)
    GetChatByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Chat, error)
    GetUserChats(ctx context.Context, tx *gorm.DB, userID uuid.UUID) ([]*types.Chat, error)
    TouchUpdatedAt(ctx context.Context, tx *gorm.DB, id uuid.UUID) error
    DeleteChatByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) error
}

type chatRepo struct {
    db      *gorm.DB
    log     *logger.Logger
}

func NewChatRepo(db *gorm.DB, baseLog *logger.Logger) ChatRepo {
    return &chatRepo{
        db: db,
        log: baseLog.With("repo", "ChatRepo"),
    }
}

func (cr *chatRepo) CreateChat(ctx context.Context, tx *gorm.DB, chat *types.Chat) (*types.Chat, error) {
    if tx == nil {
        tx = cr.db
    }
    if chat.ID == uuid.Nil {
        chat.ID = uuid.New()
    }
    if err := tx.WithContext(ctx).Create(chat).Error; err != nil {
        cr.log.Error("failed to create chat", "error", err)
        return nil, err
    }
    return chat, nil
}

func (cr *chatRepo) GetChatByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Chat, error) {
    if tx == nil {
        tx = cr.db
    }
    var c types.Chat
    if err := tx.WithContext(ctx).
        Where("id = ?", id).
        First(&c).Error; err != nil {
        return nil, err
    }
    return &c, nil
}

func (cr *chatRepo) GetUserChats(ctx context.Context, tx *gorm.DB, userID uuid.UUID) ([]*types.Chat, error) {
    if tx == nil {
        tx = cr.db
    }
    var chats []*types.Chat
    if err := tx.WithContext(ctx).
        Where("user_id = ?", userID).
        Order("updated_at DESC").
        Find(&chats).Error; err != nil {
        return nil, err
    }
    return chats, nil
}

func (cr *chatRepo) TouchUpdatedAt(ctx context.Context, tx *gorm.DB, id uuid.UUID) error {
    if tx == nil {
        tx = cr.db
    }
    return tx.WithContext(ctx).
        Model(&types.Chat{}).
        Where("id = ?", id).
        Update("updated_at", time.Now()).Error
}

func (cr *chatRepo) DeleteChatByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) error {
    if tx == nil {
        tx = cr.db
    }
    if err := tx.WithContext(ctx).
        Unscoped().
        Where("id = ?", id).
        Delete(&types.Chat{}).Error; err != nil {
        cr.log.Error("failed to delete chat", "error", err, "chatID", id)
        return err
    }
    return nil
}
