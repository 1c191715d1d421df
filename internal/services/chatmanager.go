package services

import (
  "context"
  "errors"
  "fmt"

  "github.com/google/uuid"
  "gorm.io/gorm"

  "github.com/localchat-ai/localchat-backend/internal/errs"
  "github.com/localchat-ai/localchat-backend/internal/logger"
  "github.com/localchat-ai/localchat-backend/internal/repos"
  "github.com/localchat-ai/localchat-backend/internal/types"
)

const DefaultChatTitle = "New Chat"

// DefaultContextWindow is how many recent messages are replayed to the model
// when building a prompt.
const DefaultContextWindow = 20

// PromptContext is everything the inference adapter needs for one turn: the
// chat's stored free text plus the recent history in chronological order.
type PromptContext struct {
  ChatContext string
  History     []ChatTurn
}

type ChatManagerService interface {
  // ResolveOrCreateChat returns the chat for chatID when it exists and is
  // owned by userID; in every other case (nil id, unknown id, foreign owner)
  // it creates and persists a fresh chat. The second return reports whether
  // a chat was created.
  ResolveOrCreateChat(ctx context.Context, chatID *uuid.UUID, userID uuid.UUID) (*types.Chat, bool, error)
  AppendMessage(ctx context.Context, chatID, userID uuid.UUID, role, content string) (*types.Message, error)
  BuildContext(ctx context.Context, chatID, userID uuid.UUID, limit int) (*PromptContext, error)
  GetChat(ctx context.Context, chatID, userID uuid.UUID) (*types.Chat, error)
  GetChatMessages(ctx context.Context, chatID, userID uuid.UUID) ([]*types.Message, error)
  GetUserChats(ctx context.Context, userID uuid.UUID) ([]*types.Chat, error)
  CreateChat(ctx context.Context, userID uuid.UUID, title, chatContext string) (*types.Chat, error)
  DeleteChat(ctx context.Context, chatID, userID uuid.UUID) error
}

type chatManagerService struct {
  db          *gorm.DB
  log         *logger.Logger
  chatRepo    repos.ChatRepo
  messageRepo repos.MessageRepo
}

func NewChatManagerService(db *gorm.DB, log *logger.Logger, chatRepo repos.ChatRepo, messageRepo repos.MessageRepo) ChatManagerService {
  serviceLog := log.With("service", "ChatManagerService")
  return &chatManagerService{
    db:          db,
    log:         serviceLog,
    chatRepo:    chatRepo,
    messageRepo: messageRepo,
  }
}

// getOwnedChat loads a chat and enforces ownership. A chat owned by another
// user is indistinguishable from a missing one.
func (cm *chatManagerService) getOwnedChat(ctx context.Context, tx *gorm.DB, chatID, userID uuid.UUID) (*types.Chat, error) {
  chat, err := cm.chatRepo.GetChatByID(ctx, tx, chatID)
  if err != nil {
    if errors.Is(err, gorm.ErrRecordNotFound) {
      return nil, fmt.Errorf("%w: chat %s", errs.ErrNotFound, chatID)
    }
    return nil, fmt.Errorf("%w: %v", errs.ErrPersistence, err)
  }
  if chat.UserID != userID {
    return nil, fmt.Errorf("%w: chat %s", errs.ErrNotFound, chatID)
  }
  return chat, nil
}

func (cm *chatManagerService) ResolveOrCreateChat(ctx context.Context, chatID *uuid.UUID, userID uuid.UUID) (*types.Chat, bool, error) {
  if chatID != nil && *chatID != uuid.Nil {
    chat, err := cm.getOwnedChat(ctx, nil, *chatID, userID)
    if err == nil {
      return chat, false, nil
    }
    if !errors.Is(err, errs.ErrNotFound) {
      return nil, false, err
    }
    cm.log.Debug("chat id did not resolve for user, creating a new chat", "chatID", *chatID, "userID", userID)
  }
  chat := &types.Chat{
    ID:     uuid.New(),
    UserID: userID,
    Title:  DefaultChatTitle,
  }
  created, err := cm.chatRepo.CreateChat(ctx, nil, chat)
  if err != nil {
    return nil, false, fmt.Errorf("%w: %v", errs.ErrPersistence, err)
  }
  return created, true, nil
}

func (cm *chatManagerService) AppendMessage(ctx context.Context, chatID, userID uuid.UUID, role, content string) (*types.Message, error) {
  var msg *types.Message
  err := cm.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
    if _, err := cm.getOwnedChat(ctx, tx, chatID, userID); err != nil {
      return err
    }
    m := &types.Message{
      ChatID:  chatID,
      Role:    role,
      Content: content,
    }
    if _, err := cm.messageRepo.CreateMessages(ctx, tx, []*types.Message{m}); err != nil {
      return fmt.Errorf("%w: %v", errs.ErrPersistence, err)
    }
    if err := cm.chatRepo.TouchUpdatedAt(ctx, tx, chatID); err != nil {
      return fmt.Errorf("%w: %v", errs.ErrPersistence, err)
    }
    msg = m
    return nil
  })
  if err != nil {
    return nil, err
  }
  return msg, nil
}

func (cm *chatManagerService) BuildContext(ctx context.Context, chatID, userID uuid.UUID, limit int) (*PromptContext, error) {
  chat, err := cm.getOwnedChat(ctx, nil, chatID, userID)
  if err != nil {
    return nil, err
  }
  if limit <= 0 {
    limit = DefaultContextWindow
  }
  recentDesc, err := cm.messageRepo.GetRecentMessages(ctx, nil, chatID, limit)
  if err != nil {
    return nil, fmt.Errorf("%w: %v", errs.ErrPersistence, err)
  }
  // reverse to chronological order (oldest -> newest)
  history := make([]ChatTurn, 0, len(recentDesc))
  for i := len(recentDesc) - 1; i >= 0; i-- {
    m := recentDesc[i]
    history = append(history, ChatTurn{Role: m.Role, Content: m.Content})
  }
  return &PromptContext{
    ChatContext: chat.Context,
    History:     history,
  }, nil
}

func (cm *chatManagerService) GetChat(ctx context.Context, chatID, userID uuid.UUID) (*types.Chat, error) {
  return cm.getOwnedChat(ctx, nil, chatID, userID)
}

func (cm *chatManagerService) GetChatMessages(ctx context.Context, chatID, userID uuid.UUID) ([]*types.Message, error) {
  if _, err := cm.getOwnedChat(ctx, nil, chatID, userID); err != nil {
    return nil, err
  }
  msgs, err := cm.messageRepo.GetByChatID(ctx, nil, chatID)
  if err != nil {
    return nil, fmt.Errorf("%w: %v", errs.ErrPersistence, err)
  }
  return msgs, nil
}

func (cm *chatManagerService) GetUserChats(ctx context.Context, userID uuid.UUID) ([]*types.Chat, error) {
  chats, err := cm.chatRepo.GetUserChats(ctx, nil, userID)
  if err != nil {
    return nil, fmt.Errorf("%w: %v", errs.ErrPersistence, err)
  }
  return chats, nil
}

func (cm *chatManagerService) CreateChat(ctx context.Context, userID uuid.UUID, title, chatContext string) (*types.Chat, error) {
  if title == "" {
    title = DefaultChatTitle
  }
  chat := &types.Chat{
    ID:      uuid.New(),
    UserID:  userID,
    Title:   title,
    Context: chatContext,
  }
  created, err := cm.chatRepo.CreateChat(ctx, nil, chat)
  if err != nil {
    return nil, fmt.Errorf("%w: %v", errs.ErrPersistence, err)
  }
  return created, nil
}

func (cm *chatManagerService) DeleteChat(ctx context.Context, chatID, userID uuid.UUID) error {
  return cm.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
    if _, err := cm.getOwnedChat(ctx, tx, chatID, userID); err != nil {
      return err
    }
    if err := cm.chatRepo.DeleteChatByID(ctx, tx, chatID); err != nil {
      return fmt.Errorf("%w: %v", errs.ErrPersistence, err)
    }
    return nil
  })
}
