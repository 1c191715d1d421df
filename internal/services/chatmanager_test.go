package services

import (
  "context"
  "errors"
  "fmt"
  "testing"
  "time"

  gormsqlite "github.com/glebarez/sqlite"
  "github.com/google/uuid"
  "gorm.io/gorm"

  "github.com/localchat-ai/localchat-backend/internal/errs"
  "github.com/localchat-ai/localchat-backend/internal/logger"
  "github.com/localchat-ai/localchat-backend/internal/repos"
  "github.com/localchat-ai/localchat-backend/internal/types"
)

func openTestDB(t *testing.T) *gorm.DB {
  t.Helper()
  dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
  db, err := gorm.Open(gormsqlite.Open(dsn), &gorm.Config{})
  if err != nil {
    t.Fatalf("open sqlite: %v", err)
  }
  if err := db.AutoMigrate(&types.User{}, &types.UserToken{}, &types.Chat{}, &types.Message{}); err != nil {
    t.Fatalf("automigrate: %v", err)
  }
  return db
}

func newTestChatManager(t *testing.T) (ChatManagerService, *gorm.DB) {
  t.Helper()
  db := openTestDB(t)
  log := logger.NewNop()
  return NewChatManagerService(db, log, repos.NewChatRepo(db, log), repos.NewMessageRepo(db, log)), db
}

func TestResolveOrCreateChat(t *testing.T) {
  cm, _ := newTestChatManager(t)
  ctx := context.Background()
  userID := uuid.New()

  // nil id creates
  chat, created, err := cm.ResolveOrCreateChat(ctx, nil, userID)
  if err != nil {
    t.Fatalf("resolve nil id: %v", err)
  }
  if !created {
    t.Fatal("expected a chat to be created for nil id")
  }
  if chat.Title != DefaultChatTitle {
    t.Fatalf("title = %q, want %q", chat.Title, DefaultChatTitle)
  }

  // known id resolves without creating
  again, created, err := cm.ResolveOrCreateChat(ctx, &chat.ID, userID)
  if err != nil {
    t.Fatalf("resolve known id: %v", err)
  }
  if created {
    t.Fatal("known id must not create a chat")
  }
  if again.ID != chat.ID {
    t.Fatalf("resolved chat %s, want %s", again.ID, chat.ID)
  }

  // unknown id creates a fresh chat
  unknown := uuid.New()
  fresh, created, err := cm.ResolveOrCreateChat(ctx, &unknown, userID)
  if err != nil {
    t.Fatalf("resolve unknown id: %v", err)
  }
  if !created || fresh.ID == unknown {
    t.Fatalf("unknown id must create a fresh chat (created=%v id=%s)", created, fresh.ID)
  }

  // somebody else's chat also creates a fresh one
  stranger := uuid.New()
  foreign, created, err := cm.ResolveOrCreateChat(ctx, &chat.ID, stranger)
  if err != nil {
    t.Fatalf("resolve foreign id: %v", err)
  }
  if !created || foreign.ID == chat.ID {
    t.Fatal("a foreign chat id must not resolve")
  }
}

func TestAppendMessageOwnership(t *testing.T) {
  cm, _ := newTestChatManager(t)
  ctx := context.Background()
  owner := uuid.New()

  chat, err := cm.CreateChat(ctx, owner, "", "")
  if err != nil {
    t.Fatalf("create chat: %v", err)
  }

  if _, err := cm.AppendMessage(ctx, chat.ID, owner, types.RoleUser, "mine"); err != nil {
    t.Fatalf("append as owner: %v", err)
  }
  if _, err := cm.AppendMessage(ctx, chat.ID, uuid.New(), types.RoleUser, "not mine"); !errors.Is(err, errs.ErrNotFound) {
    t.Fatalf("append as stranger = %v, want ErrNotFound", err)
  }

  msgs, err := cm.GetChatMessages(ctx, chat.ID, owner)
  if err != nil {
    t.Fatalf("get messages: %v", err)
  }
  if len(msgs) != 1 {
    t.Fatalf("message count = %d, want 1", len(msgs))
  }
}

func TestAppendMessageBumpsUpdatedAt(t *testing.T) {
  cm, _ := newTestChatManager(t)
  ctx := context.Background()
  userID := uuid.New()

  chat, err := cm.CreateChat(ctx, userID, "", "")
  if err != nil {
    t.Fatalf("create chat: %v", err)
  }
  before := chat.UpdatedAt

  time.Sleep(10 * time.Millisecond)
  if _, err := cm.AppendMessage(ctx, chat.ID, userID, types.RoleUser, "bump"); err != nil {
    t.Fatalf("append: %v", err)
  }

  after, err := cm.GetChat(ctx, chat.ID, userID)
  if err != nil {
    t.Fatalf("get chat: %v", err)
  }
  if !after.UpdatedAt.After(before) {
    t.Fatalf("UpdatedAt not bumped: before %v, after %v", before, after.UpdatedAt)
  }
}

func TestBuildContextOrderAndLimit(t *testing.T) {
  cm, _ := newTestChatManager(t)
  ctx := context.Background()
  userID := uuid.New()

  chat, err := cm.CreateChat(ctx, userID, "", "steering text")
  if err != nil {
    t.Fatalf("create chat: %v", err)
  }

  for i := 0; i < 25; i++ {
    role := types.RoleUser
    if i%2 == 1 {
      role = types.RoleAssistant
    }
    if _, err := cm.AppendMessage(ctx, chat.ID, userID, role, fmt.Sprintf("msg %02d", i)); err != nil {
      t.Fatalf("append %d: %v", i, err)
    }
  }

  pctx, err := cm.BuildContext(ctx, chat.ID, userID, DefaultContextWindow)
  if err != nil {
    t.Fatalf("build context: %v", err)
  }
  if pctx.ChatContext != "steering text" {
    t.Fatalf("chat context = %q", pctx.ChatContext)
  }
  if len(pctx.History) != DefaultContextWindow {
    t.Fatalf("history length = %d, want %d", len(pctx.History), DefaultContextWindow)
  }
  // window holds the newest 20, oldest first
  if pctx.History[0].Content != "msg 05" {
    t.Fatalf("history starts with %q, want %q", pctx.History[0].Content, "msg 05")
  }
  if pctx.History[len(pctx.History)-1].Content != "msg 24" {
    t.Fatalf("history ends with %q, want %q", pctx.History[len(pctx.History)-1].Content, "msg 24")
  }
  for i := 1; i < len(pctx.History); i++ {
    if pctx.History[i-1].Content >= pctx.History[i].Content {
      t.Fatalf("history out of order at %d: %q >= %q", i, pctx.History[i-1].Content, pctx.History[i].Content)
    }
  }
}

func TestGetUserChatsRecencyOrder(t *testing.T) {
  cm, _ := newTestChatManager(t)
  ctx := context.Background()
  userID := uuid.New()

  first, err := cm.CreateChat(ctx, userID, "first", "")
  if err != nil {
    t.Fatalf("create first: %v", err)
  }
  time.Sleep(10 * time.Millisecond)
  if _, err := cm.CreateChat(ctx, userID, "second", ""); err != nil {
    t.Fatalf("create second: %v", err)
  }
  time.Sleep(10 * time.Millisecond)
  if _, err := cm.AppendMessage(ctx, first.ID, userID, types.RoleUser, "wake up"); err != nil {
    t.Fatalf("append: %v", err)
  }

  chats, err := cm.GetUserChats(ctx, userID)
  if err != nil {
    t.Fatalf("get user chats: %v", err)
  }
  if len(chats) != 2 {
    t.Fatalf("chat count = %d, want 2", len(chats))
  }
  if chats[0].Title != "first" {
    t.Fatalf("most recently touched chat = %q, want %q", chats[0].Title, "first")
  }
}

func TestDeleteChat(t *testing.T) {
  cm, db := newTestChatManager(t)
  ctx := context.Background()
  userID := uuid.New()

  chat, err := cm.CreateChat(ctx, userID, "", "")
  if err != nil {
    t.Fatalf("create chat: %v", err)
  }
  if _, err := cm.AppendMessage(ctx, chat.ID, userID, types.RoleUser, "bye"); err != nil {
    t.Fatalf("append: %v", err)
  }

  if err := cm.DeleteChat(ctx, chat.ID, uuid.New()); !errors.Is(err, errs.ErrNotFound) {
    t.Fatalf("delete as stranger = %v, want ErrNotFound", err)
  }
  if err := cm.DeleteChat(ctx, chat.ID, userID); err != nil {
    t.Fatalf("delete as owner: %v", err)
  }
  if _, err := cm.GetChat(ctx, chat.ID, userID); !errors.Is(err, errs.ErrNotFound) {
    t.Fatalf("deleted chat still resolves: %v", err)
  }

  var n int64
  if err := db.Unscoped().Model(&types.Chat{}).Where("id = ?", chat.ID).Count(&n).Error; err != nil {
    t.Fatalf("count: %v", err)
  }
  if n != 0 {
    t.Fatalf("chat row survived unscoped delete")
  }
}
