package relay

import (
  "context"
  "errors"
  "fmt"
  "sync"
  "testing"
  "time"

  gormsqlite "github.com/glebarez/sqlite"
  "github.com/google/uuid"
  "gorm.io/gorm"

  "github.com/localchat-ai/localchat-backend/internal/errs"
  "github.com/localchat-ai/localchat-backend/internal/logger"
  "github.com/localchat-ai/localchat-backend/internal/repos"
  "github.com/localchat-ai/localchat-backend/internal/services"
  "github.com/localchat-ai/localchat-backend/internal/types"
)

func openTestDB(t *testing.T) *gorm.DB {
  t.Helper()
  dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
  db, err := gorm.Open(gormsqlite.Open(dsn), &gorm.Config{})
  if err != nil {
    t.Fatalf("open sqlite: %v", err)
  }
  if err := db.AutoMigrate(&types.Chat{}, &types.Message{}); err != nil {
    t.Fatalf("automigrate: %v", err)
  }
  return db
}

func newTestChatManager(t *testing.T) (services.ChatManagerService, *gorm.DB) {
  t.Helper()
  db := openTestDB(t)
  log := logger.NewNop()
  return services.NewChatManagerService(db, log, repos.NewChatRepo(db, log), repos.NewMessageRepo(db, log)), db
}

// fakeInference replays a scripted set of fragments, optionally failing
// afterwards. release, when set, holds the stream open until signalled.
type fakeInference struct {
  mu        sync.Mutex
  fragments []string
  err       error
  release   chan struct{}
  lastTurns []services.ChatTurn
}

func (f *fakeInference) Stream(ctx context.Context, turns []services.ChatTurn, options map[string]interface{}) (<-chan string, <-chan error) {
  f.mu.Lock()
  f.lastTurns = append([]services.ChatTurn(nil), turns...)
  f.mu.Unlock()

  out := make(chan string, len(f.fragments))
  errCh := make(chan error, 1)
  go func() {
    defer close(out)
    defer close(errCh)
    for _, frag := range f.fragments {
      select {
      case out <- frag:
      case <-ctx.Done():
        return
      }
    }
    if f.release != nil {
      select {
      case <-f.release:
      case <-ctx.Done():
        return
      }
    }
    if f.err != nil {
      errCh <- f.err
    }
  }()
  return out, errCh
}

type emittedEvent struct {
  Event string
  Data  map[string]interface{}
}

type recordingEmitter struct {
  mu     sync.Mutex
  events []emittedEvent
}

func (r *recordingEmitter) Emit(event string, data interface{}) {
  r.mu.Lock()
  defer r.mu.Unlock()
  m, _ := data.(map[string]interface{})
  r.events = append(r.events, emittedEvent{Event: event, Data: m})
}

func (r *recordingEmitter) names() []string {
  r.mu.Lock()
  defer r.mu.Unlock()
  names := make([]string, 0, len(r.events))
  for _, ev := range r.events {
    names = append(names, ev.Event)
  }
  return names
}

func (r *recordingEmitter) waitFor(t *testing.T, event string) {
  t.Helper()
  deadline := time.Now().Add(2 * time.Second)
  for {
    for _, name := range r.names() {
      if name == event {
        return
      }
    }
    if time.Now().After(deadline) {
      t.Fatalf("timed out waiting for event %q, saw %v", event, r.names())
    }
    time.Sleep(2 * time.Millisecond)
  }
}

func countMessages(t *testing.T, db *gorm.DB, role string) int64 {
  t.Helper()
  var n int64
  if err := db.Model(&types.Message{}).Where("role = ?", role).Count(&n).Error; err != nil {
    t.Fatalf("count messages: %v", err)
  }
  return n
}

func TestHandlePromptFreshConnection(t *testing.T) {
  chats, db := newTestChatManager(t)
  fake := &fakeInference{fragments: []string{"Hi ", "there", "!"}}
  orch := NewOrchestrator(logger.NewNop(), chats, fake, 5*time.Millisecond, "")

  sess := NewSession(services.Identity{UserID: uuid.New()})
  rec := &recordingEmitter{}

  err := orch.HandlePrompt(context.Background(), sess, rec, PromptRequest{Content: "Hello"})
  if err != nil {
    t.Fatalf("HandlePrompt: %v", err)
  }

  names := rec.names()
  if len(names) < 5 {
    t.Fatalf("too few events: %v", names)
  }
  if names[0] != EventChatCreated {
    t.Fatalf("first event = %q, want %q (events %v)", names[0], EventChatCreated, names)
  }
  if names[1] != EventTypingStart {
    t.Fatalf("second event = %q, want %q", names[1], EventTypingStart)
  }
  sawChunk := false
  for _, n := range names {
    if n == EventResponseChunk {
      sawChunk = true
    }
    if n == EventResponseError {
      t.Fatalf("unexpected error event in %v", names)
    }
  }
  if !sawChunk {
    t.Fatalf("no chunk events in %v", names)
  }
  if names[len(names)-2] != EventResponseEnd || names[len(names)-1] != EventResponseComplete {
    t.Fatalf("stream did not finish with end+complete: %v", names)
  }

  if n := countMessages(t, db, types.RoleUser); n != 1 {
    t.Fatalf("persisted user messages = %d, want 1", n)
  }
  if n := countMessages(t, db, types.RoleAssistant); n != 1 {
    t.Fatalf("persisted assistant messages = %d, want 1", n)
  }
  var assistant types.Message
  if err := db.Where("role = ?", types.RoleAssistant).First(&assistant).Error; err != nil {
    t.Fatalf("load assistant message: %v", err)
  }
  if assistant.Content != "Hi there!" {
    t.Fatalf("assistant content = %q", assistant.Content)
  }

  // complete must reference the created chat
  var complete emittedEvent
  rec.mu.Lock()
  for _, ev := range rec.events {
    if ev.Event == EventResponseComplete {
      complete = ev
    }
  }
  rec.mu.Unlock()
  if complete.Data["chatId"] != assistant.ChatID {
    t.Fatalf("complete chatId = %v, want %v", complete.Data["chatId"], assistant.ChatID)
  }
}

func TestHandlePromptMidStreamError(t *testing.T) {
  chats, db := newTestChatManager(t)
  fake := &fakeInference{
    fragments: []string{"He", "llo"},
    err:       fmt.Errorf("%w: engine fell over", errs.ErrInference),
  }
  orch := NewOrchestrator(logger.NewNop(), chats, fake, 5*time.Millisecond, "")

  sess := NewSession(services.Identity{UserID: uuid.New()})
  rec := &recordingEmitter{}

  err := orch.HandlePrompt(context.Background(), sess, rec, PromptRequest{Content: "Hello"})
  if !errors.Is(err, errs.ErrInference) {
    t.Fatalf("HandlePrompt error = %v, want ErrInference", err)
  }

  names := rec.names()
  var endIdx, errIdx = -1, -1
  for i, n := range names {
    switch n {
    case EventTypingEnd:
      endIdx = i
    case EventResponseError:
      errIdx = i
    case EventResponseEnd, EventResponseComplete:
      t.Fatalf("completion event after stream error: %v", names)
    }
  }
  if endIdx == -1 || errIdx == -1 || errIdx < endIdx {
    t.Fatalf("expected typing-end then response-error, got %v", names)
  }

  if n := countMessages(t, db, types.RoleUser); n != 1 {
    t.Fatalf("persisted user messages = %d, want 1", n)
  }
  if n := countMessages(t, db, types.RoleAssistant); n != 0 {
    t.Fatalf("persisted assistant messages = %d, want 0", n)
  }
  if sess.State() != StateIdle {
    t.Fatalf("session state after error = %v, want idle", sess.State())
  }
}

func TestHandlePromptDisconnectMidStream(t *testing.T) {
  chats, db := newTestChatManager(t)
  release := make(chan struct{})
  fake := &fakeInference{fragments: []string{"partial "}, release: release}
  orch := NewOrchestrator(logger.NewNop(), chats, fake, 5*time.Millisecond, "")

  sess := NewSession(services.Identity{UserID: uuid.New()})
  rec := &recordingEmitter{}

  ctx, cancel := context.WithCancel(context.Background())
  done := make(chan error, 1)
  go func() {
    done <- orch.HandlePrompt(ctx, sess, rec, PromptRequest{Content: "Hello"})
  }()
  rec.waitFor(t, EventTypingStart)
  cancel()

  if err := <-done; !errors.Is(err, context.Canceled) {
    t.Fatalf("HandlePrompt error = %v, want context.Canceled", err)
  }
  for _, n := range rec.names() {
    switch n {
    case EventTypingEnd, EventResponseError, EventResponseEnd, EventResponseComplete:
      t.Fatalf("event %q emitted after disconnect: %v", n, rec.names())
    }
  }

  if n := countMessages(t, db, types.RoleUser); n != 1 {
    t.Fatalf("persisted user messages = %d, want 1", n)
  }
  if n := countMessages(t, db, types.RoleAssistant); n != 0 {
    t.Fatalf("persisted assistant messages = %d, want 0", n)
  }
  if sess.State() != StateIdle {
    t.Fatalf("session state after disconnect = %v, want idle", sess.State())
  }
  close(release)
}

func TestHandlePromptRejectsConcurrent(t *testing.T) {
  chats, _ := newTestChatManager(t)
  release := make(chan struct{})
  fake := &fakeInference{fragments: []string{"thinking"}, release: release}
  orch := NewOrchestrator(logger.NewNop(), chats, fake, 5*time.Millisecond, "")

  sess := NewSession(services.Identity{UserID: uuid.New()})
  first := &recordingEmitter{}

  done := make(chan error, 1)
  go func() {
    done <- orch.HandlePrompt(context.Background(), sess, first, PromptRequest{Content: "first"})
  }()
  first.waitFor(t, EventTypingStart)

  second := &recordingEmitter{}
  err := orch.HandlePrompt(context.Background(), sess, second, PromptRequest{Content: "second"})
  if !errors.Is(err, errs.ErrBusy) {
    t.Fatalf("concurrent prompt error = %v, want ErrBusy", err)
  }
  second.waitFor(t, EventResponseError)
  second.mu.Lock()
  msg, _ := second.events[0].Data["message"].(string)
  second.mu.Unlock()
  if msg != errs.ErrBusy.Error() {
    t.Fatalf("busy message = %q", msg)
  }

  close(release)
  if err := <-done; err != nil {
    t.Fatalf("first prompt failed: %v", err)
  }
}

func TestHandlePromptSequential(t *testing.T) {
  chats, db := newTestChatManager(t)
  fake := &fakeInference{fragments: []string{"answer"}}
  orch := NewOrchestrator(logger.NewNop(), chats, fake, 5*time.Millisecond, "preamble text")

  userID := uuid.New()
  sess := NewSession(services.Identity{UserID: userID})

  chat, err := chats.CreateChat(context.Background(), userID, "", "")
  if err != nil {
    t.Fatalf("create chat: %v", err)
  }

  for i := 0; i < 2; i++ {
    rec := &recordingEmitter{}
    req := PromptRequest{Content: fmt.Sprintf("prompt %d", i), ChatID: &chat.ID}
    if err := orch.HandlePrompt(context.Background(), sess, rec, req); err != nil {
      t.Fatalf("prompt %d: %v", i, err)
    }
    for _, n := range rec.names() {
      if n == EventChatCreated {
        t.Fatalf("prompt %d recreated the chat", i)
      }
    }
  }

  if n := countMessages(t, db, types.RoleUser); n != 2 {
    t.Fatalf("persisted user messages = %d, want 2", n)
  }
  if n := countMessages(t, db, types.RoleAssistant); n != 2 {
    t.Fatalf("persisted assistant messages = %d, want 2", n)
  }

  // The second prompt must have seen the preamble, the first exchange, and
  // its own content last.
  fake.mu.Lock()
  turns := fake.lastTurns
  fake.mu.Unlock()
  if len(turns) < 4 {
    t.Fatalf("second prompt saw %d turns: %v", len(turns), turns)
  }
  if turns[0].Role != types.RoleSystem || turns[0].Content != "preamble text" {
    t.Fatalf("first turn = %+v, want system preamble", turns[0])
  }
  last := turns[len(turns)-1]
  if last.Role != types.RoleUser || last.Content != "prompt 1" {
    t.Fatalf("last turn = %+v", last)
  }
}

func TestHandlePromptEmptyContent(t *testing.T) {
  chats, db := newTestChatManager(t)
  fake := &fakeInference{}
  orch := NewOrchestrator(logger.NewNop(), chats, fake, 5*time.Millisecond, "")

  sess := NewSession(services.Identity{UserID: uuid.New()})
  rec := &recordingEmitter{}

  if err := orch.HandlePrompt(context.Background(), sess, rec, PromptRequest{Content: "   "}); err != nil {
    t.Fatalf("HandlePrompt: %v", err)
  }
  names := rec.names()
  if len(names) != 1 || names[0] != EventResponseError {
    t.Fatalf("events = %v, want a single response-error", names)
  }
  var n int64
  if err := db.Model(&types.Message{}).Count(&n).Error; err != nil {
    t.Fatalf("count: %v", err)
  }
  if n != 0 {
    t.Fatalf("persisted %d messages for an empty prompt", n)
  }
}
