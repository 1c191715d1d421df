package relay

import (
  "context"
  "encoding/json"
  "errors"
  "strings"
  "time"

  "github.com/google/uuid"

  "github.com/localchat-ai/localchat-backend/internal/errs"
  "github.com/localchat-ai/localchat-backend/internal/logger"
  "github.com/localchat-ai/localchat-backend/internal/services"
  "github.com/localchat-ai/localchat-backend/internal/types"
)

// Wire event names. Clients match on these strings exactly.
const (
  EventPrompt           = "chat-with-llm"
  EventTypingStart      = "llm-typing-start"
  EventResponseChunk    = "llm-response-chunk"
  EventTypingEnd        = "llm-typing-end"
  EventResponseEnd      = "llm-response-end"
  EventResponseComplete = "llm-response-complete"
  EventResponseError    = "llm-response-error"
  EventChatCreated      = "chat-created"
  EventChatDeleted      = "chat-deleted"
  EventAuthError        = "auth_error"
)

// Emitter pushes one named event to a single client. Implementations queue
// rather than block; a slow reader must not stall the relay.
type Emitter interface {
  Emit(event string, data interface{})
}

// PromptRequest is one decoded chat-with-llm payload. A nil ChatID means the
// client wants a fresh chat. Context is extra steering text for this prompt
// only; it is never persisted.
type PromptRequest struct {
  Content string
  ChatID  *uuid.UUID
  Context string
}

// Orchestrator drives a prompt through its whole lifecycle: resolve the
// chat, persist the user turn, stream the model's reply through the token
// buffer, persist the assistant turn, and emit the transport events in
// order. One Orchestrator serves every connection; per-connection state
// lives in Session.
type Orchestrator struct {
  log            *logger.Logger
  chats          services.ChatManagerService
  inference      services.InferenceService
  flushInterval  time.Duration
  contextWindow  int
  systemPreamble string
}

func NewOrchestrator(
  log *logger.Logger,
  chats services.ChatManagerService,
  inference services.InferenceService,
  flushInterval time.Duration,
  systemPreamble string,
) *Orchestrator {
  if flushInterval <= 0 {
    flushInterval = DefaultFlushInterval
  }
  return &Orchestrator{
    log:            log.With("component", "RelayOrchestrator"),
    chats:          chats,
    inference:      inference,
    flushInterval:  flushInterval,
    contextWindow:  services.DefaultContextWindow,
    systemPreamble: systemPreamble,
  }
}

// HandlePrompt runs one prompt to completion. It is safe to call from the
// connection's read loop in its own goroutine; a second call while the
// session is busy is rejected with a busy error and the in-flight response
// is untouched.
func (o *Orchestrator) HandlePrompt(ctx context.Context, sess *Session, emit Emitter, req PromptRequest) error {
  log := o.log.With("userID", sess.Identity.UserID)

  if strings.TrimSpace(req.Content) == "" {
    emit.Emit(EventResponseError, map[string]interface{}{
      "message": "prompt must not be empty",
      "error":   "invalid_prompt",
    })
    return nil
  }

  if err := sess.begin(); err != nil {
    log.Warn("rejecting prompt, session busy", "state", sess.State())
    o.fail(emit, err)
    return err
  }
  defer sess.finish()

  userID := sess.Identity.UserID

  chat, created, err := o.chats.ResolveOrCreateChat(ctx, req.ChatID, userID)
  if err != nil {
    log.Warn("failed to resolve chat for prompt", "error", err)
    sess.transition(StateErrored)
    o.fail(emit, err)
    return err
  }
  if created {
    log.Info("created a new chat for prompt", "chatID", chat.ID)
    emit.Emit(EventChatCreated, map[string]interface{}{
      "chatId": chat.ID,
      "chat":   chat,
    })
  }

  // History is captured before the new turn is written so the prompt only
  // appears once in what the model sees.
  pctx, err := o.chats.BuildContext(ctx, chat.ID, userID, o.contextWindow)
  if err != nil {
    log.Warn("failed to build prompt context", "chatID", chat.ID, "error", err)
    sess.transition(StateErrored)
    o.fail(emit, err)
    return err
  }

  if _, err := o.chats.AppendMessage(ctx, chat.ID, userID, types.RoleUser, req.Content); err != nil {
    log.Warn("failed to persist user message", "chatID", chat.ID, "error", err)
    sess.transition(StateErrored)
    o.fail(emit, err)
    return err
  }

  turns := o.assembleTurns(pctx, req.Context, req.Content)
  options := o.decodeModelSettings(chat)

  sess.transition(StateStreaming)
  emit.Emit(EventTypingStart, nil)

  fragments, errCh := o.inference.Stream(ctx, turns, options)
  buffer := NewTokenBuffer(o.flushInterval, func(chunk string) {
    emit.Emit(EventResponseChunk, map[string]interface{}{"chunk": chunk})
  })
  full := buffer.Drain(ctx, fragments)
  streamErr := <-errCh

  if ctx.Err() != nil {
    // Connection gone mid-stream; the partial text is deliberately
    // discarded rather than persisted as a truncated assistant turn, and
    // nothing more is emitted towards the dead connection.
    log.Info("connection closed mid-stream, discarding partial response", "chatID", chat.ID)
    return ctx.Err()
  }

  emit.Emit(EventTypingEnd, nil)

  if streamErr != nil {
    log.Warn("inference stream failed", "chatID", chat.ID, "error", streamErr)
    sess.transition(StateErrored)
    o.fail(emit, streamErr)
    return streamErr
  }

  sess.transition(StatePersisting)
  assistant, err := o.chats.AppendMessage(ctx, chat.ID, userID, types.RoleAssistant, full)
  if err != nil {
    log.Warn("failed to persist assistant message", "chatID", chat.ID, "error", err)
    sess.transition(StateErrored)
    o.fail(emit, err)
    return err
  }

  emit.Emit(EventResponseEnd, nil)
  emit.Emit(EventResponseComplete, map[string]interface{}{
    "message": assistant,
    "chatId":  chat.ID,
  })
  log.Debug("prompt relayed", "chatID", chat.ID, "responseLength", len(full))
  return nil
}

// assembleTurns lays out what the model sees for one prompt: standing
// instructions first, then per-prompt and per-chat steering text, then the
// recent history, then the new user turn last.
func (o *Orchestrator) assembleTurns(pctx *services.PromptContext, promptContext, content string) []services.ChatTurn {
  turns := make([]services.ChatTurn, 0, len(pctx.History)+4)
  if o.systemPreamble != "" {
    turns = append(turns, services.ChatTurn{Role: types.RoleSystem, Content: o.systemPreamble})
  }
  if promptContext = strings.TrimSpace(promptContext); promptContext != "" {
    turns = append(turns, services.ChatTurn{Role: types.RoleSystem, Content: promptContext})
  }
  if pctx.ChatContext != "" {
    turns = append(turns, services.ChatTurn{Role: types.RoleSystem, Content: pctx.ChatContext})
  }
  turns = append(turns, pctx.History...)
  turns = append(turns, services.ChatTurn{Role: types.RoleUser, Content: content})
  return turns
}

func (o *Orchestrator) decodeModelSettings(chat *types.Chat) map[string]interface{} {
  if len(chat.ModelSettings) == 0 {
    return nil
  }
  var options map[string]interface{}
  if err := json.Unmarshal(chat.ModelSettings, &options); err != nil {
    o.log.Warn("ignoring unreadable model settings", "chatID", chat.ID, "error", err)
    return nil
  }
  return options
}

func (o *Orchestrator) fail(emit Emitter, err error) {
  emit.Emit(EventResponseError, map[string]interface{}{
    "message": errs.SafeMessage(err),
    "error":   errorCode(err),
  })
}

func errorCode(err error) string {
  switch {
  case errors.Is(err, errs.ErrAuthentication):
    return "auth_error"
  case errors.Is(err, errs.ErrNotFound):
    return "not_found"
  case errors.Is(err, errs.ErrInference):
    return "inference_error"
  case errors.Is(err, errs.ErrPersistence):
    return "storage_error"
  case errors.Is(err, errs.ErrBusy):
    return "busy"
  default:
    return "internal_error"
  }
}
