package socket

import (
  "context"
  "encoding/json"
  "net"
  "sync"
  "time"

  "github.com/google/uuid"
  "github.com/gorilla/websocket"

  "github.com/localchat-ai/localchat-backend/internal/errs"
  "github.com/localchat-ai/localchat-backend/internal/logger"
  "github.com/localchat-ai/localchat-backend/internal/relay"
  "github.com/localchat-ai/localchat-backend/internal/services"
)

// EventError is the reply for a failed management op. Relay failures use the
// relay event names instead.
const EventError = "error"

// EventUserChats answers a get-user-chats request.
const EventUserChats = "user-chats"

const (
  OutboundChanBuffer = 256

  writeWait  = 10 * time.Second
  pongWait   = 60 * time.Second
  pingPeriod = (pongWait * 9) / 10
)

type inboundEvent struct {
  Event string          `json:"event"`
  Data  json.RawMessage `json:"data,omitempty"`
}

type promptPayload struct {
  Content string `json:"content"`
  ChatID  string `json:"chatId,omitempty"`
  // UserID is accepted for wire compatibility but never trusted; the
  // authenticated identity bound at handshake wins.
  UserID  string `json:"userId,omitempty"`
  Context string `json:"context,omitempty"`
}

type createChatPayload struct {
  Title   string `json:"title,omitempty"`
  Context string `json:"context,omitempty"`
}

type deleteChatPayload struct {
  ChatID string `json:"chatId"`
}

// Client is one authenticated websocket connection. The relay session, the
// orchestrator, and the chat manager hang off it so the read loop can serve
// both streaming prompts and chat management without further auth checks.
type Client struct {
  ID           uuid.UUID
  Conn         *websocket.Conn
  Hub          *Hub
  Log          *logger.Logger
  Session      *relay.Session
  Orchestrator *relay.Orchestrator
  Chats        services.ChatManagerService
  cancelFn     context.CancelFunc
  closeOnce    sync.Once
  mu           sync.Mutex
  closed       bool
  Outbound     chan Event
}

// NewClient constructs a fully-initialised Client. The cancel function comes
// from the handler so the HTTP context can finish while the WS lives on.
func NewClient(
  conn *websocket.Conn,
  hub *Hub,
  session *relay.Session,
  orchestrator *relay.Orchestrator,
  chats services.ChatManagerService,
  cancel context.CancelFunc,
  log *logger.Logger,
) *Client {
  id := uuid.New()
  return &Client{
    ID:           id,
    Conn:         conn,
    Hub:          hub,
    Log:          log.With("client", id, "userID", session.Identity.UserID),
    Session:      session,
    Orchestrator: orchestrator,
    Chats:        chats,
    cancelFn:     cancel,
    Outbound:     make(chan Event, OutboundChanBuffer),
  }
}

// Emit queues one event for this client. It never blocks; a reader that
// cannot keep up loses events rather than stalling the relay. Emits after
// close are dropped, so an in-flight prompt may outlive its connection
// without crashing the process.
func (c *Client) Emit(event string, data interface{}) {
  c.mu.Lock()
  defer c.mu.Unlock()
  if c.closed {
    c.Log.Debug("dropping event, client closed", "event", event)
    return
  }
  select {
  case c.Outbound <- Event{Event: event, Data: data}:
  default:
    c.Log.Warn("Dropping event to client; outbound buffer full", "event", event)
  }
}

func (c *Client) ReadLoop(ctx context.Context)  { c.readLoop(ctx) }
func (c *Client) WriteLoop(ctx context.Context) { c.writeLoop(ctx) }

func (c *Client) readLoop(ctx context.Context) {
  defer c.close()

  c.Conn.SetReadLimit(1 << 20) // 1 MiB
  _ = c.Conn.SetReadDeadline(time.Now().Add(pongWait))
  c.Conn.SetPongHandler(func(string) error {
    _ = c.Conn.SetReadDeadline(time.Now().Add(pongWait))
    return nil
  })

  for {
    select {
    case <-ctx.Done():
      return

    default:
      _, data, err := c.Conn.ReadMessage()
      if err != nil {
        if ne, ok := err.(net.Error); !ok || !ne.Temporary() {
          c.Log.Debug("websocket read error, closing client", "error", err)
          return
        }
        continue
      }

      var inbound inboundEvent
      if err := json.Unmarshal(data, &inbound); err != nil {
        c.Log.Debug("failed to unmarshal inbound event", "error", err, "raw", string(data))
        continue
      }

      switch inbound.Event {
      case relay.EventPrompt:
        c.handlePrompt(ctx, inbound.Data)
      case "create-chat":
        c.handleCreateChat(ctx, inbound.Data)
      case "get-user-chats":
        c.handleGetUserChats(ctx)
      case "delete-chat":
        c.handleDeleteChat(ctx, inbound.Data)
      default:
        c.Log.Debug("inbound WS event unhandled", "event", inbound.Event)
      }
    }
  }
}

// handlePrompt hands the prompt to the orchestrator on its own goroutine so
// the read loop stays responsive; the session guard rejects a second prompt
// while one is streaming.
func (c *Client) handlePrompt(ctx context.Context, raw json.RawMessage) {
  var payload promptPayload
  if err := json.Unmarshal(raw, &payload); err != nil {
    c.Log.Debug("failed to unmarshal prompt payload", "error", err)
    c.Emit(relay.EventResponseError, map[string]interface{}{
      "message": "prompt payload could not be read",
      "error":   "invalid_prompt",
    })
    return
  }

  var chatID *uuid.UUID
  if payload.ChatID != "" {
    if parsed, err := uuid.Parse(payload.ChatID); err == nil {
      chatID = &parsed
    } else {
      c.Log.Debug("ignoring malformed chatId on prompt", "chatId", payload.ChatID)
    }
  }

  req := relay.PromptRequest{
    Content: payload.Content,
    ChatID:  chatID,
    Context: payload.Context,
  }
  go func() {
    if err := c.Orchestrator.HandlePrompt(ctx, c.Session, c, req); err != nil {
      c.Log.Debug("prompt ended with error", "error", err)
    }
  }()
}

func (c *Client) handleCreateChat(ctx context.Context, raw json.RawMessage) {
  var payload createChatPayload
  if len(raw) > 0 {
    if err := json.Unmarshal(raw, &payload); err != nil {
      c.Log.Debug("failed to unmarshal create-chat payload", "error", err)
      c.emitOpError(err)
      return
    }
  }
  chat, err := c.Chats.CreateChat(ctx, c.Session.Identity.UserID, payload.Title, payload.Context)
  if err != nil {
    c.Log.Warn("failed to create chat over WS", "error", err)
    c.emitOpError(err)
    return
  }
  c.Hub.BroadcastGlobal(ctx, Notice{
    Channel: UserChannel(c.Session.Identity.UserID),
    Event: Event{
      Event: relay.EventChatCreated,
      Data:  map[string]interface{}{"chatId": chat.ID, "chat": chat},
    },
  })
}

func (c *Client) handleGetUserChats(ctx context.Context) {
  chats, err := c.Chats.GetUserChats(ctx, c.Session.Identity.UserID)
  if err != nil {
    c.Log.Warn("failed to list chats over WS", "error", err)
    c.emitOpError(err)
    return
  }
  c.Emit(EventUserChats, map[string]interface{}{"chats": chats})
}

func (c *Client) handleDeleteChat(ctx context.Context, raw json.RawMessage) {
  var payload deleteChatPayload
  if err := json.Unmarshal(raw, &payload); err != nil {
    c.Log.Debug("failed to unmarshal delete-chat payload", "error", err)
    c.emitOpError(err)
    return
  }
  chatID, err := uuid.Parse(payload.ChatID)
  if err != nil {
    c.emitOpError(errs.ErrNotFound)
    return
  }
  if err := c.Chats.DeleteChat(ctx, chatID, c.Session.Identity.UserID); err != nil {
    c.Log.Warn("failed to delete chat over WS", "chatID", chatID, "error", err)
    c.emitOpError(err)
    return
  }
  c.Hub.BroadcastGlobal(ctx, Notice{
    Channel: UserChannel(c.Session.Identity.UserID),
    Event: Event{
      Event: relay.EventChatDeleted,
      Data:  map[string]interface{}{"chatId": chatID},
    },
  })
}

func (c *Client) emitOpError(err error) {
  c.Emit(EventError, map[string]interface{}{"message": errs.SafeMessage(err)})
}

func (c *Client) writeLoop(ctx context.Context) {
  ticker := time.NewTicker(pingPeriod)
  defer func() {
    ticker.Stop()
    c.close()
  }()

  for {
    select {
    case <-ctx.Done():
      c.Log.Debug("writeLoop ctx done, shutdown")
      return

    case ev, ok := <-c.Outbound:
      _ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
      if !ok {
        c.Log.Debug("outbound channel closed, shutdown")
        _ = c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
        return
      }
      if err := c.writeJSON(ev); err != nil {
        c.Log.Warn("failed writing JSON", "error", err)
        return
      }

    case <-ticker.C: // keep-alive ping
      _ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
      if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
        c.Log.Debug("ping error, shutdown", "error", err)
        return
      }
    }
  }
}

func (c *Client) writeJSON(v interface{}) error {
  payload, err := json.Marshal(v)
  if err != nil {
    return err
  }
  w, err := c.Conn.NextWriter(websocket.TextMessage)
  if err != nil {
    return err
  }
  if _, err = w.Write(payload); err != nil {
    _ = w.Close()
    return err
  }
  return w.Close()
}

// close is idempotent; both pumps defer it and either may lose the race.
func (c *Client) close() {
  c.closeOnce.Do(func() {
    c.Log.Debug("closing client connection")
    if c.cancelFn != nil {
      c.cancelFn() // stop the sibling pump
    }
    _ = c.Conn.Close()
    c.mu.Lock()
    c.closed = true
    close(c.Outbound)
    c.mu.Unlock()
    c.Hub.Unsubscribe(c)
  })
}
