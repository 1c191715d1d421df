package handlers

import (
  "errors"
  "net/http"

  "github.com/gin-gonic/gin"
  "github.com/google/uuid"

  "github.com/localchat-ai/localchat-backend/internal/errs"
  "github.com/localchat-ai/localchat-backend/internal/requestdata"
  "github.com/localchat-ai/localchat-backend/internal/services"
  "github.com/localchat-ai/localchat-backend/internal/socket"
  "github.com/localchat-ai/localchat-backend/internal/relay"
)

// ChatHandler is the REST side of chat management. The websocket client
// serves the same operations through the same chat manager.
type ChatHandler struct {
  chatManager services.ChatManagerService
  hub         *socket.Hub
}

func NewChatHandler(chatManager services.ChatManagerService, hub *socket.Hub) *ChatHandler {
  return &ChatHandler{chatManager: chatManager, hub: hub}
}

func (ch *ChatHandler) GetUserChats(c *gin.Context) {
  rd := requestdata.GetRequestData(c.Request.Context())
  chats, err := ch.chatManager.GetUserChats(c.Request.Context(), rd.UserID)
  if err != nil {
    c.JSON(statusFor(err), gin.H{"error": errs.SafeMessage(err)})
    return
  }
  c.JSON(http.StatusOK, gin.H{"chats": chats})
}

func (ch *ChatHandler) CreateChat(c *gin.Context) {
  var req struct {
    Title   string `json:"title,omitempty"`
    Context string `json:"context,omitempty"`
  }
  if err := c.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
    c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
    return
  }
  rd := requestdata.GetRequestData(c.Request.Context())
  chat, err := ch.chatManager.CreateChat(c.Request.Context(), rd.UserID, req.Title, req.Context)
  if err != nil {
    c.JSON(statusFor(err), gin.H{"error": errs.SafeMessage(err)})
    return
  }
  ch.hub.BroadcastGlobal(c.Request.Context(), socket.Notice{
    Channel: socket.UserChannel(rd.UserID),
    Event: socket.Event{
      Event: relay.EventChatCreated,
      Data:  gin.H{"chatId": chat.ID, "chat": chat},
    },
  })
  c.JSON(http.StatusOK, gin.H{"chat": chat})
}

func (ch *ChatHandler) GetChat(c *gin.Context) {
  chatID, err := uuid.Parse(c.Param("chatID"))
  if err != nil {
    c.JSON(http.StatusBadRequest, gin.H{"error": "invalid chat id"})
    return
  }
  rd := requestdata.GetRequestData(c.Request.Context())
  chat, err := ch.chatManager.GetChat(c.Request.Context(), chatID, rd.UserID)
  if err != nil {
    c.JSON(statusFor(err), gin.H{"error": errs.SafeMessage(err)})
    return
  }
  c.JSON(http.StatusOK, gin.H{"chat": chat})
}

func (ch *ChatHandler) GetChatMessages(c *gin.Context) {
  chatID, err := uuid.Parse(c.Param("chatID"))
  if err != nil {
    c.JSON(http.StatusBadRequest, gin.H{"error": "invalid chat id"})
    return
  }
  rd := requestdata.GetRequestData(c.Request.Context())
  messages, err := ch.chatManager.GetChatMessages(c.Request.Context(), chatID, rd.UserID)
  if err != nil {
    c.JSON(statusFor(err), gin.H{"error": errs.SafeMessage(err)})
    return
  }
  c.JSON(http.StatusOK, gin.H{"messages": messages})
}

func (ch *ChatHandler) DeleteChat(c *gin.Context) {
  chatID, err := uuid.Parse(c.Param("chatID"))
  if err != nil {
    c.JSON(http.StatusBadRequest, gin.H{"error": "invalid chat id"})
    return
  }
  rd := requestdata.GetRequestData(c.Request.Context())
  if err := ch.chatManager.DeleteChat(c.Request.Context(), chatID, rd.UserID); err != nil {
    c.JSON(statusFor(err), gin.H{"error": errs.SafeMessage(err)})
    return
  }
  ch.hub.BroadcastGlobal(c.Request.Context(), socket.Notice{
    Channel: socket.UserChannel(rd.UserID),
    Event: socket.Event{
      Event: relay.EventChatDeleted,
      Data:  gin.H{"chatId": chatID},
    },
  })
  c.JSON(http.StatusOK, gin.H{"success": true})
}

func statusFor(err error) int {
  if errors.Is(err, errs.ErrNotFound) {
    return http.StatusNotFound
  }
  return http.StatusInternalServerError
}
