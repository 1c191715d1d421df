package handlers

import (
  "context"
  "net/http"
  "time"

  "github.com/gin-gonic/gin"
  "github.com/gorilla/websocket"

  "github.com/localchat-ai/localchat-backend/internal/logger"
  "github.com/localchat-ai/localchat-backend/internal/middleware"
  "github.com/localchat-ai/localchat-backend/internal/relay"
  "github.com/localchat-ai/localchat-backend/internal/services"
  "github.com/localchat-ai/localchat-backend/internal/socket"
)

var upgrader = websocket.Upgrader{
  CheckOrigin: func(r *http.Request) bool {
    return true
  },
}

// WsHandler authenticates and upgrades a relay connection. Auth runs here
// rather than in middleware so a bad credential still gets an auth_error
// event over the socket before the forced disconnect.
func WsHandler(
  hub *socket.Hub,
  authService services.AuthService,
  chatManager services.ChatManagerService,
  orchestrator *relay.Orchestrator,
  log *logger.Logger,
) gin.HandlerFunc {
  return func(c *gin.Context) {
    tokenString := middleware.ExtractTokenFromAll(c)

    conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
    if err != nil {
      log.Warn("Failed to upgrade to websocket", "error", err)
      return
    }

    identity, vErr := authService.VerifyToken(tokenString)
    if vErr != nil {
      log.Debug("websocket handshake rejected", "error", vErr)
      rejectUnauthenticated(conn)
      return
    }

    session := relay.NewSession(*identity)

    // The WS outlives the HTTP request, so the pumps get their own
    // lifetime instead of the request context.
    ctx, cancel := context.WithCancel(context.Background())
    client := socket.NewClient(conn, hub, session, orchestrator, chatManager, cancel, log)

    hub.Subscribe(client, []string{socket.UserChannel(identity.UserID)})

    go client.ReadLoop(ctx)
    go client.WriteLoop(ctx)
  }
}

func rejectUnauthenticated(conn *websocket.Conn) {
  _ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
  _ = conn.WriteJSON(socket.Event{
    Event: relay.EventAuthError,
    Data:  gin.H{"message": "authentication required"},
  })
  _ = conn.WriteMessage(websocket.CloseMessage,
    websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "authentication required"))
  _ = conn.Close()
}
