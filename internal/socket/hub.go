package socket

import (
  "context"
  "fmt"
  "sync"

  "github.com/google/uuid"

  "github.com/localchat-ai/localchat-backend/internal/logger"
)

// Event is the wire envelope, both directions.
type Event struct {
  Event string      `json:"event"`
  Data  interface{} `json:"data,omitempty"`
}

// Notice is an Event addressed to a hub channel, for fanout across every
// connection subscribed to that channel (including through redis on other
// nodes).
type Notice struct {
  Channel string `json:"channel"`
  Event   Event  `json:"event"`
}

// UserChannel is the per-user fanout channel every connection of that user
// subscribes to on handshake.
func UserChannel(userID uuid.UUID) string {
  return fmt.Sprintf("user:%s", userID)
}

type Hub struct {
  log      *logger.Logger
  mu       sync.RWMutex
  channels map[string]map[uuid.UUID]*Client

  redisPubSub *RedisPubSub
}

func NewHub(log *logger.Logger) *Hub {
  return &Hub{
    log:      log.With("component", "Hub"),
    channels: make(map[string]map[uuid.UUID]*Client),
  }
}

// SetRedisPubSub is optional; without it the hub only fans out locally.
func (h *Hub) SetRedisPubSub(rp *RedisPubSub) {
  h.redisPubSub = rp
}

func (h *Hub) Subscribe(client *Client, channels []string) {
  h.mu.Lock()
  defer h.mu.Unlock()

  for _, ch := range channels {
    if h.channels[ch] == nil {
      h.channels[ch] = make(map[uuid.UUID]*Client)
    }
    h.channels[ch][client.ID] = client
  }
  h.log.Debug("Client subscribed", "client", client.ID, "channels", channels)
}

func (h *Hub) Unsubscribe(client *Client) {
  h.mu.Lock()
  defer h.mu.Unlock()

  for ch, clientsMap := range h.channels {
    if _, ok := clientsMap[client.ID]; ok {
      delete(clientsMap, client.ID)
      if len(clientsMap) == 0 {
        delete(h.channels, ch)
      }
    }
  }
  h.log.Debug("Client unsubscribed from all channels", "client", client.ID)
}

func (h *Hub) localBroadcast(n Notice) {
  h.mu.RLock()
  defer h.mu.RUnlock()

  clientsMap, ok := h.channels[n.Channel]
  if !ok {
    return
  }
  for _, client := range clientsMap {
    // Emit holds the client's close guard, so fanout to a client that is
    // tearing down is dropped instead of hitting its closed channel.
    client.Emit(n.Event.Event, n.Event.Data)
  }
}

// BroadcastGlobal fans a notice out to local subscribers and, when redis is
// wired, to every other node's subscribers too.
func (h *Hub) BroadcastGlobal(ctx context.Context, n Notice) {
  h.localBroadcast(n)

  if h.redisPubSub != nil {
    if err := h.redisPubSub.Publish(n); err != nil {
      h.log.Warn("Failed to publish to Redis", "error", err)
    }
  }
}
