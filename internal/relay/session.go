package relay

import (
  "fmt"
  "sync"

  "github.com/localchat-ai/localchat-backend/internal/errs"
  "github.com/localchat-ai/localchat-backend/internal/services"
)

// State is where a session currently sits in the prompt lifecycle. Every
// state except Idle means a response is in flight for the connection.
type State int

const (
  StateIdle State = iota
  StateResolvingChat
  StateStreaming
  StatePersisting
  StateErrored
)

func (s State) String() string {
  switch s {
  case StateIdle:
    return "idle"
  case StateResolvingChat:
    return "resolving-chat"
  case StateStreaming:
    return "streaming"
  case StatePersisting:
    return "persisting"
  case StateErrored:
    return "errored"
  default:
    return "unknown"
  }
}

// Session binds one authenticated connection to its relay state. The
// identity never changes for the lifetime of the connection; the state does.
type Session struct {
  Identity services.Identity

  mu    sync.Mutex
  state State
}

func NewSession(identity services.Identity) *Session {
  return &Session{
    Identity: identity,
    state:    StateIdle,
  }
}

func (s *Session) State() State {
  s.mu.Lock()
  defer s.mu.Unlock()
  return s.state
}

// begin claims the session for a new prompt. Only an idle session can be
// claimed; anything else is a concurrent prompt on the same connection.
func (s *Session) begin() error {
  s.mu.Lock()
  defer s.mu.Unlock()
  if s.state != StateIdle {
    return fmt.Errorf("%w (state %s)", errs.ErrBusy, s.state)
  }
  s.state = StateResolvingChat
  return nil
}

func (s *Session) transition(next State) {
  s.mu.Lock()
  defer s.mu.Unlock()
  s.state = next
}

// finish releases the session back to idle, whatever state the prompt ended
// in. Errors are per-request; the connection stays usable.
func (s *Session) finish() {
  s.transition(StateIdle)
}
