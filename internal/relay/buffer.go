package relay

import (
  "context"
  "strings"
  "time"
)

// DefaultFlushInterval is how long fragments accumulate before a coalesced
// chunk is pushed to the client.
const DefaultFlushInterval = 100 * time.Millisecond

// TokenBuffer coalesces the inference engine's small text fragments into
// larger chunks on a fixed interval. The timer only runs while text is
// pending, so an idle stream costs nothing.
type TokenBuffer struct {
  interval time.Duration
  emit     func(chunk string)
}

func NewTokenBuffer(interval time.Duration, emit func(chunk string)) *TokenBuffer {
  if interval <= 0 {
    interval = DefaultFlushInterval
  }
  return &TokenBuffer{
    interval: interval,
    emit:     emit,
  }
}

// Drain consumes fragments until the channel closes and returns the full
// concatenated text. Every non-empty accumulation is emitted exactly once,
// either on a timer tick or in the final flush when the stream ends, so the
// concatenation of emitted chunks always equals the concatenation of the
// fragments received. A cancelled ctx stops the drain without a final flush;
// nobody is listening for chunks once the connection is gone.
func (tb *TokenBuffer) Drain(ctx context.Context, fragments <-chan string) string {
  var full strings.Builder
  var pending strings.Builder

  timer := time.NewTimer(tb.interval)
  if !timer.Stop() {
    <-timer.C
  }
  defer timer.Stop()
  armed := false

  flush := func() {
    if pending.Len() == 0 {
      return
    }
    tb.emit(pending.String())
    pending.Reset()
  }

  for {
    select {
    case frag, ok := <-fragments:
      if !ok {
        flush()
        return full.String()
      }
      if frag == "" {
        continue
      }
      full.WriteString(frag)
      pending.WriteString(frag)
      if !armed {
        timer.Reset(tb.interval)
        armed = true
      }
    case <-timer.C:
      armed = false
      flush()
    case <-ctx.Done():
      return full.String()
    }
  }
}
