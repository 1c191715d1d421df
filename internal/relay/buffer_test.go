package relay

import (
  "context"
  "strings"
  "sync"
  "testing"
  "time"
)

type chunkRecorder struct {
  mu     sync.Mutex
  chunks []string
}

func (r *chunkRecorder) record(chunk string) {
  r.mu.Lock()
  defer r.mu.Unlock()
  r.chunks = append(r.chunks, chunk)
}

func (r *chunkRecorder) all() []string {
  r.mu.Lock()
  defer r.mu.Unlock()
  return append([]string(nil), r.chunks...)
}

func TestDrainConcatenation(t *testing.T) {
  fragments := []string{"Hel", "lo", ", ", "wor", "ld", "!"}

  rec := &chunkRecorder{}
  tb := NewTokenBuffer(5*time.Millisecond, rec.record)

  in := make(chan string)
  go func() {
    for _, f := range fragments {
      in <- f
      time.Sleep(2 * time.Millisecond)
    }
    close(in)
  }()

  full := tb.Drain(context.Background(), in)

  want := strings.Join(fragments, "")
  if full != want {
    t.Fatalf("full text = %q, want %q", full, want)
  }
  if got := strings.Join(rec.all(), ""); got != want {
    t.Fatalf("emitted chunks concatenate to %q, want %q", got, want)
  }
}

func TestDrainEmptyStream(t *testing.T) {
  rec := &chunkRecorder{}
  tb := NewTokenBuffer(5*time.Millisecond, rec.record)

  in := make(chan string)
  close(in)

  full := tb.Drain(context.Background(), in)
  if full != "" {
    t.Fatalf("full text = %q, want empty", full)
  }
  if chunks := rec.all(); len(chunks) != 0 {
    t.Fatalf("expected no chunks for an empty stream, got %v", chunks)
  }
}

func TestDrainCoalescesBurst(t *testing.T) {
  rec := &chunkRecorder{}
  tb := NewTokenBuffer(50*time.Millisecond, rec.record)

  in := make(chan string, 32)
  for i := 0; i < 20; i++ {
    in <- "x"
  }
  close(in)

  full := tb.Drain(context.Background(), in)
  if full != strings.Repeat("x", 20) {
    t.Fatalf("full text = %q", full)
  }
  chunks := rec.all()
  if len(chunks) >= 20 {
    t.Fatalf("expected coalescing, got %d chunks for 20 fragments", len(chunks))
  }
  if got := strings.Join(chunks, ""); got != full {
    t.Fatalf("emitted chunks concatenate to %q, want %q", got, full)
  }
}

func TestDrainFlushesOnInterval(t *testing.T) {
  rec := &chunkRecorder{}
  tb := NewTokenBuffer(10*time.Millisecond, rec.record)

  in := make(chan string, 1)
  in <- "hello"

  done := make(chan string, 1)
  go func() {
    done <- tb.Drain(context.Background(), in)
  }()

  // The single fragment must be flushed by the timer, not the stream end.
  deadline := time.Now().Add(time.Second)
  for len(rec.all()) == 0 {
    if time.Now().After(deadline) {
      t.Fatal("no chunk flushed while the stream stayed open")
    }
    time.Sleep(2 * time.Millisecond)
  }

  close(in)
  if full := <-done; full != "hello" {
    t.Fatalf("full text = %q, want %q", full, "hello")
  }
}

func TestDrainFinalFlushOnClose(t *testing.T) {
  rec := &chunkRecorder{}
  // An interval far longer than the stream forces the final flush path.
  tb := NewTokenBuffer(time.Hour, rec.record)

  in := make(chan string, 2)
  in <- "par"
  in <- "tial"
  close(in)

  full := tb.Drain(context.Background(), in)
  if full != "partial" {
    t.Fatalf("full text = %q", full)
  }
  chunks := rec.all()
  if len(chunks) != 1 || chunks[0] != "partial" {
    t.Fatalf("expected one final chunk %q, got %v", "partial", chunks)
  }
}

func TestDrainDiscardsOnCancel(t *testing.T) {
  rec := &chunkRecorder{}
  tb := NewTokenBuffer(time.Hour, rec.record)

  in := make(chan string, 1)
  in <- "doomed"

  ctx, cancel := context.WithCancel(context.Background())

  done := make(chan struct{})
  go func() {
    tb.Drain(ctx, in)
    close(done)
  }()

  // Give the drain a moment to consume the fragment, then kill the context.
  time.Sleep(20 * time.Millisecond)
  cancel()

  select {
  case <-done:
  case <-time.After(time.Second):
    t.Fatal("drain did not return after cancel")
  }
  if chunks := rec.all(); len(chunks) != 0 {
    t.Fatalf("expected no flush after cancel, got %v", chunks)
  }
}
