package services

import (
  "context"
  "encoding/json"
  "errors"
  "net/http"
  "net/http/httptest"
  "strings"
  "testing"

  "github.com/localchat-ai/localchat-backend/internal/errs"
  "github.com/localchat-ai/localchat-backend/internal/logger"
)

func TestNormalizeFragment(t *testing.T) {
  cases := []struct {
    name     string
    line     string
    wantText string
    wantDone bool
    wantErr  bool
  }{
    {
      name:     "chat shape",
      line:     `{"message":{"role":"assistant","content":"Hel"},"done":false}`,
      wantText: "Hel",
    },
    {
      name:     "chat shape done",
      line:     `{"message":{"role":"assistant","content":"lo"},"done":true}`,
      wantText: "lo",
      wantDone: true,
    },
    {
      name:     "generate shape",
      line:     `{"response":"world","done":false}`,
      wantText: "world",
    },
    {
      name:     "empty content",
      line:     `{"message":{"role":"assistant","content":""},"done":false}`,
      wantText: "",
    },
    {
      name:     "done with no content",
      line:     `{"done":true}`,
      wantText: "",
      wantDone: true,
    },
    {
      name:     "raw non-json line",
      line:     "plain text fallback",
      wantText: "plain text fallback",
    },
    {
      name:    "engine error",
      line:    `{"error":"model not found"}`,
      wantErr: true,
    },
  }

  for _, tc := range cases {
    t.Run(tc.name, func(t *testing.T) {
      text, done, err := NormalizeFragment([]byte(tc.line))
      if tc.wantErr {
        if err == nil {
          t.Fatal("expected an error")
        }
        return
      }
      if err != nil {
        t.Fatalf("unexpected error: %v", err)
      }
      if text != tc.wantText {
        t.Fatalf("text = %q, want %q", text, tc.wantText)
      }
      if done != tc.wantDone {
        t.Fatalf("done = %v, want %v", done, tc.wantDone)
      }
    })
  }
}

func collectStream(t *testing.T, fragments <-chan string, errCh <-chan error) (string, error) {
  t.Helper()
  var sb strings.Builder
  for frag := range fragments {
    sb.WriteString(frag)
  }
  return sb.String(), <-errCh
}

func TestStreamNDJSON(t *testing.T) {
  var gotReq ollamaChatReq
  srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
    if r.URL.Path != "/api/chat" {
      t.Errorf("path = %q", r.URL.Path)
    }
    if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
      t.Errorf("decode request: %v", err)
    }
    w.Header().Set("Content-Type", "application/x-ndjson")
    lines := []string{
      `{"message":{"role":"assistant","content":"Hel"},"done":false}`,
      `{"message":{"role":"assistant","content":"lo "},"done":false}`,
      `{"message":{"role":"assistant","content":"world"},"done":true}`,
    }
    for _, line := range lines {
      w.Write([]byte(line + "\n"))
    }
  }))
  defer srv.Close()

  svc := NewOllamaService(logger.NewNop(), srv.URL, "testmodel")
  turns := []ChatTurn{{Role: "user", Content: "hi"}}
  options := map[string]interface{}{"temperature": 0.2}

  fragments, errCh := svc.Stream(context.Background(), turns, options)
  full, err := collectStream(t, fragments, errCh)
  if err != nil {
    t.Fatalf("stream error: %v", err)
  }
  if full != "Hello world" {
    t.Fatalf("full text = %q", full)
  }
  if !gotReq.Stream {
    t.Fatal("request did not ask for streaming")
  }
  if gotReq.Model != "testmodel" {
    t.Fatalf("model = %q", gotReq.Model)
  }
  if gotReq.Options["temperature"] != 0.2 {
    t.Fatalf("options not forwarded: %v", gotReq.Options)
  }
}

func TestStreamMidStreamError(t *testing.T) {
  srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
    w.Write([]byte(`{"message":{"role":"assistant","content":"He"},"done":false}` + "\n"))
    w.Write([]byte(`{"error":"gpu on fire"}` + "\n"))
  }))
  defer srv.Close()

  svc := NewOllamaService(logger.NewNop(), srv.URL, "testmodel")
  fragments, errCh := svc.Stream(context.Background(), []ChatTurn{{Role: "user", Content: "hi"}}, nil)
  full, err := collectStream(t, fragments, errCh)
  if !errors.Is(err, errs.ErrInference) {
    t.Fatalf("stream error = %v, want ErrInference", err)
  }
  if full != "He" {
    t.Fatalf("fragments before error = %q", full)
  }
}

func TestStreamEngineUnavailable(t *testing.T) {
  srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
    http.Error(w, "overloaded", http.StatusServiceUnavailable)
  }))
  defer srv.Close()

  svc := NewOllamaService(logger.NewNop(), srv.URL, "testmodel")
  fragments, errCh := svc.Stream(context.Background(), []ChatTurn{{Role: "user", Content: "hi"}}, nil)
  full, err := collectStream(t, fragments, errCh)
  if !errors.Is(err, errs.ErrInference) {
    t.Fatalf("stream error = %v, want ErrInference", err)
  }
  if full != "" {
    t.Fatalf("unexpected fragments %q", full)
  }
}
