package services

import (
  "bufio"
  "bytes"
  "context"
  "encoding/json"
  "fmt"
  "net/http"
  "strings"
  "time"

  "github.com/localchat-ai/localchat-backend/internal/errs"
  "github.com/localchat-ai/localchat-backend/internal/logger"
)

// ChatTurn is one role/content pair sent to the inference engine.
type ChatTurn struct {
  Role    string `json:"role"`
  Content string `json:"content"`
}

// InferenceService streams text fragments for one prompt. The stream is
// finite and not restartable; a new prompt requires a new Stream call. Both
// returned channels are closed when the stream ends.
type InferenceService interface {
  Stream(ctx context.Context, turns []ChatTurn, options map[string]interface{}) (<-chan string, <-chan error)
}

type ollamaService struct {
  log       *logger.Logger
  client    *http.Client
  baseURL   string
  model     string
}

type ollamaChatReq struct {
  Model    string                 `json:"model"`
  Messages []ChatTurn             `json:"messages"`
  Stream   bool                   `json:"stream"`
  Options  map[string]interface{} `json:"options,omitempty"`
}

type ollamaStreamResp struct {
  Message  ChatTurn `json:"message"`
  Response string   `json:"response,omitempty"`
  Done     bool     `json:"done"`
  Error    string   `json:"error,omitempty"`
}

func NewOllamaService(log *logger.Logger, baseURL, model string) InferenceService {
  serviceLog := log.With("service", "OllamaService")
  if baseURL == "" {
    baseURL = "http://localhost:11434"
  }
  if model == "" {
    model = "llama3:latest"
  }
  return &ollamaService{
    log:     serviceLog,
    // No global timeout; the request context governs streaming lifetime and
    // operators configure the engine's own limits.
    client:  &http.Client{Timeout: 0 * time.Second},
    baseURL: strings.TrimRight(baseURL, "/"),
    model:   model,
  }
}

func (ol *ollamaService) Stream(ctx context.Context, turns []ChatTurn, options map[string]interface{}) (<-chan string, <-chan error) {
  fragments := make(chan string, 16)
  errCh := make(chan error, 1)

  go func() {
    defer close(fragments)
    defer close(errCh)

    reqBody := ollamaChatReq{
      Model:    ol.model,
      Messages: turns,
      Stream:   true,
      Options:  options,
    }
    b, err := json.Marshal(reqBody)
    if err != nil {
      errCh <- fmt.Errorf("%w: %v", errs.ErrInference, err)
      return
    }

    url := fmt.Sprintf("%s/api/chat", ol.baseURL)
    req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
    if err != nil {
      errCh <- fmt.Errorf("%w: %v", errs.ErrInference, err)
      return
    }
    req.Header.Set("Content-Type", "application/json")

    resp, err := ol.client.Do(req)
    if err != nil {
      ol.log.Warn("failed to call inference engine", "error", err)
      errCh <- fmt.Errorf("%w: %v", errs.ErrInference, err)
      return
    }
    defer resp.Body.Close()

    if resp.StatusCode < 200 || resp.StatusCode >= 300 {
      ol.log.Warn("inference engine responded with non-2xx", "statusCode", resp.StatusCode)
      errCh <- fmt.Errorf("%w: engine status %d", errs.ErrInference, resp.StatusCode)
      return
    }

    sc := bufio.NewScanner(resp.Body)
    // Long JSON lines; default scanner buffer is too small.
    buf := make([]byte, 0, 64*1024)
    sc.Buffer(buf, 2*1024*1024)

    for sc.Scan() {
      line := sc.Bytes()
      if len(line) == 0 {
        continue
      }
      text, done, nErr := NormalizeFragment(line)
      if nErr != nil {
        errCh <- fmt.Errorf("%w: %v", errs.ErrInference, nErr)
        return
      }
      if text != "" {
        select {
        case fragments <- text:
        case <-ctx.Done():
          return
        }
      }
      if done {
        return
      }
    }

    if err := sc.Err(); err != nil {
      ol.log.Warn("inference stream read failed mid-response", "error", err)
      errCh <- fmt.Errorf("%w: %v", errs.ErrInference, err)
      return
    }
  }()

  return fragments, errCh
}

// NormalizeFragment collapses the engine's delivery shapes onto plain text.
// Chat-endpoint lines carry message.content, generate-endpoint lines carry
// response, and anything that is not JSON is taken verbatim. Empty content
// normalizes to the zero-length string.
func NormalizeFragment(line []byte) (text string, done bool, err error) {
  var decoded ollamaStreamResp
  if jsonErr := json.Unmarshal(line, &decoded); jsonErr != nil {
    return string(line), false, nil
  }
  if decoded.Error != "" {
    return "", false, fmt.Errorf("engine error: %s", decoded.Error)
  }
  if decoded.Message.Content != "" {
    return decoded.Message.Content, decoded.Done, nil
  }
  return decoded.Response, decoded.Done, nil
}
