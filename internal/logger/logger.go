package logger

import (
  "fmt"

  "go.uber.org/zap"
)

// Logger wraps a sugared zap logger so every component can carry its own
// key/value scope via With.
type Logger struct {
  s *zap.SugaredLogger
}

func New(mode string) (*Logger, error) {
  var z *zap.Logger
  var err error
  switch mode {
  case "production":
    z, err = zap.NewProduction()
  case "development", "":
    z, err = zap.NewDevelopment()
  default:
    return nil, fmt.Errorf("unknown log mode: %q", mode)
  }
  if err != nil {
    return nil, err
  }
  return &Logger{s: z.Sugar()}, nil
}

func (l *Logger) With(keysAndValues ...interface{}) *Logger {
  return &Logger{s: l.s.With(keysAndValues...)}
}

func (l *Logger) Debug(msg string, keysAndValues ...interface{}) {
  l.s.Debugw(msg, keysAndValues...)
}

func (l *Logger) Info(msg string, keysAndValues ...interface{}) {
  l.s.Infow(msg, keysAndValues...)
}

func (l *Logger) Warn(msg string, keysAndValues ...interface{}) {
  l.s.Warnw(msg, keysAndValues...)
}

func (l *Logger) Error(msg string, keysAndValues ...interface{}) {
  l.s.Errorw(msg, keysAndValues...)
}

func (l *Logger) Sync() {
  _ = l.s.Sync()
}

// NewNop returns a logger that discards everything. Handy in tests.
func NewNop() *Logger {
  return &Logger{s: zap.NewNop().Sugar()}
}
