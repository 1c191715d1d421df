package normalization

import (
  "strings"
)

// ParseInputString trims surrounding whitespace and collapses the value to a
// canonical form for comparison and storage.
func ParseInputString(s string) string {
  return strings.TrimSpace(s)
}

func ParseInputStringPtr(s *string) *string {
  if s == nil {
    return nil
  }
  out := ParseInputString(*s)
  return &out
}

// ParseEmail lowercases in addition to trimming; emails are matched
// case-insensitively everywhere.
func ParseEmail(s string) string {
  return strings.ToLower(strings.TrimSpace(s))
}
