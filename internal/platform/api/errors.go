package api

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"
)

// FetchError reports a failed backend call: a non-2xx status, a transport
// failure (StatusCode 0) or an undecodable body. Detail is safe to show to
// the user as a retryable message.
type FetchError struct {
	Method     string
	Path       string
	StatusCode int
	Detail     string
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("%s %s: %s", e.Method, e.Path, e.Detail)
	}
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.StatusCode, e.Detail)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Temporary reports whether retrying the same call later may succeed.
func (e *FetchError) Temporary() bool {
	return e.StatusCode == 0 || e.StatusCode == 429 || e.StatusCode >= 500
}

type validationItem struct {
	Msg string `json:"msg"`
}

// extractDetail turns an error body into a human-readable message. The
// backend answers with {"detail": "..."} or {"detail": [{"msg": "..."}]};
// anything else is treated as plain text.
func extractDetail(body []byte, status int) string {
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" {
		return fmt.Sprintf("request failed with status %d", status)
	}

	var envelope struct {
		Detail json.RawMessage `json:"detail"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil && len(envelope.Detail) > 0 {
		var s string
		if err := json.Unmarshal(envelope.Detail, &s); err == nil && strings.TrimSpace(s) != "" {
			return s
		}
		var items []validationItem
		if err := json.Unmarshal(envelope.Detail, &items); err == nil {
			msgs := make([]string, 0, len(items))
			for _, it := range items {
				if m := strings.TrimSpace(it.Msg); m != "" {
					msgs = append(msgs, m)
				}
			}
			if len(msgs) > 0 {
				return strings.Join(msgs, "; ")
			}
		}
		return fmt.Sprintf("request failed with status %d", status)
	}

	if strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[") {
		return fmt.Sprintf("request failed with status %d", status)
	}
	const maxDetail = 512
	if len(trimmed) > maxDetail {
		cut := maxDetail
		for cut > 0 && !utf8.RuneStart(trimmed[cut]) {
			cut--
		}
		trimmed = trimmed[:cut]
	}
	return trimmed
}
