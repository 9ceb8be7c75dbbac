package callback

import (
	"strings"

	"github.com/a2v-stg/api-mock-lab/internal/models"
)

// ExtractURL walks a dot-separated field path through nested objects and
// returns the value only when it is a string.
func ExtractURL(data any, fieldPath string) (string, bool) {
	if fieldPath == "" {
		return "", false
	}
	current := data
	for _, part := range strings.Split(fieldPath, ".") {
		obj, ok := current.(map[string]any)
		if !ok {
			return "", false
		}
		if current, ok = obj[part]; !ok {
			return "", false
		}
	}
	s, ok := current.(string)
	return s, ok
}

// ResolveURL prefers a URL extracted from the request payload and falls back to the static one.
func ResolveURL(cfg models.CallbackConfig, requestPayload any) (string, bool) {
	if cfg.ExtractFromRequest {
		if u, ok := ExtractURL(requestPayload, cfg.ExtractField); ok && u != "" {
			return u, true
		}
	}
	if cfg.URL != "" {
		return cfg.URL, true
	}
	return "", false
}
