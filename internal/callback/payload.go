package callback

import (
	"encoding/json"

	"github.com/a2v-stg/api-mock-lab/internal/placeholder"
)

// BuildPayload renders the callback body. A custom template is expanded and
// parsed as JSON; otherwise the synthesized response body is reused. Anything
// that is not a JSON object is wrapped as {"data": value}.
func BuildPayload(engine *placeholder.Engine, template string, responseBody any) map[string]any {
	if template == "" {
		return asObject(responseBody)
	}
	rendered := engine.Replace(template)
	var parsed any
	if err := json.Unmarshal([]byte(rendered), &parsed); err != nil {
		return map[string]any{"data": rendered}
	}
	return asObject(parsed)
}

func asObject(v any) map[string]any {
	if obj, ok := v.(map[string]any); ok {
		return obj
	}
	return map[string]any{"data": v}
}
