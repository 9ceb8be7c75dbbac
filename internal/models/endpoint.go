package models

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

var ErrInvalidEndpoint = errors.New("invalid mock endpoint")

// Methods lists the HTTP methods a mock endpoint (or its callback) may use.
var Methods = []string{
	http.MethodGet,
	http.MethodPost,
	http.MethodPut,
	http.MethodDelete,
	http.MethodPatch,
}

func IsSupportedMethod(method string) bool {
	for _, m := range Methods {
		if m == method {
			return true
		}
	}
	return false
}

type ResponseScenario struct {
	Name            string            `json:"name"`
	ResponseCode    int               `json:"response_code"`
	ResponseBody    string            `json:"response_body"`
	ResponseHeaders map[string]string `json:"response_headers"`
	DelayMs         int               `json:"delay_ms"`
}

// CallbackConfig describes the outbound notification sent after an endpoint is served.
type CallbackConfig struct {
	Enabled            bool   `json:"callback_enabled"`
	URL                string `json:"callback_url,omitempty"`
	Method             string `json:"callback_method"`
	DelayMs            int    `json:"callback_delay_ms"`
	ExtractFromRequest bool   `json:"callback_extract_from_request"`
	ExtractField       string `json:"callback_extract_field,omitempty"`
	Payload            string `json:"callback_payload,omitempty"`
}

type MockEndpoint struct {
	ID       string `json:"id"`
	EntityID string `json:"entity_id"`
	Name     string `json:"name"`
	Method   string `json:"method"`
	Path     string `json:"path"`
	IsActive bool   `json:"is_active"`

	// Legacy single response, used when no scenario is configured.
	ResponseBody    string            `json:"response_body"`
	ResponseCode    int               `json:"response_code"`
	ResponseHeaders map[string]string `json:"response_headers"`
	DelayMs         int               `json:"delay_ms"`

	ResponseScenarios   []ResponseScenario `json:"response_scenarios"`
	ActiveScenarioIndex int                `json:"active_scenario_index"`

	RequestSchema           string `json:"request_schema,omitempty"`
	SchemaValidationEnabled bool   `json:"schema_validation_enabled"`

	CallbackConfig

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ActiveScenario returns the selected scenario when the scenario list is
// non-empty and the index is in range.
func (e *MockEndpoint) ActiveScenario() (*ResponseScenario, bool) {
	if len(e.ResponseScenarios) == 0 {
		return nil, false
	}
	if e.ActiveScenarioIndex < 0 || e.ActiveScenarioIndex >= len(e.ResponseScenarios) {
		return nil, false
	}
	return &e.ResponseScenarios[e.ActiveScenarioIndex], true
}

// Normalize upper-cases methods and fills empty maps so stored records are uniform.
func (e *MockEndpoint) Normalize() {
	e.Method = strings.ToUpper(strings.TrimSpace(e.Method))
	if e.ResponseHeaders == nil {
		e.ResponseHeaders = map[string]string{}
	}
	if e.ResponseScenarios == nil {
		e.ResponseScenarios = []ResponseScenario{}
	}
	for i := range e.ResponseScenarios {
		if e.ResponseScenarios[i].ResponseHeaders == nil {
			e.ResponseScenarios[i].ResponseHeaders = map[string]string{}
		}
	}
	e.CallbackConfig.Method = strings.ToUpper(strings.TrimSpace(e.CallbackConfig.Method))
	if e.CallbackConfig.Method == "" {
		e.CallbackConfig.Method = http.MethodPost
	}
}

// Validate checks the cross-field invariants of an endpoint definition.
func (e *MockEndpoint) Validate() error {
	if !IsSupportedMethod(e.Method) {
		return fmt.Errorf("%w: unsupported method %q", ErrInvalidEndpoint, e.Method)
	}
	if !strings.HasPrefix(e.Path, "/") {
		return fmt.Errorf("%w: path must start with /", ErrInvalidEndpoint)
	}
	if e.DelayMs < 0 {
		return fmt.Errorf("%w: delay_ms must not be negative", ErrInvalidEndpoint)
	}
	if len(e.ResponseScenarios) > 0 {
		if e.ActiveScenarioIndex < 0 || e.ActiveScenarioIndex >= len(e.ResponseScenarios) {
			return fmt.Errorf("%w: active_scenario_index %d out of range", ErrInvalidEndpoint, e.ActiveScenarioIndex)
		}
	}
	for i, s := range e.ResponseScenarios {
		if s.DelayMs < 0 {
			return fmt.Errorf("%w: scenario %d delay_ms must not be negative", ErrInvalidEndpoint, i)
		}
	}

	cb := e.CallbackConfig
	if cb.ExtractFromRequest && strings.TrimSpace(cb.ExtractField) == "" {
		return fmt.Errorf("%w: callback_extract_field is required when extracting the callback url", ErrInvalidEndpoint)
	}
	if cb.Enabled {
		if cb.URL == "" && !cb.ExtractFromRequest {
			return fmt.Errorf("%w: callback requires callback_url or callback_extract_from_request", ErrInvalidEndpoint)
		}
		if !IsSupportedMethod(cb.Method) {
			return fmt.Errorf("%w: unsupported callback method %q", ErrInvalidEndpoint, cb.Method)
		}
		if cb.DelayMs < 0 {
			return fmt.Errorf("%w: callback_delay_ms must not be negative", ErrInvalidEndpoint)
		}
	}
	return nil
}
