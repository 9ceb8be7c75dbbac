package models

import "time"

// RequestLog is the immutable record of one transaction against an entity.
// MockEndpointID is nil when no endpoint matched.
type RequestLog struct {
	ID             string    `json:"id"`
	EntityID       string    `json:"entity_id"`
	MockEndpointID *string   `json:"mock_endpoint_id"`
	Method         string    `json:"method"`
	Path           string    `json:"path"`
	RequestHeaders string    `json:"request_headers"`
	RequestBody    *string   `json:"request_body"`
	QueryParams    string    `json:"query_params"`
	ResponseCode   int       `json:"response_code"`
	ResponseBody   string    `json:"response_body"`
	Timestamp      time.Time `json:"timestamp"`
}
