// Package responder builds the mock response for a matched endpoint.
package responder

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/a2v-stg/api-mock-lab/internal/models"
	"github.com/a2v-stg/api-mock-lab/internal/placeholder"
)

type Response struct {
	StatusCode int
	Headers    map[string]string
	// Body is the template after placeholder substitution; it is what gets logged.
	Body string
	// Payload is Body parsed as JSON, or Body itself when it is not JSON.
	Payload any
	IsJSON  bool
	Delay   time.Duration
	// ScenarioIndex is -1 when the legacy single response was used.
	ScenarioIndex int
}

type Synthesizer struct {
	engine *placeholder.Engine
}

func New(engine *placeholder.Engine) *Synthesizer {
	return &Synthesizer{engine: engine}
}

// Synthesize selects the active scenario (or the legacy fields) and expands its body.
func (s *Synthesizer) Synthesize(ep *models.MockEndpoint) *Response {
	resp := &Response{
		StatusCode:    ep.ResponseCode,
		Headers:       ep.ResponseHeaders,
		Delay:         time.Duration(ep.DelayMs) * time.Millisecond,
		ScenarioIndex: -1,
	}
	body := ep.ResponseBody
	if sc, ok := ep.ActiveScenario(); ok {
		resp.StatusCode = sc.ResponseCode
		resp.Headers = sc.ResponseHeaders
		resp.Delay = time.Duration(sc.DelayMs) * time.Millisecond
		resp.ScenarioIndex = ep.ActiveScenarioIndex
		body = sc.ResponseBody
	}
	if resp.StatusCode == 0 {
		resp.StatusCode = http.StatusOK
	}
	if resp.Headers == nil {
		resp.Headers = map[string]string{}
	}

	resp.Body = s.engine.Replace(body)
	resp.Payload, resp.IsJSON = parseJSON(resp.Body)
	return resp
}

func parseJSON(body string) (any, bool) {
	dec := json.NewDecoder(bytes.NewReader([]byte(body)))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return body, false
	}
	if dec.More() {
		return body, false
	}
	return v, true
}

// Wait sleeps for d without holding anything but the calling goroutine. It
// returns ctx.Err() if the client goes away first.
func Wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Write emits the response. JSON payloads are re-encoded as application/json;
// anything else is written verbatim as text unless the endpoint set its own Content-Type.
func (r *Response) Write(w http.ResponseWriter) error {
	var out []byte
	contentType := "text/plain; charset=utf-8"
	if r.IsJSON {
		var buf bytes.Buffer
		enc := json.NewEncoder(&buf)
		enc.SetEscapeHTML(false)
		if err := enc.Encode(r.Payload); err != nil {
			return err
		}
		out = bytes.TrimRight(buf.Bytes(), "\n")
		contentType = "application/json"
	} else {
		out = []byte(r.Body)
	}

	h := w.Header()
	h.Set("Content-Type", contentType)
	for k, v := range r.Headers {
		h.Set(k, v)
	}
	h.Set("Content-Length", strconv.Itoa(len(out)))
	w.WriteHeader(r.StatusCode)
	_, err := w.Write(out)
	return err
}
