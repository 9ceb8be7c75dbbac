package responder

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/a2v-stg/api-mock-lab/internal/models"
	"github.com/a2v-stg/api-mock-lab/internal/placeholder"
)

func scenarioEndpoint(index int) *models.MockEndpoint {
	return &models.MockEndpoint{
		ResponseCode: 201,
		ResponseBody: `{"legacy":true}`,
		DelayMs:      5,
		ResponseScenarios: []models.ResponseScenario{
			{Name: "ok", ResponseCode: 200, ResponseBody: `{"status":"ok"}`, ResponseHeaders: map[string]string{"X-Scenario": "ok"}},
			{Name: "boom", ResponseCode: 500, ResponseBody: `{"status":"error"}`, DelayMs: 20},
		},
		ActiveScenarioIndex: index,
	}
}

func TestSynthesize_ScenarioSelection(t *testing.T) {
	s := New(placeholder.New())

	resp := s.Synthesize(scenarioEndpoint(1))
	assert.Equal(t, 500, resp.StatusCode)
	assert.Equal(t, 20*time.Millisecond, resp.Delay)
	assert.Equal(t, 1, resp.ScenarioIndex)
	assert.Equal(t, map[string]any{"status": "error"}, resp.Payload)

	resp = s.Synthesize(scenarioEndpoint(0))
	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, "ok", resp.Headers["X-Scenario"])
	assert.Zero(t, resp.Delay)
}

func TestSynthesize_LegacyFallback(t *testing.T) {
	s := New(placeholder.New())

	outOfRange := scenarioEndpoint(5)
	resp := s.Synthesize(outOfRange)
	assert.Equal(t, 201, resp.StatusCode)
	assert.Equal(t, 5*time.Millisecond, resp.Delay)
	assert.Equal(t, -1, resp.ScenarioIndex)

	noScenarios := &models.MockEndpoint{ResponseCode: 202, ResponseBody: `{"a":1}`}
	resp = s.Synthesize(noScenarios)
	assert.Equal(t, 202, resp.StatusCode)
	assert.True(t, resp.IsJSON)
}

func TestSynthesize_SubstitutesAndParses(t *testing.T) {
	s := New(placeholder.New())

	resp := s.Synthesize(&models.MockEndpoint{ResponseCode: 200, ResponseBody: `{"id":"{{uuid}}","n":{{random_int:3:3}}}`})
	require.True(t, resp.IsJSON)
	obj := resp.Payload.(map[string]any)
	assert.Equal(t, json.Number("3"), obj["n"])
	assert.Len(t, obj["id"], 36)
	assert.NotContains(t, resp.Body, "{{")

	raw := s.Synthesize(&models.MockEndpoint{ResponseCode: 200, ResponseBody: `hello {{random_int:1:1}}`})
	assert.False(t, raw.IsJSON)
	assert.Equal(t, "hello 1", raw.Payload)
}

func TestResponse_Write(t *testing.T) {
	s := New(placeholder.New())

	rec := httptest.NewRecorder()
	resp := s.Synthesize(&models.MockEndpoint{
		ResponseCode:    418,
		ResponseBody:    `{"url":"http://x/?a=1&b=2","big":12345678901234567890}`,
		ResponseHeaders: map[string]string{"X-Mock": "yes"},
	})
	require.NoError(t, resp.Write(rec))
	assert.Equal(t, 418, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, "yes", rec.Header().Get("X-Mock"))
	assert.Equal(t, `{"big":12345678901234567890,"url":"http://x/?a=1&b=2"}`, rec.Body.String())

	rec = httptest.NewRecorder()
	resp = s.Synthesize(&models.MockEndpoint{ResponseCode: 200, ResponseBody: "<xml/>",
		ResponseHeaders: map[string]string{"Content-Type": "application/xml"}})
	require.NoError(t, resp.Write(rec))
	assert.Equal(t, "application/xml", rec.Header().Get("Content-Type"))
	assert.Equal(t, "<xml/>", rec.Body.String())

	rec = httptest.NewRecorder()
	resp = s.Synthesize(&models.MockEndpoint{ResponseBody: "plain"})
	require.NoError(t, resp.Write(rec))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/plain; charset=utf-8", rec.Header().Get("Content-Type"))
}

func TestWait(t *testing.T) {
	start := time.Now()
	require.NoError(t, Wait(context.Background(), 30*time.Millisecond))
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, Wait(ctx, time.Hour), context.Canceled)

	assert.NoError(t, Wait(ctx, 0))
}
