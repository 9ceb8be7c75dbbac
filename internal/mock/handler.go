// Package mock serves the catch-all mock traffic route.
package mock

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/a2v-stg/api-mock-lab/internal/callback"
	"github.com/a2v-stg/api-mock-lab/internal/models"
	"github.com/a2v-stg/api-mock-lab/internal/placeholder"
	"github.com/a2v-stg/api-mock-lab/internal/reqlog"
	"github.com/a2v-stg/api-mock-lab/internal/resolver"
	"github.com/a2v-stg/api-mock-lab/internal/responder"
	"github.com/a2v-stg/api-mock-lab/internal/schema"
)

const (
	msgEntityNotFound   = "Entity not found for this endpoint"
	msgNoEndpoint       = "No matching mock endpoint found"
	msgValidationFailed = "Request validation failed"
	msgBodyNotJSON      = "Schema validation enabled but request body is not valid JSON"
)

// Scheduler accepts callbacks for background delivery.
type Scheduler interface {
	Schedule(job callback.Job) error
}

type Handler struct {
	resolver  *resolver.Resolver
	validator *schema.Validator
	synth     *responder.Synthesizer
	recorder  *reqlog.Recorder
	callbacks Scheduler
	engine    *placeholder.Engine
	maxBody   int64
	log       zerolog.Logger
}

type Deps struct {
	Resolver     *resolver.Resolver
	Validator    *schema.Validator
	Synthesizer  *responder.Synthesizer
	Recorder     *reqlog.Recorder
	Callbacks    Scheduler
	Placeholders *placeholder.Engine
	MaxBodyBytes int64
}

func NewHandler(d Deps, log zerolog.Logger) *Handler {
	return &Handler{
		resolver:  d.Resolver,
		validator: d.Validator,
		synth:     d.Synthesizer,
		recorder:  d.Recorder,
		callbacks: d.Callbacks,
		engine:    d.Placeholders,
		maxBody:   d.MaxBodyBytes,
		log:       log,
	}
}

// ServeHTTP runs resolve, validate, synthesize, record, schedule callback, respond.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	body, err := h.readBody(w, r)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "request body too large"})
			return
		}
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "failed to read request body"})
		return
	}

	entity, subPath, err := h.resolver.ResolveEntity(ctx, r.URL.Path)
	if err != nil {
		h.internalError(w, err, "failed to resolve entity")
		return
	}
	if entity == nil {
		// Request logs are keyed by entity, so a path outside every base path is only traced here.
		h.log.Info().Str("method", r.Method).Str("path", r.URL.Path).Msg("no entity for mock path")
		writeJSON(w, http.StatusNotFound, map[string]string{"error": msgEntityNotFound})
		return
	}

	entry := reqlog.Capture(r, body, entity.ID, subPath)
	// The transaction is recorded even if the client hangs up mid-delay.
	recordCtx := context.WithoutCancel(ctx)

	ep, err := h.resolver.MatchEndpoint(ctx, entity.ID, r.Method, subPath)
	if err != nil {
		h.internalError(w, err, "failed to match endpoint")
		return
	}
	if ep == nil {
		h.reject(recordCtx, w, entry, http.StatusNotFound, map[string]string{"error": msgNoEndpoint})
		return
	}
	entry.MockEndpointID = &ep.ID

	payload, isJSON := parseRequestJSON(body)

	if ep.SchemaValidationEnabled && ep.RequestSchema != "" {
		if !isJSON {
			h.reject(recordCtx, w, entry, http.StatusBadRequest, map[string]string{"error": msgBodyNotJSON})
			return
		}
		if err := h.validator.Validate(ep.RequestSchema, payload); err != nil {
			h.reject(recordCtx, w, entry, http.StatusBadRequest, map[string]string{
				"error":   msgValidationFailed,
				"details": err.Error(),
			})
			return
		}
	}

	resp := h.synth.Synthesize(ep)
	if err := responder.Wait(ctx, resp.Delay); err != nil {
		h.log.Debug().Str("endpoint_id", ep.ID).Msg("client left during response delay")
	}

	entry.ResponseCode = resp.StatusCode
	entry.ResponseBody = resp.Body
	if err := h.recorder.Record(recordCtx, entry); err != nil {
		h.log.Error().Err(err).Str("entity_id", entity.ID).Msg("failed to record request")
	}

	if ep.CallbackConfig.Enabled {
		h.scheduleCallback(entity, ep, payload, resp)
	}

	if err := resp.Write(w); err != nil {
		h.log.Debug().Err(err).Str("endpoint_id", ep.ID).Msg("failed to write mock response")
	}
}

func (h *Handler) readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	reader := io.Reader(r.Body)
	if h.maxBody > 0 {
		reader = http.MaxBytesReader(w, r.Body, h.maxBody)
	}
	return io.ReadAll(reader)
}

// reject records and writes a terminal error outcome for a request that matched an entity.
func (h *Handler) reject(ctx context.Context, w http.ResponseWriter, entry *models.RequestLog, status int, body map[string]string) {
	encoded, _ := json.Marshal(body)
	entry.ResponseCode = status
	entry.ResponseBody = string(encoded)
	if err := h.recorder.Record(ctx, entry); err != nil {
		h.log.Error().Err(err).Str("entity_id", entry.EntityID).Msg("failed to record request")
	}
	writeJSON(w, status, body)
}

func (h *Handler) scheduleCallback(entity *models.Entity, ep *models.MockEndpoint, requestPayload any, resp *responder.Response) {
	cfg := ep.CallbackConfig
	target, ok := callback.ResolveURL(cfg, requestPayload)
	if !ok {
		h.log.Warn().Str("endpoint_id", ep.ID).Str("field", cfg.ExtractField).Msg("no callback url resolved")
		return
	}
	job := callback.Job{
		EntityID:   entity.ID,
		EndpointID: ep.ID,
		URL:        target,
		Method:     cfg.Method,
		Payload:    callback.BuildPayload(h.engine, cfg.Payload, resp.Payload),
		Delay:      time.Duration(cfg.DelayMs) * time.Millisecond,
	}
	// Schedule logs its own failures; the caller's response is unaffected.
	_ = h.callbacks.Schedule(job)
}

func (h *Handler) internalError(w http.ResponseWriter, err error, msg string) {
	h.log.Error().Err(err).Msg(msg)
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
}

func parseRequestJSON(body []byte) (any, bool) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, false
	}
	var v any
	if err := json.Unmarshal(body, &v); err != nil {
		return nil, false
	}
	return v, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
