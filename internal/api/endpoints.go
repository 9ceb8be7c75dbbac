package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/a2v-stg/api-mock-lab/internal/auth"
	"github.com/a2v-stg/api-mock-lab/internal/models"
	"github.com/a2v-stg/api-mock-lab/internal/schema"
	"github.com/a2v-stg/api-mock-lab/internal/storage"
)

type EndpointHandler struct {
	store   storage.Storage
	schemas *schema.Validator
}

func NewEndpointHandler(store storage.Storage, schemas *schema.Validator) *EndpointHandler {
	return &EndpointHandler{store: store, schemas: schemas}
}

type scenarioRequest struct {
	Name            string            `json:"name" validate:"max=100"`
	ResponseCode    int               `json:"response_code" validate:"omitempty,gte=100,lte=599"`
	ResponseBody    string            `json:"response_body"`
	ResponseHeaders map[string]string `json:"response_headers"`
	DelayMs         int               `json:"delay_ms" validate:"gte=0"`
}

// endpointRequest serves both create and partial update: nil fields are left
// untouched. A nil scenario list means "unchanged", an empty one clears it.
type endpointRequest struct {
	Name                    *string           `json:"name" validate:"omitempty,max=200"`
	Method                  *string           `json:"method" validate:"omitempty,oneof=GET POST PUT DELETE PATCH"`
	Path                    *string           `json:"path" validate:"omitempty,startswith=/"`
	IsActive                *bool             `json:"is_active"`
	ResponseBody            *string           `json:"response_body"`
	ResponseCode            *int              `json:"response_code" validate:"omitempty,gte=100,lte=599"`
	ResponseHeaders         map[string]string `json:"response_headers"`
	DelayMs                 *int              `json:"delay_ms" validate:"omitempty,gte=0"`
	ResponseScenarios       []scenarioRequest `json:"response_scenarios" validate:"dive"`
	ActiveScenarioIndex     *int              `json:"active_scenario_index" validate:"omitempty,gte=0"`
	RequestSchema           *string           `json:"request_schema"`
	SchemaValidationEnabled *bool             `json:"schema_validation_enabled"`

	CallbackEnabled            *bool   `json:"callback_enabled"`
	CallbackURL                *string `json:"callback_url" validate:"omitempty,url"`
	CallbackMethod             *string `json:"callback_method" validate:"omitempty,oneof=GET POST PUT DELETE PATCH"`
	CallbackDelayMs            *int    `json:"callback_delay_ms" validate:"omitempty,gte=0"`
	CallbackExtractFromRequest *bool   `json:"callback_extract_from_request"`
	CallbackExtractField       *string `json:"callback_extract_field"`
	CallbackPayload            *string `json:"callback_payload"`
}

// upperMethods runs before validation so lower-case methods are accepted.
func (req *endpointRequest) upperMethods() {
	if req.Method != nil {
		m := strings.ToUpper(strings.TrimSpace(*req.Method))
		req.Method = &m
	}
	if req.CallbackMethod != nil {
		m := strings.ToUpper(strings.TrimSpace(*req.CallbackMethod))
		req.CallbackMethod = &m
	}
}

func (req *endpointRequest) apply(ep *models.MockEndpoint) {
	setIf(&ep.Name, req.Name)
	setIf(&ep.Method, req.Method)
	setIf(&ep.Path, req.Path)
	setIf(&ep.IsActive, req.IsActive)
	setIf(&ep.ResponseBody, req.ResponseBody)
	setIf(&ep.ResponseCode, req.ResponseCode)
	if req.ResponseHeaders != nil {
		ep.ResponseHeaders = req.ResponseHeaders
	}
	setIf(&ep.DelayMs, req.DelayMs)
	if req.ResponseScenarios != nil {
		ep.ResponseScenarios = make([]models.ResponseScenario, len(req.ResponseScenarios))
		for i, s := range req.ResponseScenarios {
			code := s.ResponseCode
			if code == 0 {
				code = http.StatusOK
			}
			ep.ResponseScenarios[i] = models.ResponseScenario{
				Name:            s.Name,
				ResponseCode:    code,
				ResponseBody:    s.ResponseBody,
				ResponseHeaders: s.ResponseHeaders,
				DelayMs:         s.DelayMs,
			}
		}
		if req.ActiveScenarioIndex == nil && ep.ActiveScenarioIndex >= len(ep.ResponseScenarios) {
			ep.ActiveScenarioIndex = 0
		}
	}
	setIf(&ep.ActiveScenarioIndex, req.ActiveScenarioIndex)
	setIf(&ep.RequestSchema, req.RequestSchema)
	setIf(&ep.SchemaValidationEnabled, req.SchemaValidationEnabled)

	cb := &ep.CallbackConfig
	setIf(&cb.Enabled, req.CallbackEnabled)
	setIf(&cb.URL, req.CallbackURL)
	setIf(&cb.Method, req.CallbackMethod)
	setIf(&cb.DelayMs, req.CallbackDelayMs)
	setIf(&cb.ExtractFromRequest, req.CallbackExtractFromRequest)
	setIf(&cb.ExtractField, req.CallbackExtractField)
	setIf(&cb.Payload, req.CallbackPayload)
}

func setIf[T any](dst *T, src *T) {
	if src != nil {
		*dst = *src
	}
}

// check runs the model invariants and compiles the request schema.
// It returns a client-facing message, or "" when the endpoint is acceptable.
func (h *EndpointHandler) check(ep *models.MockEndpoint) string {
	ep.Normalize()
	if err := ep.Validate(); err != nil {
		return err.Error()
	}
	if strings.TrimSpace(ep.RequestSchema) != "" {
		if err := h.schemas.Check(ep.RequestSchema); err != nil {
			return "Invalid request schema: " + strings.TrimPrefix(err.Error(), schema.ErrInvalidSchema.Error()+": ")
		}
	}
	return ""
}

func (h *EndpointHandler) Create(w http.ResponseWriter, r *http.Request) {
	e, ok := loadEntity(w, r, h.store, chi.URLParam(r, "id"), auth.Write)
	if !ok {
		return
	}

	var req endpointRequest
	if !decodeEndpoint(w, r, &req) {
		return
	}
	if req.Method == nil || req.Path == nil {
		writeError(w, http.StatusBadRequest, "method and path are required")
		return
	}

	now := time.Now().UTC()
	ep := &models.MockEndpoint{
		ID:           models.NewID("ep"),
		EntityID:     e.ID,
		IsActive:     true,
		ResponseBody: "{}",
		ResponseCode: http.StatusOK,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	req.apply(ep)
	if msg := h.check(ep); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	if err := h.store.CreateEndpoint(r.Context(), ep); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create endpoint")
		return
	}
	writeJSON(w, http.StatusCreated, ep)
}

func (h *EndpointHandler) List(w http.ResponseWriter, r *http.Request) {
	e, ok := loadEntity(w, r, h.store, chi.URLParam(r, "id"), auth.Read)
	if !ok {
		return
	}
	eps, err := h.store.ListEndpoints(r.Context(), e.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list endpoints")
		return
	}
	if eps == nil {
		eps = []models.MockEndpoint{}
	}
	writeJSON(w, http.StatusOK, eps)
}

func (h *EndpointHandler) Get(w http.ResponseWriter, r *http.Request) {
	ep, ok := h.loadEndpoint(w, r, auth.Read)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, ep)
}

func (h *EndpointHandler) Update(w http.ResponseWriter, r *http.Request) {
	ep, ok := h.loadEndpoint(w, r, auth.Write)
	if !ok {
		return
	}

	var req endpointRequest
	if !decodeEndpoint(w, r, &req) {
		return
	}
	req.apply(ep)
	if msg := h.check(ep); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	if err := h.store.UpdateEndpoint(r.Context(), ep); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to update endpoint")
		return
	}
	writeJSON(w, http.StatusOK, ep)
}

func (h *EndpointHandler) Delete(w http.ResponseWriter, r *http.Request) {
	ep, ok := h.loadEndpoint(w, r, auth.Write)
	if !ok {
		return
	}
	if err := h.store.DeleteEndpoint(r.Context(), ep.ID); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to delete endpoint")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *EndpointHandler) Toggle(w http.ResponseWriter, r *http.Request) {
	ep, ok := h.loadEndpoint(w, r, auth.Write)
	if !ok {
		return
	}

	ep.IsActive = !ep.IsActive
	if err := h.store.UpdateEndpoint(r.Context(), ep); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to toggle endpoint")
		return
	}
	writeJSON(w, http.StatusOK, ep)
}

func (h *EndpointHandler) SwitchScenario(w http.ResponseWriter, r *http.Request) {
	ep, ok := h.loadEndpoint(w, r, auth.Write)
	if !ok {
		return
	}

	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "scenario index must be an integer")
		return
	}
	if len(ep.ResponseScenarios) == 0 {
		writeError(w, http.StatusBadRequest, "Endpoint has no response scenarios")
		return
	}
	if index < 0 || index >= len(ep.ResponseScenarios) {
		writeError(w, http.StatusBadRequest, "Scenario index out of range")
		return
	}

	if err := h.store.SetActiveScenario(r.Context(), ep.ID, index); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to switch scenario")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message":               "Switched to scenario: " + ep.ResponseScenarios[index].Name,
		"active_scenario_index": index,
		"scenario":              ep.ResponseScenarios[index],
	})
}

func (h *EndpointHandler) Logs(w http.ResponseWriter, r *http.Request) {
	ep, ok := h.loadEndpoint(w, r, auth.Read)
	if !ok {
		return
	}
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}
	logs, err := h.store.ListEndpointLogs(r.Context(), ep.ID, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list logs")
		return
	}
	if logs == nil {
		logs = []models.RequestLog{}
	}
	writeJSON(w, http.StatusOK, logs)
}

// loadEndpoint resolves the endpoint and checks access through its entity.
func (h *EndpointHandler) loadEndpoint(w http.ResponseWriter, r *http.Request, mode auth.Access) (*models.MockEndpoint, bool) {
	ep, err := h.store.GetEndpoint(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get endpoint")
		return nil, false
	}
	if ep == nil {
		writeError(w, http.StatusNotFound, "endpoint not found")
		return nil, false
	}
	if _, ok := loadEntity(w, r, h.store, ep.EntityID, mode); !ok {
		return nil, false
	}
	return ep, true
}

func decodeEndpoint(w http.ResponseWriter, r *http.Request, req *endpointRequest) bool {
	if err := decodeRequestRaw(r, req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	req.upperMethods()
	if err := validateRequest(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return false
	}
	return true
}
