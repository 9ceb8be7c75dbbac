package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/a2v-stg/api-mock-lab/internal/auth"
	"github.com/a2v-stg/api-mock-lab/internal/models"
	"github.com/a2v-stg/api-mock-lab/internal/storage"
)

const (
	msgEntityConflict = "Entity name or base path conflicts with an existing entity"
	msgNameNoSlug     = "name must contain at least one letter or digit"
)

type EntityHandler struct {
	store  storage.Storage
	prefix string
}

func NewEntityHandler(store storage.Storage, prefix string) *EntityHandler {
	return &EntityHandler{store: store, prefix: prefix}
}

type createEntityRequest struct {
	Name     string `json:"name" validate:"required,max=100"`
	IsPublic bool   `json:"is_public"`
}

func (h *EntityHandler) Create(w http.ResponseWriter, r *http.Request) {
	user := auth.UserFrom(r.Context())

	var req createEntityRequest
	if err := decodeRequest(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	name := strings.TrimSpace(req.Name)
	if models.Slug(name) == "" {
		writeError(w, http.StatusBadRequest, msgNameNoSlug)
		return
	}

	e := &models.Entity{
		ID:         models.NewID("ent"),
		Name:       name,
		APIKey:     models.NewAPIKey(),
		BasePath:   models.BasePathFor(h.prefix, name),
		OwnerID:    user.ID,
		IsPublic:   req.IsPublic,
		SharedWith: []string{},
		CreatedAt:  time.Now().UTC(),
	}
	err := h.store.CreateEntity(r.Context(), e)
	if errors.Is(err, storage.ErrConflict) {
		writeError(w, http.StatusConflict, msgEntityConflict)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create entity")
		return
	}
	writeJSON(w, http.StatusCreated, e)
}

func (h *EntityHandler) List(w http.ResponseWriter, r *http.Request) {
	user := auth.UserFrom(r.Context())

	all, err := h.store.ListEntities(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list entities")
		return
	}
	visible := make([]models.Entity, 0, len(all))
	for i := range all {
		if auth.CanAccess(user, &all[i], auth.Read) {
			visible = append(visible, all[i])
		}
	}
	writeJSON(w, http.StatusOK, visible)
}

func (h *EntityHandler) Get(w http.ResponseWriter, r *http.Request) {
	e, ok := loadEntity(w, r, h.store, chi.URLParam(r, "id"), auth.Read)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, e)
}

type updateEntityRequest struct {
	Name     *string `json:"name" validate:"omitempty,max=100"`
	IsPublic *bool   `json:"is_public"`
}

func (h *EntityHandler) Update(w http.ResponseWriter, r *http.Request) {
	e, ok := loadEntity(w, r, h.store, chi.URLParam(r, "id"), auth.Write)
	if !ok {
		return
	}

	var req updateEntityRequest
	if err := decodeRequest(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if models.Slug(name) == "" {
			writeError(w, http.StatusBadRequest, msgNameNoSlug)
			return
		}
		e.Name = name
		e.BasePath = models.BasePathFor(h.prefix, name)
	}
	if req.IsPublic != nil {
		e.IsPublic = *req.IsPublic
	}

	err := h.store.UpdateEntity(r.Context(), e)
	if errors.Is(err, storage.ErrConflict) {
		writeError(w, http.StatusConflict, msgEntityConflict)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to update entity")
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (h *EntityHandler) Delete(w http.ResponseWriter, r *http.Request) {
	e, ok := loadEntity(w, r, h.store, chi.URLParam(r, "id"), auth.Read)
	if !ok {
		return
	}
	if !auth.CanManage(auth.UserFrom(r.Context()), e) {
		writeError(w, http.StatusForbidden, "only the owner can delete this entity")
		return
	}

	if err := h.store.DeleteEntity(r.Context(), e.ID); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to delete entity")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type shareRequest struct {
	UserID string `json:"user_id" validate:"required"`
}

func (h *EntityHandler) Share(w http.ResponseWriter, r *http.Request) {
	e, ok := loadEntity(w, r, h.store, chi.URLParam(r, "id"), auth.Read)
	if !ok {
		return
	}
	if !auth.CanManage(auth.UserFrom(r.Context()), e) {
		writeError(w, http.StatusForbidden, "only the owner can share this entity")
		return
	}

	var req shareRequest
	if err := decodeRequest(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	target, err := h.store.GetUser(r.Context(), req.UserID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get user")
		return
	}
	if target == nil {
		writeError(w, http.StatusNotFound, "user not found")
		return
	}

	if err := h.store.ShareEntity(r.Context(), e.ID, target.ID); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to share entity")
		return
	}
	h.writeFresh(w, r, e.ID)
}

func (h *EntityHandler) Unshare(w http.ResponseWriter, r *http.Request) {
	e, ok := loadEntity(w, r, h.store, chi.URLParam(r, "id"), auth.Read)
	if !ok {
		return
	}
	if !auth.CanManage(auth.UserFrom(r.Context()), e) {
		writeError(w, http.StatusForbidden, "only the owner can unshare this entity")
		return
	}

	if err := h.store.UnshareEntity(r.Context(), e.ID, chi.URLParam(r, "user_id")); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to unshare entity")
		return
	}
	h.writeFresh(w, r, e.ID)
}

func (h *EntityHandler) writeFresh(w http.ResponseWriter, r *http.Request, id string) {
	e, err := h.store.GetEntity(r.Context(), id)
	if err != nil || e == nil {
		writeError(w, http.StatusInternalServerError, "failed to get entity")
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (h *EntityHandler) Stats(w http.ResponseWriter, r *http.Request) {
	e, ok := loadEntity(w, r, h.store, chi.URLParam(r, "id"), auth.Read)
	if !ok {
		return
	}
	stats, err := h.store.GetStats(r.Context(), e.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get stats")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *EntityHandler) Logs(w http.ResponseWriter, r *http.Request) {
	e, ok := loadEntity(w, r, h.store, chi.URLParam(r, "id"), auth.Read)
	if !ok {
		return
	}
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}
	logs, err := h.store.ListRequestLogs(r.Context(), e.ID, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list logs")
		return
	}
	if logs == nil {
		logs = []models.RequestLog{}
	}
	writeJSON(w, http.StatusOK, logs)
}

func (h *EntityHandler) ClearLogs(w http.ResponseWriter, r *http.Request) {
	e, ok := loadEntity(w, r, h.store, chi.URLParam(r, "id"), auth.Write)
	if !ok {
		return
	}
	n, err := h.store.ClearRequestLogs(r.Context(), e.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to clear logs")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "Logs cleared", "deleted": n})
}

// loadEntity fetches an entity and checks the caller's access, writing
// the error response itself when it returns false.
func loadEntity(w http.ResponseWriter, r *http.Request, store storage.Storage, id string, mode auth.Access) (*models.Entity, bool) {
	e, err := store.GetEntity(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get entity")
		return nil, false
	}
	if e == nil {
		writeError(w, http.StatusNotFound, "entity not found")
		return nil, false
	}
	if !auth.CanAccess(auth.UserFrom(r.Context()), e, mode) {
		writeError(w, http.StatusForbidden, "access denied")
		return nil, false
	}
	return e, true
}

func parseLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 || n > 1000 {
		writeError(w, http.StatusBadRequest, "limit must be between 1 and 1000")
		return 0, false
	}
	return n, true
}
