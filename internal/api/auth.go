package api

import (
	"errors"
	"net/http"

	"github.com/a2v-stg/api-mock-lab/internal/auth"
	"github.com/a2v-stg/api-mock-lab/internal/storage"
)

type AuthHandler struct {
	svc *auth.Service
}

func NewAuthHandler(svc *auth.Service) *AuthHandler {
	return &AuthHandler{svc: svc}
}

type registerRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Username string `json:"username" validate:"required,min=3,max=50"`
	Password string `json:"password" validate:"required,min=6"`
}

func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeRequest(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	u, err := h.svc.Register(r.Context(), req.Email, req.Username, req.Password, false)
	if errors.Is(err, storage.ErrConflict) {
		writeError(w, http.StatusBadRequest, "Username or email already registered")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to register user")
		return
	}
	writeJSON(w, http.StatusCreated, u)
}

type loginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeRequest(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	u, token, err := h.svc.Login(r.Context(), req.Username, req.Password)
	if errors.Is(err, auth.ErrInvalidCredentials) {
		writeError(w, http.StatusUnauthorized, "Invalid credentials")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to log in")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user":    u,
		"token":   token,
		"message": "Login successful",
	})
}

func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, auth.UserFrom(r.Context()))
}

func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Logout(r.Context(), auth.BearerToken(r)); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to log out")
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: "Logged out"})
}
