package auth

import (
	"log/slog"
	"net/http"

	"github.com/snapsell/backend/internal/models"
	"github.com/snapsell/backend/internal/router"
)

type SignupRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"display_name"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// SessionResponse is returned by both signup and login.
type SessionResponse struct {
	User  *models.User `json:"user"`
	Token string       `json:"token"`
}

type Handler struct {
	svc Service
	log *slog.Logger
}

func NewHandler(svc Service, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{svc: svc, log: log}
}

// Signup handles POST /v1/auth/signup.
func (h *Handler) Signup(w http.ResponseWriter, r *http.Request) {
	var req SignupRequest
	if err := router.Decode(r, &req); err != nil {
		router.Error(w, r, h.log, err)
		return
	}

	user, token, err := h.svc.Signup(r.Context(), req.Email, req.Password, req.DisplayName)
	if err != nil {
		router.Error(w, r, h.log, err)
		return
	}

	router.JSON(w, http.StatusCreated, SessionResponse{User: user, Token: token})
}

// Login handles POST /v1/auth/login.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := router.Decode(r, &req); err != nil {
		router.Error(w, r, h.log, err)
		return
	}

	user, token, err := h.svc.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		router.Error(w, r, h.log, err)
		return
	}

	router.JSON(w, http.StatusOK, SessionResponse{User: user, Token: token})
}
