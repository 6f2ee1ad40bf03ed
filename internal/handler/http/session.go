package http

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/001Space/cartsync/internal/engine"
	"github.com/001Space/cartsync/internal/session"
	"github.com/001Space/cartsync/pkg/httputil"
	"github.com/001Space/cartsync/pkg/validator"
)

// SessionHandler manages the daemon's login credential. Logging in
// installs a bearer token and re-initializes the cart from the remote
// store; logging out drops the credential and resets the cart.
type SessionHandler struct {
	session *session.Manager
	engine  *engine.Engine
	logger  *slog.Logger
}

// NewSessionHandler creates a session HTTP handler.
func NewSessionHandler(mgr *session.Manager, eng *engine.Engine, logger *slog.Logger) *SessionHandler {
	return &SessionHandler{
		session: mgr,
		engine:  eng,
		logger:  logger,
	}
}

// InstallRequest is the JSON request body for installing a credential.
type InstallRequest struct {
	Token string `json:"token" validate:"required"`
}

// Install handles PUT /api/v1/session
func (h *SessionHandler) Install(w http.ResponseWriter, r *http.Request) {
	var req InstallRequest
	if err := validator.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	h.session.Install(req.Token)
	h.logger.InfoContext(r.Context(), "session credential installed")

	res, err := h.engine.Initialize(r.Context())
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: res.Cart, Fallback: res.Fallback})
}

// Logout handles DELETE /api/v1/session
func (h *SessionHandler) Logout(w http.ResponseWriter, r *http.Request) {
	h.session.Logout()
	h.engine.Reset(context.WithoutCancel(r.Context()))
	h.logger.InfoContext(r.Context(), "session credential removed, cart reset")

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: map[string]string{"status": "logged_out"}})
}
