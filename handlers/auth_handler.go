package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/upb/restaurant-identity/middleware"
	"github.com/upb/restaurant-identity/models"
	"github.com/upb/restaurant-identity/services"
	"github.com/upb/restaurant-identity/services/auth"
	"github.com/upb/restaurant-identity/utils"
	"go.uber.org/zap"
)

// AuthResponse is returned by register and login
type AuthResponse struct {
	Message string             `json:"message"`
	User    models.UserSummary `json:"user"`
	Token   string             `json:"token"`
}

// AuthHandler serves the /api/auth endpoints. Request bodies arrive already
// decoded and validated by the route's Validate stage.
type AuthHandler struct {
	auth   *auth.Service
	logger *zap.Logger
}

// NewAuthHandler creates a new AuthHandler
func NewAuthHandler(svc *auth.Service, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{
		auth:   svc,
		logger: logger,
	}
}

// Register handles POST /api/auth/register
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	req, ok := middleware.RequestBody[utils.RegisterRequest](r.Context())
	if !ok {
		h.missingBody(w, r)
		return
	}

	res, err := h.auth.Register(r.Context(), auth.RegisterInput{
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Email:     req.Email,
		Password:  req.Password,
		Role:      models.Role(req.Role),
	}, middleware.RequestMeta(r))
	if err != nil {
		HandleServiceError(w, r, err, h.logger)
		return
	}

	_ = utils.WriteCreated(w, AuthResponse{
		Message: "User registered successfully",
		User:    res.User.Summary(),
		Token:   res.Token,
	})
}

// Login handles POST /api/auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	req, ok := middleware.RequestBody[utils.LoginRequest](r.Context())
	if !ok {
		h.missingBody(w, r)
		return
	}

	res, err := h.auth.Login(r.Context(), auth.LoginInput{
		Email:    req.Email,
		Password: req.Password,
	}, middleware.RequestMeta(r))
	if err != nil {
		HandleServiceError(w, r, err, h.logger)
		return
	}

	_ = utils.WriteOK(w, AuthResponse{
		Message: "Login successful",
		User:    res.User.Summary(),
		Token:   res.Token,
	})
}

// Profile handles GET /api/auth/profile
func (h *AuthHandler) Profile(w http.ResponseWriter, r *http.Request) {
	user := middleware.IdentityFromContext(r.Context())
	if user == nil {
		HandleServiceError(w, r, services.ErrNotAuthenticated, h.logger)
		return
	}
	_ = utils.WriteOK(w, user.Profile())
}

// Logout handles POST /api/auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	user := middleware.IdentityFromContext(r.Context())
	claims := middleware.ClaimsFromContext(r.Context())
	if user == nil || claims == nil {
		HandleServiceError(w, r, services.ErrNotAuthenticated, h.logger)
		return
	}

	if err := h.auth.Logout(r.Context(), user, claims, middleware.RequestMeta(r)); err != nil {
		HandleServiceError(w, r, err, h.logger)
		return
	}
	_ = utils.WriteMessage(w, "Logged out successfully")
}

// ChangePassword handles PUT /api/auth/password
func (h *AuthHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	user := middleware.IdentityFromContext(r.Context())
	if user == nil {
		HandleServiceError(w, r, services.ErrNotAuthenticated, h.logger)
		return
	}
	req, ok := middleware.RequestBody[utils.ChangePasswordRequest](r.Context())
	if !ok {
		h.missingBody(w, r)
		return
	}

	if err := h.auth.ChangePassword(r.Context(), user, req.CurrentPassword, req.NewPassword, middleware.RequestMeta(r)); err != nil {
		HandleServiceError(w, r, err, h.logger)
		return
	}
	_ = utils.WriteMessage(w, "Password changed successfully")
}

// GetUser handles GET /api/auth/users/{id}
func (h *AuthHandler) GetUser(w http.ResponseWriter, r *http.Request) {
	id, err := utils.ParseUUID("id", chi.URLParam(r, "id"))
	if err != nil {
		HandleServiceError(w, r, err, h.logger)
		return
	}

	user, err := h.auth.GetUser(r.Context(), id)
	if err != nil {
		HandleServiceError(w, r, err, h.logger)
		return
	}
	_ = utils.WriteOK(w, user.Profile())
}

// EventsResponse is returned by the audit trail endpoint
type EventsResponse struct {
	Events []*models.AuditLog `json:"events"`
	Limit  int                `json:"limit"`
	Offset int                `json:"offset"`
}

// ListEvents handles GET /api/auth/users/{id}/events?limit=&offset=
func (h *AuthHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	id, err := utils.ParseUUID("id", chi.URLParam(r, "id"))
	if err != nil {
		HandleServiceError(w, r, err, h.logger)
		return
	}
	query := r.URL.Query()
	limit, err := utils.ParseQueryInt("limit", query.Get("limit"), 50)
	if err != nil {
		HandleServiceError(w, r, err, h.logger)
		return
	}
	offset, err := utils.ParseQueryInt("offset", query.Get("offset"), 0)
	if err != nil {
		HandleServiceError(w, r, err, h.logger)
		return
	}
	if limit == 0 || limit > auth.MaxEventPage {
		limit = auth.MaxEventPage
	}

	events, err := h.auth.Events(r.Context(), id, limit, offset)
	if err != nil {
		HandleServiceError(w, r, err, h.logger)
		return
	}
	_ = utils.WriteOK(w, EventsResponse{Events: events, Limit: limit, Offset: offset})
}

// missingBody means the route was registered without its Validate stage
func (h *AuthHandler) missingBody(w http.ResponseWriter, r *http.Request) {
	HandleServiceError(w, r, services.WrapInternal("validated request body missing from context", nil), h.logger)
}
