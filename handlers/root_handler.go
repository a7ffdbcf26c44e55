package handlers

import (
	"net/http"
	"time"

	"github.com/upb/restaurant-identity/utils"
)

// WelcomeResponse is the body of GET /
type WelcomeResponse struct {
	Message   string                       `json:"message"`
	Status    string                       `json:"status"`
	Timestamp string                       `json:"timestamp"`
	Endpoints map[string]map[string]string `json:"endpoints"`
}

// Root handles GET /
func Root(w http.ResponseWriter, r *http.Request) {
	_ = utils.WriteOK(w, WelcomeResponse{
		Message:   "Welcome to Restaurant API",
		Status:    "Server is running!",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Endpoints: map[string]map[string]string{
			"auth": {
				"register":       "POST /api/auth/register",
				"login":          "POST /api/auth/login",
				"profile":        "GET /api/auth/profile",
				"logout":         "POST /api/auth/logout",
				"changePassword": "PUT /api/auth/password",
				"getUser":        "GET /api/auth/users/{id}",
				"userEvents":     "GET /api/auth/users/{id}/events",
			},
		},
	})
}

// NotFound handles unknown routes
func NotFound(w http.ResponseWriter, r *http.Request) {
	_ = utils.WriteNotFound(w, "Route not found")
}

// MethodNotAllowed handles known routes called with the wrong method
func MethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	_ = utils.WriteJSON(w, http.StatusMethodNotAllowed, utils.ErrorResponse{
		Error:     "method_not_allowed",
		Message:   "Method not allowed",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}
