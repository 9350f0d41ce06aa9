package server

import (
	"errors"
	"net/http"

	"paygate/internal/auth"

	"github.com/charmbracelet/log"
)

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (h *handlers) login(w http.ResponseWriter, r *http.Request) {
	clientIP := auth.ClientIP(r)
	if !h.loginLimiter.Allow(clientIP) {
		log.Warn("Login throttled", "ip", clientIP)
		writeError(w, "Too many login attempts", http.StatusTooManyRequests)
		return
	}

	var credentials loginRequest
	if err := decodeJSON(w, r, &credentials); err != nil {
		writeError(w, "Invalid request", http.StatusBadRequest)
		return
	}

	ok, err := auth.CheckCredentials(credentials.Username, credentials.Password)
	if err != nil {
		if errors.Is(err, auth.ErrCredentialsNotConfigured) {
			log.Error("Login rejected: VALID_USERNAME/VALID_PASSWORD not set")
		}
		writeError(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	if !ok {
		log.Info("Invalid login attempt", "ip", clientIP)
		writeError(w, "Invalid credentials", http.StatusUnauthorized)
		return
	}

	token, err := auth.GenerateJWT(credentials.Username)
	if err != nil {
		log.Error("Could not issue token", "error", err)
		writeError(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"success": true, "token": token})
}

func checkLogin(w http.ResponseWriter, r *http.Request) {
	username, err := auth.GetUsernameFromRequest(r)
	if err != nil {
		writeError(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"username": username})
}
