package server

import (
	"errors"
	"net/http"

	"paygate/internal/app/version"
	"paygate/internal/config"
	jobruntime "paygate/internal/jobs/runtime"
	"paygate/internal/ogdata"

	"github.com/charmbracelet/log"
)

type ogDataRequest struct {
	URL string `json:"url"`
}

func getVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, version.Get())
}

func getSettings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, config.GetConfig())
}

func saveSettings(w http.ResponseWriter, r *http.Request) {
	var newConfig config.Config
	if err := decodeJSON(w, r, &newConfig); err != nil {
		writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := config.SetConfig(newConfig); err != nil {
		log.Error("Settings could not be saved", "error", err)
		writeError(w, "Failed to save settings", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, config.GetConfig())
}

func (h *handlers) getSiteHealth(w http.ResponseWriter, r *http.Request) {
	statuses, err := h.health.Load(r.Context())
	if err != nil {
		log.Error("Could not load site health", "error", err)
		writeError(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	if statuses == nil {
		statuses = []jobruntime.SiteHealth{}
	}

	response := map[string]any{"statuses": statuses}
	if h.redis != nil {
		if count, err := jobruntime.CountActiveInstances(r.Context(), h.redis); err != nil {
			log.Warn("Could not count active instances", "error", err)
		} else {
			response["activeInstances"] = count
		}
	}
	writeJSON(w, http.StatusOK, response)
}

func (h *handlers) getOGData(w http.ResponseWriter, r *http.Request) {
	var req ogDataRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	data, err := h.og.Fetch(r.Context(), req.URL)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": data})
	case errors.Is(err, ogdata.ErrURLRequired):
		writeError(w, "URL is required", http.StatusBadRequest)
	case errors.Is(err, ogdata.ErrURLInvalid):
		writeError(w, "URL is invalid", http.StatusBadRequest)
	case errors.Is(err, ogdata.ErrHostBlocked):
		writeError(w, "URL host is blocked", http.StatusForbidden)
	case errors.Is(err, ogdata.ErrFetchFailed):
		log.Warn("OG data fetch failed", "url", req.URL, "error", err)
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error":   "Failed to fetch website data",
			"details": err.Error(),
		})
	default:
		log.Error("OG data lookup failed", "url", req.URL, "error", err)
		writeError(w, "Internal server error", http.StatusInternalServerError)
	}
}
