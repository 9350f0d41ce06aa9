package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"paygate/internal/pluginapi"

	"github.com/charmbracelet/log"
)

var emptyObject = json.RawMessage("{}")

func writeRawJSON(w http.ResponseWriter, status int, raw json.RawMessage) {
	if len(raw) == 0 {
		raw = emptyObject
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(raw)
}

// readRawBody reads a JSON request body without interpreting it.
func readRawBody(w http.ResponseWriter, r *http.Request) (json.RawMessage, error) {
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return emptyObject, nil
	}
	if !json.Valid(raw) {
		return nil, errors.New("request body is not valid JSON")
	}
	return json.RawMessage(raw), nil
}

func (h *handlers) getUTMSources(w http.ResponseWriter, r *http.Request) {
	site, ok := loadSite(w, r)
	if !ok {
		return
	}

	raw, err := h.plugin.Forward(r.Context(), *site, http.MethodGet, pluginapi.ResourceBlockedCountries, nil)
	if err != nil {
		log.Warn("Could not load UTM source countries", "site", site.URL, "error", err)
		writeRawJSON(w, http.StatusOK, emptyObject)
		return
	}
	writeRawJSON(w, http.StatusOK, raw)
}

func (h *handlers) saveUTMSources(w http.ResponseWriter, r *http.Request) {
	site, ok := loadSite(w, r)
	if !ok {
		return
	}

	body, err := readRawBody(w, r)
	if err != nil {
		writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.plugin.PostAcknowledged(r.Context(), *site, pluginapi.ResourceBlockedCountries, body); err != nil {
		log.Warn("UTM source update failed", "site", site.URL, "error", err)
		writeError(w, "Failed to update UTM sources on WordPress site", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": body})
}

func (h *handlers) getAllowedCurrencies(w http.ResponseWriter, r *http.Request) {
	site, ok := loadSite(w, r)
	if !ok {
		return
	}

	raw, err := h.plugin.Forward(r.Context(), *site, http.MethodGet, pluginapi.ResourceAllowedCurrencies, nil)
	if err != nil {
		log.Warn("Could not load allowed currencies", "site", site.URL, "error", err)
		raw = emptyObject
	}
	writeRawJSON(w, http.StatusOK, raw)
}

func (h *handlers) saveAllowedCurrencies(w http.ResponseWriter, r *http.Request) {
	site, ok := loadSite(w, r)
	if !ok {
		return
	}

	body, err := readRawBody(w, r)
	if err != nil {
		writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	raw, err := h.plugin.Forward(r.Context(), *site, http.MethodPost, pluginapi.ResourceAllowedCurrencies, body)
	if err != nil {
		log.Warn("Allowed currencies update failed", "site", site.URL, "error", err)
		writeError(w, "Failed to update allowed currencies", http.StatusInternalServerError)
		return
	}
	if len(raw) == 0 {
		writeJSON(w, http.StatusOK, map[string]bool{"success": true})
		return
	}
	writeRawJSON(w, http.StatusOK, raw)
}

func (h *handlers) forwardAllowedUTMSources(w http.ResponseWriter, r *http.Request) {
	h.forward(w, r, pluginapi.ResourceAllowedUTMSources, func(w http.ResponseWriter, err error) {
		if status := pluginapi.StatusCodeOf(err); status != 0 {
			writeError(w, fmt.Sprintf("WordPress API error: %d", status), status)
			return
		}
		writeError(w, "No response from WordPress site", http.StatusServiceUnavailable)
	})
}

func (h *handlers) forwardBlockAllCountries(w http.ResponseWriter, r *http.Request) {
	h.forward(w, r, pluginapi.ResourceBlockAllCountries, func(w http.ResponseWriter, err error) {
		switch status := pluginapi.StatusCodeOf(err); status {
		case http.StatusNotFound:
			writeError(w, "WordPress plugin not found or not activated", http.StatusNotFound)
		case http.StatusUnauthorized:
			writeError(w, "Invalid API key", http.StatusUnauthorized)
		case http.StatusForbidden:
			writeError(w, "Access denied", http.StatusForbidden)
		case 0:
			writeError(w, "Internal server error", http.StatusInternalServerError)
		default:
			writeError(w, fmt.Sprintf("WordPress API error: %d %s", status, http.StatusText(status)), status)
		}
	})
}

// forward relays the request body to resource on the site and the plugin's
// answer back; onError renders upstream failures.
func (h *handlers) forward(w http.ResponseWriter, r *http.Request, resource string, onError func(http.ResponseWriter, error)) {
	site, ok := loadSite(w, r)
	if !ok {
		return
	}

	var body json.RawMessage
	if r.Method != http.MethodGet {
		var err error
		if body, err = readRawBody(w, r); err != nil {
			writeError(w, "Invalid request body", http.StatusBadRequest)
			return
		}
	}

	raw, err := h.plugin.Forward(r.Context(), *site, r.Method, resource, body)
	if err != nil {
		log.Warn("Plugin request failed", "site", site.URL, "resource", resource, "method", r.Method, "error", err)
		if errors.Is(err, pluginapi.ErrHostBlocked) {
			writeError(w, "Site host is blocked", http.StatusForbidden)
			return
		}
		onError(w, err)
		return
	}
	writeRawJSON(w, http.StatusOK, raw)
}
