package server

import (
	"errors"
	"net/http"
	"strconv"

	"paygate/internal/database"
	"paygate/internal/domain"
	"paygate/internal/pluginapi"

	"github.com/charmbracelet/log"
)

type createSiteRequest struct {
	URL    string `json:"url"`
	APIKey string `json:"apiKey"`
}

type updateGatewaysRequest struct {
	PaymentGateways []domain.PaymentGateway `json:"paymentGateways"`
}

func writeSiteError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, database.ErrSiteNotFound):
		writeError(w, "Site not found", http.StatusNotFound)
	case errors.Is(err, database.ErrSiteURLRequired),
		errors.Is(err, database.ErrSiteAPIKeyRequired),
		errors.Is(err, database.ErrSiteURLInvalid):
		writeError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, database.ErrSiteURLBlocked):
		writeError(w, "Site URL is blocked", http.StatusBadRequest)
	case errors.Is(err, database.ErrSiteURLConflict):
		writeError(w, "Site with this URL already exists", http.StatusConflict)
	default:
		log.Error("Site registry failure", "error", err)
		writeError(w, "Internal server error", http.StatusInternalServerError)
	}
}

// loadSite resolves the {id} path value, writing the error response itself
// when the site cannot be used.
func loadSite(w http.ResponseWriter, r *http.Request) (*domain.Site, bool) {
	site, err := database.GetSite(r.Context(), r.PathValue("id"))
	if err != nil {
		writeSiteError(w, err)
		return nil, false
	}
	return site, true
}

func maskSites(sites []domain.Site) []domain.Site {
	masked := make([]domain.Site, 0, len(sites))
	for _, site := range sites {
		masked = append(masked, site.Masked())
	}
	return masked
}

func listSites(w http.ResponseWriter, r *http.Request) {
	sites, err := database.ListSites(r.Context())
	if err != nil {
		writeSiteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, maskSites(sites))
}

func createSite(w http.ResponseWriter, r *http.Request) {
	var req createSiteRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	site, err := database.CreateSite(r.Context(), req.URL, req.APIKey)
	if err != nil {
		writeSiteError(w, err)
		return
	}

	log.Info("Site registered", "site", site.URL)
	writeJSON(w, http.StatusCreated, site.Masked())
}

func getSite(w http.ResponseWriter, r *http.Request) {
	site, ok := loadSite(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, site.Masked())
}

func deleteSite(w http.ResponseWriter, r *http.Request) {
	site, err := database.DeleteSite(r.Context(), r.PathValue("id"))
	if err != nil {
		writeSiteError(w, err)
		return
	}

	log.Info("Site deleted", "site", site.URL)
	writeJSON(w, http.StatusOK, map[string]any{
		"success":     true,
		"message":     "Site deleted successfully",
		"deletedSite": site.Masked(),
	})
}

func listSyncRuns(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeError(w, "Invalid limit", http.StatusBadRequest)
			return
		}
		limit = parsed
	}

	runs, err := database.ListSyncRuns(r.Context(), limit)
	if err != nil {
		log.Error("Could not list sync runs", "error", err)
		writeError(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

func (h *handlers) updateSiteGateways(w http.ResponseWriter, r *http.Request) {
	site, ok := loadSite(w, r)
	if !ok {
		return
	}

	var req updateGatewaysRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	update := domain.GatewayCountryUpdate(req.PaymentGateways)
	if err := h.plugin.UpdatePaymentGateways(r.Context(), *site, update); err != nil {
		log.Warn("Payment gateway update failed", "site", site.URL, "error", err)
		writeError(w, "Failed to update payment gateways on WordPress site", http.StatusInternalServerError)
		return
	}

	gateways, err := h.plugin.GetPaymentGateways(r.Context(), *site)
	if err != nil {
		log.Warn("Could not refresh payment gateways", "site", site.URL, "error", err)
		gateways = req.PaymentGateways
	}
	if gateways == nil {
		gateways = []domain.PaymentGateway{}
	}

	masked := site.Masked()
	writeJSON(w, http.StatusOK, struct {
		domain.Site
		PaymentGateways []domain.PaymentGateway `json:"paymentGateways"`
	}{Site: masked, PaymentGateways: gateways})
}

func (h *handlers) getPaymentGateways(w http.ResponseWriter, r *http.Request) {
	site, ok := loadSite(w, r)
	if !ok {
		return
	}

	gateways, err := h.plugin.GetPaymentGateways(r.Context(), *site)
	if err != nil {
		log.Warn("Could not load payment gateways", "site", site.URL, "error", err)
		status := http.StatusBadGateway
		if errors.Is(err, pluginapi.ErrHostBlocked) {
			status = http.StatusForbidden
		}
		writeError(w, "Failed to fetch payment gateways from WordPress site", status)
		return
	}
	if gateways == nil {
		gateways = []domain.PaymentGateway{}
	}
	writeJSON(w, http.StatusOK, gateways)
}
