package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"paygate/internal/blocksync"
	"paygate/internal/domain"

	"github.com/charmbracelet/log"
)

func decodeDesiredBlocklist(w http.ResponseWriter, r *http.Request) ([]domain.DeviceBlockRequest, error) {
	var desired []domain.DeviceBlockRequest
	if err := decodeJSON(w, r, &desired); err != nil {
		return nil, err
	}
	if desired == nil {
		desired = []domain.DeviceBlockRequest{}
	}
	return desired, nil
}

func writeSyncError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, blocksync.ErrNoSites):
		writeError(w, "No sites found", http.StatusNotFound)
	case errors.Is(err, blocksync.ErrSyncInProgress):
		writeError(w, "A blocklist sync is already running", http.StatusConflict)
	default:
		log.Error("Blocklist sync could not start", "error", err)
		writeError(w, "Internal server error", http.StatusInternalServerError)
	}
}

func (h *handlers) getSiteBlockedVisitors(w http.ResponseWriter, r *http.Request) {
	site, ok := loadSite(w, r)
	if !ok {
		return
	}

	visitors, err := h.plugin.GetBlockedVisitors(r.Context(), *site)
	if err != nil {
		log.Warn("Could not load blocked visitors", "site", site.URL, "error", err)
		visitors = []domain.BlockedVisitor{}
	}
	if visitors == nil {
		visitors = []domain.BlockedVisitor{}
	}
	writeJSON(w, http.StatusOK, visitors)
}

func (h *handlers) updateSiteBlockedVisitors(w http.ResponseWriter, r *http.Request) {
	site, ok := loadSite(w, r)
	if !ok {
		return
	}

	desired, err := decodeDesiredBlocklist(w, r)
	if err != nil {
		writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	run, err := h.synchronizer.PrepareSites([]domain.Site{*site}, desired, domain.SyncTriggerSite)
	if err != nil {
		writeSyncError(w, err)
		return
	}

	summary := run.Execute(context.WithoutCancel(r.Context()), nil)
	if summary.Failed() {
		writeError(w, "Failed to update blocked visitors on WordPress site", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":       true,
		"total_blocked": summary.Results[0].TotalBlocked,
		"newDevices":    len(summary.NewDevices),
	})
}

func (h *handlers) syncAllBlockedVisitors(w http.ResponseWriter, r *http.Request) {
	desired, err := decodeDesiredBlocklist(w, r)
	if err != nil {
		writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	summary, err := h.synchronizer.Sync(context.WithoutCancel(r.Context()), desired, domain.SyncTriggerBatch, nil)
	if err != nil {
		writeSyncError(w, err)
		return
	}

	final := summary.FinalEvent()
	if summary.Failed() {
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"error":       final.Error,
			"failedSites": final.FailedSites,
			"results":     final.Results,
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":    true,
		"message":    final.Message,
		"totalSites": final.TotalSites,
		"newDevices": len(summary.NewDevices),
		"results":    final.Results,
	})
}

// streamAllBlockedVisitors pushes the desired blocklist to every site and
// reports each step as a server-sent event. The run continues after the
// client goes away; remaining events are discarded.
func (h *handlers) streamAllBlockedVisitors(w http.ResponseWriter, r *http.Request) {
	desired, err := decodeDesiredBlocklist(w, r)
	if err != nil {
		writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	runCtx := context.WithoutCancel(r.Context())
	run, err := h.synchronizer.Prepare(runCtx, desired, domain.SyncTriggerStream)
	if err != nil {
		writeSyncError(w, err)
		return
	}

	flusher, _ := w.(http.Flusher)
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	if flusher != nil {
		flusher.Flush()
	}

	connected := true
	for ev := range run.Stream(runCtx) {
		if !connected {
			continue
		}
		if err := writeEvent(w, ev); err != nil {
			log.Debug("Sync progress client disconnected", "error", err)
			connected = false
			continue
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
}

func writeEvent(w http.ResponseWriter, ev blocksync.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", payload)
	return err
}
