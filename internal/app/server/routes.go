package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"paygate/internal/auth"
	"paygate/internal/blocksync"
	"paygate/internal/database"
	jobruntime "paygate/internal/jobs/runtime"
	"paygate/internal/ogdata"
	"paygate/internal/pluginapi"

	"github.com/charmbracelet/log"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

const (
	shutdownTimeout   = 10 * time.Second
	readHeaderTimeout = 10 * time.Second
	maxRequestBody    = 4 << 20
)

// Dependencies are the collaborators the HTTP layer talks to.
type Dependencies struct {
	Plugin       *pluginapi.Client
	Synchronizer *blocksync.Synchronizer
	OGFetcher    *ogdata.Fetcher
	HealthStore  jobruntime.HealthStore
	// Redis is nil when running without redis.
	Redis *redis.Client
}

type handlers struct {
	plugin       *pluginapi.Client
	synchronizer *blocksync.Synchronizer
	og           *ogdata.Fetcher
	health       jobruntime.HealthStore
	redis        *redis.Client
	loginLimiter *auth.LoginLimiter
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, msg string, status int) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	return json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(dst)
}

func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS, PUT, DELETE")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func NewRouter(deps Dependencies) http.Handler {
	h := &handlers{
		plugin:       deps.Plugin,
		synchronizer: deps.Synchronizer,
		og:           deps.OGFetcher,
		health:       deps.HealthStore,
		redis:        deps.Redis,
		loginLimiter: auth.NewLoginLimiter(),
	}
	if h.plugin == nil {
		h.plugin = pluginapi.NewClient()
	}
	if h.synchronizer == nil {
		h.synchronizer = blocksync.New(database.SiteRegistry{}, h.plugin)
	}
	if h.og == nil {
		h.og = ogdata.NewFetcher()
	}
	if h.health == nil {
		h.health = &jobruntime.MemoryHealthStore{}
	}

	protected := func(fn http.HandlerFunc) http.Handler {
		return auth.RequireAuth(fn)
	}

	router := http.NewServeMux()
	router.HandleFunc("GET /api/version", getVersion)
	router.HandleFunc("POST /api/auth/login", h.login)
	router.Handle("GET /api/auth/check", protected(checkLogin))

	router.Handle("GET /api/settings", protected(getSettings))
	router.Handle("POST /api/settings", protected(saveSettings))

	router.Handle("GET /api/sites", protected(listSites))
	router.Handle("POST /api/sites", protected(createSite))
	router.Handle("GET /api/sites/health", protected(h.getSiteHealth))
	router.Handle("GET /api/sites/sync-runs", protected(listSyncRuns))
	router.Handle("POST /api/sites/blocked-visitors-all", protected(h.syncAllBlockedVisitors))
	router.Handle("POST /api/sites/blocked-visitors-all-progress", protected(h.streamAllBlockedVisitors))

	router.Handle("GET /api/sites/{id}", protected(getSite))
	router.Handle("PUT /api/sites/{id}", protected(h.updateSiteGateways))
	router.Handle("DELETE /api/sites/{id}", protected(deleteSite))
	router.Handle("GET /api/sites/{id}/payment-gateways", protected(h.getPaymentGateways))
	router.Handle("GET /api/sites/{id}/blocked-visitors", protected(h.getSiteBlockedVisitors))
	router.Handle("POST /api/sites/{id}/blocked-visitors", protected(h.updateSiteBlockedVisitors))

	router.Handle("GET /api/sites/{id}/utm-sources", protected(h.getUTMSources))
	router.Handle("POST /api/sites/{id}/utm-sources", protected(h.saveUTMSources))
	router.Handle("GET /api/sites/{id}/allowed-currencies", protected(h.getAllowedCurrencies))
	router.Handle("POST /api/sites/{id}/allowed-currencies", protected(h.saveAllowedCurrencies))
	router.Handle("GET /api/sites/{id}/allowed-utm-sources", protected(h.forwardAllowedUTMSources))
	router.Handle("POST /api/sites/{id}/allowed-utm-sources", protected(h.forwardAllowedUTMSources))
	router.Handle("GET /api/sites/{id}/block-all-countries", protected(h.forwardBlockAllCountries))
	router.Handle("POST /api/sites/{id}/block-all-countries", protected(h.forwardBlockAllCountries))

	router.Handle("POST /api/og-data", protected(h.getOGData))

	if gqlHandler, err := getGraphQLHandler(); err != nil {
		log.Error("GraphQL schema could not be built", "error", err)
	} else {
		router.Handle("POST /graphql", protected(gqlHandler.ServeHTTP))
		router.Handle("GET /graphql", protected(gqlHandler.ServeHTTP))
	}

	return enableCORS(router)
}

// OpenRoutes serves the API until ctx is cancelled, then shuts down gracefully.
func OpenRoutes(ctx context.Context, port int, deps Dependencies) error {
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           NewRouter(deps),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	log.Debug("Routes opened")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Infof("Starting paygate backend on port :%d", port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("api server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		log.Info("Shutting down API server")
		return server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
