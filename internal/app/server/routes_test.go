package server

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"paygate/internal/auth"
	"paygate/internal/blocksync"
	"paygate/internal/database"
	"paygate/internal/domain"
	"paygate/internal/pluginapi"
	"paygate/internal/security"

	"gorm.io/driver/sqlite"
)

type fakePluginSite struct {
	mu       sync.Mutex
	entries  []domain.BlockedVisitor
	failGet  bool
	failPost bool
	posts    int
	calls    atomic.Int32
}

func (f *fakePluginSite) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.calls.Add(1)
	if r.URL.Path != "/wp-json/pagw/v1/blocked-visitors" {
		http.NotFound(w, r)
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	switch r.Method {
	case http.MethodGet:
		if f.failGet {
			http.Error(w, "bad gateway", http.StatusBadGateway)
			return
		}
		_ = json.NewEncoder(w).Encode(f.entries)
	case http.MethodPost:
		f.posts++
		if f.failPost {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		var entries []domain.BlockedVisitor
		if err := json.NewDecoder(r.Body).Decode(&entries); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f.entries = entries
		_ = json.NewEncoder(w).Encode(map[string]any{"success": true, "total_blocked": len(entries)})
	}
}

type recordingNotifier struct {
	mu    sync.Mutex
	calls [][]domain.NewDeviceNotice
}

func (n *recordingNotifier) NotifyNewDevices(_ context.Context, devices []domain.NewDeviceNotice) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, append([]domain.NewDeviceNotice(nil), devices...))
	return nil
}

type testEnv struct {
	router   http.Handler
	notifier *recordingNotifier
	token    string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	t.Setenv("SITE_KEY_ENCRYPTION_KEY", "server-test-key")
	security.ResetSiteCipherForTests()
	t.Cleanup(security.ResetSiteCipherForTests)

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := database.SetupDB(database.WithDialector(sqlite.Open(dsn)))
	if err != nil {
		t.Fatalf("setup database: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
		database.DB = nil
	})

	token, err := auth.GenerateJWT("operator")
	if err != nil {
		t.Fatalf("GenerateJWT returned error: %v", err)
	}

	plugin := pluginapi.NewClient()
	notifier := &recordingNotifier{}
	synchronizer := blocksync.New(database.SiteRegistry{}, plugin,
		blocksync.WithNotifier(notifier),
		blocksync.WithRecorder(database.SyncRunRecorder{}),
	)

	return &testEnv{
		router:   NewRouter(Dependencies{Plugin: plugin, Synchronizer: synchronizer}),
		notifier: notifier,
		token:    token,
	}
}

func (e *testEnv) addSite(t *testing.T, site *fakePluginSite) domain.Site {
	t.Helper()
	srv := httptest.NewServer(site)
	t.Cleanup(srv.Close)

	created, err := database.CreateSite(context.Background(), srv.URL, "plugin-key")
	if err != nil {
		t.Fatalf("CreateSite returned error: %v", err)
	}
	return *created
}

func (e *testEnv) do(method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+e.token)
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func readEvents(t *testing.T, body io.Reader) []blocksync.Event {
	t.Helper()

	var events []blocksync.Event
	scanner := bufio.NewScanner(body)
	expectBlank := false
	for scanner.Scan() {
		line := scanner.Text()
		if expectBlank {
			if line != "" {
				t.Fatalf("event not terminated by a blank line, got %q", line)
			}
			expectBlank = false
			continue
		}
		payload, ok := strings.CutPrefix(line, "data: ")
		if !ok {
			t.Fatalf("unexpected SSE line %q", line)
		}
		var ev blocksync.Event
		if err := json.Unmarshal([]byte(payload), &ev); err != nil {
			t.Fatalf("decode event %q: %v", payload, err)
		}
		events = append(events, ev)
		expectBlank = true
	}
	return events
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodGet, "/api/sites", nil)
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestLogin(t *testing.T) {
	env := newTestEnv(t)
	t.Setenv("VALID_USERNAME", "operator")
	t.Setenv("VALID_PASSWORD", "hunter2")

	tests := []struct {
		name   string
		body   string
		status int
	}{
		{name: "valid", body: `{"username":"operator","password":"hunter2"}`, status: http.StatusOK},
		{name: "wrong password", body: `{"username":"operator","password":"nope"}`, status: http.StatusUnauthorized},
		{name: "malformed", body: `{`, status: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(http.MethodPost, "/api/auth/login", tt.body)
			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d (%s)", rec.Code, tt.status, rec.Body.String())
			}
			if tt.status != http.StatusOK {
				return
			}
			var resp struct {
				Success bool   `json:"success"`
				Token   string `json:"token"`
			}
			if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
				t.Fatalf("decode response: %v", err)
			}
			if !resp.Success || resp.Token == "" {
				t.Fatalf("unexpected login response %+v", resp)
			}
			if _, err := auth.ValidateJWT(resp.Token); err != nil {
				t.Fatalf("issued token does not validate: %v", err)
			}
		})
	}
}

func TestSiteCRUD(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodPost, "/api/sites", `{"url":"https://shop.example.com/","apiKey":"abcdef123456"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d (%s)", rec.Code, rec.Body.String())
	}
	var created domain.Site
	if err := json.NewDecoder(rec.Body).Decode(&created); err != nil {
		t.Fatalf("decode site: %v", err)
	}
	if created.URL != "https://shop.example.com" {
		t.Fatalf("url = %q, want trailing slash stripped", created.URL)
	}
	if created.APIKey != "********3456" {
		t.Fatalf("apiKey = %q, want masked", created.APIKey)
	}

	if rec := env.do(http.MethodPost, "/api/sites", `{"url":"https://shop.example.com","apiKey":"other"}`); rec.Code != http.StatusConflict {
		t.Fatalf("duplicate status = %d, want 409", rec.Code)
	}
	if rec := env.do(http.MethodPost, "/api/sites", `{"url":"ftp://shop","apiKey":"k"}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("invalid url status = %d, want 400", rec.Code)
	}

	rec = env.do(http.MethodGet, "/api/sites", "")
	var listed []domain.Site
	if err := json.NewDecoder(rec.Body).Decode(&listed); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(listed) != 1 || listed[0].APIKey == "abcdef123456" {
		t.Fatalf("unexpected list %+v", listed)
	}

	if rec := env.do(http.MethodDelete, "/api/sites/"+created.ID, ""); rec.Code != http.StatusOK {
		t.Fatalf("delete status = %d", rec.Code)
	}
	if rec := env.do(http.MethodGet, "/api/sites/"+created.ID, ""); rec.Code != http.StatusNotFound {
		t.Fatalf("get after delete status = %d, want 404", rec.Code)
	}
}

func TestStreamAllBlockedVisitors_FramesEveryEvent(t *testing.T) {
	env := newTestEnv(t)
	first := &fakePluginSite{entries: []domain.BlockedVisitor{{DeviceID: "abc123"}}}
	second := &fakePluginSite{entries: []domain.BlockedVisitor{{DeviceID: "abc123"}}}
	third := &fakePluginSite{}
	env.addSite(t, first)
	env.addSite(t, second)
	env.addSite(t, third)

	rec := env.do(http.MethodPost, "/api/sites/blocked-visitors-all-progress",
		`[{"device_id":"abc123","utm":"utmX"},{"device_id":"def456","utm":"utmY"}]`)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d (%s)", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("Content-Type = %q", ct)
	}

	events := readEvents(t, rec.Body)
	if len(events) != 1+3*2+1 {
		t.Fatalf("got %d events, want 8: %+v", len(events), events)
	}
	if events[0].Type != blocksync.EventStart || events[0].TotalSites != 3 {
		t.Fatalf("first event = %+v", events[0])
	}
	last := events[len(events)-1]
	if last.Type != blocksync.EventComplete || last.NewDevices == nil || *last.NewDevices != 1 {
		t.Fatalf("last event = %+v", last)
	}

	if len(env.notifier.calls) != 1 {
		t.Fatalf("notifier called %d times, want 1", len(env.notifier.calls))
	}
	want := domain.NewDeviceNotice{UTM: "utmY", DeviceID: "def456", NewDevice: true}
	if got := env.notifier.calls[0]; len(got) != 1 || got[0] != want {
		t.Fatalf("notified %+v, want [%+v]", got, want)
	}
	if len(third.entries) != 2 {
		t.Fatalf("third site holds %d entries, want 2", len(third.entries))
	}
}

func TestStreamAllBlockedVisitors_NoSites(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodPost, "/api/sites/blocked-visitors-all-progress", `[{"device_id":"abc123","utm":"x"}]`)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	if len(env.notifier.calls) != 0 {
		t.Fatal("notifier must not be called without sites")
	}
}

func TestStreamAllBlockedVisitors_InvalidBody(t *testing.T) {
	env := newTestEnv(t)
	site := &fakePluginSite{}
	env.addSite(t, site)

	rec := env.do(http.MethodPost, "/api/sites/blocked-visitors-all-progress", `{"device_id":`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if site.calls.Load() != 0 {
		t.Fatalf("site contacted %d times before validation", site.calls.Load())
	}
}

func TestSyncAllBlockedVisitors_ReportsFailedSites(t *testing.T) {
	env := newTestEnv(t)
	healthy := env.addSite(t, &fakePluginSite{})
	broken := env.addSite(t, &fakePluginSite{failPost: true})

	rec := env.do(http.MethodPost, "/api/sites/blocked-visitors-all", `[{"device_id":"abc123","utm":"x"}]`)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}

	var resp struct {
		Error       string                 `json:"error"`
		FailedSites []string               `json:"failedSites"`
		Results     []blocksync.SiteResult `json:"results"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Error != "Some sites failed to update" {
		t.Fatalf("error = %q", resp.Error)
	}
	if len(resp.FailedSites) != 1 || resp.FailedSites[0] != broken.URL {
		t.Fatalf("failedSites = %v, want [%s]", resp.FailedSites, broken.URL)
	}
	if len(resp.Results) != 2 {
		t.Fatalf("results = %+v", resp.Results)
	}
	for _, result := range resp.Results {
		if result.Success != (result.SiteID == healthy.ID) {
			t.Fatalf("result %+v has wrong outcome", result)
		}
	}

	runs, err := database.ListSyncRuns(context.Background(), 10)
	if err != nil {
		t.Fatalf("ListSyncRuns returned error: %v", err)
	}
	if len(runs) != 1 || runs[0].Trigger != domain.SyncTriggerBatch || runs[0].Succeeded() {
		t.Fatalf("recorded runs = %+v", runs)
	}
}

func TestUpdateSiteBlockedVisitors(t *testing.T) {
	env := newTestEnv(t)
	fake := &fakePluginSite{entries: []domain.BlockedVisitor{{DeviceID: "known"}}}
	site := env.addSite(t, fake)

	rec := env.do(http.MethodPost, "/api/sites/"+site.ID+"/blocked-visitors",
		`[{"device_id":"known","utm":"a"},{"device_id":"fresh","utm":"b"}]`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d (%s)", rec.Code, rec.Body.String())
	}

	var resp struct {
		Success      bool `json:"success"`
		TotalBlocked int  `json:"total_blocked"`
		NewDevices   int  `json:"newDevices"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !resp.Success || resp.TotalBlocked != 2 || resp.NewDevices != 1 {
		t.Fatalf("unexpected response %+v", resp)
	}

	rec = env.do(http.MethodGet, "/api/sites/"+site.ID+"/blocked-visitors", "")
	var visitors []domain.BlockedVisitor
	if err := json.NewDecoder(rec.Body).Decode(&visitors); err != nil {
		t.Fatalf("decode visitors: %v", err)
	}
	if len(visitors) != 2 {
		t.Fatalf("site reports %d visitors, want 2", len(visitors))
	}
}

func TestUpdateSiteBlockedVisitors_UnreadableSiteIsLeftAlone(t *testing.T) {
	env := newTestEnv(t)
	fake := &fakePluginSite{entries: []domain.BlockedVisitor{{DeviceID: "abc123"}}, failGet: true}
	site := env.addSite(t, fake)

	rec := env.do(http.MethodPost, "/api/sites/"+site.ID+"/blocked-visitors", `[{"device_id":"abc123","utm":"x"}]`)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d (%s), want 500", rec.Code, rec.Body.String())
	}

	fake.mu.Lock()
	posts, entries := fake.posts, len(fake.entries)
	fake.mu.Unlock()
	if posts != 0 || entries != 1 {
		t.Fatalf("site received %d updates and holds %d entries, want untouched", posts, entries)
	}

	env.notifier.mu.Lock()
	defer env.notifier.mu.Unlock()
	if len(env.notifier.calls) != 0 {
		t.Fatalf("notifier called %d times, want 0", len(env.notifier.calls))
	}
}

func TestForwardBlockAllCountries_MapsUpstreamStatus(t *testing.T) {
	env := newTestEnv(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusUnauthorized)
	}))
	t.Cleanup(srv.Close)

	site, err := database.CreateSite(context.Background(), srv.URL, "wrong-key")
	if err != nil {
		t.Fatalf("CreateSite returned error: %v", err)
	}

	rec := env.do(http.MethodGet, "/api/sites/"+site.ID+"/block-all-countries", "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "Invalid API key") {
		t.Fatalf("body = %s", rec.Body.String())
	}
}

func TestGetUTMSources_FallsBackToEmptyObject(t *testing.T) {
	env := newTestEnv(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusBadGateway)
	}))
	t.Cleanup(srv.Close)

	site, err := database.CreateSite(context.Background(), srv.URL, "key")
	if err != nil {
		t.Fatalf("CreateSite returned error: %v", err)
	}

	rec := env.do(http.MethodGet, "/api/sites/"+site.ID+"/utm-sources", "")
	if rec.Code != http.StatusOK || strings.TrimSpace(rec.Body.String()) != "{}" {
		t.Fatalf("status = %d body = %q", rec.Code, rec.Body.String())
	}
}

func TestVersionIsPublic(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodGet, "/api/version", nil)
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"commit"`) {
		t.Fatalf("body = %s", rec.Body.String())
	}
}
