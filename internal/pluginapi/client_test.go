package pluginapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"paygate/internal/domain"
)

func newTestSite(t *testing.T, handler http.HandlerFunc) domain.Site {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return domain.Site{ID: "site-1", URL: srv.URL + "/", APIKey: "secret-key"}
}

func TestGetBlockedVisitors_SendsKeyAndDecodes(t *testing.T) {
	site := newTestSite(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("method = %s, want GET", r.Method)
		}
		if r.URL.Path != "/wp-json/pagw/v1/blocked-visitors" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.Header.Get("X-API-Key"); got != "secret-key" {
			t.Errorf("X-API-Key = %q", got)
		}
		_, _ = io.WriteString(w, `[{"deviceId":"abc123","affiliate_utm":"utmX","blocked_at":"2026-01-01T00:00:00Z"}]`)
	})

	entries, err := NewClient().GetBlockedVisitors(context.Background(), site)
	if err != nil {
		t.Fatalf("GetBlockedVisitors returned error: %v", err)
	}
	if len(entries) != 1 || entries[0].DeviceID != "abc123" || entries[0].AffiliateUTM != "utmX" {
		t.Fatalf("unexpected entries: %+v", entries)
	}
}

func TestGetBlockedVisitors_NonArrayIsEmpty(t *testing.T) {
	site := newTestSite(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"code":"no_entries"}`)
	})

	entries, err := NewClient().GetBlockedVisitors(context.Background(), site)
	if err != nil {
		t.Fatalf("GetBlockedVisitors returned error: %v", err)
	}
	if entries == nil || len(entries) != 0 {
		t.Fatalf("expected empty non-nil list, got %#v", entries)
	}
}

func TestGetBlockedVisitors_StatusError(t *testing.T) {
	site := newTestSite(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusUnauthorized)
	})

	_, err := NewClient().GetBlockedVisitors(context.Background(), site)
	if StatusCodeOf(err) != http.StatusUnauthorized {
		t.Fatalf("StatusCodeOf(%v) = %d, want 401", err, StatusCodeOf(err))
	}
}

func TestReplaceBlockedVisitors(t *testing.T) {
	var received []domain.BlockedVisitor
	site := newTestSite(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Errorf("decode body: %v", err)
		}
		_, _ = io.WriteString(w, `{"success":true,"total_blocked":2}`)
	})

	entries := []domain.BlockedVisitor{
		{DeviceID: "abc123", AffiliateUTM: "utmX", BlockedAt: "2026-01-01T00:00:00Z"},
		{DeviceID: "def456", AffiliateUTM: "", BlockedAt: "2026-01-01T00:00:00Z"},
	}
	total, err := NewClient().ReplaceBlockedVisitors(context.Background(), site, entries)
	if err != nil {
		t.Fatalf("ReplaceBlockedVisitors returned error: %v", err)
	}
	if total != 2 {
		t.Fatalf("total = %d, want 2", total)
	}
	if len(received) != 2 || received[1].DeviceID != "def456" {
		t.Fatalf("plugin received %+v", received)
	}
}

func TestReplaceBlockedVisitors_Rejected(t *testing.T) {
	site := newTestSite(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"success":false,"message":"invalid payload"}`)
	})

	_, err := NewClient().ReplaceBlockedVisitors(context.Background(), site, nil)
	if !errors.Is(err, ErrUpdateRejected) {
		t.Fatalf("expected ErrUpdateRejected, got %v", err)
	}
}

func TestClient_BlockedHostIsRefused(t *testing.T) {
	site := domain.Site{URL: "http://localhost:9", APIKey: "k"}

	_, err := NewClient().GetBlockedVisitors(context.Background(), site)
	if !errors.Is(err, ErrHostBlocked) {
		t.Fatalf("expected ErrHostBlocked, got %v", err)
	}
}

func TestUpdatePaymentGateways(t *testing.T) {
	var received map[string][]string
	site := newTestSite(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/wp-json/pagw/v1/payment-gateways" {
			t.Errorf("path = %s", r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&received)
		_, _ = io.WriteString(w, `{"success":true}`)
	})

	update := domain.GatewayCountryUpdate([]domain.PaymentGateway{
		{ID: "stripe", AllowedCountries: []string{"US", "DE"}},
		{ID: "paypal"},
	})
	if err := NewClient().UpdatePaymentGateways(context.Background(), site, update); err != nil {
		t.Fatalf("UpdatePaymentGateways returned error: %v", err)
	}
	if len(received["stripe"]) != 2 || received["paypal"][0] != "all" {
		t.Fatalf("plugin received %v", received)
	}
}

func TestForward_CustomBasePath(t *testing.T) {
	site := newTestSite(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/custom/allowed-currencies" {
			t.Errorf("path = %s", r.URL.Path)
		}
		_, _ = io.WriteString(w, ` {"USD":true} `)
	})

	raw, err := NewClient(WithBasePath("custom/")).Forward(context.Background(), site, http.MethodGet, ResourceAllowedCurrencies, nil)
	if err != nil {
		t.Fatalf("Forward returned error: %v", err)
	}
	if string(raw) != `{"USD":true}` {
		t.Fatalf("Forward returned %s", raw)
	}
}
