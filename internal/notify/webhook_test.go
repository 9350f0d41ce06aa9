package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"paygate/internal/domain"
)

func TestWebhookNotifier_PostsNotices(t *testing.T) {
	var calls atomic.Int32
	var received []domain.NewDeviceNotice
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	notifier := NewWebhookNotifier(WithWebhookURL(srv.URL))
	notices := []domain.NewDeviceNotice{{UTM: "utmY", DeviceID: "def456", NewDevice: true}}

	if err := notifier.NotifyNewDevices(context.Background(), notices); err != nil {
		t.Fatalf("NotifyNewDevices returned error: %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("webhook called %d times, want 1", calls.Load())
	}
	want := domain.NewDeviceNotice{UTM: "utmY", DeviceID: "def456", NewDevice: true}
	if len(received) != 1 || received[0] != want {
		t.Fatalf("webhook received %+v", received)
	}
}

func TestWebhookNotifier_EmptyListSkipsCall(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	if err := NewWebhookNotifier(WithWebhookURL(srv.URL)).NotifyNewDevices(context.Background(), nil); err != nil {
		t.Fatalf("NotifyNewDevices returned error: %v", err)
	}
	if calls.Load() != 0 {
		t.Fatalf("webhook called %d times, want 0", calls.Load())
	}
}

func TestWebhookNotifier_MissingURLIsSkipped(t *testing.T) {
	notices := []domain.NewDeviceNotice{{DeviceID: "x", NewDevice: true}}
	notifier := NewWebhookNotifier()

	// The shipped defaults enable notifications without a webhook url.
	for i := 0; i < 2; i++ {
		if err := notifier.NotifyNewDevices(context.Background(), notices); err != nil {
			t.Fatalf("call %d: NotifyNewDevices returned %v, want nil for an unconfigured webhook", i+1, err)
		}
	}
}

func TestWebhookNotifier_Errors(t *testing.T) {
	notices := []domain.NewDeviceNotice{{DeviceID: "x", NewDevice: true}}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	if err := NewWebhookNotifier(WithWebhookURL(srv.URL)).NotifyNewDevices(context.Background(), notices); err == nil {
		t.Fatal("expected error for 502 response")
	}
}
