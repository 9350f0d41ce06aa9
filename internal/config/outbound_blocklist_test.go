package config

import (
	"reflect"
	"testing"
)

func TestNormalizeWebsiteBlacklist(t *testing.T) {
	input := []string{" Internal.Example ", "http://internal.example/path", "10.0.0.5", "https://10.0.0.5:8080", ""}
	want := []string{"internal.example", "10.0.0.5"}

	got := NormalizeWebsiteBlacklist(input)
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("NormalizeWebsiteBlacklist(%v) = %v, want %v", input, got, want)
	}
}

func TestIsWebsiteBlocked(t *testing.T) {
	updateWebsiteBlocklist([]string{"corp.internal"})
	defer updateWebsiteBlocklist(GetConfig().OutboundBlacklist)

	cases := []struct {
		url      string
		blocked  bool
		testName string
	}{
		{"http://corp.internal", true, "exact host"},
		{"https://vault.corp.internal/secret", true, "subdomain"},
		{"https://shop.example.com/wp-json", false, "different domain"},
		{"", false, "empty"},
	}

	for _, tc := range cases {
		if got := IsWebsiteBlocked(tc.url); got != tc.blocked {
			t.Errorf("%s: IsWebsiteBlocked(%q) = %v, want %v", tc.testName, tc.url, got, tc.blocked)
		}
	}
}

func TestFindBlockedURLs(t *testing.T) {
	set := NewWebsiteBlocklistSet([]string{"hooks.internal"})
	urls := []string{"https://hooks.internal/notify", "https://hooks.example.com", " "}

	got := FindBlockedURLs(urls, set)
	want := []string{"https://hooks.internal/notify"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("FindBlockedURLs = %v, want %v", got, want)
	}
}
