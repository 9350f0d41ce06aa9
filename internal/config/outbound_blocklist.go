package config

import (
	"net/url"
	"strings"
	"sync/atomic"
)

// websiteBlocklistSet holds normalized hostnames that outbound requests must not reach.
var websiteBlocklistSet atomic.Value

// NormalizeWebsiteBlacklist trims, lowercases, and deduplicates host entries.
func NormalizeWebsiteBlacklist(entries []string) []string {
	unique := make(map[string]struct{}, len(entries))
	normalized := make([]string, 0, len(entries))

	for _, raw := range entries {
		host := NormalizeHostname(raw)
		if host == "" {
			continue
		}
		if _, exists := unique[host]; exists {
			continue
		}
		unique[host] = struct{}{}
		normalized = append(normalized, host)
	}

	return normalized
}

// NewWebsiteBlocklistSet builds a lookup set from the provided entries.
func NewWebsiteBlocklistSet(entries []string) map[string]struct{} {
	normalized := NormalizeWebsiteBlacklist(entries)
	set := make(map[string]struct{}, len(normalized))
	for _, host := range normalized {
		set[host] = struct{}{}
	}
	return set
}

func updateWebsiteBlocklist(entries []string) {
	websiteBlocklistSet.Store(NewWebsiteBlocklistSet(entries))
}

// IsWebsiteBlocked reports whether the given URL or hostname matches the configured blacklist.
func IsWebsiteBlocked(rawURL string) bool {
	set, _ := websiteBlocklistSet.Load().(map[string]struct{})
	return IsWebsiteBlockedForSet(rawURL, set)
}

// FindBlockedURLs returns the subset of urls whose host is present in the given blocklist set.
func FindBlockedURLs(urls []string, blockedSet map[string]struct{}) []string {
	if len(urls) == 0 || len(blockedSet) == 0 {
		return nil
	}

	var blocked []string
	for _, raw := range urls {
		if strings.TrimSpace(raw) == "" {
			continue
		}
		if IsWebsiteBlockedForSet(raw, blockedSet) {
			blocked = append(blocked, raw)
		}
	}
	return blocked
}

func IsWebsiteBlockedForSet(rawURL string, blockedSet map[string]struct{}) bool {
	if len(blockedSet) == 0 {
		return false
	}

	host := NormalizeHostname(rawURL)
	if host == "" {
		return false
	}

	if _, ok := blockedSet[host]; ok {
		return true
	}

	for blocked := range blockedSet {
		if strings.HasSuffix(host, "."+blocked) {
			return true
		}
	}

	return false
}

// NormalizeHostname extracts the lowercased host of a URL or bare hostname.
func NormalizeHostname(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ""
	}

	// Allow bare hostnames by prefixing a scheme for URL parsing.
	if !strings.Contains(trimmed, "://") {
		trimmed = "https://" + trimmed
	}

	parsed, err := url.Parse(trimmed)
	if err != nil {
		return ""
	}

	host := strings.ToLower(parsed.Hostname())
	return strings.Trim(host, ".")
}
