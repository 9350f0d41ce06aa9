package domain

import (
	"strings"
	"time"
)

// DeviceBlockRequest is the operator-facing shape of a blocklist entry.
type DeviceBlockRequest struct {
	DeviceID string `json:"device_id"`
	UTM      string `json:"utm"`
}

// BlockedVisitor is the entry format spoken by the site plugin.
type BlockedVisitor struct {
	DeviceID     string `json:"deviceId"`
	AffiliateUTM string `json:"affiliate_utm"`
	BlockedAt    string `json:"blocked_at,omitempty"`
	// AffiliateEmail is only ever reported by the plugin, never sent.
	AffiliateEmail string `json:"affiliate_email,omitempty"`
}

// NewDeviceNotice is one element of the new-device webhook payload.
type NewDeviceNotice struct {
	UTM       string `json:"utm"`
	DeviceID  string `json:"deviceId"`
	NewDevice bool   `json:"newDevice"`
}

// ToBlockedVisitors converts operator requests into plugin entries sharing one
// blocked_at timestamp. Values are trimmed; a missing utm becomes "".
func ToBlockedVisitors(requests []DeviceBlockRequest, blockedAt time.Time) []BlockedVisitor {
	stamp := blockedAt.UTC().Format(time.RFC3339Nano)
	out := make([]BlockedVisitor, 0, len(requests))
	for _, req := range requests {
		out = append(out, BlockedVisitor{
			DeviceID:     strings.TrimSpace(req.DeviceID),
			AffiliateUTM: strings.TrimSpace(req.UTM),
			BlockedAt:    stamp,
		})
	}
	return out
}
