package pluginapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"paygate/internal/domain"
)

const (
	ResourceBlockedVisitors   = "blocked-visitors"
	ResourcePaymentGateways   = "payment-gateways"
	ResourceBlockedCountries  = "blocked-countries"
	ResourceAllowedCurrencies = "allowed-currencies"
	ResourceAllowedUTMSources = "allowed-utm-sources"
	ResourceBlockAllCountries = "block-all-countries"
)

// GetBlockedVisitors lists the site's current device blocklist. A response
// that is not a JSON array is treated as an empty list.
func (c *Client) GetBlockedVisitors(ctx context.Context, site domain.Site) ([]domain.BlockedVisitor, error) {
	raw, err := c.call(ctx, site, http.MethodGet, ResourceBlockedVisitors, nil)
	if err != nil {
		return nil, err
	}

	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return []domain.BlockedVisitor{}, nil
	}

	var entries []domain.BlockedVisitor
	if err := json.Unmarshal(trimmed, &entries); err != nil {
		return nil, fmt.Errorf("decode plugin %s response: %w", ResourceBlockedVisitors, err)
	}
	if entries == nil {
		entries = []domain.BlockedVisitor{}
	}
	return entries, nil
}

// ReplaceBlockedVisitors overwrites the site's blocklist with entries and
// returns the total the plugin reports afterwards.
func (c *Client) ReplaceBlockedVisitors(ctx context.Context, site domain.Site, entries []domain.BlockedVisitor) (int, error) {
	if entries == nil {
		entries = []domain.BlockedVisitor{}
	}
	ack, err := c.postExpectSuccess(ctx, site, ResourceBlockedVisitors, entries)
	if err != nil {
		return 0, err
	}
	return ack.TotalBlocked, nil
}

// GetPaymentGateways returns the gateways the site reports; a non-array answer yields nil.
func (c *Client) GetPaymentGateways(ctx context.Context, site domain.Site) ([]domain.PaymentGateway, error) {
	raw, err := c.call(ctx, site, http.MethodGet, ResourcePaymentGateways, nil)
	if err != nil {
		return nil, err
	}

	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return nil, nil
	}

	var gateways []domain.PaymentGateway
	if err := json.Unmarshal(trimmed, &gateways); err != nil {
		return nil, fmt.Errorf("decode plugin %s response: %w", ResourcePaymentGateways, err)
	}
	return gateways, nil
}

// UpdatePaymentGateways pushes gateway id to allowed-country restrictions.
func (c *Client) UpdatePaymentGateways(ctx context.Context, site domain.Site, update map[string][]string) error {
	if update == nil {
		update = map[string][]string{}
	}
	_, err := c.postExpectSuccess(ctx, site, ResourcePaymentGateways, update)
	return err
}

// Forward relays an opaque JSON document to or from a plugin resource. Errors
// are either *StatusError for upstream answers or transport failures.
func (c *Client) Forward(ctx context.Context, site domain.Site, method, resource string, body json.RawMessage) (json.RawMessage, error) {
	var payload []byte
	if method != http.MethodGet && len(body) > 0 {
		payload = body
	}
	raw, err := c.call(ctx, site, method, resource, payload)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(bytes.TrimSpace(raw)), nil
}

// PostAcknowledged forwards body and requires success:true in the answer.
func (c *Client) PostAcknowledged(ctx context.Context, site domain.Site, resource string, body json.RawMessage) error {
	if len(body) == 0 {
		body = json.RawMessage("{}")
	}
	_, err := c.postExpectSuccess(ctx, site, resource, body)
	return err
}
