package pluginapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"paygate/internal/config"
	"paygate/internal/domain"
)

const (
	apiKeyHeader    = "X-API-Key"
	maxErrorBodyLen = 2048
	maxResponseLen  = 8 << 20
)

var (
	// ErrUpdateRejected is returned when the plugin answers a write without success:true.
	ErrUpdateRejected = errors.New("plugin rejected the update")
	ErrHostBlocked    = errors.New("site host is on the outbound blacklist")
)

// StatusError is returned for non-2xx plugin responses.
type StatusError struct {
	Resource   string
	StatusCode int
	Status     string
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("plugin %s: %s", e.Resource, e.Status)
	}
	return fmt.Sprintf("plugin %s: %s: %s", e.Resource, e.Status, e.Body)
}

// StatusCodeOf extracts the upstream status of a plugin error, or 0 when the
// request never produced a response.
func StatusCodeOf(err error) int {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode
	}
	return 0
}

// Client talks to the plugin REST API of a registered site.
type Client struct {
	httpClient *http.Client
	basePath   string
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(client *Client) {
		if c != nil {
			client.httpClient = c
		}
	}
}

// WithBasePath pins the plugin namespace instead of reading it from settings per call.
func WithBasePath(path string) Option {
	return func(client *Client) {
		client.basePath = path
	}
}

func NewClient(opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{Timeout: config.PluginTimeout()},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) endpoint(site domain.Site, resource string) string {
	base := c.basePath
	if base == "" {
		base = config.GetConfig().Plugin.BasePath
	}
	base = "/" + strings.Trim(base, "/")
	return strings.TrimRight(site.URL, "/") + base + "/" + strings.TrimLeft(resource, "/")
}

func (c *Client) newRequest(ctx context.Context, site domain.Site, method, resource string, body io.Reader) (*http.Request, error) {
	if config.IsWebsiteBlocked(site.URL) {
		return nil, ErrHostBlocked
	}

	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(site, resource), body)
	if err != nil {
		return nil, fmt.Errorf("build plugin %s request: %w", resource, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set(apiKeyHeader, site.APIKey)
	return req, nil
}

// call performs the request and returns the raw body of a 2xx response.
func (c *Client) call(ctx context.Context, site domain.Site, method, resource string, payload []byte) ([]byte, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}

	req, err := c.newRequest(ctx, site, method, resource, body)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("plugin %s request failed: %w", resource, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyLen))
		return nil, &StatusError{
			Resource:   resource,
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Body:       strings.TrimSpace(string(raw)),
		}
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseLen))
	if err != nil {
		return nil, fmt.Errorf("read plugin %s response: %w", resource, err)
	}
	return raw, nil
}

func (c *Client) getJSON(ctx context.Context, site domain.Site, resource string, out any) error {
	raw, err := c.call(ctx, site, http.MethodGet, resource, nil)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode plugin %s response: %w", resource, err)
	}
	return nil
}

type writeAck struct {
	Success      bool   `json:"success"`
	Message      string `json:"message"`
	TotalBlocked int    `json:"total_blocked"`
}

// postExpectSuccess sends payload and requires the plugin to acknowledge with success:true.
func (c *Client) postExpectSuccess(ctx context.Context, site domain.Site, resource string, payload any) (writeAck, error) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return writeAck{}, fmt.Errorf("encode plugin %s payload: %w", resource, err)
	}

	raw, err := c.call(ctx, site, http.MethodPost, resource, encoded)
	if err != nil {
		return writeAck{}, err
	}

	var ack writeAck
	if err := json.Unmarshal(raw, &ack); err != nil {
		return writeAck{}, fmt.Errorf("%w: unreadable %s response", ErrUpdateRejected, resource)
	}
	if !ack.Success {
		if ack.Message != "" {
			return ack, fmt.Errorf("%w: %s", ErrUpdateRejected, ack.Message)
		}
		return ack, ErrUpdateRejected
	}
	return ack, nil
}
