package ogdata

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"paygate/internal/config"

	"golang.org/x/net/html"
	"golang.org/x/sync/singleflight"
)

const (
	browserUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"
	fetchTimeout     = 15 * time.Second
	maxPageSize      = 2 << 20
)

var (
	ErrURLRequired = errors.New("url is required")
	ErrURLInvalid  = errors.New("url is invalid")
	ErrHostBlocked = errors.New("url host is on the outbound blacklist")
	// ErrFetchFailed wraps every failure to retrieve the page itself.
	ErrFetchFailed = errors.New("failed to fetch website data")
)

// Data is the link preview extracted from a page.
type Data struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Image       string `json:"image"`
	URL         string `json:"url"`
	SiteName    string `json:"siteName"`
}

type Fetcher struct {
	client *http.Client
	group  singleflight.Group
}

type Option func(*Fetcher)

func WithHTTPClient(c *http.Client) Option {
	return func(f *Fetcher) {
		if c != nil {
			f.client = c
		}
	}
}

func NewFetcher(opts ...Option) *Fetcher {
	f := &Fetcher{
		client: &http.Client{Timeout: fetchTimeout},
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// NormalizeURL trims the input and assumes https when no scheme is given.
func NormalizeURL(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", ErrURLRequired
	}
	if !strings.HasPrefix(trimmed, "http://") && !strings.HasPrefix(trimmed, "https://") {
		trimmed = "https://" + trimmed
	}

	parsed, err := url.Parse(trimmed)
	if err != nil || parsed.Hostname() == "" {
		return "", ErrURLInvalid
	}
	return trimmed, nil
}

// Fetch loads the page and extracts its preview. Concurrent lookups of the
// same URL share one request.
func (f *Fetcher) Fetch(ctx context.Context, raw string) (Data, error) {
	target, err := NormalizeURL(raw)
	if err != nil {
		return Data{}, err
	}
	if config.IsWebsiteBlocked(target) {
		return Data{}, ErrHostBlocked
	}

	result, err, _ := f.group.Do(target, func() (any, error) {
		return f.fetch(ctx, target)
	})
	if err != nil {
		return Data{}, err
	}
	return result.(Data), nil
}

func (f *Fetcher) fetch(ctx context.Context, target string) (Data, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return Data{}, fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}
	req.Header.Set("User-Agent", browserUserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := f.client.Do(req)
	if err != nil {
		return Data{}, fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Data{}, fmt.Errorf("%w: HTTP error! status: %d", ErrFetchFailed, resp.StatusCode)
	}

	data, err := Parse(io.LimitReader(resp.Body, maxPageSize), target)
	if err != nil {
		return Data{}, fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}
	return data, nil
}

// Parse extracts preview fields with og: first, then twitter:, then plain HTML.
func Parse(r io.Reader, pageURL string) (Data, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return Data{}, fmt.Errorf("parse html: %w", err)
	}

	meta := make(map[string]string)
	var title string
	collect(doc, meta, &title)

	data := Data{
		Title:       firstNonEmpty(meta["property:og:title"], meta["name:twitter:title"], title),
		Description: firstNonEmpty(meta["property:og:description"], meta["name:twitter:description"], meta["name:description"]),
		Image:       firstNonEmpty(meta["property:og:image"], meta["name:twitter:image"]),
		URL:         firstNonEmpty(meta["property:og:url"], pageURL),
		SiteName:    firstNonEmpty(meta["property:og:site_name"], meta["name:application-name"]),
	}
	data.Image = absoluteImageURL(data.Image, pageURL)
	return data, nil
}

func collect(n *html.Node, meta map[string]string, title *string) {
	if n.Type == html.ElementNode {
		switch n.Data {
		case "meta":
			recordMeta(n, meta)
		case "title":
			if *title == "" && n.FirstChild != nil && n.FirstChild.Type == html.TextNode {
				*title = strings.TrimSpace(n.FirstChild.Data)
			}
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		collect(c, meta, title)
	}
}

// recordMeta keeps the first content seen per property/name key.
func recordMeta(n *html.Node, meta map[string]string) {
	var property, name, content string
	for _, attr := range n.Attr {
		switch strings.ToLower(attr.Key) {
		case "property":
			property = strings.ToLower(strings.TrimSpace(attr.Val))
		case "name":
			name = strings.ToLower(strings.TrimSpace(attr.Val))
		case "content":
			content = strings.TrimSpace(attr.Val)
		}
	}
	if content == "" {
		return
	}
	if property != "" {
		if _, ok := meta["property:"+property]; !ok {
			meta["property:"+property] = content
		}
	}
	if name != "" {
		if _, ok := meta["name:"+name]; !ok {
			meta["name:"+name] = content
		}
	}
}

func absoluteImageURL(image, pageURL string) string {
	if image == "" || strings.HasPrefix(image, "http") {
		return image
	}
	base, err := url.Parse(pageURL)
	if err != nil {
		return image
	}
	switch {
	case strings.HasPrefix(image, "//"):
		return base.Scheme + ":" + image
	case strings.HasPrefix(image, "/"):
		return base.Scheme + "://" + base.Host + image
	default:
		return base.Scheme + "://" + base.Host + "/" + image
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
