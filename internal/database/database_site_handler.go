package database

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"paygate/internal/config"
	"paygate/internal/domain"
	"paygate/internal/security"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

var (
	ErrSiteNotFound       = errors.New("site not found")
	ErrSiteURLRequired    = errors.New("site url is required")
	ErrSiteURLInvalid     = errors.New("site url must be an absolute http(s) url")
	ErrSiteURLBlocked     = errors.New("site url points to a blocked host")
	ErrSiteURLConflict    = errors.New("site url is already registered")
	ErrSiteAPIKeyRequired = errors.New("site api key is required")
)

var plaintextKeyWarning sync.Once

func withContext(ctx context.Context) (*gorm.DB, error) {
	if DB == nil {
		return nil, errDatabaseNotInitialised
	}
	if ctx == nil {
		return DB, nil
	}
	return DB.WithContext(ctx), nil
}

// NormalizeSiteURL validates an operator-supplied base URL and strips trailing slashes.
func NormalizeSiteURL(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", ErrSiteURLRequired
	}

	parsed, err := url.Parse(trimmed)
	if err != nil || parsed.Host == "" {
		return "", ErrSiteURLInvalid
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", ErrSiteURLInvalid
	}

	parsed.RawQuery = ""
	parsed.Fragment = ""
	return strings.TrimRight(parsed.String(), "/"), nil
}

// ListSites returns every registered site in registration order with plaintext keys.
func ListSites(ctx context.Context) ([]domain.Site, error) {
	db, err := withContext(ctx)
	if err != nil {
		return nil, err
	}

	var sites []domain.Site
	if err := db.Order("created_at ASC").Order("id ASC").Find(&sites).Error; err != nil {
		return nil, fmt.Errorf("list sites: %w", err)
	}

	for i := range sites {
		if err := revealAPIKey(&sites[i]); err != nil {
			return nil, err
		}
	}

	return sites, nil
}

func GetSite(ctx context.Context, id string) (*domain.Site, error) {
	db, err := withContext(ctx)
	if err != nil {
		return nil, err
	}

	id = strings.TrimSpace(id)
	if id == "" {
		return nil, ErrSiteNotFound
	}

	var site domain.Site
	if err := db.Where("id = ?", id).First(&site).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSiteNotFound
		}
		return nil, fmt.Errorf("get site %s: %w", id, err)
	}

	if err := revealAPIKey(&site); err != nil {
		return nil, err
	}
	return &site, nil
}

func CreateSite(ctx context.Context, rawURL, apiKey string) (*domain.Site, error) {
	db, err := withContext(ctx)
	if err != nil {
		return nil, err
	}

	siteURL, err := NormalizeSiteURL(rawURL)
	if err != nil {
		return nil, err
	}
	if config.IsWebsiteBlocked(siteURL) {
		return nil, ErrSiteURLBlocked
	}

	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, ErrSiteAPIKeyRequired
	}

	var existing int64
	if err := db.Model(&domain.Site{}).Where("url = ?", siteURL).Count(&existing).Error; err != nil {
		return nil, fmt.Errorf("check site url: %w", err)
	}
	if existing > 0 {
		return nil, ErrSiteURLConflict
	}

	storedKey, err := concealAPIKey(apiKey)
	if err != nil {
		return nil, err
	}

	site := domain.Site{
		ID:     uuid.NewString(),
		URL:    siteURL,
		APIKey: storedKey,
	}
	if err := db.Create(&site).Error; err != nil {
		return nil, fmt.Errorf("create site: %w", err)
	}

	site.APIKey = apiKey
	return &site, nil
}

// DeleteSite removes the site and returns the deleted record.
func DeleteSite(ctx context.Context, id string) (*domain.Site, error) {
	site, err := GetSite(ctx, id)
	if err != nil {
		return nil, err
	}

	db, err := withContext(ctx)
	if err != nil {
		return nil, err
	}

	if err := db.Where("id = ?", site.ID).Delete(&domain.Site{}).Error; err != nil {
		return nil, fmt.Errorf("delete site %s: %w", site.ID, err)
	}
	return site, nil
}

func concealAPIKey(apiKey string) (string, error) {
	if !security.SiteKeyEncryptionEnabled() {
		plaintextKeyWarning.Do(func() {
			log.Warn("Site API keys are stored in plaintext; set SITE_KEY_ENCRYPTION_KEY to encrypt them")
		})
		return apiKey, nil
	}

	encrypted, err := security.EncryptSiteKey(apiKey)
	if err != nil {
		return "", fmt.Errorf("encrypt site api key: %w", err)
	}
	return encrypted, nil
}

func revealAPIKey(site *domain.Site) error {
	plain, _, err := security.DecryptSiteKey(site.APIKey)
	if err != nil {
		return fmt.Errorf("decrypt api key of site %s: %w", site.ID, err)
	}
	site.APIKey = plain
	return nil
}

// SiteRegistry exposes the site table to components that only need to read it.
type SiteRegistry struct{}

func (SiteRegistry) ListSites(ctx context.Context) ([]domain.Site, error) {
	return ListSites(ctx)
}

func (SiteRegistry) GetSite(ctx context.Context, id string) (*domain.Site, error) {
	return GetSite(ctx, id)
}
