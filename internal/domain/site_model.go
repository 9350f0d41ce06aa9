package domain

import (
	"strings"
	"time"
)

// Site is a registered remote installation of the payment-gateway plugin.
type Site struct {
	ID     string `gorm:"primaryKey;size:36" json:"id"`
	URL    string `gorm:"size:512;uniqueIndex;not null" json:"url"`
	APIKey string `gorm:"size:1024;not null" json:"apiKey"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updatedAt"`
}

// Masked returns a copy safe to list: only the last four characters of the key survive.
func (s Site) Masked() Site {
	key := s.APIKey
	if len(key) <= 4 {
		s.APIKey = strings.Repeat("*", len(key))
		return s
	}
	s.APIKey = strings.Repeat("*", len(key)-4) + key[len(key)-4:]
	return s
}
