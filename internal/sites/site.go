// Package sites holds the credential-to-site registry consulted by the
// ingestion boundary. Every tracked site owns one credential that its embedded
// agent sends with each event batch.
package sites

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// CredentialPrefix marks sitepulse-issued credentials.
const CredentialPrefix = "sp_"

// SiteNotFoundError represents an error when no site matches a credential.
// Distinct from generic validation failures so operators can alert on
// misconfigured embeds.
type SiteNotFoundError struct {
	Credential string
}

func (e *SiteNotFoundError) Error() string {
	return fmt.Sprintf("no site registered for credential: %s", e.Credential)
}

// NewSiteNotFoundError creates a new SiteNotFoundError
func NewSiteNotFoundError(credential string) *SiteNotFoundError {
	return &SiteNotFoundError{Credential: credential}
}

// Site represents a registered website whose traffic is tracked.
type Site struct {
	ID         uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	Name       string    `gorm:"not null" json:"name"`
	Domain     string    `gorm:"unique;not null" json:"domain"`
	Credential string    `gorm:"uniqueIndex;not null" json:"credential"`
	CreatedAt  time.Time `json:"created_at"`
}

// NewCredential generates a fresh site credential: "sp_" plus 24 hex characters.
func NewCredential() (string, error) {
	buf := make([]byte, 12)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate credential: %w", err)
	}
	return CredentialPrefix + hex.EncodeToString(buf), nil
}

// CreateSite registers a site, generating a credential when none is set.
func CreateSite(db *gorm.DB, site *Site) error {
	if site.Credential == "" {
		credential, err := NewCredential()
		if err != nil {
			return err
		}
		site.Credential = credential
	}
	if site.CreatedAt.IsZero() {
		site.CreatedAt = time.Now().UTC()
	}
	if err := db.Create(site).Error; err != nil {
		return fmt.Errorf("failed to create site: %w", err)
	}
	return nil
}

// GetSiteByCredential resolves a credential to its site. Returns a
// *SiteNotFoundError when the credential is unknown.
func GetSiteByCredential(db *gorm.DB, credential string) (*Site, error) {
	var site Site
	if err := db.Where("credential = ?", credential).First(&site).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, NewSiteNotFoundError(credential)
		}
		return nil, fmt.Errorf("unexpected error querying site: %w", err)
	}
	return &site, nil
}

// GetSiteByDomain retrieves a site by its domain.
func GetSiteByDomain(db *gorm.DB, domain string) (*Site, error) {
	var site Site
	if err := db.Where("domain = ?", domain).First(&site).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, fmt.Errorf("no site registered for domain %s", domain)
		}
		return nil, fmt.Errorf("unexpected error querying site: %w", err)
	}
	return &site, nil
}

// GetAllSites retrieves all registered sites.
func GetAllSites(db *gorm.DB) ([]Site, error) {
	var all []Site
	if err := db.Order("id ASC").Find(&all).Error; err != nil {
		return nil, fmt.Errorf("failed to get sites: %w", err)
	}
	return all, nil
}
