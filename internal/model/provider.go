// Package model defines the entities shared by the verification pipeline, the
// trust graph and the persistence layer.
package model

import (
	"encoding/json"
	"time"
)

// Provider is a healthcare provider verified against the NPI Registry.
// NPINumber is the natural key; ID is assigned by the store on first insert.
type Provider struct {
	ID                  string          `json:"id"`
	NPINumber           string          `json:"npi_number"`
	FirstName           string          `json:"first_name,omitempty"`
	LastName            string          `json:"last_name,omitempty"`
	OrganizationName    string          `json:"organization_name,omitempty"`
	DisplayName         string          `json:"display_name"`
	TaxonomyCode        string          `json:"taxonomy_code,omitempty"`
	TaxonomyDescription string          `json:"taxonomy_description,omitempty"`
	AddressLine1        string          `json:"address_line_1,omitempty"`
	AddressLine2        string          `json:"address_line_2,omitempty"`
	City                string          `json:"city,omitempty"`
	State               string          `json:"state,omitempty"`
	PostalCode          string          `json:"postal_code,omitempty"`
	Country             string          `json:"country,omitempty"`
	Phone               string          `json:"phone,omitempty"`
	Fax                 string          `json:"fax,omitempty"`
	Latitude            *float64        `json:"latitude,omitempty"`
	Longitude           *float64        `json:"longitude,omitempty"`
	RawData             json.RawMessage `json:"raw_data"`
	IntegrityHash       string          `json:"integrity_hash"`
	LastVerified        time.Time       `json:"last_verified"`
	CreatedAt           time.Time       `json:"created_at"`
	UpdatedAt           time.Time       `json:"updated_at"`
}

// HasCoordinates reports whether the provider was geolocated.
func (p *Provider) HasCoordinates() bool {
	return p.Latitude != nil && p.Longitude != nil
}

// SetCoordinates records a geocoded position.
func (p *Provider) SetCoordinates(lat, lon float64) {
	p.Latitude = &lat
	p.Longitude = &lon
}

// IntegrityCheck is the outcome of recomputing a provider's integrity hash
// from its stored raw payload.
type IntegrityCheck struct {
	ProviderID string `json:"provider_id"`
	NPINumber  string `json:"npi_number"`
	Stored     string `json:"stored_hash"`
	Computed   string `json:"computed_hash"`
	Valid      bool   `json:"valid"`
}
