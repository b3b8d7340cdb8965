package npi

import (
	"bytes"
	"encoding/json"
	"strconv"

	"github.com/rotisserie/eris"
)

// Number decodes an NPI that the registry may emit as either a JSON string
// or a JSON number.
type Number string

// UnmarshalJSON accepts "1234567893" and 1234567893.
func (n *Number) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*n = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*n = Number(s)
		return nil
	}
	var num json.Number
	if err := json.Unmarshal(b, &num); err != nil {
		return err
	}
	if _, err := strconv.ParseUint(num.String(), 10, 64); err != nil {
		return eris.Errorf("npi: number %q is not an integer", num.String())
	}
	*n = Number(num.String())
	return nil
}

// Record is the subset of an NPPES v2.1 result the pipeline reads.
type Record struct {
	Number          Number     `json:"number"`
	EnumerationType string     `json:"enumeration_type"`
	Basic           Basic      `json:"basic"`
	Addresses       []Address  `json:"addresses"`
	Taxonomies      []Taxonomy `json:"taxonomies"`
}

// Basic holds the name block. Individuals carry first/last name,
// organizations carry organization_name.
type Basic struct {
	FirstName        string `json:"first_name"`
	LastName         string `json:"last_name"`
	MiddleName       string `json:"middle_name"`
	Credential       string `json:"credential"`
	OrganizationName string `json:"organization_name"`
	Status           string `json:"status"`
}

// Address is one NPPES address entry.
type Address struct {
	Purpose     string `json:"address_purpose"`
	Address1    string `json:"address_1"`
	Address2    string `json:"address_2"`
	City        string `json:"city"`
	State       string `json:"state"`
	PostalCode  string `json:"postal_code"`
	CountryCode string `json:"country_code"`
	Telephone   string `json:"telephone_number"`
	Fax         string `json:"fax_number"`
}

// Taxonomy is one NPPES taxonomy entry.
type Taxonomy struct {
	Code    string `json:"code"`
	Desc    string `json:"desc"`
	Primary bool   `json:"primary"`
	State   string `json:"state"`
	License string `json:"license"`
}

// ParseRecord decodes a single registry result.
func ParseRecord(raw []byte) (*Record, error) {
	var r Record
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, eris.Wrap(err, "npi: parse record")
	}
	return &r, nil
}

// PracticeLocation returns the LOCATION address, else the first address,
// else nil.
func (r *Record) PracticeLocation() *Address {
	for i := range r.Addresses {
		if r.Addresses[i].Purpose == "LOCATION" {
			return &r.Addresses[i]
		}
	}
	if len(r.Addresses) > 0 {
		return &r.Addresses[0]
	}
	return nil
}

// PrimaryTaxonomy returns the taxonomy flagged primary, else the first,
// else nil.
func (r *Record) PrimaryTaxonomy() *Taxonomy {
	for i := range r.Taxonomies {
		if r.Taxonomies[i].Primary {
			return &r.Taxonomies[i]
		}
	}
	if len(r.Taxonomies) > 0 {
		return &r.Taxonomies[0]
	}
	return nil
}

// ValidNumber reports whether s is a 10-digit NPI.
func ValidNumber(s string) bool {
	if len(s) != 10 {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
