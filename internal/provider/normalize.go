package provider

import (
	"encoding/json"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/sells-group/provider-trust/internal/model"
	"github.com/sells-group/provider-trust/pkg/npi"
)

// DefaultCountry is used when the registry omits an address country.
const DefaultCountry = "US"

// NormalizeText applies Unicode NFC, trims, and collapses inner whitespace.
func NormalizeText(s string) string {
	return strings.Join(strings.Fields(norm.NFC.String(s)), " ")
}

// DisplayName is the person name when present, else the organization name.
func DisplayName(first, last, org string) string {
	person := NormalizeText(first + " " + last)
	if person != "" {
		return person
	}
	return NormalizeText(org)
}

// FromRecord maps a parsed registry record onto a Provider. raw is kept
// verbatim; the hash is not computed here.
func FromRecord(rec *npi.Record, raw json.RawMessage) *model.Provider {
	p := &model.Provider{
		NPINumber:        strings.TrimSpace(string(rec.Number)),
		FirstName:        NormalizeText(rec.Basic.FirstName),
		LastName:         NormalizeText(rec.Basic.LastName),
		OrganizationName: NormalizeText(rec.Basic.OrganizationName),
		Country:          DefaultCountry,
		RawData:          raw,
	}
	p.DisplayName = DisplayName(p.FirstName, p.LastName, p.OrganizationName)

	if tax := rec.PrimaryTaxonomy(); tax != nil {
		p.TaxonomyCode = NormalizeText(tax.Code)
		p.TaxonomyDescription = NormalizeText(tax.Desc)
	}

	if addr := rec.PracticeLocation(); addr != nil {
		p.AddressLine1 = NormalizeText(addr.Address1)
		p.AddressLine2 = NormalizeText(addr.Address2)
		p.City = NormalizeText(addr.City)
		p.State = NormalizeText(addr.State)
		p.PostalCode = NormalizeText(addr.PostalCode)
		p.Phone = NormalizeText(addr.Telephone)
		p.Fax = NormalizeText(addr.Fax)
		if c := NormalizeText(addr.CountryCode); c != "" {
			p.Country = c
		}
	}
	return p
}
