package workflow

import (
	"github.com/sells-group/provider-trust/internal/provider"
	"github.com/sells-group/provider-trust/pkg/geocode"
	"github.com/sells-group/provider-trust/pkg/npi"
)

type lookupSummary struct {
	name     string
	taxonomy string
	input    geocode.AddressInput
}

// lookupAddress extracts the evidence name, taxonomy and geocoder input from
// a registry record.
func lookupAddress(rec *npi.Record) lookupSummary {
	var s lookupSummary
	if rec == nil {
		return s
	}
	s.name = provider.DisplayName(rec.Basic.FirstName, rec.Basic.LastName, rec.Basic.OrganizationName)
	if tax := rec.PrimaryTaxonomy(); tax != nil {
		s.taxonomy = provider.NormalizeText(tax.Desc)
	}
	if addr := rec.PracticeLocation(); addr != nil {
		s.input = geocode.AddressInput{
			Street:  provider.NormalizeText(addr.Address1),
			City:    provider.NormalizeText(addr.City),
			State:   provider.NormalizeText(addr.State),
			ZipCode: zip5(provider.NormalizeText(addr.PostalCode)),
			Country: provider.NormalizeText(addr.CountryCode),
		}
	}
	return s
}

// zip5 trims a ZIP+4 ("021011234" or "02101-1234") to its five-digit prefix.
func zip5(postal string) string {
	if len(postal) > 5 {
		return postal[:5]
	}
	return postal
}
