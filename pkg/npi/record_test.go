package npi

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNumber_UnmarshalStringAndNumeric(t *testing.T) {
	var a, b struct {
		N Number `json:"number"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"number":"1234567893"}`), &a))
	require.NoError(t, json.Unmarshal([]byte(`{"number":1234567893}`), &b))
	assert.Equal(t, Number("1234567893"), a.N)
	assert.Equal(t, a.N, b.N)

	var bad struct {
		N Number `json:"number"`
	}
	assert.Error(t, json.Unmarshal([]byte(`{"number":12.5}`), &bad))
}

func TestRecord_PracticeLocationPrefersLocation(t *testing.T) {
	rec, err := ParseRecord([]byte(bostonRecord))
	require.NoError(t, err)

	loc := rec.PracticeLocation()
	require.NotNil(t, loc)
	assert.Equal(t, "BOSTON", loc.City)
	assert.Equal(t, "617-555-0100", loc.Telephone)
}

func TestRecord_PracticeLocationFallsBackToFirst(t *testing.T) {
	rec, err := ParseRecord([]byte(`{"addresses":[{"address_purpose":"MAILING","city":"QUINCY"},{"address_purpose":"OTHER","city":"SALEM"}]}`))
	require.NoError(t, err)
	assert.Equal(t, "QUINCY", rec.PracticeLocation().City)

	empty, err := ParseRecord([]byte(`{}`))
	require.NoError(t, err)
	assert.Nil(t, empty.PracticeLocation())
}

func TestRecord_PrimaryTaxonomy(t *testing.T) {
	rec, err := ParseRecord([]byte(bostonRecord))
	require.NoError(t, err)
	assert.Equal(t, "207R00000X", rec.PrimaryTaxonomy().Code)

	noPrimary, err := ParseRecord([]byte(`{"taxonomies":[{"code":"A"},{"code":"B"}]}`))
	require.NoError(t, err)
	assert.Equal(t, "A", noPrimary.PrimaryTaxonomy().Code)

	none, err := ParseRecord([]byte(`{"taxonomies":[]}`))
	require.NoError(t, err)
	assert.Nil(t, none.PrimaryTaxonomy())
}

func TestParseRecord_Invalid(t *testing.T) {
	_, err := ParseRecord([]byte(`not json`))
	assert.Error(t, err)
}

func TestValidNumber(t *testing.T) {
	assert.True(t, ValidNumber("1234567893"))
	assert.False(t, ValidNumber("123456789"))
	assert.False(t, ValidNumber("12345678a3"))
	assert.False(t, ValidNumber(""))
}
