// Package provider turns registry payloads into stored providers and checks
// stored payloads against their integrity hash.
package provider

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/provider-trust/internal/model"
	"github.com/sells-group/provider-trust/internal/store"
	"github.com/sells-group/provider-trust/pkg/npi"
)

// Service normalizes, hashes and upserts providers.
type Service struct {
	store store.Store
	now   func() time.Time
}

// NewService creates a Service over st.
func NewService(st store.Store) *Service {
	return &Service{store: st, now: time.Now}
}

// Build parses raw and returns the normalized provider with its integrity
// hash, without touching the store.
func Build(raw json.RawMessage) (*model.Provider, error) {
	if len(raw) == 0 {
		return nil, model.NewValidationError("raw_data", "empty payload")
	}
	rec, err := npi.ParseRecord(raw)
	if err != nil {
		return nil, model.NewValidationError("raw_data", err.Error())
	}
	p := FromRecord(rec, raw)
	if p.NPINumber == "" {
		return nil, model.NewValidationError("npi_number", "missing")
	}
	if !npi.ValidNumber(p.NPINumber) {
		return nil, model.NewValidationError("npi_number", "must be 10 digits")
	}
	if p.IntegrityHash, err = IntegrityHash(raw); err != nil {
		return nil, err
	}
	return p, nil
}

// Upsert normalizes raw and inserts or refreshes the provider keyed by NPI
// number. Non-nil coordinates overwrite stored ones; nil keeps them.
func (s *Service) Upsert(ctx context.Context, raw json.RawMessage, lat, lon *float64) (*store.UpsertResult, error) {
	p, err := Build(raw)
	if err != nil {
		return nil, err
	}
	if lat != nil && lon != nil {
		p.SetCoordinates(*lat, *lon)
	}
	p.LastVerified = s.now().UTC()

	res, err := s.store.UpsertProvider(ctx, p)
	if err != nil {
		return nil, eris.Wrapf(err, "provider: upsert %s", p.NPINumber)
	}

	zap.L().Info("provider: upserted",
		zap.String("npi", p.NPINumber),
		zap.String("provider_id", res.Provider.ID),
		zap.Bool("created", res.Created),
		zap.Bool("has_location", res.Provider.HasCoordinates()),
	)
	return res, nil
}

// Get returns the stored provider for npiNumber.
func (s *Service) Get(ctx context.Context, npiNumber string) (*model.Provider, error) {
	if !npi.ValidNumber(npiNumber) {
		return nil, model.NewValidationError("npi_number", "must be 10 digits")
	}
	p, err := s.store.GetProviderByNPI(ctx, npiNumber)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// Verify recomputes the integrity hash from the stored raw payload.
func (s *Service) Verify(ctx context.Context, npiNumber string) (*model.IntegrityCheck, error) {
	p, err := s.Get(ctx, npiNumber)
	if err != nil {
		return nil, err
	}
	computed, err := IntegrityHash(p.RawData)
	if err != nil {
		return nil, eris.Wrapf(err, "provider: verify %s", npiNumber)
	}
	check := &model.IntegrityCheck{
		ProviderID: p.ID,
		NPINumber:  p.NPINumber,
		Stored:     p.IntegrityHash,
		Computed:   computed,
		Valid:      computed == p.IntegrityHash,
	}
	if !check.Valid {
		zap.L().Warn("provider: integrity mismatch",
			zap.String("npi", npiNumber),
			zap.String("stored", p.IntegrityHash),
			zap.String("computed", computed),
		)
	}
	return check, nil
}
