package model

import (
	"time"

	"github.com/rotisserie/eris"
)

// ExecutionStatus is the lifecycle state of a workflow execution.
type ExecutionStatus string

const (
	ExecutionPending ExecutionStatus = "pending"
	ExecutionRunning ExecutionStatus = "running"
	ExecutionSuccess ExecutionStatus = "success"
	ExecutionFailed  ExecutionStatus = "failed"
)

// Terminal reports whether no further transitions are allowed.
func (s ExecutionStatus) Terminal() bool {
	return s == ExecutionSuccess || s == ExecutionFailed
}

// CanTransition reports whether moving from s to next is allowed.
// pending -> running -> {success, failed}; pending may fail directly.
func (s ExecutionStatus) CanTransition(next ExecutionStatus) bool {
	switch s {
	case ExecutionPending:
		return next == ExecutionRunning || next == ExecutionFailed
	case ExecutionRunning:
		return next.Terminal()
	default:
		return false
	}
}

// WorkflowProviderVerification is the only workflow type the orchestrator runs.
const WorkflowProviderVerification = "provider_verification"

// WorkflowExecution is one run of the verification pipeline. It owns its
// evidence trail.
type WorkflowExecution struct {
	ID           string            `json:"id"`
	WorkflowType string            `json:"workflow_type"`
	Input        map[string]string `json:"input_params"`
	Status       ExecutionStatus   `json:"status"`
	Evidence     []Evidence        `json:"evidence"`
	ProviderID   string            `json:"provider_id,omitempty"`
	Error        string            `json:"error,omitempty"`
	StartedAt    time.Time         `json:"started_at"`
	CompletedAt  *time.Time        `json:"completed_at,omitempty"`
}

// Transition moves the execution to next, stamping CompletedAt on terminal
// states. It refuses regressions out of a terminal state.
func (w *WorkflowExecution) Transition(next ExecutionStatus, at time.Time) error {
	if !w.Status.CanTransition(next) {
		return eris.Errorf("workflow: invalid transition %s -> %s", w.Status, next)
	}
	w.Status = next
	if next.Terminal() {
		t := at.UTC()
		w.CompletedAt = &t
	}
	return nil
}

// AddEvidence appends one step record. The trail is append-only.
func (w *WorkflowExecution) AddEvidence(e Evidence) {
	w.Evidence = append(w.Evidence, e)
}

// EvidenceStep tags the payload carried by an Evidence record.
type EvidenceStep string

const (
	StepLookup  EvidenceStep = "lookup"
	StepGeocode EvidenceStep = "geocode"
	StepStorage EvidenceStep = "storage"
)

// Evidence sources.
const (
	SourceNPIRegistry = "CMS NPI Registry"
	SourceNominatim   = "Nominatim (OpenStreetMap)"
	SourceDatabase    = "Database"
)

// Evidence is a tagged variant: Step selects which one of Lookup, Geocode or
// Storage is populated.
type Evidence struct {
	Step       EvidenceStep     `json:"step"`
	Source     string           `json:"source"`
	RecordedAt time.Time        `json:"recorded_at"`
	Lookup     *LookupEvidence  `json:"lookup,omitempty"`
	Geocode    *GeocodeEvidence `json:"geocode,omitempty"`
	Storage    *StorageEvidence `json:"storage,omitempty"`
}

// LookupEvidence records the registry lookup.
type LookupEvidence struct {
	NPINumber string `json:"npi_number"`
	Found     bool   `json:"found"`
	Name      string `json:"name,omitempty"`
	Taxonomy  string `json:"taxonomy,omitempty"`
	Error     string `json:"error,omitempty"`
}

// GeocodeOutcome classifies a geocoding attempt.
type GeocodeOutcome string

const (
	GeocodeMatched   GeocodeOutcome = "matched"
	GeocodeUnmatched GeocodeOutcome = "unmatched"
	GeocodeSkipped   GeocodeOutcome = "skipped"
	GeocodeFailed    GeocodeOutcome = "failed"
)

// GeocodeEvidence records the geocoding attempt.
type GeocodeEvidence struct {
	Outcome   GeocodeOutcome `json:"outcome"`
	Query     string         `json:"query,omitempty"`
	Latitude  *float64       `json:"latitude,omitempty"`
	Longitude *float64       `json:"longitude,omitempty"`
	Error     string         `json:"error,omitempty"`
}

// StorageEvidence records the provider upsert.
type StorageEvidence struct {
	ProviderID    string `json:"provider_id"`
	NPINumber     string `json:"npi_number"`
	IntegrityHash string `json:"integrity_hash"`
	Created       bool   `json:"created"`
}

// NewLookupEvidence builds a lookup step record.
func NewLookupEvidence(at time.Time, p LookupEvidence) Evidence {
	return Evidence{Step: StepLookup, Source: SourceNPIRegistry, RecordedAt: at.UTC(), Lookup: &p}
}

// NewGeocodeEvidence builds a geocode step record.
func NewGeocodeEvidence(at time.Time, p GeocodeEvidence) Evidence {
	return Evidence{Step: StepGeocode, Source: SourceNominatim, RecordedAt: at.UTC(), Geocode: &p}
}

// NewStorageEvidence builds a storage step record.
func NewStorageEvidence(at time.Time, p StorageEvidence) Evidence {
	return Evidence{Step: StepStorage, Source: SourceDatabase, RecordedAt: at.UTC(), Storage: &p}
}

// Validate checks that exactly the payload named by Step is set.
func (e Evidence) Validate() error {
	set := 0
	for _, present := range []bool{e.Lookup != nil, e.Geocode != nil, e.Storage != nil} {
		if present {
			set++
		}
	}
	if set != 1 {
		return eris.Errorf("evidence: %d payloads set for step %q", set, e.Step)
	}
	switch e.Step {
	case StepLookup:
		if e.Lookup == nil {
			return eris.New("evidence: lookup step without lookup payload")
		}
	case StepGeocode:
		if e.Geocode == nil {
			return eris.New("evidence: geocode step without geocode payload")
		}
	case StepStorage:
		if e.Storage == nil {
			return eris.New("evidence: storage step without storage payload")
		}
	default:
		return eris.Errorf("evidence: unknown step %q", e.Step)
	}
	return nil
}
