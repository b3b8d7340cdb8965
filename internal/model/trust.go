package model

import "time"

// TrustRun is the header of one rank computation. Runs are append-only.
type TrustRun struct {
	ID            string    `json:"id"`
	ComputedAt    time.Time `json:"computed_at"`
	ProviderCount int       `json:"provider_count"`
	EdgeCount     int       `json:"edge_count"`
	SelfLoops     bool      `json:"self_loops"`
	Damping       float64   `json:"damping"`
	Iterations    int       `json:"iterations"`
	Converged     bool      `json:"converged"`
}

// TrustScore is one provider's score within a TrustRun.
type TrustScore struct {
	RunID      string    `json:"run_id"`
	ProviderID string    `json:"provider_id"`
	NPINumber  string    `json:"npi_number"`
	// DisplayName is joined from the provider on read; it is not stored.
	DisplayName string    `json:"display_name,omitempty"`
	Score      float64   `json:"trust_score"`
	Rank       int       `json:"rank"`
	Degree     int       `json:"connections"`
	ComputedAt time.Time `json:"computed_at"`
}

// TrustRanking is a run together with its scores in rank order.
type TrustRanking struct {
	Run    TrustRun     `json:"run"`
	Scores []TrustScore `json:"scores"`
}
