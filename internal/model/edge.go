package model

// EdgeType names the relationship an edge was derived from.
type EdgeType string

const (
	EdgeGeographicProximity EdgeType = "geographic_proximity"
	EdgeTaxonomyMatch       EdgeType = "taxonomy_match"
	EdgeSameLocation        EdgeType = "same_location"
)

// ProviderEdge is a directed, weighted edge between two providers. The tuple
// (SourceID, TargetID, Type) is unique.
type ProviderEdge struct {
	SourceID string   `json:"source_provider_id"`
	TargetID string   `json:"target_provider_id"`
	Type     EdgeType `json:"edge_type"`
	Weight   float64  `json:"weight"`
}
