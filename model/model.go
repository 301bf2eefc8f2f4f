// Package model holds the small data types shared between the backend
// client, the caches and the orchestrator.
package model

// RankItem is one entry of a ranked result list as returned by the backend.
//
// Lists are stored and served in backend order; nothing in the frontend may
// re-sort them.
type RankItem struct {
	Path  string  `json:"path" msgpack:"path"`
	Score float64 `json:"score" msgpack:"score"`

	// ROI is an optional region of interest associated with the match.
	ROI []float64 `json:"roi,omitempty" msgpack:"roi,omitempty"`

	// Anno carries the annotation type when the item doubles as training
	// data (e.g. in refinement round-trips).
	Anno int `json:"anno,omitempty" msgpack:"anno,omitempty"`
}

// Annotation describes one training image recorded in a query's
// annotation file.
type Annotation struct {
	Image string `json:"image" msgpack:"image"`
	Anno  int    `json:"anno" msgpack:"anno"`
}

// RankedFeature pairs a ranked item with the feature vector the backend
// computed for it.
type RankedFeature struct {
	Path string    `json:"path" msgpack:"path"`
	Feat []float64 `json:"feat" msgpack:"feat"`
}
