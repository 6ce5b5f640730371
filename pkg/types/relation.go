package types

import "time"

// RelationType is the typed kind of a directed edge between two entries.
type RelationType string

const (
	RelCauses         RelationType = "CAUSES"
	RelContradicts    RelationType = "CONTRADICTS"
	RelSupports       RelationType = "SUPPORTS"
	RelTemporalBefore RelationType = "TEMPORAL_BEFORE"
	RelTemporalAfter  RelationType = "TEMPORAL_AFTER"
	RelDerivedFrom    RelationType = "DERIVED_FROM"
	RelPartOf         RelationType = "PART_OF"
	RelSimilarTo      RelationType = "SIMILAR_TO"
	RelImpacts        RelationType = "IMPACTS"

	// RelNone is the sentinel returned by relation inference when the two
	// entries are unrelated. Never persisted.
	RelNone RelationType = "NONE"
)

// AllRelationTypes lists every persistable relation type.
var AllRelationTypes = []RelationType{
	RelCauses, RelContradicts, RelSupports,
	RelTemporalBefore, RelTemporalAfter,
	RelDerivedFrom, RelPartOf, RelSimilarTo, RelImpacts,
}

// ValidRelationType reports whether t is a persistable relation type.
func ValidRelationType(t RelationType) bool {
	for _, rt := range AllRelationTypes {
		if rt == t {
			return true
		}
	}
	return false
}

// InferredBy values for MemoryRelation.
const (
	InferredByModel = "model"
	InferredByRule  = "rule"
)

// MemoryRelation is a directed, typed edge of the knowledge graph.
// The (SourceID, TargetID, Type) triple is unique; re-inference upserts.
type MemoryRelation struct {
	ID         string       `json:"id"`
	SourceID   string       `json:"source_id"`
	TargetID   string       `json:"target_id"`
	Type       RelationType `json:"relation_type"`
	Strength   float64      `json:"strength"`   // [0,1], how strong the tie is
	Confidence float64      `json:"confidence"` // [0,1], how sure the inference is
	Reason     string       `json:"reason,omitempty"`
	InferredBy string       `json:"inferred_by"` // "model" | "rule"
	CreatedAt  time.Time    `json:"created_at"`
}
