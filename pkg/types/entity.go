package types

// EntityTag is a normalized entity extracted from entry content. Tags are
// many-to-many with entries and seed the relation builder's co-occurrence
// candidate search.
type EntityTag struct {
	ID           string  `json:"id"`
	Name         string  `json:"name"` // normalized (lowercased, trimmed)
	Type         string  `json:"type"` // person, organization, technology, concept, ...
	MentionCount int     `json:"mention_count"`
	Confidence   float64 `json:"confidence"` // [0,1]
}

// Extraction is the full output of the entity extractor for one text.
type Extraction struct {
	Entities []EntityTag `json:"entities"`
	Concepts []string    `json:"concepts"`
	Topics   []string    `json:"topics"`
}
