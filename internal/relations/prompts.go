package relations

import "fmt"

// relationPrompt asks the model to classify the relation between two
// memories. NONE is a valid answer and suppresses the edge.
func relationPrompt(a, b string) string {
	return fmt.Sprintf(`Classify the relation from MEMORY A to MEMORY B.

Allowed relation values:
CAUSES, CONTRADICTS, SUPPORTS, TEMPORAL_BEFORE, TEMPORAL_AFTER,
DERIVED_FROM, PART_OF, SIMILAR_TO, IMPACTS, NONE

Return ONLY a JSON object in exactly this format, with no extra text:
{"relation": "SUPPORTS", "strength": 0.8, "confidence": 0.9, "reason": "one short sentence"}

Rules:
- strength is how strong the tie is, between 0.0 and 1.0.
- confidence is how sure you are the relation holds, between 0.0 and 1.0.
- Use NONE when the memories are unrelated.

MEMORY A:
%s

MEMORY B:
%s
`, a, b)
}
