package conflict

import (
	"fmt"

	"github.com/awarenet/memcore/pkg/types"
)

// contradictionPrompt asks the model for a yes/no contradiction verdict.
func contradictionPrompt(a, b string) string {
	return fmt.Sprintf(`Do these two statements contradict each other?

Return ONLY a JSON object in exactly this format, with no extra text:
{"contradiction": true, "confidence": 0.9, "explanation": "one short sentence"}

Rules:
- confidence is between 0.0 and 1.0.
- Differences in topic or detail are NOT contradictions; only mutually
  exclusive claims are.

STATEMENT A:
%s

STATEMENT B:
%s
`, a, b)
}

// arbitrationPrompt asks the model to pick the more trustworthy of two
// conflicting memories.
func arbitrationPrompt(a, b *types.MemoryEntry) string {
	return fmt.Sprintf(`Two stored memories disagree. Decide which one should be kept.

Return ONLY a JSON object in exactly this format, with no extra text:
{"winner": "A", "reason": "one short sentence"}

Rules:
- winner is exactly "A" or "B".
- Prefer the memory that is more specific, more recent in what it describes,
  and internally consistent.

MEMORY A (confidence %.2f, claim %q=%q):
%s

MEMORY B (confidence %.2f, claim %q=%q):
%s
`, a.Confidence, a.ClaimKey, a.ClaimValue, a.Content,
		b.Confidence, b.ClaimKey, b.ClaimValue, b.Content)
}
