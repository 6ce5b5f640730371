package extract

// extractionPrompt instructs the model to return strict JSON. The parser is
// tolerant anyway; the instructions reduce the cleanup it has to do.
const extractionPrompt = `Extract entities, concepts and topics from the text below.

Return ONLY a JSON object in exactly this format, with no extra text:
{
  "entities": [
    {"name": "entity name", "type": "person|organization|technology|product|location|event|concept", "mention_count": 1, "confidence": 0.9}
  ],
  "concepts": ["concept one", "concept two"],
  "topics": ["topic"]
}

Rules:
- Entity names must be lowercase.
- confidence is between 0.0 and 1.0.
- mention_count is how many times the entity appears in the text.
- Return empty arrays when nothing is found.

Text:
`
