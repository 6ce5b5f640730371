// Package extract turns entry content into normalized entity tags, concepts
// and topics. The primary strategy asks the configured reasoner for strict
// JSON and parses it tolerantly; when no reasoner is available or the model
// output is unusable, a rule-based fallback keeps extraction working in a
// degraded form.
package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"strings"
	"unicode"

	"github.com/google/uuid"

	"github.com/awarenet/memcore/internal/provider"
	"github.com/awarenet/memcore/pkg/types"
)

// entityTypes whitelists the types the model may assign. Unknown types are
// coerced to "concept" rather than dropped.
var entityTypes = map[string]bool{
	"person":       true,
	"organization": true,
	"technology":   true,
	"product":      true,
	"location":     true,
	"event":        true,
	"concept":      true,
}

const (
	maxEntities = 32
	maxKeywords = 10
)

// Extractor produces an Extraction for entry content.
type Extractor struct {
	reasoner provider.Reasoner // nil selects the rule fallback only
}

// New creates an extractor. A nil reasoner is valid and disables the model
// strategy.
func New(reasoner provider.Reasoner) *Extractor {
	return &Extractor{reasoner: reasoner}
}

// Extract runs the model strategy and falls back to rules when the model is
// unavailable or returns unusable output. The fallback never fails.
func (x *Extractor) Extract(ctx context.Context, content string) (*types.Extraction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if x.reasoner != nil {
		ext, err := x.extractWithModel(ctx, content)
		if err == nil {
			return ext, nil
		}
		log.Printf("extract: model extraction failed, using rule fallback: %v", err)
	}
	return x.extractWithRules(content), nil
}

type modelExtraction struct {
	Entities []struct {
		Name         string  `json:"name"`
		Type         string  `json:"type"`
		MentionCount int     `json:"mention_count"`
		Confidence   float64 `json:"confidence"`
	} `json:"entities"`
	Concepts []string `json:"concepts"`
	Topics   []string `json:"topics"`
}

func (x *Extractor) extractWithModel(ctx context.Context, content string) (*types.Extraction, error) {
	raw, err := x.reasoner.Complete(ctx, extractionPrompt+content)
	if err != nil {
		return nil, err
	}

	var resp modelExtraction
	if err := json.Unmarshal([]byte(provider.ExtractJSON(raw)), &resp); err != nil {
		return nil, fmt.Errorf("failed to parse extraction JSON: %w", err)
	}

	ext := &types.Extraction{
		Concepts: normalizeList(resp.Concepts),
		Topics:   normalizeList(resp.Topics),
	}
	for _, e := range resp.Entities {
		name := strings.ToLower(strings.TrimSpace(e.Name))
		if name == "" {
			continue
		}
		if e.Confidence < 0.0 || e.Confidence > 1.0 {
			log.Printf("extract: skipping entity %q with invalid confidence %f", name, e.Confidence)
			continue
		}
		etype := strings.ToLower(strings.TrimSpace(e.Type))
		if !entityTypes[etype] {
			etype = "concept"
		}
		mentions := e.MentionCount
		if mentions < 1 {
			mentions = 1
		}
		ext.Entities = append(ext.Entities, types.EntityTag{
			ID:           uuid.NewString(),
			Name:         name,
			Type:         etype,
			MentionCount: mentions,
			Confidence:   e.Confidence,
		})
		if len(ext.Entities) >= maxEntities {
			break
		}
	}
	return ext, nil
}

// extractWithRules is the deterministic fallback: capitalized token runs
// become entity tags and high-frequency words become concepts. Crude, but it
// keeps co-occurrence candidate search alive when the model is down.
func (x *Extractor) extractWithRules(content string) *types.Extraction {
	ext := &types.Extraction{}

	counts := make(map[string]int)
	for _, run := range capitalizedRuns(content) {
		counts[run]++
	}
	names := make([]string, 0, len(counts))
	for name := range counts {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		if counts[names[i]] != counts[names[j]] {
			return counts[names[i]] > counts[names[j]]
		}
		return names[i] < names[j]
	})
	for _, name := range names {
		if len(ext.Entities) >= maxEntities {
			break
		}
		ext.Entities = append(ext.Entities, types.EntityTag{
			ID:           uuid.NewString(),
			Name:         name,
			Type:         "concept",
			MentionCount: counts[name],
			Confidence:   0.5,
		})
	}

	ext.Concepts = topWords(content, maxKeywords)
	return ext
}

// capitalizedRuns finds maximal runs of capitalized words ("New York City")
// and returns them lowercased.
func capitalizedRuns(content string) []string {
	var runs []string
	var current []string
	flush := func() {
		if len(current) > 0 {
			runs = append(runs, strings.ToLower(strings.Join(current, " ")))
			current = nil
		}
	}
	for _, word := range strings.Fields(content) {
		trimmed := strings.TrimFunc(word, func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsNumber(r)
		})
		r := []rune(trimmed)
		if len(r) >= 2 && unicode.IsUpper(r[0]) {
			current = append(current, trimmed)
			// Trailing punctuation on the original word ends the run.
			if strings.TrimRight(word, ".,;:!?)\"'") != word {
				flush()
			}
			continue
		}
		flush()
	}
	flush()
	return runs
}

// stopWords excluded from keyword counting.
var stopWords = map[string]bool{
	"the": true, "and": true, "for": true, "that": true, "this": true,
	"with": true, "from": true, "are": true, "was": true, "were": true,
	"has": true, "have": true, "had": true, "not": true, "but": true,
	"its": true, "their": true, "they": true, "when": true, "where": true,
	"which": true, "will": true, "would": true, "should": true, "can": true,
	"into": true, "than": true, "then": true, "also": true, "been": true,
}

func topWords(content string, limit int) []string {
	counts := make(map[string]int)
	for _, word := range strings.FieldsFunc(strings.ToLower(content), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	}) {
		if len(word) < 4 || stopWords[word] {
			continue
		}
		counts[word]++
	}
	words := make([]string, 0, len(counts))
	for w := range counts {
		if counts[w] > 1 {
			words = append(words, w)
		}
	}
	sort.Slice(words, func(i, j int) bool {
		if counts[words[i]] != counts[words[j]] {
			return counts[words[i]] > counts[words[j]]
		}
		return words[i] < words[j]
	})
	if len(words) > limit {
		words = words[:limit]
	}
	return words
}

func normalizeList(items []string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, item := range items {
		item = strings.ToLower(strings.TrimSpace(item))
		if item == "" || seen[item] {
			continue
		}
		seen[item] = true
		out = append(out, item)
	}
	return out
}
