package retrieval

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"unicode"

	"github.com/audiorag/audiorag/pkg/models"
)

// lexical scores chunks by query-term occurrence. It scans the chunk
// artifacts of every indexed submission, so it sees exactly the corpus the
// vector store holds.
func (e *Engine) lexical(ctx context.Context, query string, topK int) ([]ScoredChunk, error) {
	terms := tokenize(query)
	if len(terms) == 0 {
		return nil, nil
	}

	subs, err := e.store.ListIndexed(ctx)
	if err != nil {
		return nil, err
	}

	var scored []ScoredChunk
	for _, sub := range subs {
		var chunks []models.Chunk
		if err := e.artifacts.GetJSON(sub.ChunksPath, &chunks); err != nil {
			// A missing artifact degrades recall for that submission only.
			slog.Warn("Skipping unreadable chunk artifact",
				"submission_id", sub.ID, "path", sub.ChunksPath, "error", err)
			continue
		}
		for _, c := range chunks {
			score := termScore(c.Text, terms)
			if score == 0 {
				continue
			}
			scored = append(scored, ScoredChunk{
				ChunkID:      c.ID,
				SubmissionID: sub.ID,
				Ordinal:      c.Ordinal,
				Text:         c.Text,
				Score:        score,
			})
		}
	}

	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if len(scored) > topK {
		scored = scored[:topK]
	}
	return scored, nil
}

// stopwords are high-frequency terms that carry no lexical signal. The set
// is deliberately small; anything beyond it is left to scoring.
var stopwords = map[string]struct{}{
	"the": {}, "and": {}, "for": {}, "are": {}, "was": {}, "were": {},
	"this": {}, "that": {}, "with": {}, "from": {}, "into": {},
	"what": {}, "which": {}, "how": {}, "who": {}, "why": {},
	"does": {}, "about": {},
}

// tokenize lowercases and splits on non-alphanumeric runes, dropping
// single-character terms and stopwords.
func tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	terms := fields[:0]
	for _, f := range fields {
		if len(f) <= 1 {
			continue
		}
		if _, skip := stopwords[f]; skip {
			continue
		}
		terms = append(terms, f)
	}
	return terms
}

// termScore counts query-term occurrences in the chunk, normalized by chunk
// token count so long chunks don't dominate.
func termScore(text string, terms []string) float64 {
	tokens := tokenize(text)
	if len(tokens) == 0 {
		return 0
	}
	counts := make(map[string]int, len(tokens))
	for _, t := range tokens {
		counts[t]++
	}
	hits := 0
	for _, term := range terms {
		hits += counts[term]
	}
	return float64(hits) / float64(len(tokens))
}
