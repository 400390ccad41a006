package retrieval

import (
	"context"
	"log/slog"
	"sort"
	"strings"
)

// rewriteHybridRerank generates query variants, runs hybrid retrieval for
// each plus the original, fuses the rankings with reciprocal-rank fusion,
// and reranks the fused pool. The bool reports whether any rewrite actually
// contributed; a failed rewrite call degrades to plain hybrid+rerank.
func (e *Engine) rewriteHybridRerank(ctx context.Context, query string, topK int) ([]ScoredChunk, bool, error) {
	variants, err := e.rewriteQuery(ctx, query)
	if err != nil {
		slog.Warn("Query rewrite failed, falling back to hybrid+rerank", "error", err)
		chunks, rerr := e.hybridRerank(ctx, query, topK)
		return chunks, false, rerr
	}

	pool := e.cfg.RerankPoolSize
	if pool < topK {
		pool = topK
	}
	rankings := make([][]ScoredChunk, 0, len(variants)+1)
	for _, q := range append([]string{query}, variants...) {
		chunks, err := e.hybrid(ctx, q, pool)
		if err != nil {
			return nil, false, err
		}
		rankings = append(rankings, chunks)
	}

	fused := FuseRankings(rankings, e.cfg.RRFK)
	if len(fused) > pool {
		fused = fused[:pool]
	}
	ranked := e.rerank(ctx, query, fused)
	if len(ranked) > topK {
		ranked = ranked[:topK]
	}
	return ranked, len(variants) > 0, nil
}

// rewriteQuery asks the chat model for alternative phrasings, one per line.
func (e *Engine) rewriteQuery(ctx context.Context, query string) ([]string, error) {
	n := e.cfg.RewriteCount
	if n <= 0 {
		return nil, nil
	}
	raw, err := e.chat.Complete(ctx, rewriteMessages(query, n))
	if err != nil {
		return nil, err
	}
	var variants []string
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(line), "0123456789.-) "))
		if line == "" || strings.EqualFold(line, query) {
			continue
		}
		variants = append(variants, line)
		if len(variants) == n {
			break
		}
	}
	return variants, nil
}

// FuseRankings combines multiple rankings with reciprocal-rank fusion:
// score(chunk) = sum over rankings of 1/(k + rank), rank 1-based. Higher is
// better. k=0 falls back to the conventional 60.
func FuseRankings(rankings [][]ScoredChunk, k int) []ScoredChunk {
	if k <= 0 {
		k = 60
	}
	scores := make(map[string]float64)
	byID := make(map[string]ScoredChunk)
	var order []string
	for _, ranking := range rankings {
		for rank, c := range ranking {
			if _, seen := byID[c.ChunkID]; !seen {
				byID[c.ChunkID] = c
				order = append(order, c.ChunkID)
			}
			scores[c.ChunkID] += 1 / float64(k+rank+1)
		}
	}
	out := make([]ScoredChunk, 0, len(order))
	for _, id := range order {
		c := byID[id]
		c.Score = scores[id]
		out = append(out, c)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}
