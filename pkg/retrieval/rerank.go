package retrieval

import (
	"context"
	"log/slog"
	"sort"
	"strconv"
	"strings"
)

// hybridRerank runs hybrid retrieval over a wider pool and asks the chat
// model to re-score the candidates. On any model or parse failure the hybrid
// ordering stands.
func (e *Engine) hybridRerank(ctx context.Context, query string, topK int) ([]ScoredChunk, error) {
	pool := e.cfg.RerankPoolSize
	if pool < topK {
		pool = topK
	}
	candidates, err := e.hybrid(ctx, query, pool)
	if err != nil {
		return nil, err
	}
	ranked := e.rerank(ctx, query, candidates)
	if len(ranked) > topK {
		ranked = ranked[:topK]
	}
	return ranked, nil
}

// rerank orders candidates by LLM relevance score, breaking ties by the
// incoming hybrid rank. The incoming order is returned unchanged when the
// model call fails or its output cannot be parsed.
func (e *Engine) rerank(ctx context.Context, query string, candidates []ScoredChunk) []ScoredChunk {
	if len(candidates) < 2 {
		return candidates
	}
	raw, err := e.chat.Complete(ctx, rerankMessages(query, candidates))
	if err != nil {
		slog.Warn("Rerank model call failed, keeping hybrid order", "error", err)
		return candidates
	}
	scores, ok := parseRerankScores(raw, len(candidates))
	if !ok {
		slog.Warn("Unparseable rerank response, keeping hybrid order", "response", raw)
		return candidates
	}

	type ranked struct {
		chunk      ScoredChunk
		score      float64
		hybridRank int
	}
	rs := make([]ranked, len(candidates))
	for i, c := range candidates {
		rs[i] = ranked{chunk: c, score: scores[i], hybridRank: i}
	}
	sort.SliceStable(rs, func(i, j int) bool {
		if rs[i].score != rs[j].score {
			return rs[i].score > rs[j].score
		}
		return rs[i].hybridRank < rs[j].hybridRank
	})

	out := make([]ScoredChunk, len(rs))
	for i, r := range rs {
		out[i] = r.chunk
		out[i].Score = r.score
	}
	return out
}

// parseRerankScores reads one numeric score per line, "index: score" or a
// bare score per candidate line. It requires exactly want scores.
func parseRerankScores(raw string, want int) ([]float64, bool) {
	scores := make([]float64, 0, want)
	for _, line := range strings.Split(strings.TrimSpace(raw), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if i := strings.IndexByte(line, ':'); i >= 0 {
			line = strings.TrimSpace(line[i+1:])
		}
		v, err := strconv.ParseFloat(line, 64)
		if err != nil {
			return nil, false
		}
		scores = append(scores, v)
	}
	if len(scores) != want {
		return nil, false
	}
	return scores, true
}
