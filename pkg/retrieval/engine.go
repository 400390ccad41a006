// Package retrieval serves queries against the indexed corpus: semantic and
// lexical search, hybrid blending, LLM re-ranking, query rewriting with
// reciprocal-rank fusion, and answer generation.
package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/audiorag/audiorag/pkg/artifact"
	"github.com/audiorag/audiorag/pkg/config"
	"github.com/audiorag/audiorag/pkg/jobstore"
	"github.com/audiorag/audiorag/pkg/llm"
	"github.com/audiorag/audiorag/pkg/models"
	"github.com/audiorag/audiorag/pkg/vectorstore"
)

// DegradedAnswer is returned when answer generation fails after retries.
// The retrieved chunks still accompany it.
const DegradedAnswer = "Answer generation is temporarily unavailable; the most relevant transcript passages are attached."

// NoCorpusAnswer is returned when nothing has been indexed yet.
const NoCorpusAnswer = "no-corpus"

// ScoredChunk is one retrieved chunk with its blended score.
type ScoredChunk struct {
	ChunkID      string  `json:"chunk_id"`
	SubmissionID int64   `json:"submission_id"`
	Ordinal      int     `json:"ordinal"`
	Text         string  `json:"text"`
	Score        float64 `json:"score"`
}

// Response is the answered query with its provenance.
type Response struct {
	Answer         string         `json:"answer"`
	Chunks         []ScoredChunk  `json:"chunks"`
	Variant        models.Variant `json:"variant"`
	RewriteApplied bool           `json:"rewrite_applied"`
	Degraded       bool           `json:"degraded"`
	NoCorpus       bool           `json:"no_corpus"`
	EventID        int64          `json:"event_id"`
	ElapsedMs      int64          `json:"elapsed_ms"`
}

// Engine composes the retrieval variants over the stores and models.
type Engine struct {
	store     *jobstore.Store
	artifacts *artifact.Store
	vectors   *vectorstore.Store
	embedder  llm.Embedder
	chat      llm.ChatClient
	cfg       *config.RetrievalConfig
	now       func() time.Time
}

// NewEngine builds the retrieval engine.
func NewEngine(store *jobstore.Store, artifacts *artifact.Store, vectors *vectorstore.Store, embedder llm.Embedder, chat llm.ChatClient, cfg *config.RetrievalConfig) *Engine {
	return &Engine{
		store:     store,
		artifacts: artifacts,
		vectors:   vectors,
		embedder:  embedder,
		chat:      chat,
		cfg:       cfg,
		now:       time.Now,
	}
}

// Request is one user question with optional per-request overrides;
// unset fields fall back to the configured defaults.
type Request struct {
	UserID       string
	Query        string
	Variant      models.Variant
	TopK         int
	SystemPrompt string
}

// Query runs the full path for one user question: retrieve per the variant,
// generate the answer, and record the query event before returning.
func (e *Engine) Query(ctx context.Context, req Request) (*Response, error) {
	variant := req.Variant
	if !variant.Valid() {
		variant = models.Variant(e.cfg.Variant)
	}
	if !variant.Valid() {
		variant = models.VariantHybrid
	}
	topK := req.TopK
	if topK <= 0 {
		topK = e.cfg.TopK
	}
	start := e.now()

	resp := &Response{Variant: variant}
	if e.vectors.Count() == 0 {
		resp.NoCorpus = true
		resp.Answer = NoCorpusAnswer
		resp.ElapsedMs = e.now().Sub(start).Milliseconds()
		if err := e.recordEvent(ctx, req, resp, topK); err != nil {
			return nil, err
		}
		return resp, nil
	}

	chunks, rewriteApplied, err := e.Retrieve(ctx, req.Query, variant, topK)
	if err != nil {
		return nil, err
	}
	resp.Chunks = chunks
	resp.RewriteApplied = rewriteApplied

	answer, degraded := e.answerWithPrompt(ctx, req.SystemPrompt, req.Query, chunks)
	resp.Answer = answer
	resp.Degraded = degraded
	resp.ElapsedMs = e.now().Sub(start).Milliseconds()

	if err := e.recordEvent(ctx, req, resp, topK); err != nil {
		return nil, err
	}
	return resp, nil
}

// recordEvent persists the query event and stamps its id on the response.
func (e *Engine) recordEvent(ctx context.Context, req Request, resp *Response, topK int) error {
	event := &models.QueryEvent{
		UserID:         req.UserID,
		QueryText:      req.Query,
		TopK:           topK,
		Variant:        resp.Variant,
		RewriteApplied: resp.RewriteApplied,
		ResponseText:   resp.Answer,
		ResponseTimeMs: resp.ElapsedMs,
	}
	ids := make([]string, len(resp.Chunks))
	for i, c := range resp.Chunks {
		ids[i] = c.ChunkID
	}
	event.SetChunkIDs(ids)
	if err := e.store.RecordQueryEvent(ctx, event); err != nil {
		return fmt.Errorf("recording query event: %w", err)
	}
	resp.EventID = event.ID
	return nil
}

// Retrieve returns the top-K chunks for the query under the given variant.
// The bool reports whether query rewriting was applied.
func (e *Engine) Retrieve(ctx context.Context, query string, variant models.Variant, topK int) ([]ScoredChunk, bool, error) {
	switch variant {
	case models.VariantSemantic:
		chunks, err := e.semantic(ctx, query, topK)
		return chunks, false, err
	case models.VariantHybrid:
		chunks, err := e.hybrid(ctx, query, topK)
		return chunks, false, err
	case models.VariantHybridRerank:
		chunks, err := e.hybridRerank(ctx, query, topK)
		return chunks, false, err
	case models.VariantRewriteHybridRerank:
		return e.rewriteHybridRerank(ctx, query, topK)
	default:
		return nil, false, fmt.Errorf("unknown retrieval variant %q", variant)
	}
}

// semantic embeds the query and asks the vector store for nearest chunks.
func (e *Engine) semantic(ctx context.Context, query string, topK int) ([]ScoredChunk, error) {
	vecs, err := e.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	hits, err := e.vectors.Query(ctx, vecs[0], topK)
	if err != nil {
		return nil, err
	}
	chunks := make([]ScoredChunk, len(hits))
	for i, h := range hits {
		chunks[i] = ScoredChunk{
			ChunkID:      h.ChunkID,
			SubmissionID: h.SubmissionID,
			Ordinal:      h.Ordinal,
			Text:         h.Text,
			Score:        float64(h.Similarity),
		}
	}
	return chunks, nil
}

// hybrid blends normalized semantic and lexical scores, deduplicating by
// chunk id with the max blended score.
func (e *Engine) hybrid(ctx context.Context, query string, topK int) ([]ScoredChunk, error) {
	// Pull a wider semantic pool than topK so blending has candidates the
	// lexical pass would otherwise drown.
	pool := topK * 4
	if pool < 20 {
		pool = 20
	}
	semantic, err := e.semantic(ctx, query, pool)
	if err != nil {
		return nil, err
	}
	lexical, err := e.lexical(ctx, query, pool)
	if err != nil {
		return nil, err
	}
	blended := BlendScores(semantic, lexical, e.cfg.SemanticWeight, e.cfg.LexicalWeight)
	if len(blended) > topK {
		blended = blended[:topK]
	}
	return blended, nil
}

// BlendScores min-max normalizes both result sets to [0,1] and scores each
// chunk as wSem*sem + wLex*lex, with a missing side contributing zero.
// Chunks appearing in both lists collapse to one entry.
func BlendScores(semantic, lexical []ScoredChunk, wSem, wLex float64) []ScoredChunk {
	normSem := normalizeScores(semantic)
	normLex := normalizeScores(lexical)

	semScore := make(map[string]float64, len(normSem))
	for _, c := range normSem {
		if s, ok := semScore[c.ChunkID]; !ok || c.Score > s {
			semScore[c.ChunkID] = c.Score
		}
	}
	lexScore := make(map[string]float64, len(normLex))
	for _, c := range normLex {
		if s, ok := lexScore[c.ChunkID]; !ok || c.Score > s {
			lexScore[c.ChunkID] = c.Score
		}
	}

	seen := make(map[string]bool)
	out := make([]ScoredChunk, 0, len(normSem)+len(normLex))
	for _, c := range append(normSem, normLex...) {
		if seen[c.ChunkID] {
			continue
		}
		seen[c.ChunkID] = true
		c.Score = wSem*semScore[c.ChunkID] + wLex*lexScore[c.ChunkID]
		out = append(out, c)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}

// normalizeScores min-max scales scores to [0,1]. A single-element or
// constant list maps to 1.
func normalizeScores(chunks []ScoredChunk) []ScoredChunk {
	if len(chunks) == 0 {
		return nil
	}
	minS, maxS := chunks[0].Score, chunks[0].Score
	for _, c := range chunks[1:] {
		if c.Score < minS {
			minS = c.Score
		}
		if c.Score > maxS {
			maxS = c.Score
		}
	}
	out := make([]ScoredChunk, len(chunks))
	copy(out, chunks)
	span := maxS - minS
	for i := range out {
		if span == 0 {
			out[i].Score = 1
		} else {
			out[i].Score = (out[i].Score - minS) / span
		}
	}
	return out
}

// Answer generates an answer for already-retrieved chunks without recording
// a query event. The bool reports degradation.
func (e *Engine) Answer(ctx context.Context, query string, chunks []ScoredChunk) (string, bool) {
	return e.answerWithPrompt(ctx, "", query, chunks)
}

// answerWithPrompt invokes the chat model with the retrieved context.
// Failures degrade to a placeholder answer rather than failing the query.
func (e *Engine) answerWithPrompt(ctx context.Context, systemPrompt, query string, chunks []ScoredChunk) (string, bool) {
	if systemPrompt == "" {
		systemPrompt = e.cfg.SystemPrompt
	}
	answer, err := e.chat.Complete(ctx, answerMessages(systemPrompt, query, chunks))
	if err != nil {
		slog.Error("Answer generation failed, returning degraded response", "error", err)
		return DegradedAnswer, true
	}
	return answer, false
}
