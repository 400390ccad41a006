package evaluation

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/audiorag/audiorag/pkg/llm"
	"github.com/audiorag/audiorag/pkg/models"
	"github.com/audiorag/audiorag/pkg/retrieval"
)

// DefaultVariants is the variant set compared when none is configured.
var DefaultVariants = []models.Variant{
	models.VariantSemantic,
	models.VariantHybrid,
	models.VariantHybridRerank,
	models.VariantRewriteHybridRerank,
}

// CaseResult records one (case, variant) run, raw model output included so
// reports stay interpretable when model outputs drift between runs.
type CaseResult struct {
	CaseID            string   `json:"case_id"`
	Query             string   `json:"query"`
	RetrievedChunkIDs []string `json:"retrieved_chunk_ids"`
	Answer            string   `json:"answer"`
	AnswerDegraded    bool     `json:"answer_degraded,omitempty"`
	Hit               bool     `json:"hit"`
	ReciprocalRank    float64  `json:"reciprocal_rank"`
	AnswerSimilarity  float64  `json:"answer_similarity"`
	JudgeScore        float64  `json:"judge_score"`
	JudgeRaw          string   `json:"judge_raw,omitempty"`
	Error             string   `json:"error,omitempty"`
}

// VariantReport aggregates one variant's metrics over the dataset.
type VariantReport struct {
	Variant          models.Variant `json:"variant"`
	HitRate          float64        `json:"hit_rate"`
	MRR              float64        `json:"mrr"`
	AnswerSimilarity float64        `json:"answer_similarity"`
	JudgeScore       float64        `json:"judge_score"`
	Composite        float64        `json:"composite"`
	Cases            []CaseResult   `json:"cases"`
}

// Report is the full ranked comparison.
type Report struct {
	GeneratedAt time.Time        `json:"generated_at"`
	TopK        int              `json:"top_k"`
	CaseCount   int              `json:"case_count"`
	Ranking     []models.Variant `json:"ranking"`
	Variants    []VariantReport  `json:"variants"`
}

// Harness runs the variant comparison. The judge chat client may differ from
// the engine's answering client.
type Harness struct {
	engine   *retrieval.Engine
	embedder llm.Embedder
	judge    llm.ChatClient
	topK     int
	logsDir  string
	now      func() time.Time
}

// NewHarness builds an evaluation harness writing reports under logsDir.
func NewHarness(engine *retrieval.Engine, embedder llm.Embedder, judge llm.ChatClient, topK int, logsDir string) *Harness {
	if topK <= 0 {
		topK = 3
	}
	return &Harness{
		engine:   engine,
		embedder: embedder,
		judge:    judge,
		topK:     topK,
		logsDir:  logsDir,
		now:      time.Now,
	}
}

// Run evaluates each variant over the dataset and returns the ranked report.
// Variants are ranked by composite score, ties broken by variant name so
// identical model outputs always reproduce the same ranking.
func (h *Harness) Run(ctx context.Context, ds *Dataset, variants []models.Variant) (*Report, error) {
	if len(variants) == 0 {
		variants = DefaultVariants
	}

	report := &Report{
		GeneratedAt: h.now().UTC(),
		TopK:        h.topK,
		CaseCount:   len(ds.Cases),
	}
	for _, variant := range variants {
		vr, err := h.runVariant(ctx, ds, variant)
		if err != nil {
			return nil, err
		}
		report.Variants = append(report.Variants, *vr)
	}

	sort.SliceStable(report.Variants, func(i, j int) bool {
		a, b := report.Variants[i], report.Variants[j]
		if a.Composite != b.Composite {
			return a.Composite > b.Composite
		}
		return a.Variant < b.Variant
	})
	for _, vr := range report.Variants {
		report.Ranking = append(report.Ranking, vr.Variant)
	}
	return report, nil
}

func (h *Harness) runVariant(ctx context.Context, ds *Dataset, variant models.Variant) (*VariantReport, error) {
	vr := &VariantReport{Variant: variant}
	var hits, rrs, sims, judges []float64

	for _, c := range ds.Cases {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		cr := h.runCase(ctx, c, variant)
		vr.Cases = append(vr.Cases, cr)
		if cr.Error != "" {
			continue
		}
		if cr.Hit {
			hits = append(hits, 1)
		} else {
			hits = append(hits, 0)
		}
		rrs = append(rrs, cr.ReciprocalRank)
		sims = append(sims, cr.AnswerSimilarity)
		judges = append(judges, cr.JudgeScore)
	}

	vr.HitRate = mean(hits)
	vr.MRR = mean(rrs)
	vr.AnswerSimilarity = mean(sims)
	vr.JudgeScore = mean(judges)
	// Equal-weight composite over the four metrics, judge normalized to [0,1].
	vr.Composite = (vr.HitRate + vr.MRR + vr.AnswerSimilarity + vr.JudgeScore/10) / 4
	return vr, nil
}

func (h *Harness) runCase(ctx context.Context, c Case, variant models.Variant) CaseResult {
	cr := CaseResult{CaseID: c.ID, Query: c.Query}

	chunks, _, err := h.engine.Retrieve(ctx, c.Query, variant, h.topK)
	if err != nil {
		slog.Error("Evaluation retrieval failed", "case", c.ID, "variant", variant, "error", err)
		cr.Error = err.Error()
		return cr
	}
	for _, ch := range chunks {
		cr.RetrievedChunkIDs = append(cr.RetrievedChunkIDs, ch.ChunkID)
	}
	cr.Hit = hitAtK(cr.RetrievedChunkIDs, c.ExpectedChunkIDs)
	cr.ReciprocalRank = reciprocalRank(cr.RetrievedChunkIDs, c.ExpectedChunkIDs)

	cr.Answer, cr.AnswerDegraded = h.engine.Answer(ctx, c.Query, chunks)
	cr.AnswerSimilarity = h.answerSimilarity(ctx, cr.Answer, c.ExpectedAnswer)
	cr.JudgeScore, cr.JudgeRaw = h.judgeAnswer(ctx, c, cr.Answer)
	return cr
}

// answerSimilarity is the cosine similarity between embeddings of the
// generated and expected answers, 0 when no expected answer is curated.
func (h *Harness) answerSimilarity(ctx context.Context, answer, expected string) float64 {
	if expected == "" || answer == "" {
		return 0
	}
	vecs, err := h.embedder.Embed(ctx, []string{answer, expected})
	if err != nil {
		slog.Warn("Answer-similarity embedding failed", "error", err)
		return 0
	}
	return cosineSimilarity(vecs[0], vecs[1])
}

// WriteReport persists the report as logs/eval_<timestamp>.json and returns
// the path.
func (h *Harness) WriteReport(report *Report) (string, error) {
	if err := os.MkdirAll(h.logsDir, 0o755); err != nil {
		return "", fmt.Errorf("creating report directory: %w", err)
	}
	name := fmt.Sprintf("eval_%s.json", report.GeneratedAt.Format("20060102T150405Z"))
	path := filepath.Join(h.logsDir, name)
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("writing report: %w", err)
	}
	slog.Info("Evaluation report written", "path", path, "ranking", report.Ranking)
	return path, nil
}
