package evaluation

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/audiorag/audiorag/pkg/llm"
)

const judgeSystemPrompt = `You grade answers to questions about audio transcripts. Compare the
candidate answer to the reference answer and rate its correctness and
completeness from 0 to 10. Output only the number.`

// judgeAnswer asks the judge model to score the answer against the
// reference. The raw model output is returned alongside the parsed score so
// unparseable or drifting outputs stay auditable; failures score 0.
func (h *Harness) judgeAnswer(ctx context.Context, c Case, answer string) (float64, string) {
	if c.ExpectedAnswer == "" || answer == "" {
		return 0, ""
	}
	raw, err := h.judge.Complete(ctx, judgeMessages(c, answer))
	if err != nil {
		slog.Warn("LLM-judge call failed", "case", c.ID, "error", err)
		return 0, ""
	}
	score, err := parseJudgeScore(raw)
	if err != nil {
		slog.Warn("Unparseable LLM-judge response", "case", c.ID, "response", raw)
		return 0, raw
	}
	return score, raw
}

func judgeMessages(c Case, answer string) []llm.ChatMessage {
	return []llm.ChatMessage{
		{Role: llm.RoleSystem, Content: judgeSystemPrompt},
		{Role: llm.RoleUser, Content: fmt.Sprintf(
			"Question: %s\n\nReference answer: %s\n\nCandidate answer: %s",
			c.Query, c.ExpectedAnswer, answer)},
	}
}

// parseJudgeScore reads the leading number of the response, clamped to
// [0, 10].
func parseJudgeScore(raw string) (float64, error) {
	fields := strings.Fields(strings.TrimSpace(raw))
	if len(fields) == 0 {
		return 0, fmt.Errorf("empty judge response")
	}
	v, err := strconv.ParseFloat(strings.TrimSuffix(fields[0], "/10"), 64)
	if err != nil {
		return 0, err
	}
	if v < 0 {
		v = 0
	}
	if v > 10 {
		v = 10
	}
	return v, nil
}
