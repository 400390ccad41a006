package retrieval

import (
	"fmt"
	"strings"

	"github.com/audiorag/audiorag/pkg/llm"
)

const defaultSystemPrompt = `You answer questions about a corpus of audio transcripts.
Ground every claim in the numbered context passages below. If the passages do
not contain the answer, say so instead of guessing.`

const rewriteSystemPrompt = `You rewrite search queries. Given a question, produce alternative
phrasings that could surface relevant transcript passages a literal search
would miss. Output one rewrite per line with no numbering or commentary.`

const rerankSystemPrompt = `You rate how relevant each passage is to the question on a 0-10
scale. Output one line per passage in the given order, formatted as
"<passage number>: <score>". No other text.`

// answerMessages builds the chat exchange for answer generation.
func answerMessages(systemPrompt, query string, chunks []ScoredChunk) []llm.ChatMessage {
	if systemPrompt == "" {
		systemPrompt = defaultSystemPrompt
	}
	var b strings.Builder
	b.WriteString("Context passages:\n")
	for i, c := range chunks {
		fmt.Fprintf(&b, "[%d] %s\n", i+1, c.Text)
	}
	fmt.Fprintf(&b, "\nQuestion: %s", query)
	return []llm.ChatMessage{
		{Role: llm.RoleSystem, Content: systemPrompt},
		{Role: llm.RoleUser, Content: b.String()},
	}
}

// rewriteMessages asks for n alternative phrasings of the query.
func rewriteMessages(query string, n int) []llm.ChatMessage {
	return []llm.ChatMessage{
		{Role: llm.RoleSystem, Content: rewriteSystemPrompt},
		{Role: llm.RoleUser, Content: fmt.Sprintf("Produce %d rewrites of this question:\n%s", n, query)},
	}
}

// rerankMessages asks for a relevance score per candidate passage.
func rerankMessages(query string, candidates []ScoredChunk) []llm.ChatMessage {
	var b strings.Builder
	fmt.Fprintf(&b, "Question: %s\n\nPassages:\n", query)
	for i, c := range candidates {
		fmt.Fprintf(&b, "[%d] %s\n", i+1, c.Text)
	}
	return []llm.ChatMessage{
		{Role: llm.RoleSystem, Content: rerankSystemPrompt},
		{Role: llm.RoleUser, Content: b.String()},
	}
}
