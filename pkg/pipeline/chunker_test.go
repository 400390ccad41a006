package pipeline

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/audiorag/audiorag/pkg/models"
)

func TestNormalizeText(t *testing.T) {
	assert.Equal(t, "a b c", NormalizeText("  a\t\tb\n\nc  "))
	assert.Equal(t, "", NormalizeText(" \n\t "))
	assert.Equal(t, "plain", NormalizeText("plain"))
}

func TestChunkTextWindows(t *testing.T) {
	chunks := ChunkText(1, "the quick brown fox", 10, 2)
	require.Len(t, chunks, 3)
	assert.Equal(t, "the quick ", chunks[0].Text)
	assert.Equal(t, "ick brown ", chunks[1].Text)
	assert.Equal(t, "own fox", chunks[2].Text)
	for i, c := range chunks {
		assert.Equal(t, i, c.Ordinal)
	}
}

func TestChunkTextEdges(t *testing.T) {
	t.Run("empty input", func(t *testing.T) {
		assert.Nil(t, ChunkText(1, "   ", 10, 2))
	})

	t.Run("input shorter than window", func(t *testing.T) {
		chunks := ChunkText(1, "short", 300, 75)
		require.Len(t, chunks, 1)
		assert.Equal(t, "short", chunks[0].Text)
	})

	t.Run("input exactly one window", func(t *testing.T) {
		chunks := ChunkText(1, strings.Repeat("x", 10), 10, 2)
		require.Len(t, chunks, 1)
	})

	t.Run("overlap at least size clamps to one-step windows", func(t *testing.T) {
		chunks := ChunkText(1, "abcde", 2, 5)
		require.Len(t, chunks, 4)
		assert.Equal(t, "ab", chunks[0].Text)
		assert.Equal(t, "bc", chunks[1].Text)
	})

	t.Run("multibyte runes never split", func(t *testing.T) {
		chunks := ChunkText(1, strings.Repeat("я", 25), 10, 2)
		for _, c := range chunks {
			assert.Equal(t, c.Text, strings.ToValidUTF8(c.Text, ""))
		}
	})
}

func TestChunkIDStable(t *testing.T) {
	a := ChunkID(42, 3)
	b := ChunkID(42, 3)
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, ChunkID(42, 4))
	assert.NotEqual(t, a, ChunkID(43, 3))
}

func TestChunkTextReproducible(t *testing.T) {
	text := "the quick brown fox jumps over the lazy dog"
	first := ChunkText(9, text, 10, 2)
	second := ChunkText(9, text, 10, 2)
	assert.Equal(t, first, second, "re-chunking must reproduce identical chunks")
}

func TestAttachSegmentRanges(t *testing.T) {
	segments := []models.Segment{
		{Start: 0, End: 2, Text: "the quick"},
		{Start: 2, End: 4, Text: "brown fox"},
	}
	chunks := ChunkText(1, "the quick brown fox", 10, 2)
	AttachSegmentRanges(chunks, segments, 10, 2)

	require.Len(t, chunks, 3)
	assert.Equal(t, [2]int{0, 0}, chunks[0].SegmentRange, "first window stays in the first segment")
	assert.Equal(t, [2]int{0, 1}, chunks[1].SegmentRange, "middle window spans both segments")
	assert.Equal(t, [2]int{1, 1}, chunks[2].SegmentRange, "last window sits in the second segment")
}
