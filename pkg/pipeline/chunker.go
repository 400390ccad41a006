package pipeline

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"

	"github.com/audiorag/audiorag/pkg/models"
)

var whitespaceRun = regexp.MustCompile(`\s+`)

// NormalizeText collapses whitespace runs into single spaces and trims the
// ends. Chunk offsets are computed over this normalized form.
func NormalizeText(s string) string {
	return strings.TrimSpace(whitespaceRun.ReplaceAllString(s, " "))
}

// ChunkText slices normalized text into fixed-size character windows.
// Each window extends overlap characters into both of its neighbors, so
// consecutive windows advance by size-2*overlap; the final window may be
// shorter. Empty input yields no chunks.
func ChunkText(submissionID int64, text string, size, overlap int) []models.Chunk {
	normalized := NormalizeText(text)
	if normalized == "" {
		return nil
	}
	step := windowStep(size, overlap)
	if size <= 0 {
		size = 1
	}

	runes := []rune(normalized)
	var chunks []models.Chunk
	for start, ordinal := 0, 0; start < len(runes); start, ordinal = start+step, ordinal+1 {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, models.Chunk{
			ID:      ChunkID(submissionID, ordinal),
			Ordinal: ordinal,
			Text:    string(runes[start:end]),
		})
		if end == len(runes) {
			break
		}
	}
	return chunks
}

// windowStep is the distance between consecutive window starts. Degenerate
// size/overlap pairs clamp to single-character steps so chunking always
// terminates.
func windowStep(size, overlap int) int {
	if size <= 0 {
		size = 1
	}
	if overlap < 0 {
		overlap = 0
	}
	step := size - 2*overlap
	if step < 1 {
		step = 1
	}
	return step
}

// ChunkID derives a stable chunk identifier from submission and ordinal, so
// re-chunking the same submission reproduces the same ids.
func ChunkID(submissionID int64, ordinal int) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%d:%d", submissionID, ordinal)))
	return hex.EncodeToString(sum[:16])
}

// AttachSegmentRanges annotates each chunk with the first and last transcript
// segment whose normalized text overlaps the chunk's character window.
func AttachSegmentRanges(chunks []models.Chunk, segments []models.Segment, size, overlap int) {
	if len(chunks) == 0 || len(segments) == 0 {
		return
	}
	// Segment boundaries in normalized-character space.
	bounds := make([][2]int, len(segments))
	pos := 0
	for i, seg := range segments {
		text := NormalizeText(seg.Text)
		if i > 0 && text != "" {
			pos++ // joining space
		}
		bounds[i] = [2]int{pos, pos + len([]rune(text))}
		pos += len([]rune(text))
	}

	step := windowStep(size, overlap)
	for ci := range chunks {
		start := ci * step
		end := start + len([]rune(chunks[ci].Text))
		first, last := -1, -1
		for si, b := range bounds {
			if b[1] <= start || b[0] >= end {
				continue
			}
			if first == -1 {
				first = si
			}
			last = si
		}
		if first == -1 {
			first, last = 0, 0
		}
		chunks[ci].SegmentRange = [2]int{first, last}
	}
}
