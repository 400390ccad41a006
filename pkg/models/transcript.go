package models

// Segment is one timed span of transcribed speech.
type Segment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// Transcript is the JSON document written to transcripts/<submission-id>.json.
// The format is stable across versions.
type Transcript struct {
	Language string    `json:"language"`
	Duration float64   `json:"duration"`
	Segments []Segment `json:"segments"`
	FullText string    `json:"full_text"`
}

// Chunk is one overlapping text window derived from a transcript, written as
// an element of chunks/<submission-id>.json. IDs are a deterministic hash of
// (submission id, ordinal), so re-chunking the same input reproduces them.
type Chunk struct {
	ID           string `json:"id"`
	Ordinal      int    `json:"ordinal"`
	Text         string `json:"text"`
	SegmentRange [2]int `json:"segment_range"`
}
