package models

import (
	"encoding/json"
	"time"
)

// Variant names a retrieval engine configuration.
type Variant string

// Retrieval variants.
const (
	VariantSemantic            Variant = "semantic"
	VariantHybrid              Variant = "hybrid"
	VariantHybridRerank        Variant = "hybrid+rerank"
	VariantRewriteHybridRerank Variant = "rewrite+hybrid+rerank"
)

// Valid reports whether v is a known variant.
func (v Variant) Valid() bool {
	switch v {
	case VariantSemantic, VariantHybrid, VariantHybridRerank, VariantRewriteHybridRerank:
		return true
	}
	return false
}

// QueryEvent is the immutable record of one answered query.
type QueryEvent struct {
	ID             int64   `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID         string  `gorm:"index" json:"user_id"`
	QueryText      string  `json:"query_text"`
	TopK           int     `json:"top_k"`
	Variant        Variant `json:"variant"`
	RewriteApplied bool    `json:"rewrite_applied"`
	ResponseText   string  `json:"response_text"`
	ResponseTimeMs int64   `json:"response_time_ms"`
	// ChunkIDs is a JSON array of retrieved chunk ids.
	ChunkIDs  string    `json:"chunk_ids"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`
}

// SetChunkIDs stores the retrieved chunk ids as JSON.
func (q *QueryEvent) SetChunkIDs(ids []string) {
	b, _ := json.Marshal(ids)
	q.ChunkIDs = string(b)
}

// RetrievedChunkIDs decodes the stored chunk id list.
func (q *QueryEvent) RetrievedChunkIDs() []string {
	var ids []string
	_ = json.Unmarshal([]byte(q.ChunkIDs), &ids)
	return ids
}

// Rating classifies user feedback on a query response.
type Rating string

// Feedback ratings.
const (
	RatingPositive        Rating = "positive"
	RatingNegative        Rating = "negative"
	RatingDetailRequested Rating = "detail-requested"
)

// Valid reports whether r is a known rating.
func (r Rating) Valid() bool {
	switch r {
	case RatingPositive, RatingNegative, RatingDetailRequested:
		return true
	}
	return false
}

// FeedbackEvent is one piece of user feedback tied to a query event.
type FeedbackEvent struct {
	ID           int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	QueryEventID int64     `gorm:"index" json:"query_event_id"`
	Rating       Rating    `gorm:"index" json:"rating"`
	Comment      string    `json:"comment,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}
