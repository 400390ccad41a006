package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/audiorag/audiorag/pkg/jobstore"
	"github.com/audiorag/audiorag/pkg/models"
	"github.com/audiorag/audiorag/pkg/retrieval"
)

// ProcessRequest submits one or more URLs for ingestion.
type ProcessRequest struct {
	URLs       []string `json:"urls" binding:"required,min=1"`
	UseFakeASR bool     `json:"use_fake_asr"`
	Language   string   `json:"language"`
	UserID     string   `json:"user_id"`
	Priority   int      `json:"priority"`
}

// ProcessResponse lists the accepted submission ids. Duplicates holds URLs
// skipped because an identical submission is already in flight.
type ProcessResponse struct {
	SubmissionIDs []int64  `json:"submission_ids"`
	Duplicates    []string `json:"duplicates,omitempty"`
}

// Process accepts URL submissions. 202 on accept, 429 once the backlog hits
// the high-water mark.
func (s *Server) Process(c *gin.Context) {
	var req ProcessRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	userID := req.UserID
	if userID == "" {
		userID = "api"
	}

	var resp ProcessResponse
	for _, url := range req.URLs {
		sub, err := s.store.InsertSubmission(c.Request.Context(), jobstore.InsertInput{
			SourceKind:   models.SourceRemoteURL,
			Source:       url,
			UserID:       userID,
			LanguageHint: req.Language,
			UseFakeASR:   req.UseFakeASR,
			Priority:     req.Priority,
		})
		switch {
		case err == nil:
			resp.SubmissionIDs = append(resp.SubmissionIDs, sub.ID)
		case errors.Is(err, jobstore.ErrDuplicateSource):
			resp.Duplicates = append(resp.Duplicates, url)
		default:
			abortStoreError(c, err)
			return
		}
	}
	c.JSON(http.StatusAccepted, resp)
}

// QueryRequest asks one question against the corpus.
type QueryRequest struct {
	Question     string `json:"question" binding:"required"`
	TopK         int    `json:"top_k"`
	Variant      string `json:"variant"`
	SystemPrompt string `json:"system_prompt"`
	UserID       string `json:"user_id"`
}

// Source is one retrieved chunk in a query response.
type Source struct {
	ChunkID string  `json:"chunk_id"`
	Score   float64 `json:"score"`
	Text    string  `json:"text"`
}

// QueryResponse answers one question.
type QueryResponse struct {
	Answer         string   `json:"answer"`
	Sources        []Source `json:"sources"`
	Variant        string   `json:"variant"`
	Degraded       bool     `json:"degraded,omitempty"`
	NoCorpus       bool     `json:"no_corpus,omitempty"`
	ResponseTimeMs int64    `json:"response_time_ms"`
}

// Query runs the retrieval path and returns the answer with its sources.
func (s *Server) Query(c *gin.Context) {
	var req QueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Variant != "" && !models.Variant(req.Variant).Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown variant " + req.Variant})
		return
	}
	userID := req.UserID
	if userID == "" {
		userID = "api"
	}

	result, err := s.engine.Query(c.Request.Context(), retrieval.Request{
		UserID:       userID,
		Query:        req.Question,
		Variant:      models.Variant(req.Variant),
		TopK:         req.TopK,
		SystemPrompt: req.SystemPrompt,
	})
	if err != nil {
		abortStoreError(c, err)
		return
	}

	resp := QueryResponse{
		Answer:         result.Answer,
		Sources:        make([]Source, 0, len(result.Chunks)),
		Variant:        string(result.Variant),
		Degraded:       result.Degraded,
		NoCorpus:       result.NoCorpus,
		ResponseTimeMs: result.ElapsedMs,
	}
	for _, ch := range result.Chunks {
		resp.Sources = append(resp.Sources, Source{ChunkID: ch.ChunkID, Score: ch.Score, Text: ch.Text})
	}
	c.JSON(http.StatusOK, resp)
}

// Status reports stage counts, analytics counters, storage sizes, and
// worker pool health.
func (s *Server) Status(c *gin.Context) {
	analytics, err := s.store.CollectAnalytics(c.Request.Context())
	if err != nil {
		abortStoreError(c, err)
		return
	}
	out := gin.H{
		"analytics":       analytics,
		"storage_bytes":   s.artifacts.Sizes(),
		"collection_size": s.vectors.Count(),
	}
	if s.pool != nil {
		out["pool"] = s.pool.Health(c.Request.Context())
	}
	c.JSON(http.StatusOK, out)
}

// Health is the liveness probe.
func (s *Server) Health(c *gin.Context) {
	ok := true
	if s.pool != nil {
		ok = s.pool.Health(c.Request.Context()).IsHealthy
	}
	status := http.StatusOK
	if !ok {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{"ok": ok, "collection_size": s.vectors.Count()})
}

// Progress reports a submission's pipeline position as a percentage.
func (s *Server) Progress(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid submission id"})
		return
	}
	progress, err := s.store.GetProgress(c.Request.Context(), id)
	if err != nil {
		abortStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, progress)
}

// Cancel requests cooperative cancellation of a submission.
func (s *Server) Cancel(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid submission id"})
		return
	}
	if err := s.store.RequestCancel(c.Request.Context(), id); err != nil {
		abortStoreError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"submission_id": id, "cancel_requested": true})
}

// FeedbackRequest rates a previous query response.
type FeedbackRequest struct {
	QueryEventID int64  `json:"query_event_id" binding:"required"`
	Rating       string `json:"rating" binding:"required"`
	Comment      string `json:"comment"`
}

// Feedback records a rating against a query event.
func (s *Server) Feedback(c *gin.Context) {
	var req FeedbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	rating := models.Rating(req.Rating)
	if !rating.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown rating " + req.Rating})
		return
	}
	fb, err := s.store.RecordFeedback(c.Request.Context(), req.QueryEventID, rating, req.Comment)
	if err != nil {
		abortStoreError(c, err)
		return
	}
	c.JSON(http.StatusCreated, fb)
}
