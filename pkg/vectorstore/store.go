// Package vectorstore persists chunk embeddings in an embedded chromem
// collection under the data root. Embeddings are computed upstream; the
// store never calls an embedding service itself.
package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	chromem "github.com/philippgille/chromem-go"

	"github.com/audiorag/audiorag/pkg/models"
)

const collectionName = "chunks"

// Hit is one scored result from a similarity query.
type Hit struct {
	ChunkID      string
	SubmissionID int64
	Ordinal      int
	Text         string
	Similarity   float32
}

// Store wraps one persistent chromem collection.
type Store struct {
	db  *chromem.DB
	col *chromem.Collection
}

// Open loads or creates the persistent store at path.
func Open(path string) (*Store, error) {
	db, err := chromem.NewPersistentDB(path, false)
	if err != nil {
		return nil, fmt.Errorf("opening vector store: %w", err)
	}
	col, err := db.GetOrCreateCollection(collectionName, nil, rejectEmbeddingFunc)
	if err != nil {
		return nil, fmt.Errorf("opening chunk collection: %w", err)
	}
	return &Store{db: db, col: col}, nil
}

// rejectEmbeddingFunc guards against accidental in-store embedding calls.
func rejectEmbeddingFunc(context.Context, string) ([]float32, error) {
	return nil, errors.New("vectors must be computed upstream")
}

// Upsert writes chunk embeddings keyed by chunk id. Re-indexing the same
// submission overwrites the previous documents in place.
func (s *Store) Upsert(ctx context.Context, submissionID int64, chunks []models.Chunk, vectors [][]float32) error {
	if len(chunks) != len(vectors) {
		return fmt.Errorf("chunk/vector count mismatch: %d vs %d", len(chunks), len(vectors))
	}
	if len(chunks) == 0 {
		return nil
	}
	docs := make([]chromem.Document, 0, len(chunks))
	for i, c := range chunks {
		docs = append(docs, chromem.Document{
			ID:        c.ID,
			Content:   c.Text,
			Embedding: vectors[i],
			Metadata: map[string]string{
				"submission_id": strconv.FormatInt(submissionID, 10),
				"ordinal":       strconv.Itoa(c.Ordinal),
			},
		})
	}
	if err := s.col.AddDocuments(ctx, docs, 1); err != nil {
		return fmt.Errorf("indexing %d chunks: %w", len(docs), err)
	}
	return nil
}

// Query returns up to n nearest chunks for the query vector, most similar
// first. An empty index yields no hits rather than an error.
func (s *Store) Query(ctx context.Context, vector []float32, n int) ([]Hit, error) {
	count := s.col.Count()
	if count == 0 || n <= 0 {
		return nil, nil
	}
	if n > count {
		n = count
	}
	results, err := s.col.QueryEmbedding(ctx, vector, n, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("querying vector store: %w", err)
	}
	hits := make([]Hit, 0, len(results))
	for _, r := range results {
		subID, _ := strconv.ParseInt(r.Metadata["submission_id"], 10, 64)
		ordinal, _ := strconv.Atoi(r.Metadata["ordinal"])
		hits = append(hits, Hit{
			ChunkID:      r.ID,
			SubmissionID: subID,
			Ordinal:      ordinal,
			Text:         r.Content,
			Similarity:   r.Similarity,
		})
	}
	return hits, nil
}

// Count returns the number of indexed chunks.
func (s *Store) Count() int {
	return s.col.Count()
}

// DeleteSubmission removes all chunks indexed for one submission.
func (s *Store) DeleteSubmission(ctx context.Context, submissionID int64) error {
	where := map[string]string{"submission_id": strconv.FormatInt(submissionID, 10)}
	if err := s.col.Delete(ctx, where, nil); err != nil {
		return fmt.Errorf("deleting submission %d chunks: %w", submissionID, err)
	}
	return nil
}
