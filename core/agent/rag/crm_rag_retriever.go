package rag

import (
	"context"

	"crm_server/core/domain"
)

const (
	DefaultTopK          = 3
	DefaultMinSimilarity = 0.30
)

// Retriever answers "which knowledge passages back up this query" by
// embedding the query and brute-force scanning the active chunk set.
type Retriever struct {
	embedder *Embedder
	chunks   domain.ChunkRepository

	topK     int
	minScore float64
}

func NewRetriever(embedder *Embedder, chunks domain.ChunkRepository, topK int, minScore float64) *Retriever {
	if topK <= 0 {
		topK = DefaultTopK
	}
	if minScore <= 0 {
		minScore = DefaultMinSimilarity
	}
	return &Retriever{
		embedder: embedder,
		chunks:   chunks,
		topK:     topK,
		minScore: minScore,
	}
}

type RetrievalRequest struct {
	Query    string
	Category string // empty means all categories
	Limit    int    // 0 means the retriever default
	MinScore float64
}

// Retrieve embeds the query and returns the best-matching chunks. An empty
// result is not an error; callers draft without grounding in that case.
func (r *Retriever) Retrieve(ctx context.Context, req *RetrievalRequest) ([]*Match, error) {
	embedding, err := r.embedder.Embed(ctx, req.Query)
	if err != nil {
		return nil, err
	}

	records, err := r.chunks.ListActive(ctx, req.Category)
	if err != nil {
		return nil, err
	}

	limit := req.Limit
	if limit <= 0 {
		limit = r.topK
	}
	minScore := req.MinScore
	if minScore <= 0 {
		minScore = r.minScore
	}

	return RankChunks(embedding, records, limit, minScore), nil
}
