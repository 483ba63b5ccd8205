package rag

import (
	"math"
	"sort"

	"crm_server/core/domain"
)

// Match is one chunk scored against a query vector.
type Match struct {
	ChunkID       int64   `json:"chunk_id"`
	DocumentID    int64   `json:"document_id"`
	DocumentTitle string  `json:"document_title"`
	Category      string  `json:"category"`
	Seq           int     `json:"seq"`
	Content       string  `json:"content"`
	Score         float64 `json:"score"`
}

// CosineSimilarity computes the cosine of the angle between two vectors.
// Mismatched lengths or a zero-norm vector score 0 rather than erroring;
// a degenerate embedding should never surface as a retrieval hit.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// RankChunks scores every record against the query vector, drops scores below
// minScore and returns the top k. Equal scores keep the input order, which
// ListActive guarantees is insertion order.
func RankChunks(query []float32, records []*domain.ChunkRecord, k int, minScore float64) []*Match {
	if k <= 0 {
		k = 5
	}

	matches := make([]*Match, 0, len(records))
	for _, rec := range records {
		score := CosineSimilarity(query, rec.Embedding)
		if score < minScore {
			continue
		}
		matches = append(matches, &Match{
			ChunkID:       rec.ChunkID,
			DocumentID:    rec.DocumentID,
			DocumentTitle: rec.DocumentTitle,
			Category:      rec.Category,
			Seq:           rec.Seq,
			Content:       rec.Content,
			Score:         score,
		})
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Score > matches[j].Score
	})

	if len(matches) > k {
		matches = matches[:k]
	}
	return matches
}
