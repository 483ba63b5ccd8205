// Package vector stores knowledge chunks and their embedding vectors in
// Postgres via pgx. Vectors live in a float4[] column; similarity is
// computed in process, so reads only need raw arrays back.
package vector

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"crm_server/core/domain"
)

// ChunkStore implements domain.ChunkRepository.
type ChunkStore struct {
	db *pgxpool.Pool
}

func NewChunkStore(db *pgxpool.Pool) *ChunkStore {
	return &ChunkStore{db: db}
}

// ReplaceForDocument swaps the document's chunk set inside one transaction
// so retrieval never sees a half-replaced document.
func (s *ChunkStore) ReplaceForDocument(ctx context.Context, documentID int64, chunks []*domain.Chunk) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM chunks WHERE document_id = $1`, documentID); err != nil {
		return fmt.Errorf("failed to delete old chunks: %w", err)
	}

	query := `
		INSERT INTO chunks (document_id, seq, content, char_count, embedding)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`
	for _, chunk := range chunks {
		err := tx.QueryRow(ctx, query,
			chunk.DocumentID, chunk.Seq, chunk.Content, chunk.CharCount, chunk.Embedding,
		).Scan(&chunk.ID)
		if err != nil {
			return fmt.Errorf("failed to insert chunk %d: %w", chunk.Seq, err)
		}
	}

	return tx.Commit(ctx)
}

// ListActive returns chunks of active documents ordered by chunk id, which
// is insertion order. Search relies on that order for deterministic ties.
func (s *ChunkStore) ListActive(ctx context.Context, category string) ([]*domain.ChunkRecord, error) {
	query := `
		SELECT c.id, c.document_id, d.title, d.category, c.seq, c.content, c.embedding
		FROM chunks c
		JOIN documents d ON d.id = c.document_id
		WHERE d.active = TRUE`
	args := []any{}
	if category != "" {
		query += ` AND d.category = $1`
		args = append(args, category)
	}
	query += ` ORDER BY c.id ASC`

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list active chunks: %w", err)
	}
	defer rows.Close()

	var records []*domain.ChunkRecord
	for rows.Next() {
		var rec domain.ChunkRecord
		if err := rows.Scan(&rec.ChunkID, &rec.DocumentID, &rec.DocumentTitle,
			&rec.Category, &rec.Seq, &rec.Content, &rec.Embedding); err != nil {
			return nil, fmt.Errorf("failed to scan chunk row: %w", err)
		}
		records = append(records, &rec)
	}
	return records, rows.Err()
}

func (s *ChunkStore) DeleteByDocument(ctx context.Context, documentID int64) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM chunks WHERE document_id = $1`, documentID); err != nil {
		return fmt.Errorf("failed to delete chunks: %w", err)
	}
	return nil
}

func (s *ChunkStore) CountByDocument(ctx context.Context, documentID int64) (int, error) {
	var count int
	err := s.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM chunks WHERE document_id = $1`, documentID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count chunks: %w", err)
	}
	return count, nil
}
