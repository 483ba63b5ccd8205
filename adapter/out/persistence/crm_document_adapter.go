// Package persistence provides database adapters implementing outbound ports.
package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"crm_server/core/domain"
	"crm_server/pkg/apperr"
)

// DocumentAdapter implements domain.DocumentRepository.
type DocumentAdapter struct {
	db *sqlx.DB
}

func NewDocumentAdapter(db *sqlx.DB) *DocumentAdapter {
	return &DocumentAdapter{db: db}
}

type documentRow struct {
	ID          int64          `db:"id"`
	Title       string         `db:"title"`
	Category    string         `db:"category"`
	Description sql.NullString `db:"description"`
	Filename    string         `db:"filename"`
	ContentHash string         `db:"content_hash"`
	Preview     string         `db:"preview"`
	ChunkCount  int            `db:"chunk_count"`
	Status      string         `db:"status"`
	Error       sql.NullString `db:"error"`
	Active      bool           `db:"active"`
	CreatedAt   time.Time      `db:"created_at"`
	UpdatedAt   time.Time      `db:"updated_at"`
}

func (r *documentRow) toEntity() *domain.Document {
	doc := &domain.Document{
		ID:          r.ID,
		Title:       r.Title,
		Category:    r.Category,
		Filename:    r.Filename,
		ContentHash: r.ContentHash,
		Preview:     r.Preview,
		ChunkCount:  r.ChunkCount,
		Status:      domain.DocumentStatus(r.Status),
		Active:      r.Active,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
	if r.Description.Valid {
		doc.Description = &r.Description.String
	}
	if r.Error.Valid {
		doc.Error = &r.Error.String
	}
	return doc
}

func (a *DocumentAdapter) Create(ctx context.Context, doc *domain.Document) error {
	query := `
		INSERT INTO documents (title, category, description, filename, content_hash, preview, status, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at, updated_at`

	var description sql.NullString
	if doc.Description != nil {
		description = sql.NullString{String: *doc.Description, Valid: true}
	}

	err := a.db.QueryRowContext(ctx, query,
		doc.Title, doc.Category, description, doc.Filename,
		doc.ContentHash, doc.Preview, string(doc.Status), doc.Active,
	).Scan(&doc.ID, &doc.CreatedAt, &doc.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create document: %w", err)
	}
	return nil
}

func (a *DocumentAdapter) GetByID(ctx context.Context, id int64) (*domain.Document, error) {
	var row documentRow
	query := `SELECT * FROM documents WHERE id = $1`

	if err := a.db.GetContext(ctx, &row, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, apperr.NotFound("document")
		}
		return nil, fmt.Errorf("failed to get document: %w", err)
	}
	return row.toEntity(), nil
}

// FindActiveByHash returns nil without error when no active document
// carries the hash.
func (a *DocumentAdapter) FindActiveByHash(ctx context.Context, hash string) (*domain.Document, error) {
	var row documentRow
	query := `SELECT * FROM documents WHERE content_hash = $1 AND active = TRUE LIMIT 1`

	if err := a.db.GetContext(ctx, &row, query, hash); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find document by hash: %w", err)
	}
	return row.toEntity(), nil
}

func (a *DocumentAdapter) List(ctx context.Context, category string, page *domain.PageRequest) ([]*domain.Document, int64, error) {
	where := `WHERE active = TRUE`
	args := []any{}
	if category != "" {
		where += ` AND category = $1`
		args = append(args, category)
	}

	var total int64
	countQuery := `SELECT COUNT(*) FROM documents ` + where
	if err := a.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to count documents: %w", err)
	}

	query := fmt.Sprintf(`SELECT * FROM documents %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		where, len(args)+1, len(args)+2)
	args = append(args, page.Limit(), page.Offset())

	var rows []documentRow
	if err := a.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to list documents: %w", err)
	}

	docs := make([]*domain.Document, len(rows))
	for i, row := range rows {
		docs[i] = row.toEntity()
	}
	return docs, total, nil
}

func (a *DocumentAdapter) UpdateStatus(ctx context.Context, id int64, status domain.DocumentStatus, errMsg *string) error {
	query := `UPDATE documents SET status = $2, error = $3, updated_at = NOW() WHERE id = $1`

	var msg sql.NullString
	if errMsg != nil {
		msg = sql.NullString{String: *errMsg, Valid: true}
	}

	result, err := a.db.ExecContext(ctx, query, id, string(status), msg)
	if err != nil {
		return fmt.Errorf("failed to update document status: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return apperr.NotFound("document")
	}
	return nil
}

func (a *DocumentAdapter) SetChunkCount(ctx context.Context, id int64, count int) error {
	query := `UPDATE documents SET chunk_count = $2, updated_at = NOW() WHERE id = $1`

	if _, err := a.db.ExecContext(ctx, query, id, count); err != nil {
		return fmt.Errorf("failed to set chunk count: %w", err)
	}
	return nil
}

func (a *DocumentAdapter) Deactivate(ctx context.Context, id int64) error {
	query := `UPDATE documents SET active = FALSE, updated_at = NOW() WHERE id = $1`

	result, err := a.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to deactivate document: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return apperr.NotFound("document")
	}
	return nil
}
