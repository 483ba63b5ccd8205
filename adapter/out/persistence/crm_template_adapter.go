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

// PromptTemplateAdapter implements domain.PromptTemplateRepository.
type PromptTemplateAdapter struct {
	db *sqlx.DB
}

func NewPromptTemplateAdapter(db *sqlx.DB) *PromptTemplateAdapter {
	return &PromptTemplateAdapter{db: db}
}

type promptTemplateRow struct {
	ID                 int64     `db:"id"`
	Name               string    `db:"name"`
	SystemPrompt       string    `db:"system_prompt"`
	UserPromptTemplate string    `db:"user_prompt_template"`
	RecommendedModel   string    `db:"recommended_model"`
	CreatedAt          time.Time `db:"created_at"`
}

func (a *PromptTemplateAdapter) GetByID(ctx context.Context, id int64) (*domain.PromptTemplate, error) {
	var row promptTemplateRow
	query := `SELECT * FROM prompt_templates WHERE id = $1`

	if err := a.db.GetContext(ctx, &row, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, apperr.NotFound("prompt template")
		}
		return nil, fmt.Errorf("failed to get prompt template: %w", err)
	}
	return &domain.PromptTemplate{
		ID:                 row.ID,
		Name:               row.Name,
		SystemPrompt:       row.SystemPrompt,
		UserPromptTemplate: row.UserPromptTemplate,
		RecommendedModel:   row.RecommendedModel,
		CreatedAt:          row.CreatedAt,
	}, nil
}
