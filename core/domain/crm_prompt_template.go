package domain

import (
	"context"
	"time"
)

// PromptTemplate is an operator-managed prompt pair for the reply drafter.
// The user prompt may contain {{name}} placeholders; rendering with a
// missing placeholder falls back to the built-in default prompt.
type PromptTemplate struct {
	ID                 int64     `json:"id"`
	Name               string    `json:"name"`
	SystemPrompt       string    `json:"system_prompt"`
	UserPromptTemplate string    `json:"user_prompt_template"`
	RecommendedModel   string    `json:"recommended_model"`
	CreatedAt          time.Time `json:"created_at"`
}

// PromptTemplateRepository is a read-only lookup for the pipeline.
type PromptTemplateRepository interface {
	GetByID(ctx context.Context, id int64) (*PromptTemplate, error)
}
