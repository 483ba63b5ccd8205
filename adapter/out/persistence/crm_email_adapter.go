package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"crm_server/core/domain"
	"crm_server/pkg/apperr"
)

// EmailAdapter implements domain.EmailRepository.
type EmailAdapter struct {
	db *sqlx.DB
}

func NewEmailAdapter(db *sqlx.DB) *EmailAdapter {
	return &EmailAdapter{db: db}
}

type emailRow struct {
	ID         int64          `db:"id"`
	MessageID  string         `db:"message_id"`
	FromEmail  string         `db:"from_email"`
	FromName   sql.NullString `db:"from_name"`
	ToEmail    string         `db:"to_email"`
	Subject    string         `db:"subject"`
	Snippet    string         `db:"snippet"`
	ReceivedAt time.Time      `db:"received_at"`
	CreatedAt  time.Time      `db:"created_at"`
	UpdatedAt  time.Time      `db:"updated_at"`

	AIStage                 sql.NullString  `db:"ai_stage"`
	AICategory              sql.NullString  `db:"ai_category"`
	AISubCategory           sql.NullString  `db:"ai_sub_category"`
	AIIntentLevel           sql.NullString  `db:"ai_intent_level"`
	AIIntentScore           sql.NullInt64   `db:"ai_intent_score"`
	AIBudgetTier            sql.NullString  `db:"ai_budget_tier"`
	AIDecisionAuthority     sql.NullString  `db:"ai_decision_authority"`
	AICompetitiveSituation  sql.NullString  `db:"ai_competitive_situation"`
	AISentiment             sql.NullString  `db:"ai_sentiment"`
	AITone                  sql.NullString  `db:"ai_tone"`
	AISatisfaction          sql.NullString  `db:"ai_satisfaction"`
	AIUrgencyLevel          sql.NullString  `db:"ai_urgency_level"`
	AIDeadlineBucket        sql.NullString  `db:"ai_deadline_bucket"`
	AICustomerGrade         sql.NullString  `db:"ai_customer_grade"`
	AIProducts              pq.StringArray  `db:"ai_products"`
	AIQuantities            pq.StringArray  `db:"ai_quantities"`
	AIPrices                pq.StringArray  `db:"ai_prices"`
	AITimeline              sql.NullString  `db:"ai_timeline"`
	AINextAction            sql.NullString  `db:"ai_next_action"`
	AITags                  pq.StringArray  `db:"ai_tags"`
	AIRiskLevel             sql.NullString  `db:"ai_risk_level"`
	AIRiskFactors           pq.StringArray  `db:"ai_risk_factors"`
	AIOpportunityScore      sql.NullInt64   `db:"ai_opportunity_score"`
	AIConversionProbability sql.NullFloat64 `db:"ai_conversion_probability"`
	AISummary               sql.NullString  `db:"ai_summary"`
	AINote                  sql.NullString  `db:"ai_note"`
	NeedsHumanReview        bool            `db:"needs_human_review"`
	AnalyzedAt              sql.NullTime    `db:"analyzed_at"`
}

func (r *emailRow) toEntity() *domain.InboundEmail {
	email := &domain.InboundEmail{
		ID:               r.ID,
		MessageID:        r.MessageID,
		FromEmail:        r.FromEmail,
		ToEmail:          r.ToEmail,
		Subject:          r.Subject,
		Snippet:          r.Snippet,
		ReceivedAt:       r.ReceivedAt,
		CreatedAt:        r.CreatedAt,
		UpdatedAt:        r.UpdatedAt,
		AIProducts:       r.AIProducts,
		AIQuantities:     r.AIQuantities,
		AIPrices:         r.AIPrices,
		AITags:           r.AITags,
		AIRiskFactors:    r.AIRiskFactors,
		NeedsHumanReview: r.NeedsHumanReview,
	}
	email.FromName = nullStr(r.FromName)
	email.AIStage = nullStr(r.AIStage)
	email.AICategory = nullStr(r.AICategory)
	email.AISubCategory = nullStr(r.AISubCategory)
	email.AIIntentLevel = nullStr(r.AIIntentLevel)
	email.AIBudgetTier = nullStr(r.AIBudgetTier)
	email.AIDecisionAuthority = nullStr(r.AIDecisionAuthority)
	email.AICompetitiveSituation = nullStr(r.AICompetitiveSituation)
	email.AISentiment = nullStr(r.AISentiment)
	email.AITone = nullStr(r.AITone)
	email.AISatisfaction = nullStr(r.AISatisfaction)
	email.AIUrgencyLevel = nullStr(r.AIUrgencyLevel)
	email.AIDeadlineBucket = nullStr(r.AIDeadlineBucket)
	email.AICustomerGrade = nullStr(r.AICustomerGrade)
	email.AITimeline = nullStr(r.AITimeline)
	email.AINextAction = nullStr(r.AINextAction)
	email.AIRiskLevel = nullStr(r.AIRiskLevel)
	email.AISummary = nullStr(r.AISummary)
	email.AINote = nullStr(r.AINote)
	if r.AIIntentScore.Valid {
		score := int(r.AIIntentScore.Int64)
		email.AIIntentScore = &score
	}
	if r.AIOpportunityScore.Valid {
		score := int(r.AIOpportunityScore.Int64)
		email.AIOpportunityScore = &score
	}
	if r.AIConversionProbability.Valid {
		prob := r.AIConversionProbability.Float64
		email.AIConversionProbability = &prob
	}
	if r.AnalyzedAt.Valid {
		email.AnalyzedAt = &r.AnalyzedAt.Time
	}
	return email
}

func nullStr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	return &ns.String
}

// Create inserts the email. ON CONFLICT on the message id returns no row;
// the existing one is fetched instead and created=false reported.
func (a *EmailAdapter) Create(ctx context.Context, email *domain.InboundEmail) (*domain.InboundEmail, bool, error) {
	query := `
		INSERT INTO emails (message_id, from_email, from_name, to_email, subject, snippet, received_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (message_id) DO NOTHING
		RETURNING id, created_at, updated_at`

	var fromName sql.NullString
	if email.FromName != nil {
		fromName = sql.NullString{String: *email.FromName, Valid: true}
	}

	err := a.db.QueryRowContext(ctx, query,
		email.MessageID, email.FromEmail, fromName, email.ToEmail,
		email.Subject, email.Snippet, email.ReceivedAt,
	).Scan(&email.ID, &email.CreatedAt, &email.UpdatedAt)
	if err == nil {
		return email, true, nil
	}
	if err != sql.ErrNoRows {
		return nil, false, fmt.Errorf("failed to create email: %w", err)
	}

	existing, err := a.GetByMessageID(ctx, email.MessageID)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

func (a *EmailAdapter) GetByID(ctx context.Context, id int64) (*domain.InboundEmail, error) {
	var row emailRow
	query := `SELECT * FROM emails WHERE id = $1`

	if err := a.db.GetContext(ctx, &row, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, apperr.NotFound("email")
		}
		return nil, fmt.Errorf("failed to get email: %w", err)
	}
	return row.toEntity(), nil
}

func (a *EmailAdapter) GetByMessageID(ctx context.Context, messageID string) (*domain.InboundEmail, error) {
	var row emailRow
	query := `SELECT * FROM emails WHERE message_id = $1`

	if err := a.db.GetContext(ctx, &row, query, messageID); err != nil {
		if err == sql.ErrNoRows {
			return nil, apperr.NotFound("email")
		}
		return nil, fmt.Errorf("failed to get email by message id: %w", err)
	}
	return row.toEntity(), nil
}

func (a *EmailAdapter) List(ctx context.Context, page *domain.PageRequest) ([]*domain.InboundEmail, int64, error) {
	var total int64
	if err := a.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM emails`); err != nil {
		return nil, 0, fmt.Errorf("failed to count emails: %w", err)
	}

	var rows []emailRow
	query := `SELECT * FROM emails ORDER BY received_at DESC LIMIT $1 OFFSET $2`
	if err := a.db.SelectContext(ctx, &rows, query, page.Limit(), page.Offset()); err != nil {
		return nil, 0, fmt.Errorf("failed to list emails: %w", err)
	}

	emails := make([]*domain.InboundEmail, len(rows))
	for i, row := range rows {
		emails[i] = row.toEntity()
	}
	return emails, total, nil
}

// UpdateAnalysis overwrites every annotation column from the analysis. The
// columns always move together so a stale partial annotation can never
// survive a re-run.
func (a *EmailAdapter) UpdateAnalysis(ctx context.Context, id int64, analysis *domain.EmailAnalysis) error {
	query := `
		UPDATE emails SET
			ai_stage = $2,
			ai_category = $3,
			ai_sub_category = $4,
			ai_intent_level = $5,
			ai_intent_score = $6,
			ai_budget_tier = $7,
			ai_decision_authority = $8,
			ai_competitive_situation = $9,
			ai_sentiment = $10,
			ai_tone = $11,
			ai_satisfaction = $12,
			ai_urgency_level = $13,
			ai_deadline_bucket = $14,
			ai_customer_grade = $15,
			ai_products = $16,
			ai_quantities = $17,
			ai_prices = $18,
			ai_timeline = $19,
			ai_next_action = $20,
			ai_tags = $21,
			ai_risk_level = $22,
			ai_risk_factors = $23,
			ai_opportunity_score = $24,
			ai_conversion_probability = $25,
			ai_summary = $26,
			ai_note = $27,
			needs_human_review = $28,
			analyzed_at = $29,
			updated_at = NOW()
		WHERE id = $1`

	var note sql.NullString
	if analysis.Note != "" {
		note = sql.NullString{String: analysis.Note, Valid: true}
	}

	result, err := a.db.ExecContext(ctx, query, id,
		string(analysis.Stage),
		string(analysis.Category()),
		analysis.SubCategory,
		string(analysis.Intent.Level),
		analysis.Intent.Score,
		analysis.Intent.BudgetTier,
		analysis.Intent.DecisionAuthority,
		analysis.Intent.CompetitiveSituation,
		analysis.Sentiment.Sentiment,
		analysis.Sentiment.Tone,
		analysis.Sentiment.Satisfaction,
		string(analysis.Urgency.Level),
		analysis.Urgency.DeadlineBucket,
		analysis.CustomerGrade,
		pq.Array(analysis.Entities.Products),
		pq.Array(analysis.Entities.Quantities),
		pq.Array(analysis.Entities.Prices),
		analysis.Entities.Timeline,
		analysis.NextAction,
		pq.Array(analysis.SuggestedTags),
		string(analysis.Risk.Level),
		pq.Array(analysis.Risk.Factors),
		analysis.OpportunityScore,
		analysis.ConversionProbability,
		analysis.Summary,
		note,
		analysis.NeedsHumanReview,
		analysis.AnalyzedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update email analysis: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return apperr.NotFound("email")
	}
	return nil
}
