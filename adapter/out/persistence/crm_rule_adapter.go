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

// AutoReplyRuleAdapter implements domain.AutoReplyRuleRepository.
type AutoReplyRuleAdapter struct {
	db *sqlx.DB
}

func NewAutoReplyRuleAdapter(db *sqlx.DB) *AutoReplyRuleAdapter {
	return &AutoReplyRuleAdapter{db: db}
}

type autoReplyRuleRow struct {
	ID                 int64          `db:"id"`
	Name               string         `db:"name"`
	EmailCategory      string         `db:"email_category"`
	ApprovalChannel    string         `db:"approval_channel"`
	Reviewers          pq.StringArray `db:"reviewers"`
	TimeoutHours       int            `db:"timeout_hours"`
	AutoGenerateReply  bool           `db:"auto_generate_reply"`
	AutoSendOnApproval bool           `db:"auto_send_on_approval"`
	UseKnowledge       bool           `db:"use_knowledge"`
	TemplateID         sql.NullInt64  `db:"template_id"`
	Tone               string         `db:"tone"`
	Priority           int            `db:"priority"`
	Enabled            bool           `db:"enabled"`
	TriggeredCount     int            `db:"triggered_count"`
	ApprovedCount      int            `db:"approved_count"`
	RejectedCount      int            `db:"rejected_count"`
	CreatedAt          time.Time      `db:"created_at"`
	UpdatedAt          time.Time      `db:"updated_at"`
}

func (r *autoReplyRuleRow) toEntity() *domain.AutoReplyRule {
	rule := &domain.AutoReplyRule{
		ID:                 r.ID,
		Name:               r.Name,
		EmailCategory:      domain.RuleCategory(r.EmailCategory),
		ApprovalChannel:    domain.ApprovalChannel(r.ApprovalChannel),
		Reviewers:          r.Reviewers,
		TimeoutHours:       r.TimeoutHours,
		AutoGenerateReply:  r.AutoGenerateReply,
		AutoSendOnApproval: r.AutoSendOnApproval,
		UseKnowledge:       r.UseKnowledge,
		Tone:               r.Tone,
		Priority:           r.Priority,
		Enabled:            r.Enabled,
		TriggeredCount:     r.TriggeredCount,
		ApprovedCount:      r.ApprovedCount,
		RejectedCount:      r.RejectedCount,
		CreatedAt:          r.CreatedAt,
		UpdatedAt:          r.UpdatedAt,
	}
	if r.TemplateID.Valid {
		id := r.TemplateID.Int64
		rule.TemplateID = &id
	}
	return rule
}

func (a *AutoReplyRuleAdapter) GetByID(ctx context.Context, id int64) (*domain.AutoReplyRule, error) {
	var row autoReplyRuleRow
	query := `SELECT * FROM auto_reply_rules WHERE id = $1`

	if err := a.db.GetContext(ctx, &row, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, apperr.NotFound("auto-reply rule")
		}
		return nil, fmt.Errorf("failed to get auto-reply rule: %w", err)
	}
	return row.toEntity(), nil
}

func (a *AutoReplyRuleAdapter) List(ctx context.Context) ([]*domain.AutoReplyRule, error) {
	var rows []autoReplyRuleRow
	query := `SELECT * FROM auto_reply_rules ORDER BY priority DESC, id ASC`

	if err := a.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("failed to list auto-reply rules: %w", err)
	}

	rules := make([]*domain.AutoReplyRule, len(rows))
	for i, row := range rows {
		rules[i] = row.toEntity()
	}
	return rules, nil
}

// ListMatchable orders by priority descending with id ascending as the
// deterministic tie-break.
func (a *AutoReplyRuleAdapter) ListMatchable(ctx context.Context, category domain.RuleCategory) ([]*domain.AutoReplyRule, error) {
	var rows []autoReplyRuleRow
	query := `
		SELECT * FROM auto_reply_rules
		WHERE email_category = $1 AND enabled = TRUE AND auto_generate_reply = TRUE
		ORDER BY priority DESC, id ASC`

	if err := a.db.SelectContext(ctx, &rows, query, string(category)); err != nil {
		return nil, fmt.Errorf("failed to list matchable rules: %w", err)
	}

	rules := make([]*domain.AutoReplyRule, len(rows))
	for i, row := range rows {
		rules[i] = row.toEntity()
	}
	return rules, nil
}

func (a *AutoReplyRuleAdapter) Create(ctx context.Context, rule *domain.AutoReplyRule) error {
	query := `
		INSERT INTO auto_reply_rules (name, email_category, approval_channel, reviewers, timeout_hours,
			auto_generate_reply, auto_send_on_approval, use_knowledge, template_id, tone, priority, enabled)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id, created_at, updated_at`

	var templateID sql.NullInt64
	if rule.TemplateID != nil {
		templateID = sql.NullInt64{Int64: *rule.TemplateID, Valid: true}
	}

	err := a.db.QueryRowContext(ctx, query,
		rule.Name, string(rule.EmailCategory), string(rule.ApprovalChannel),
		pq.Array(rule.Reviewers), rule.TimeoutHours,
		rule.AutoGenerateReply, rule.AutoSendOnApproval, rule.UseKnowledge,
		templateID, rule.Tone, rule.Priority, rule.Enabled,
	).Scan(&rule.ID, &rule.CreatedAt, &rule.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create auto-reply rule: %w", err)
	}
	return nil
}

func (a *AutoReplyRuleAdapter) Update(ctx context.Context, rule *domain.AutoReplyRule) error {
	query := `
		UPDATE auto_reply_rules
		SET name = $2, email_category = $3, approval_channel = $4, reviewers = $5, timeout_hours = $6,
			auto_generate_reply = $7, auto_send_on_approval = $8, use_knowledge = $9,
			template_id = $10, tone = $11, priority = $12, enabled = $13, updated_at = NOW()
		WHERE id = $1`

	var templateID sql.NullInt64
	if rule.TemplateID != nil {
		templateID = sql.NullInt64{Int64: *rule.TemplateID, Valid: true}
	}

	result, err := a.db.ExecContext(ctx, query,
		rule.ID, rule.Name, string(rule.EmailCategory), string(rule.ApprovalChannel),
		pq.Array(rule.Reviewers), rule.TimeoutHours,
		rule.AutoGenerateReply, rule.AutoSendOnApproval, rule.UseKnowledge,
		templateID, rule.Tone, rule.Priority, rule.Enabled,
	)
	if err != nil {
		return fmt.Errorf("failed to update auto-reply rule: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return apperr.NotFound("auto-reply rule")
	}
	return nil
}

func (a *AutoReplyRuleAdapter) Delete(ctx context.Context, id int64) error {
	result, err := a.db.ExecContext(ctx, `DELETE FROM auto_reply_rules WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete auto-reply rule: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return apperr.NotFound("auto-reply rule")
	}
	return nil
}

func (a *AutoReplyRuleAdapter) IncrementTriggered(ctx context.Context, id int64) error {
	return a.increment(ctx, id, "triggered_count")
}

func (a *AutoReplyRuleAdapter) IncrementApproved(ctx context.Context, id int64) error {
	return a.increment(ctx, id, "approved_count")
}

func (a *AutoReplyRuleAdapter) IncrementRejected(ctx context.Context, id int64) error {
	return a.increment(ctx, id, "rejected_count")
}

func (a *AutoReplyRuleAdapter) increment(ctx context.Context, id int64, column string) error {
	query := fmt.Sprintf(`UPDATE auto_reply_rules SET %s = %s + 1, updated_at = NOW() WHERE id = $1`, column, column)
	if _, err := a.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("failed to increment %s: %w", column, err)
	}
	return nil
}
