package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/jmoiron/sqlx"

	"crm_server/core/domain"
	"crm_server/pkg/apperr"
)

// ApprovalTaskAdapter implements domain.ApprovalTaskRepository. Every
// transition is a conditional UPDATE on the current status; RowsAffected
// decides the winner between concurrent callers.
type ApprovalTaskAdapter struct {
	db *sqlx.DB
}

func NewApprovalTaskAdapter(db *sqlx.DB) *ApprovalTaskAdapter {
	return &ApprovalTaskAdapter{db: db}
}

type approvalTaskRow struct {
	ID      int64         `db:"id"`
	EmailID int64         `db:"email_id"`
	RuleID  sql.NullInt64 `db:"rule_id"`

	DraftSubject string `db:"draft_subject"`
	DraftBody    string `db:"draft_body"`
	DraftHTML    string `db:"draft_html"`

	Status  string `db:"status"`
	Channel string `db:"channel"`

	TimeoutAt time.Time `db:"timeout_at"`

	Reviewer     sql.NullString `db:"reviewer"`
	DecidedAt    sql.NullTime   `db:"decided_at"`
	RejectReason sql.NullString `db:"reject_reason"`

	RevisionCount int    `db:"revision_count"`
	Revisions     []byte `db:"revisions"`

	AutoSend         bool   `db:"auto_send"`
	KnowledgeUsed    bool   `db:"knowledge_used"`
	AnalysisSnapshot []byte `db:"analysis_snapshot"`

	SentMessageID sql.NullString `db:"sent_message_id"`
	SentAt        sql.NullTime   `db:"sent_at"`
	SendError     sql.NullString `db:"send_error"`

	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

func (r *approvalTaskRow) toEntity() *domain.ApprovalTask {
	task := &domain.ApprovalTask{
		ID:            r.ID,
		EmailID:       r.EmailID,
		DraftSubject:  r.DraftSubject,
		DraftBody:     r.DraftBody,
		DraftHTML:     r.DraftHTML,
		Status:        domain.ApprovalStatus(r.Status),
		Channel:       domain.ApprovalChannel(r.Channel),
		TimeoutAt:     r.TimeoutAt,
		RevisionCount: r.RevisionCount,
		AutoSend:      r.AutoSend,
		KnowledgeUsed: r.KnowledgeUsed,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	}
	if r.RuleID.Valid {
		id := r.RuleID.Int64
		task.RuleID = &id
	}
	task.Reviewer = nullStr(r.Reviewer)
	task.RejectReason = nullStr(r.RejectReason)
	task.SentMessageID = nullStr(r.SentMessageID)
	task.SendError = nullStr(r.SendError)
	if r.DecidedAt.Valid {
		task.DecidedAt = &r.DecidedAt.Time
	}
	if r.SentAt.Valid {
		task.SentAt = &r.SentAt.Time
	}
	if len(r.Revisions) > 0 {
		_ = json.Unmarshal(r.Revisions, &task.Revisions)
	}
	if len(r.AnalysisSnapshot) > 0 {
		task.AnalysisSnapshot = r.AnalysisSnapshot
	}
	return task
}

func (a *ApprovalTaskAdapter) Create(ctx context.Context, task *domain.ApprovalTask) error {
	query := `
		INSERT INTO approval_tasks (email_id, rule_id, draft_subject, draft_body, draft_html,
			status, channel, timeout_at, auto_send, knowledge_used, analysis_snapshot)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id, created_at, updated_at`

	var ruleID sql.NullInt64
	if task.RuleID != nil {
		ruleID = sql.NullInt64{Int64: *task.RuleID, Valid: true}
	}
	var snapshot any
	if len(task.AnalysisSnapshot) > 0 {
		snapshot = []byte(task.AnalysisSnapshot)
	}

	err := a.db.QueryRowContext(ctx, query,
		task.EmailID, ruleID, task.DraftSubject, task.DraftBody, task.DraftHTML,
		string(task.Status), string(task.Channel), task.TimeoutAt,
		task.AutoSend, task.KnowledgeUsed, snapshot,
	).Scan(&task.ID, &task.CreatedAt, &task.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create approval task: %w", err)
	}
	return nil
}

func (a *ApprovalTaskAdapter) GetByID(ctx context.Context, id int64) (*domain.ApprovalTask, error) {
	var row approvalTaskRow
	query := `SELECT * FROM approval_tasks WHERE id = $1`

	if err := a.db.GetContext(ctx, &row, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, apperr.NotFound("approval task")
		}
		return nil, fmt.Errorf("failed to get approval task: %w", err)
	}
	return row.toEntity(), nil
}

func (a *ApprovalTaskAdapter) ListByStatus(ctx context.Context, status domain.ApprovalStatus, page *domain.PageRequest) ([]*domain.ApprovalTask, int64, error) {
	var total int64
	if err := a.db.GetContext(ctx, &total,
		`SELECT COUNT(*) FROM approval_tasks WHERE status = $1`, string(status)); err != nil {
		return nil, 0, fmt.Errorf("failed to count approval tasks: %w", err)
	}

	var rows []approvalTaskRow
	query := `SELECT * FROM approval_tasks WHERE status = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`
	if err := a.db.SelectContext(ctx, &rows, query, string(status), page.Limit(), page.Offset()); err != nil {
		return nil, 0, fmt.Errorf("failed to list approval tasks: %w", err)
	}

	tasks := make([]*domain.ApprovalTask, len(rows))
	for i, row := range rows {
		tasks[i] = row.toEntity()
	}
	return tasks, total, nil
}

func (a *ApprovalTaskAdapter) FindActiveByEmail(ctx context.Context, emailID int64) (*domain.ApprovalTask, error) {
	var row approvalTaskRow
	query := `
		SELECT * FROM approval_tasks
		WHERE email_id = $1 AND status NOT IN ('sent', 'rejected', 'expired')
		ORDER BY created_at DESC
		LIMIT 1`

	if err := a.db.GetContext(ctx, &row, query, emailID); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find active approval task: %w", err)
	}
	return row.toEntity(), nil
}

func (a *ApprovalTaskAdapter) ListExpirable(ctx context.Context, now time.Time, limit int) ([]*domain.ApprovalTask, error) {
	var rows []approvalTaskRow
	query := `
		SELECT * FROM approval_tasks
		WHERE status = 'pending' AND timeout_at <= $1
		ORDER BY timeout_at ASC
		LIMIT $2`

	if err := a.db.SelectContext(ctx, &rows, query, now, limit); err != nil {
		return nil, fmt.Errorf("failed to list expirable tasks: %w", err)
	}

	tasks := make([]*domain.ApprovalTask, len(rows))
	for i, row := range rows {
		tasks[i] = row.toEntity()
	}
	return tasks, nil
}

func (a *ApprovalTaskAdapter) Approve(ctx context.Context, id int64, reviewer string, at time.Time) (bool, error) {
	query := `
		UPDATE approval_tasks
		SET status = 'approved', reviewer = $2, decided_at = $3, updated_at = NOW()
		WHERE id = $1 AND status = 'pending'`

	result, err := a.db.ExecContext(ctx, query, id, reviewer, at)
	if err != nil {
		return false, fmt.Errorf("failed to approve task: %w", err)
	}
	rows, _ := result.RowsAffected()
	return rows == 1, nil
}

func (a *ApprovalTaskAdapter) Reject(ctx context.Context, id int64, reviewer, reason string, at time.Time) (bool, error) {
	query := `
		UPDATE approval_tasks
		SET status = 'rejected', reviewer = $2, reject_reason = $3, decided_at = $4, updated_at = NOW()
		WHERE id = $1 AND status = 'pending'`

	result, err := a.db.ExecContext(ctx, query, id, reviewer, reason, at)
	if err != nil {
		return false, fmt.Errorf("failed to reject task: %w", err)
	}
	rows, _ := result.RowsAffected()
	return rows == 1, nil
}

// Revise swaps the draft and appends the revision to the history array in
// one statement so concurrent edits cannot drop a history entry.
func (a *ApprovalTaskAdapter) Revise(ctx context.Context, id int64, rev domain.Revision) (bool, error) {
	revJSON, err := json.Marshal(rev)
	if err != nil {
		return false, fmt.Errorf("failed to marshal revision: %w", err)
	}

	query := `
		UPDATE approval_tasks
		SET draft_subject = $2,
			draft_html = $3,
			revision_count = revision_count + 1,
			revisions = COALESCE(revisions, '[]'::jsonb) || $4::jsonb,
			updated_at = NOW()
		WHERE id = $1 AND status = 'pending'`

	result, err := a.db.ExecContext(ctx, query, id, rev.Subject, rev.HTMLBody, revJSON)
	if err != nil {
		return false, fmt.Errorf("failed to revise task: %w", err)
	}
	rows, _ := result.RowsAffected()
	return rows == 1, nil
}

func (a *ApprovalTaskAdapter) MarkExpired(ctx context.Context, id int64, note string) (bool, error) {
	query := `
		UPDATE approval_tasks
		SET status = 'expired', reject_reason = $2, decided_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status = 'pending'`

	result, err := a.db.ExecContext(ctx, query, id, note)
	if err != nil {
		return false, fmt.Errorf("failed to expire task: %w", err)
	}
	rows, _ := result.RowsAffected()
	return rows == 1, nil
}

// MarkSuperseded retires the previous task when a newer draft arrives for
// the same email. pending, approved and send_failed all qualify; sending is
// excluded because the delivery worker owns that claim.
func (a *ApprovalTaskAdapter) MarkSuperseded(ctx context.Context, id int64, note string) (bool, error) {
	query := `
		UPDATE approval_tasks
		SET status = 'expired', reject_reason = $2, decided_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status IN ('pending', 'approved', 'send_failed')`

	result, err := a.db.ExecContext(ctx, query, id, note)
	if err != nil {
		return false, fmt.Errorf("failed to supersede task: %w", err)
	}
	rows, _ := result.RowsAffected()
	return rows == 1, nil
}

// MarkSending claims the task for delivery. Both approved and send_failed
// qualify; send_failed re-entry is the resend path.
func (a *ApprovalTaskAdapter) MarkSending(ctx context.Context, id int64) (bool, error) {
	query := `
		UPDATE approval_tasks
		SET status = 'sending', send_error = NULL, updated_at = NOW()
		WHERE id = $1 AND status IN ('approved', 'send_failed')`

	result, err := a.db.ExecContext(ctx, query, id)
	if err != nil {
		return false, fmt.Errorf("failed to mark task sending: %w", err)
	}
	rows, _ := result.RowsAffected()
	return rows == 1, nil
}

func (a *ApprovalTaskAdapter) MarkSent(ctx context.Context, id int64, messageID string, at time.Time) error {
	query := `
		UPDATE approval_tasks
		SET status = 'sent', sent_message_id = $2, sent_at = $3, updated_at = NOW()
		WHERE id = $1 AND status = 'sending'`

	result, err := a.db.ExecContext(ctx, query, id, messageID, at)
	if err != nil {
		return fmt.Errorf("failed to mark task sent: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return apperr.StateConflict("not sending")
	}
	return nil
}

func (a *ApprovalTaskAdapter) MarkSendFailed(ctx context.Context, id int64, sendErr string) error {
	query := `
		UPDATE approval_tasks
		SET status = 'send_failed', send_error = $2, updated_at = NOW()
		WHERE id = $1 AND status = 'sending'`

	result, err := a.db.ExecContext(ctx, query, id, sendErr)
	if err != nil {
		return fmt.Errorf("failed to mark task send_failed: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return apperr.StateConflict("not sending")
	}
	return nil
}
