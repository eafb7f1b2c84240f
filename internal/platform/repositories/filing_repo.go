package repositories

import (
	"context"
	"database/sql"
	"time"

	"taxdesk/internal/platform/models"
	"taxdesk/internal/pkg/id"
)

type FilingRepository struct {
	db *sql.DB
}

func NewFilingRepository(db *sql.DB) *FilingRepository {
	return &FilingRepository{db: db}
}

func (r *FilingRepository) BeginTx(ctx context.Context) (*sql.Tx, error) {
	return r.db.BeginTx(ctx, nil)
}

func (r *FilingRepository) Create(ctx context.Context, filing *models.Filing) error {
	if filing.ID == "" {
		filing.ID = id.New("flg")
	}
	if filing.WorkflowStatus == "" {
		filing.WorkflowStatus = models.StatusDraft
	}
	now := time.Now().Unix()
	filing.CreatedAt = now
	filing.UpdatedAt = now

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO filings (id, tenant_id, client_id, return_type, financial_year, period, workflow_status, current_step, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, filing.ID, filing.TenantID, filing.ClientID, filing.ReturnType, filing.FinancialYear, filing.Period,
		filing.WorkflowStatus, filing.CurrentStep, filing.CreatedAt, filing.UpdatedAt)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	return err
}

func (r *FilingRepository) GetByID(ctx context.Context, tenantID, filingID string) (*models.Filing, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, client_id, return_type, financial_year, period, workflow_status, current_step, created_at, updated_at
		FROM filings WHERE id = ? AND tenant_id = ?
	`, filingID, tenantID)

	var f models.Filing
	err := row.Scan(&f.ID, &f.TenantID, &f.ClientID, &f.ReturnType, &f.FinancialYear, &f.Period,
		&f.WorkflowStatus, &f.CurrentStep, &f.CreatedAt, &f.UpdatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &f, nil
}

// UpdateStatusTx moves the filing from one status to another. The update only
// applies while the stored status still equals from; otherwise ErrConflict.
func (r *FilingRepository) UpdateStatusTx(ctx context.Context, tx *sql.Tx, tenantID, filingID string, from, to models.WorkflowStatus, step models.StepKind, at int64) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE filings SET workflow_status = ?, current_step = ?, updated_at = ?
		WHERE id = ? AND tenant_id = ? AND workflow_status = ?
	`, to, step, at, filingID, tenantID, from)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrConflict
	}
	return nil
}

func (r *FilingRepository) InsertStepTx(ctx context.Context, tx *sql.Tx, step *models.TransitionStep) error {
	if step.ID == "" {
		step.ID = id.New("stp")
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO transition_steps (id, tenant_id, filing_id, step, status, previous_status, new_status, actor, comment, created_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, step.ID, step.TenantID, step.FilingID, step.Step, step.Status, step.PreviousStatus, step.NewStatus,
		step.Actor, step.Comment, step.CreatedAt, step.CompletedAt)
	return err
}

// CompleteStepTx marks an in-progress step completed. Completed steps are never touched again.
func (r *FilingRepository) CompleteStepTx(ctx context.Context, tx *sql.Tx, stepID string, at int64) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE transition_steps SET status = ?, completed_at = ?
		WHERE id = ? AND status = ?
	`, models.StepCompleted, at, stepID, models.StepInProgress)
	return err
}

func (r *FilingRepository) ListSteps(ctx context.Context, tenantID, filingID string) ([]*models.TransitionStep, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, tenant_id, filing_id, step, status, previous_status, new_status, actor, comment, created_at, completed_at
		FROM transition_steps WHERE filing_id = ? AND tenant_id = ?
		ORDER BY created_at ASC, rowid ASC
	`, filingID, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var steps []*models.TransitionStep
	for rows.Next() {
		var s models.TransitionStep
		var completedAt sql.NullInt64
		if err := rows.Scan(&s.ID, &s.TenantID, &s.FilingID, &s.Step, &s.Status, &s.PreviousStatus, &s.NewStatus,
			&s.Actor, &s.Comment, &s.CreatedAt, &completedAt); err != nil {
			return nil, err
		}
		s.CompletedAt = nullableInt64(completedAt)
		steps = append(steps, &s)
	}
	return steps, rows.Err()
}
