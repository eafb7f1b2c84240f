package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"taxdesk/internal/engine/events"
	"taxdesk/internal/platform/metrics"
	"taxdesk/internal/platform/models"
	"taxdesk/internal/platform/repositories"
)

var (
	ErrInvalidTransition = errors.New("invalid workflow transition")
	ErrFilingNotFound    = errors.New("filing not found")
	ErrInvalidFiling     = errors.New("invalid filing")
)

// EventPublisher is the part of the event publisher the engine needs.
type EventPublisher interface {
	Publish(ctx context.Context, req events.PublishRequest) (*models.WebhookEvent, error)
}

type TransitionRequest struct {
	TenantID string
	FilingID string
	From     models.WorkflowStatus
	To       models.WorkflowStatus
	Step     models.StepKind
	Actor    string
	Comment  string
}

type Engine struct {
	filings   *repositories.FilingRepository
	publisher EventPublisher
	metrics   *metrics.Metrics
	now       func() time.Time
}

func NewEngine(filings *repositories.FilingRepository, publisher EventPublisher, m *metrics.Metrics) *Engine {
	return &Engine{filings: filings, publisher: publisher, metrics: m, now: time.Now}
}

// Transition moves a filing along one legal edge. The status change and its
// audit step commit together; the status_changed event is published after the
// commit and a publication failure never rolls the transition back.
func (e *Engine) Transition(ctx context.Context, req TransitionRequest) (*models.Filing, *models.TransitionStep, error) {
	// The step is required here; only CanTransition treats an empty step as a wildcard.
	move, ok := resolve(req.From, req.To, req.Step)
	if !ok || req.Step == "" {
		e.metrics.RecordTransition(string(req.Step), "rejected")
		return nil, nil, fmt.Errorf("%w: %s -> %s (%s)", ErrInvalidTransition, req.From, req.To, stepLabel(req.Step))
	}

	filing, err := e.filings.GetByID(ctx, req.TenantID, req.FilingID)
	if err != nil {
		if repositories.IsNotFound(err) {
			return nil, nil, ErrFilingNotFound
		}
		return nil, nil, fmt.Errorf("load filing: %w", err)
	}
	if filing.WorkflowStatus != move.From {
		e.metrics.RecordTransition(string(move.Step), "rejected")
		return nil, nil, fmt.Errorf("%w: filing is %s, not %s", ErrInvalidTransition, filing.WorkflowStatus, move.From)
	}

	step, err := e.apply(ctx, filing, move, req.Actor, req.Comment)
	if err != nil {
		if errors.Is(err, repositories.ErrConflict) {
			e.metrics.RecordTransition(string(move.Step), "rejected")
			return nil, nil, fmt.Errorf("%w: filing changed concurrently", ErrInvalidTransition)
		}
		return nil, nil, err
	}
	e.metrics.RecordTransition(string(move.Step), "ok")

	previous := filing.WorkflowStatus
	filing.WorkflowStatus = move.To
	filing.CurrentStep = move.Step
	filing.UpdatedAt = *step.CompletedAt

	e.publish(ctx, filing, previous, step)
	return filing, step, nil
}

func (e *Engine) apply(ctx context.Context, filing *models.Filing, move Move, actor, comment string) (*models.TransitionStep, error) {
	now := e.now().Unix()

	tx, err := e.filings.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transition: %w", err)
	}
	defer tx.Rollback()

	if err := e.filings.UpdateStatusTx(ctx, tx, filing.TenantID, filing.ID, move.From, move.To, move.Step, now); err != nil {
		return nil, err
	}

	step := &models.TransitionStep{
		TenantID:       filing.TenantID,
		FilingID:       filing.ID,
		Step:           move.Step,
		Status:         models.StepInProgress,
		PreviousStatus: move.From,
		NewStatus:      move.To,
		Actor:          actor,
		Comment:        comment,
		CreatedAt:      now,
	}
	if err := e.filings.InsertStepTx(ctx, tx, step); err != nil {
		return nil, fmt.Errorf("record step: %w", err)
	}
	if err := e.filings.CompleteStepTx(ctx, tx, step.ID, now); err != nil {
		return nil, fmt.Errorf("complete step: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transition: %w", err)
	}

	step.Status = models.StepCompleted
	step.CompletedAt = &now
	return step, nil
}

func (e *Engine) publish(ctx context.Context, filing *models.Filing, previous models.WorkflowStatus, step *models.TransitionStep) {
	payload := map[string]any{
		"filingId":       filing.ID,
		"previousStatus": previous,
		"newStatus":      filing.WorkflowStatus,
		"step":           step.Step,
		"actor":          step.Actor,
		"comment":        step.Comment,
		"financialYear":  filing.FinancialYear,
		"period":         filing.Period,
		"returnType":     filing.ReturnType,
		"clientId":       filing.ClientID,
	}

	_, err := e.publisher.Publish(ctx, events.PublishRequest{
		TenantID:   filing.TenantID,
		EventType:  events.FilingStatusChanged,
		EntityType: "filing",
		EntityID:   filing.ID,
		Payload:    payload,
		Source:     "workflow",
	})
	if err != nil {
		e.metrics.RecordPublishFailure("transition")
		log.Error().Err(err).
			Str("tenant_id", filing.TenantID).
			Str("filing_id", filing.ID).
			Str("step", string(step.Step)).
			Msg("transition committed but status_changed event was not published")
	}
}

// CreateFiling registers a new filing. Filings always start in draft.
func (e *Engine) CreateFiling(ctx context.Context, filing *models.Filing) error {
	if filing.ClientID == "" || filing.ReturnType == "" || filing.FinancialYear == "" || filing.Period == "" {
		return fmt.Errorf("%w: client_id, return_type, financial_year and period are required", ErrInvalidFiling)
	}
	filing.WorkflowStatus = models.StatusDraft
	filing.CurrentStep = ""
	if err := e.filings.Create(ctx, filing); err != nil {
		return err
	}
	log.Info().Str("tenant_id", filing.TenantID).Str("filing_id", filing.ID).Msg("filing created")
	return nil
}

func (e *Engine) Filing(ctx context.Context, tenantID, filingID string) (*models.Filing, error) {
	filing, err := e.filings.GetByID(ctx, tenantID, filingID)
	if err != nil {
		if repositories.IsNotFound(err) {
			return nil, ErrFilingNotFound
		}
		return nil, err
	}
	return filing, nil
}

// Apply runs the move behind an API action name against the filing's current status.
func (e *Engine) Apply(ctx context.Context, tenantID, filingID, action, actor, comment string) (*models.Filing, *models.TransitionStep, error) {
	move, ok := ActionMove(action)
	if !ok {
		return nil, nil, fmt.Errorf("%w: unknown action %q", ErrInvalidTransition, action)
	}
	return e.run(ctx, tenantID, filingID, move.Step, actor, comment)
}

// History returns the filing's audit steps, oldest first.
func (e *Engine) History(ctx context.Context, tenantID, filingID string) ([]*models.TransitionStep, error) {
	if _, err := e.filings.GetByID(ctx, tenantID, filingID); err != nil {
		if repositories.IsNotFound(err) {
			return nil, ErrFilingNotFound
		}
		return nil, err
	}
	return e.filings.ListSteps(ctx, tenantID, filingID)
}

func (e *Engine) run(ctx context.Context, tenantID, filingID string, step models.StepKind, actor, comment string) (*models.Filing, *models.TransitionStep, error) {
	move := moveForStep(step)
	return e.Transition(ctx, TransitionRequest{
		TenantID: tenantID,
		FilingID: filingID,
		From:     move.From,
		To:       move.To,
		Step:     move.Step,
		Actor:    actor,
		Comment:  comment,
	})
}

func (e *Engine) StartGSTR1(ctx context.Context, tenantID, filingID, actor, comment string) (*models.Filing, *models.TransitionStep, error) {
	return e.run(ctx, tenantID, filingID, models.StepGSTR1Preparation, actor, comment)
}

func (e *Engine) ValidateGSTR1(ctx context.Context, tenantID, filingID, actor, comment string) (*models.Filing, *models.TransitionStep, error) {
	return e.run(ctx, tenantID, filingID, models.StepGSTR1Validation, actor, comment)
}

func (e *Engine) CompleteGSTR1(ctx context.Context, tenantID, filingID, actor, comment string) (*models.Filing, *models.TransitionStep, error) {
	return e.run(ctx, tenantID, filingID, models.StepGSTR1Filing, actor, comment)
}

func (e *Engine) StartGSTR3B(ctx context.Context, tenantID, filingID, actor, comment string) (*models.Filing, *models.TransitionStep, error) {
	return e.run(ctx, tenantID, filingID, models.StepGSTR3BPreparation, actor, comment)
}

func (e *Engine) ValidateGSTR3B(ctx context.Context, tenantID, filingID, actor, comment string) (*models.Filing, *models.TransitionStep, error) {
	return e.run(ctx, tenantID, filingID, models.StepGSTR3BValidation, actor, comment)
}

// CompleteGSTR3B files the secondary return; the filing stays filed.
func (e *Engine) CompleteGSTR3B(ctx context.Context, tenantID, filingID, actor, comment string) (*models.Filing, *models.TransitionStep, error) {
	return e.run(ctx, tenantID, filingID, models.StepGSTR3BFiling, actor, comment)
}

func (e *Engine) LockPeriod(ctx context.Context, tenantID, filingID, actor, comment string) (*models.Filing, *models.TransitionStep, error) {
	return e.run(ctx, tenantID, filingID, models.StepPeriodLock, actor, comment)
}

func (e *Engine) UnlockPeriod(ctx context.Context, tenantID, filingID, actor, comment string) (*models.Filing, *models.TransitionStep, error) {
	return e.run(ctx, tenantID, filingID, models.StepPeriodUnlock, actor, comment)
}

func (e *Engine) StartAmendment(ctx context.Context, tenantID, filingID, actor, comment string) (*models.Filing, *models.TransitionStep, error) {
	return e.run(ctx, tenantID, filingID, models.StepAmendmentStart, actor, comment)
}

func (e *Engine) CompleteAmendment(ctx context.Context, tenantID, filingID, actor, comment string) (*models.Filing, *models.TransitionStep, error) {
	return e.run(ctx, tenantID, filingID, models.StepAmendmentCompleted, actor, comment)
}

func (e *Engine) ArchiveFiling(ctx context.Context, tenantID, filingID, actor, comment string) (*models.Filing, *models.TransitionStep, error) {
	return e.run(ctx, tenantID, filingID, models.StepArchival, actor, comment)
}

func stepLabel(step models.StepKind) string {
	if step == "" {
		return "any step"
	}
	return string(step)
}
