package models

type WorkflowStatus string

const (
	StatusDraft     WorkflowStatus = "draft"
	StatusPrepared  WorkflowStatus = "prepared"
	StatusValidated WorkflowStatus = "validated"
	StatusFiled     WorkflowStatus = "filed"
	StatusAmendment WorkflowStatus = "amendment"
	StatusLocked    WorkflowStatus = "locked"
	StatusArchived  WorkflowStatus = "archived"
)

func (s WorkflowStatus) Valid() bool {
	switch s {
	case StatusDraft, StatusPrepared, StatusValidated, StatusFiled,
		StatusAmendment, StatusLocked, StatusArchived:
		return true
	}
	return false
}

type StepKind string

const (
	StepGSTR1Preparation   StepKind = "gstr1_preparation"
	StepGSTR1Validation    StepKind = "gstr1_validation"
	StepGSTR1Filing        StepKind = "gstr1_filing"
	StepGSTR3BPreparation  StepKind = "gstr3b_preparation"
	StepGSTR3BValidation   StepKind = "gstr3b_validation"
	StepGSTR3BFiling       StepKind = "gstr3b_filing"
	StepPeriodLock         StepKind = "period_lock"
	StepPeriodUnlock       StepKind = "period_unlock"
	StepAmendmentStart     StepKind = "amendment_start"
	StepAmendmentCompleted StepKind = "amendment_completion"
	StepArchival           StepKind = "archival"
)

type StepStatus string

const (
	StepInProgress StepStatus = "in_progress"
	StepCompleted  StepStatus = "completed"
)

// Filing is a tenant's compliance submission for one financial period.
type Filing struct {
	ID             string         `json:"id"`
	TenantID       string         `json:"tenant_id"`
	ClientID       string         `json:"client_id"`
	ReturnType     string         `json:"return_type"`    // GSTR1, GSTR3B, ...
	FinancialYear  string         `json:"financial_year"` // 2025-26
	Period         string         `json:"period"`         // 04-2025
	WorkflowStatus WorkflowStatus `json:"workflow_status"`
	CurrentStep    StepKind       `json:"current_step,omitempty"`
	CreatedAt      int64          `json:"created_at"`
	UpdatedAt      int64          `json:"updated_at"`
}

// TransitionStep is the audit row written for every transition.
type TransitionStep struct {
	ID             string         `json:"id"`
	TenantID       string         `json:"tenant_id"`
	FilingID       string         `json:"filing_id"`
	Step           StepKind       `json:"step"`
	Status         StepStatus     `json:"status"`
	PreviousStatus WorkflowStatus `json:"previous_status"`
	NewStatus      WorkflowStatus `json:"new_status"`
	Actor          string         `json:"actor"`
	Comment        string         `json:"comment,omitempty"`
	CreatedAt      int64          `json:"created_at"`
	CompletedAt    *int64         `json:"completed_at,omitempty"`
}
