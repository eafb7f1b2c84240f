package workflow

import "taxdesk/internal/platform/models"

// Move is one legal edge of the filing lifecycle.
type Move struct {
	From models.WorkflowStatus `json:"from"`
	To   models.WorkflowStatus `json:"to"`
	Step models.StepKind       `json:"step"`
}

var transitions = [...]Move{
	{models.StatusDraft, models.StatusPrepared, models.StepGSTR1Preparation},
	{models.StatusPrepared, models.StatusValidated, models.StepGSTR1Validation},
	{models.StatusValidated, models.StatusFiled, models.StepGSTR1Filing},
	{models.StatusFiled, models.StatusFiled, models.StepGSTR3BPreparation},
	{models.StatusFiled, models.StatusFiled, models.StepGSTR3BValidation},
	{models.StatusFiled, models.StatusFiled, models.StepGSTR3BFiling},
	{models.StatusFiled, models.StatusLocked, models.StepPeriodLock},
	{models.StatusLocked, models.StatusFiled, models.StepPeriodUnlock},
	{models.StatusFiled, models.StatusAmendment, models.StepAmendmentStart},
	{models.StatusAmendment, models.StatusFiled, models.StepAmendmentCompleted},
	{models.StatusLocked, models.StatusArchived, models.StepArchival},
}

// CanTransition reports whether (from, to, step) is a legal move. An empty step
// matches any step allowed between from and to.
func CanTransition(from, to models.WorkflowStatus, step models.StepKind) bool {
	_, ok := resolve(from, to, step)
	return ok
}

// AllowedTransitions lists the moves available from a status.
func AllowedTransitions(from models.WorkflowStatus) []Move {
	var moves []Move
	for _, m := range transitions {
		if m.From == from {
			moves = append(moves, m)
		}
	}
	return moves
}

func resolve(from, to models.WorkflowStatus, step models.StepKind) (Move, bool) {
	for _, m := range transitions {
		if m.From == from && m.To == to && (step == "" || m.Step == step) {
			return m, true
		}
	}
	return Move{}, false
}

// ActionMove maps an API action name onto its move.
func ActionMove(action string) (Move, bool) {
	var step models.StepKind
	switch action {
	case "start-gstr1":
		step = models.StepGSTR1Preparation
	case "validate-gstr1":
		step = models.StepGSTR1Validation
	case "complete-gstr1":
		step = models.StepGSTR1Filing
	case "start-gstr3b":
		step = models.StepGSTR3BPreparation
	case "validate-gstr3b":
		step = models.StepGSTR3BValidation
	case "complete-gstr3b":
		step = models.StepGSTR3BFiling
	case "lock":
		step = models.StepPeriodLock
	case "unlock":
		step = models.StepPeriodUnlock
	case "start-amendment":
		step = models.StepAmendmentStart
	case "complete-amendment":
		step = models.StepAmendmentCompleted
	case "archive":
		step = models.StepArchival
	default:
		return Move{}, false
	}
	return moveForStep(step), true
}

// moveForStep returns the single move a step kind belongs to. Every step
// appears exactly once in the table.
func moveForStep(step models.StepKind) Move {
	for _, m := range transitions {
		if m.Step == step {
			return m
		}
	}
	return Move{}
}
