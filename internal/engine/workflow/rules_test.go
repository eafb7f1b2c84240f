package workflow

import (
	"testing"

	"taxdesk/internal/platform/models"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		name string
		from models.WorkflowStatus
		to   models.WorkflowStatus
		step models.StepKind
		want bool
	}{
		{"start gstr1", models.StatusDraft, models.StatusPrepared, models.StepGSTR1Preparation, true},
		{"validate gstr1", models.StatusPrepared, models.StatusValidated, models.StepGSTR1Validation, true},
		{"file gstr1", models.StatusValidated, models.StatusFiled, models.StepGSTR1Filing, true},
		{"gstr3b self loop", models.StatusFiled, models.StatusFiled, models.StepGSTR3BValidation, true},
		{"lock", models.StatusFiled, models.StatusLocked, models.StepPeriodLock, true},
		{"unlock", models.StatusLocked, models.StatusFiled, models.StepPeriodUnlock, true},
		{"amend", models.StatusFiled, models.StatusAmendment, models.StepAmendmentStart, true},
		{"finish amendment", models.StatusAmendment, models.StatusFiled, models.StepAmendmentCompleted, true},
		{"archive", models.StatusLocked, models.StatusArchived, models.StepArchival, true},
		{"any step of pair", models.StatusFiled, models.StatusLocked, "", true},
		{"skip validation", models.StatusDraft, models.StatusFiled, models.StepGSTR1Filing, false},
		{"wrong step for pair", models.StatusDraft, models.StatusPrepared, models.StepGSTR1Validation, false},
		{"relock", models.StatusLocked, models.StatusLocked, models.StepPeriodLock, false},
		{"archive unlocked", models.StatusFiled, models.StatusArchived, models.StepArchival, false},
		{"leave archive", models.StatusArchived, models.StatusFiled, "", false},
		{"back to draft", models.StatusPrepared, models.StatusDraft, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CanTransition(tt.from, tt.to, tt.step); got != tt.want {
				t.Errorf("CanTransition(%s, %s, %q) = %v, want %v", tt.from, tt.to, tt.step, got, tt.want)
			}
		})
	}
}

func TestAllowedTransitions(t *testing.T) {
	moves := AllowedTransitions(models.StatusFiled)
	if len(moves) != 5 {
		t.Fatalf("AllowedTransitions(filed) = %d moves, want 5", len(moves))
	}
	if got := AllowedTransitions(models.StatusArchived); len(got) != 0 {
		t.Errorf("AllowedTransitions(archived) = %v, want none", got)
	}
}

func TestActionMove(t *testing.T) {
	move, ok := ActionMove("complete-amendment")
	if !ok {
		t.Fatal("ActionMove(complete-amendment) not found")
	}
	if move.From != models.StatusAmendment || move.To != models.StatusFiled {
		t.Errorf("move = %+v", move)
	}
	if _, ok := ActionMove("delete"); ok {
		t.Error("ActionMove(delete) should not exist")
	}
}
