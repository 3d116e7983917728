package encounter

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestCloseCommandExecuteAndUndo(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	stored := env.activeEncounter()
	deptID := uuid.New()

	enc, err := env.repo.GetByID(ctx, stored.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	cmd := NewCloseEncounterCommand(env.svc.deps(), enc, CloseParams{
		Outcome:              OutcomeTransferred,
		TransferDepartmentID: &deptID,
		Actor:                env.actor,
	})

	if cmd.CanUndo() {
		t.Error("CanUndo = true before execution")
	}
	if err := cmd.Execute(ctx); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !cmd.Successful() || cmd.ExecutedAt() == nil {
		t.Error("command not marked executed")
	}
	if !cmd.CanUndo() {
		t.Fatal("CanUndo = false after execution")
	}
	if n := env.transfers.pendingCount(); n != 1 {
		t.Fatalf("pending transfers = %d, want 1", n)
	}

	if err := cmd.Undo(ctx); err != nil {
		t.Fatalf("Undo: %v", err)
	}
	got := env.repo.get(stored.ID)
	if !got.IsActive() || got.Outcome != OutcomeNone || got.TransferDepartmentID != nil {
		t.Errorf("undo did not restore the active state: %+v", got)
	}
	if n := env.transfers.pendingCount(); n != 0 {
		t.Errorf("pending transfers = %d, want 0 after undo", n)
	}
	if cmd.CanUndo() {
		t.Error("CanUndo = true after undo")
	}
}

func TestCloseCommandUndoRefusedTwice(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	stored := env.activeEncounter()

	enc, _ := env.repo.GetByID(ctx, stored.ID)
	cmd := NewCloseEncounterCommand(env.svc.deps(), enc, CloseParams{Outcome: OutcomeConsultationEnd, Actor: env.actor})
	if err := cmd.Execute(ctx); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if err := cmd.Undo(ctx); err != nil {
		t.Fatalf("Undo: %v", err)
	}
	if err := cmd.Undo(ctx); !IsConflict(err) {
		t.Fatalf("second Undo = %v, want conflict", err)
	}
}

func TestCloseCommandUndoVersionGuard(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	stored := env.activeEncounter()

	enc, _ := env.repo.GetByID(ctx, stored.ID)
	cmd := NewCloseEncounterCommand(env.svc.deps(), enc, CloseParams{Outcome: OutcomeConsultationEnd, Actor: env.actor})
	if err := cmd.Execute(ctx); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	// A later update means the undo would clobber someone else's change.
	enc.Version++
	if err := cmd.Undo(ctx); !IsConflict(err) {
		t.Fatalf("Undo after concurrent modification = %v, want conflict", err)
	}
}

func TestCloseCommandRestoresStateOnPersistFailure(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	stored := env.activeEncounter()
	env.repo.updateErr = errNotFound

	enc, _ := env.repo.GetByID(ctx, stored.ID)
	cmd := NewCloseEncounterCommand(env.svc.deps(), enc, CloseParams{Outcome: OutcomeConsultationEnd, Actor: env.actor})

	if err := cmd.Execute(ctx); err == nil {
		t.Fatal("Execute succeeded despite persistence failure")
	}
	if !enc.IsActive() || enc.Outcome != OutcomeNone {
		t.Errorf("encounter left mutated after failed execute: %+v", enc)
	}
	if cmd.Successful() || cmd.CanUndo() {
		t.Error("failed command marked executed")
	}
}

func TestCloseCommandGuards(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	stored := env.activeEncounter()

	enc, _ := env.repo.GetByID(ctx, stored.ID)
	end := env.clock.t
	enc.DateEnd = &end
	enc.Outcome = OutcomeConsultationEnd

	cmd := NewCloseEncounterCommand(env.svc.deps(), enc, CloseParams{Outcome: OutcomeConsultationEnd, Actor: env.actor})
	if err := cmd.CanExecute(ctx); !IsValidation(err) {
		t.Fatalf("CanExecute on closed encounter = %v, want validation error", err)
	}
	if err := cmd.Execute(ctx); !IsValidation(err) {
		t.Fatalf("Execute on closed encounter = %v, want validation error", err)
	}
}

func TestReopenCommandExecute(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	deptID := uuid.New()

	end := env.clock.t.Add(-time.Hour)
	enc := &Encounter{
		ID:                   uuid.New(),
		PatientID:            uuid.New(),
		DateStart:            end.Add(-time.Hour),
		DateEnd:              &end,
		Outcome:              OutcomeTransferred,
		TransferDepartmentID: &deptID,
		Version:              2,
	}
	env.repo.put(enc)
	env.transfers.pending = append(env.transfers.pending, transferRecord{
		patientID:    enc.PatientID,
		departmentID: deptID,
		encounterID:  enc.ID,
		admittedAt:   end,
	})

	cmd := NewReopenEncounterCommand(env.svc.deps(), enc, env.actor)
	if err := cmd.Execute(ctx); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	got := env.repo.get(enc.ID)
	if !got.IsActive() || got.Outcome != OutcomeNone || got.TransferDepartmentID != nil {
		t.Errorf("encounter not reopened: %+v", got)
	}
	if n := env.transfers.pendingCount(); n != 0 {
		t.Errorf("pending transfers = %d, want 0", n)
	}
	if len(env.transfers.cancelled) != 1 {
		t.Errorf("cancelled transfers = %d, want 1", len(env.transfers.cancelled))
	}
}

func TestReopenCommandUndo(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	end := env.clock.t.Add(-time.Hour)
	enc := &Encounter{
		ID:        uuid.New(),
		PatientID: uuid.New(),
		DateStart: end.Add(-time.Hour),
		DateEnd:   &end,
		Outcome:   OutcomeConsultationEnd,
		Version:   2,
	}
	env.repo.put(enc)

	cmd := NewReopenEncounterCommand(env.svc.deps(), enc, env.actor)
	if err := cmd.Execute(ctx); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if err := cmd.Undo(ctx); err != nil {
		t.Fatalf("Undo: %v", err)
	}

	got := env.repo.get(enc.ID)
	if got.IsActive() {
		t.Fatal("undo did not restore the closed state")
	}
	if got.Outcome != OutcomeConsultationEnd {
		t.Errorf("Outcome = %q, want %q", got.Outcome, OutcomeConsultationEnd)
	}
	if got.DateEnd == nil || !got.DateEnd.Equal(end) {
		t.Errorf("DateEnd = %v, want %v", got.DateEnd, end)
	}
}

func TestReopenCommandGuards(t *testing.T) {
	env := newTestEnv(t)
	stored := env.activeEncounter()

	enc, _ := env.repo.GetByID(context.Background(), stored.ID)
	cmd := NewReopenEncounterCommand(env.svc.deps(), enc, env.actor)
	if err := cmd.CanExecute(context.Background()); !IsValidation(err) {
		t.Fatalf("CanExecute on active encounter = %v, want validation error", err)
	}
}
