package encounter

import (
	"time"

	"github.com/google/uuid"
)

// Outcome is the terminal classification of how an encounter ended.
type Outcome string

const (
	OutcomeNone            Outcome = ""
	OutcomeConsultationEnd Outcome = "consultation_end"
	OutcomeTransferred     Outcome = "transferred"
)

// Encounter maps to the encounter table. It is the aggregate root of the
// lifecycle coordinator: active while DateEnd is unset, closed with an
// outcome otherwise. Archival is an orthogonal dimension — an archived
// encounter keeps whatever lifecycle state it had, and unarchiving never
// reactivates it.
type Encounter struct {
	ID                   uuid.UUID  `db:"id" json:"id"`
	PatientID            uuid.UUID  `db:"patient_id" json:"patient_id"`
	DoctorID             *uuid.UUID `db:"doctor_id" json:"doctor_id,omitempty"`
	DateStart            time.Time  `db:"date_start" json:"date_start"`
	DateEnd              *time.Time `db:"date_end" json:"date_end,omitempty"`
	Outcome              Outcome    `db:"outcome" json:"outcome,omitempty"`
	TransferDepartmentID *uuid.UUID `db:"transfer_department_id" json:"transfer_department_id,omitempty"`
	IsArchived           bool       `db:"is_archived" json:"is_archived"`
	ArchivedAt           *time.Time `db:"archived_at" json:"archived_at,omitempty"`
	Version              int        `db:"version" json:"version"`
	CreatedAt            time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt            time.Time  `db:"updated_at" json:"updated_at"`
}

// IsActive reports whether the encounter is still open. Activity is
// derived from DateEnd so the two can never disagree.
func (e *Encounter) IsActive() bool { return e.DateEnd == nil }

// Validate checks the aggregate invariants. It is independent of
// persistence and must hold on every exit path of a transition.
func (e *Encounter) Validate() error {
	if e.PatientID == uuid.Nil {
		return NewValidationError("patient_id is required")
	}
	if e.DateStart.IsZero() {
		return NewValidationError("date_start is required")
	}
	if e.DateEnd != nil && e.Outcome == OutcomeNone {
		return NewValidationError("a closed encounter must have an outcome")
	}
	if e.DateEnd == nil && e.Outcome != OutcomeNone {
		return NewValidationError("an active encounter cannot have an outcome")
	}
	if e.Outcome == OutcomeTransferred && e.TransferDepartmentID == nil {
		return NewValidationError("outcome %q requires a transfer department", OutcomeTransferred)
	}
	if e.Outcome != OutcomeTransferred && e.TransferDepartmentID != nil {
		return NewValidationError("transfer department is only allowed with outcome %q", OutcomeTransferred)
	}
	return nil
}

// Snapshot captures the mutable lifecycle fields of an encounter so a
// command can restore them verbatim on undo.
type Snapshot struct {
	DateEnd              *time.Time
	Outcome              Outcome
	TransferDepartmentID *uuid.UUID
	Version              int
}

// TakeSnapshot copies the mutable lifecycle state.
func (e *Encounter) TakeSnapshot() Snapshot {
	return Snapshot{
		DateEnd:              copyTimePtr(e.DateEnd),
		Outcome:              e.Outcome,
		TransferDepartmentID: copyUUIDPtr(e.TransferDepartmentID),
		Version:              e.Version,
	}
}

// RestoreSnapshot overwrites the mutable lifecycle state with a
// previously captured snapshot. The version is left alone so the next
// persist goes through the normal optimistic check.
func (e *Encounter) RestoreSnapshot(s Snapshot) {
	e.DateEnd = copyTimePtr(s.DateEnd)
	e.Outcome = s.Outcome
	e.TransferDepartmentID = copyUUIDPtr(s.TransferDepartmentID)
}

func copyTimePtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func copyUUIDPtr(id *uuid.UUID) *uuid.UUID {
	if id == nil {
		return nil
	}
	v := *id
	return &v
}

// Actor identifies the user performing an operation. The zero value is
// an anonymous actor.
type Actor struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
	Role string    `json:"role"`
}

func (a Actor) IsAnonymous() bool { return a.ID == uuid.Nil }

func (a Actor) String() string {
	if a.IsAnonymous() {
		return "anonymous"
	}
	if a.Name != "" {
		return a.Name
	}
	return a.ID.String()
}
