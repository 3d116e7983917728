package department

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Department maps to the department table.
type Department struct {
	ID          uuid.UUID `db:"id" json:"id"`
	Name        string    `db:"name" json:"name"`
	Number      string    `db:"number" json:"number,omitempty"`
	Description string    `db:"description" json:"description,omitempty"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

func (d *Department) String() string {
	if d.Number != "" {
		return fmt.Sprintf("%s - %s", d.Number, d.Name)
	}
	return d.Name
}

// TransferStatus is the state of a patient within a department.
type TransferStatus string

const (
	StatusPending        TransferStatus = "pending"
	StatusAccepted       TransferStatus = "accepted"
	StatusDischarged     TransferStatus = "discharged"
	StatusTransferredOut TransferStatus = "transferred_out"
	StatusTransferCancel TransferStatus = "transfer_cancelled"
)

// PatientDepartmentStatus tracks one patient's pending or accepted move
// into a department, attributed to the encounter that caused it. It maps
// to the patient_department_status table.
type PatientDepartmentStatus struct {
	ID                uuid.UUID      `db:"id" json:"id"`
	PatientID         uuid.UUID      `db:"patient_id" json:"patient_id"`
	DepartmentID      uuid.UUID      `db:"department_id" json:"department_id"`
	Status            TransferStatus `db:"status" json:"status"`
	AdmissionDate     time.Time      `db:"admission_date" json:"admission_date"`
	AcceptedBy        *uuid.UUID     `db:"accepted_by" json:"accepted_by,omitempty"`
	AcceptanceDate    *time.Time     `db:"acceptance_date" json:"acceptance_date,omitempty"`
	DischargeDate     *time.Time     `db:"discharge_date" json:"discharge_date,omitempty"`
	Notes             string         `db:"notes" json:"notes,omitempty"`
	SourceEncounterID *uuid.UUID     `db:"source_encounter_id" json:"source_encounter_id,omitempty"`
	IsArchived        bool           `db:"is_archived" json:"is_archived"`
	ArchivedAt        *time.Time     `db:"archived_at" json:"archived_at,omitempty"`
	CreatedAt         time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time      `db:"updated_at" json:"updated_at"`
}

// Accept moves a pending transfer to accepted. Returns false when the
// record is not pending.
func (s *PatientDepartmentStatus) Accept(userID uuid.UUID, now time.Time) bool {
	if s.Status != StatusPending {
		return false
	}
	s.Status = StatusAccepted
	s.AcceptedBy = &userID
	s.AcceptanceDate = &now
	return true
}

// Discharge releases an accepted patient from the department.
func (s *PatientDepartmentStatus) Discharge(now time.Time) bool {
	if s.Status != StatusAccepted {
		return false
	}
	s.Status = StatusDischarged
	s.DischargeDate = &now
	return true
}

// Cancel reverts a pending or accepted transfer. A note records when the
// cancellation happened.
func (s *PatientDepartmentStatus) Cancel(now time.Time) bool {
	if s.Status != StatusPending && s.Status != StatusAccepted {
		return false
	}
	s.Status = StatusTransferCancel
	note := fmt.Sprintf("transfer cancelled at %s", now.Format("02.01.2006 15:04"))
	if s.Notes != "" {
		s.Notes += "\n"
	}
	s.Notes += note
	return true
}
