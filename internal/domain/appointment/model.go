package appointment

import (
	"time"

	"github.com/google/uuid"
)

// Status of an appointment.
type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusCompleted Status = "completed"
	StatusCanceled  Status = "canceled"
)

func (s Status) Valid() bool {
	switch s {
	case StatusScheduled, StatusCompleted, StatusCanceled:
		return true
	}
	return false
}

// Appointment maps to the appointment_event table. An appointment may be
// linked to the encounter it produced; that link drives status sync when
// the encounter closes or reopens and is severed while the encounter is
// archived.
type Appointment struct {
	ID          uuid.UUID  `db:"id" json:"id"`
	PatientID   uuid.UUID  `db:"patient_id" json:"patient_id"`
	DoctorID    *uuid.UUID `db:"doctor_id" json:"doctor_id,omitempty"`
	Title       string     `db:"title" json:"title,omitempty"`
	Start       time.Time  `db:"start_at" json:"start_at"`
	End         *time.Time `db:"end_at" json:"end_at,omitempty"`
	Status      Status     `db:"status" json:"status"`
	EncounterID *uuid.UUID `db:"encounter_id" json:"encounter_id,omitempty"`
	IsArchived  bool       `db:"is_archived" json:"is_archived"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time  `db:"updated_at" json:"updated_at"`
}
