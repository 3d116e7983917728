package appointment

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, a *Appointment) error
	GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	Update(ctx context.Context, a *Appointment) error
	// GetByEncounter returns the non-archived appointment linked to the
	// encounter, or nil when none exists.
	GetByEncounter(ctx context.Context, encounterID uuid.UUID) (*Appointment, error)
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Appointment, int, error)
	// SetArchivedByEncounter flips the archive flag on every appointment
	// linked to the encounter.
	SetArchivedByEncounter(ctx context.Context, encounterID uuid.UUID, archived bool) error
}
