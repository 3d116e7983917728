package encounter

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, enc *Encounter) error
	GetByID(ctx context.Context, id uuid.UUID) (*Encounter, error)
	// Update persists the encounter with an optimistic version check and
	// bumps Version on success. A stale version yields a conflict Error.
	Update(ctx context.Context, enc *Encounter) error
	List(ctx context.Context, limit, offset int) ([]*Encounter, int, error)
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Encounter, int, error)
	// CountEarlierForPatient returns how many of the patient's encounters
	// started strictly before the given encounter. Used to derive the
	// per-patient encounter number.
	CountEarlierForPatient(ctx context.Context, enc *Encounter) (int, error)
}
