package department

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	CreateDepartment(ctx context.Context, d *Department) error
	GetDepartment(ctx context.Context, id uuid.UUID) (*Department, error)
	ListDepartments(ctx context.Context) ([]*Department, error)

	CreateStatus(ctx context.Context, s *PatientDepartmentStatus) error
	GetStatus(ctx context.Context, id uuid.UUID) (*PatientDepartmentStatus, error)
	UpdateStatus(ctx context.Context, s *PatientDepartmentStatus) error
	// LatestMatch returns the most recent live (pending or accepted)
	// record for the patient/department/source-encounter triple, or nil
	// when none exists. Ordered by admission date, then creation time,
	// so a terminal record from an earlier close/reopen cycle with the
	// same admission date never shadows a live one.
	LatestMatch(ctx context.Context, patientID, departmentID, sourceEncounterID uuid.UUID) (*PatientDepartmentStatus, error)
	ListByEncounter(ctx context.Context, sourceEncounterID uuid.UUID, includeArchived bool) ([]*PatientDepartmentStatus, error)
	ListByDepartment(ctx context.Context, departmentID uuid.UUID, limit, offset int) ([]*PatientDepartmentStatus, int, error)
}
