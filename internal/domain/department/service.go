package department

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Service owns department transfer records. The encounter coordinator
// drives it through the transfer-store port; the HTTP layer uses it for
// accepting and discharging patients.
type Service struct {
	repo  Repository
	clock func() time.Time
	log   zerolog.Logger
}

func NewService(repo Repository, log zerolog.Logger) *Service {
	return &Service{
		repo:  repo,
		clock: func() time.Time { return time.Now().UTC() },
		log:   log.With().Str("component", "department_service").Logger(),
	}
}

// SetClock overrides the time source. Tests only.
func (s *Service) SetClock(clock func() time.Time) { s.clock = clock }

func (s *Service) CreateDepartment(ctx context.Context, d *Department) error {
	if d.Name == "" {
		return fmt.Errorf("name is required")
	}
	return s.repo.CreateDepartment(ctx, d)
}

func (s *Service) GetDepartment(ctx context.Context, id uuid.UUID) (*Department, error) {
	return s.repo.GetDepartment(ctx, id)
}

func (s *Service) ListDepartments(ctx context.Context) ([]*Department, error) {
	return s.repo.ListDepartments(ctx)
}

// CreatePendingTransfer records a pending admission attributed to the
// source encounter.
func (s *Service) CreatePendingTransfer(ctx context.Context, patientID, departmentID, sourceEncounterID uuid.UUID, admittedAt time.Time) error {
	if admittedAt.IsZero() {
		admittedAt = s.clock()
	}
	status := &PatientDepartmentStatus{
		PatientID:         patientID,
		DepartmentID:      departmentID,
		Status:            StatusPending,
		AdmissionDate:     admittedAt,
		SourceEncounterID: &sourceEncounterID,
	}
	return s.repo.CreateStatus(ctx, status)
}

// CancelTransfer cancels the most recent matching transfer record.
// A missing or already-terminal record is a no-op, reported via found.
func (s *Service) CancelTransfer(ctx context.Context, patientID, departmentID, sourceEncounterID uuid.UUID) (bool, error) {
	status, err := s.repo.LatestMatch(ctx, patientID, departmentID, sourceEncounterID)
	if err != nil {
		return false, fmt.Errorf("find transfer record: %w", err)
	}
	if status == nil {
		return false, nil
	}
	if !status.Cancel(s.clock()) {
		return false, nil
	}
	if err := s.repo.UpdateStatus(ctx, status); err != nil {
		return false, fmt.Errorf("persist cancellation: %w", err)
	}
	return true, nil
}

// ArchiveForEncounter archives every transfer record owned by the
// encounter. Already-archived records are skipped.
func (s *Service) ArchiveForEncounter(ctx context.Context, sourceEncounterID uuid.UUID) error {
	records, err := s.repo.ListByEncounter(ctx, sourceEncounterID, false)
	if err != nil {
		return fmt.Errorf("list transfer records: %w", err)
	}
	now := s.clock()
	for _, r := range records {
		r.IsArchived = true
		r.ArchivedAt = &now
		if err := s.repo.UpdateStatus(ctx, r); err != nil {
			return fmt.Errorf("archive transfer record %s: %w", r.ID, err)
		}
	}
	return nil
}

// UnarchiveForEncounter restores the encounter's archived transfer
// records.
func (s *Service) UnarchiveForEncounter(ctx context.Context, sourceEncounterID uuid.UUID) error {
	records, err := s.repo.ListByEncounter(ctx, sourceEncounterID, true)
	if err != nil {
		return fmt.Errorf("list transfer records: %w", err)
	}
	for _, r := range records {
		if !r.IsArchived {
			continue
		}
		r.IsArchived = false
		r.ArchivedAt = nil
		if err := s.repo.UpdateStatus(ctx, r); err != nil {
			return fmt.Errorf("restore transfer record %s: %w", r.ID, err)
		}
	}
	return nil
}

// AcceptPatient moves a pending transfer to accepted.
func (s *Service) AcceptPatient(ctx context.Context, statusID, userID uuid.UUID) error {
	status, err := s.repo.GetStatus(ctx, statusID)
	if err != nil {
		return fmt.Errorf("transfer record not found: %w", err)
	}
	if !status.Accept(userID, s.clock()) {
		return fmt.Errorf("transfer record %s is not pending", statusID)
	}
	return s.repo.UpdateStatus(ctx, status)
}

// DischargePatient releases an accepted patient.
func (s *Service) DischargePatient(ctx context.Context, statusID uuid.UUID) error {
	status, err := s.repo.GetStatus(ctx, statusID)
	if err != nil {
		return fmt.Errorf("transfer record not found: %w", err)
	}
	if !status.Discharge(s.clock()) {
		return fmt.Errorf("transfer record %s is not accepted", statusID)
	}
	return s.repo.UpdateStatus(ctx, status)
}

func (s *Service) ListByDepartment(ctx context.Context, departmentID uuid.UUID, limit, offset int) ([]*PatientDepartmentStatus, int, error) {
	return s.repo.ListByDepartment(ctx, departmentID, limit, offset)
}
