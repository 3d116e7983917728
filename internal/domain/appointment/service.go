package appointment

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Service owns appointments and the encounter link used for status sync.
type Service struct {
	repo Repository
	log  zerolog.Logger
}

func NewService(repo Repository, log zerolog.Logger) *Service {
	return &Service{
		repo: repo,
		log:  log.With().Str("component", "appointment_service").Logger(),
	}
}

func (s *Service) Create(ctx context.Context, a *Appointment) error {
	if a.PatientID == uuid.Nil {
		return fmt.Errorf("patient_id is required")
	}
	if a.Start.IsZero() {
		return fmt.Errorf("start_at is required")
	}
	if a.End != nil && a.End.Before(a.Start) {
		return fmt.Errorf("end_at must not precede start_at")
	}
	if a.Status == "" {
		a.Status = StatusScheduled
	}
	if !a.Status.Valid() {
		return fmt.Errorf("unknown status %q", a.Status)
	}
	return s.repo.Create(ctx, a)
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Appointment, int, error) {
	return s.repo.ListByPatient(ctx, patientID, limit, offset)
}

// LinkEncounter attaches an appointment to the encounter it produced.
func (s *Service) LinkEncounter(ctx context.Context, appointmentID, encounterID uuid.UUID) error {
	a, err := s.repo.GetByID(ctx, appointmentID)
	if err != nil {
		return fmt.Errorf("appointment not found: %w", err)
	}
	a.EncounterID = &encounterID
	return s.repo.Update(ctx, a)
}

// GetByEncounter returns the appointment linked to the encounter, or nil.
func (s *Service) GetByEncounter(ctx context.Context, encounterID uuid.UUID) (*Appointment, error) {
	return s.repo.GetByEncounter(ctx, encounterID)
}

// SetStatus moves an appointment to the given status. Setting the status
// it already has is a no-op.
func (s *Service) SetStatus(ctx context.Context, appointmentID uuid.UUID, status Status) error {
	if !status.Valid() {
		return fmt.Errorf("unknown status %q", status)
	}
	a, err := s.repo.GetByID(ctx, appointmentID)
	if err != nil {
		return fmt.Errorf("appointment not found: %w", err)
	}
	if a.Status == status {
		return nil
	}
	a.Status = status
	if err := s.repo.Update(ctx, a); err != nil {
		return err
	}
	s.log.Info().
		Str("appointment_id", appointmentID.String()).
		Str("status", string(status)).
		Msg("appointment status changed")
	return nil
}

// DetachFromEncounter archives the encounter's appointment links; they
// stay invisible to lookups until restored.
func (s *Service) DetachFromEncounter(ctx context.Context, encounterID uuid.UUID) error {
	return s.repo.SetArchivedByEncounter(ctx, encounterID, true)
}

// RestoreForEncounter reverses DetachFromEncounter.
func (s *Service) RestoreForEncounter(ctx context.Context, encounterID uuid.UUID) error {
	return s.repo.SetArchivedByEncounter(ctx, encounterID, false)
}
