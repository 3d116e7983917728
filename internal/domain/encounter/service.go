package encounter

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Config wires the service's collaborators. Repo, Documents, Transfers,
// Appointments and Bus are required; Clock, Tx and HistoryCapacity fall
// back to sensible defaults.
type Config struct {
	Repo            Repository
	Documents       DocumentStore
	Transfers       DepartmentTransferStore
	Appointments    AppointmentLink
	Bus             *EventBus
	Clock           Clock
	Tx              TxRunner
	Logger          zerolog.Logger
	HistoryCapacity int
}

// Service is the coordinator façade: it composes strategies, commands,
// the invoker and the event bus into the public lifecycle operations.
type Service struct {
	repo       Repository
	docs       DocumentStore
	transfers  DepartmentTransferStore
	appts      AppointmentLink
	bus        *EventBus
	strategies *StrategyRegistry
	invoker    *CommandInvoker
	clock      Clock
	tx         TxRunner
	log        zerolog.Logger

	// One mutex per encounter so two concurrent transitions on the same
	// encounter cannot both succeed.
	locks sync.Map
}

func NewService(cfg Config) *Service {
	clock := cfg.Clock
	if clock == nil {
		clock = SystemClock{}
	}
	tx := cfg.Tx
	if tx == nil {
		tx = NopTxRunner{}
	}
	return &Service{
		repo:       cfg.Repo,
		docs:       cfg.Documents,
		transfers:  cfg.Transfers,
		appts:      cfg.Appointments,
		bus:        cfg.Bus,
		strategies: NewStrategyRegistry(cfg.Documents, cfg.Appointments, clock),
		invoker:    NewCommandInvoker(cfg.HistoryCapacity, cfg.Logger),
		clock:      clock,
		tx:         tx,
		log:        cfg.Logger.With().Str("component", "encounter_service").Logger(),
	}
}

// Strategies exposes the registry so callers can register additional
// outcomes at startup.
func (s *Service) Strategies() *StrategyRegistry { return s.strategies }

func (s *Service) lockFor(id uuid.UUID) *sync.Mutex {
	mu, _ := s.locks.LoadOrStore(id, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// getEncounter loads the encounter for a transition. Not-found is passed
// through typed; any other repository failure is an unexpected error and
// must not masquerade as a missing encounter.
func (s *Service) getEncounter(ctx context.Context, id uuid.UUID) (*Encounter, error) {
	enc, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if IsNotFound(err) {
			return nil, err
		}
		return nil, fmt.Errorf("load encounter %s: %w", id, err)
	}
	return enc, nil
}

func (s *Service) deps() commandDeps {
	return commandDeps{
		repo:       s.repo,
		tx:         s.tx,
		bus:        s.bus,
		strategies: s.strategies,
		docs:       s.docs,
		transfers:  s.transfers,
		clock:      s.clock,
	}
}

// ---------------------------------------------------------------------------
// CRUD
// ---------------------------------------------------------------------------

// CreateEncounter opens a new active encounter for a patient.
func (s *Service) CreateEncounter(ctx context.Context, enc *Encounter) error {
	if enc.PatientID == uuid.Nil {
		return NewValidationError("patient_id is required")
	}
	if enc.DateStart.IsZero() {
		enc.DateStart = s.clock.Now()
	}
	if err := enc.Validate(); err != nil {
		return err
	}
	return s.repo.Create(ctx, enc)
}

func (s *Service) GetEncounter(ctx context.Context, id uuid.UUID) (*Encounter, error) {
	return s.getEncounter(ctx, id)
}

func (s *Service) ListEncounters(ctx context.Context, limit, offset int) ([]*Encounter, int, error) {
	return s.repo.List(ctx, limit, offset)
}

func (s *Service) ListEncountersByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Encounter, int, error) {
	return s.repo.ListByPatient(ctx, patientID, limit, offset)
}

// ---------------------------------------------------------------------------
// Lifecycle transitions
// ---------------------------------------------------------------------------

// Close closes an active encounter with the given outcome. The guard
// failures (no documents, missing department, already closed, unknown
// outcome) come back as validation Errors; the encounter is untouched on
// every failure path.
func (s *Service) Close(ctx context.Context, encounterID uuid.UUID, outcome Outcome, transferDepartmentID *uuid.UUID, actor Actor) error {
	mu := s.lockFor(encounterID)
	mu.Lock()
	defer mu.Unlock()

	enc, err := s.getEncounter(ctx, encounterID)
	if err != nil {
		return err
	}

	cmd := NewCloseEncounterCommand(s.deps(), enc, CloseParams{
		Outcome:              outcome,
		TransferDepartmentID: transferDepartmentID,
		Actor:                actor,
	})
	return s.invoker.Execute(ctx, cmd)
}

// Reopen returns a closed encounter to the active state, cancelling the
// department transfer its close created.
func (s *Service) Reopen(ctx context.Context, encounterID uuid.UUID, actor Actor) error {
	mu := s.lockFor(encounterID)
	mu.Lock()
	defer mu.Unlock()

	enc, err := s.getEncounter(ctx, encounterID)
	if err != nil {
		return err
	}

	return s.invoker.Execute(ctx, NewReopenEncounterCommand(s.deps(), enc, actor))
}

// Archive flags the encounter archived and cascades onto its linked
// appointment and department-transfer records. Archiving an already
// archived encounter is a guarded no-op.
func (s *Service) Archive(ctx context.Context, encounterID uuid.UUID, actor Actor) error {
	mu := s.lockFor(encounterID)
	mu.Lock()
	defer mu.Unlock()

	enc, err := s.getEncounter(ctx, encounterID)
	if err != nil {
		return err
	}
	if enc.IsArchived {
		return nil
	}

	return s.tx.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.appts.Detach(ctx, enc.ID); err != nil {
			return NewCollaboratorError("detach appointment: %v", err)
		}
		if err := s.transfers.ArchiveForEncounter(ctx, enc.ID); err != nil {
			return NewCollaboratorError("archive transfer records: %v", err)
		}
		now := s.clock.Now()
		enc.IsArchived = true
		enc.ArchivedAt = &now
		if err := s.repo.Update(ctx, enc); err != nil {
			return fmt.Errorf("persist encounter: %w", err)
		}
		s.bus.Publish(ctx, NewArchivedEvent(enc, actor, now))
		return nil
	})
}

// Unarchive restores an archived encounter along with its appointment
// link and transfer records. The lifecycle state is untouched: an
// encounter that was closed stays closed.
func (s *Service) Unarchive(ctx context.Context, encounterID uuid.UUID, actor Actor) error {
	mu := s.lockFor(encounterID)
	mu.Lock()
	defer mu.Unlock()

	enc, err := s.getEncounter(ctx, encounterID)
	if err != nil {
		return err
	}
	if !enc.IsArchived {
		return nil
	}

	return s.tx.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.appts.Restore(ctx, enc.ID); err != nil {
			return NewCollaboratorError("restore appointment: %v", err)
		}
		if err := s.transfers.UnarchiveForEncounter(ctx, enc.ID); err != nil {
			return NewCollaboratorError("restore transfer records: %v", err)
		}
		enc.IsArchived = false
		enc.ArchivedAt = nil
		if err := s.repo.Update(ctx, enc); err != nil {
			return fmt.Errorf("persist encounter: %w", err)
		}
		s.bus.Publish(ctx, NewUnarchivedEvent(enc, actor, s.clock.Now()))
		return nil
	})
}

// ---------------------------------------------------------------------------
// Introspection
// ---------------------------------------------------------------------------

// AvailableOutcomes returns the registered outcome codes with their
// display names.
func (s *Service) AvailableOutcomes() map[Outcome]string {
	return s.strategies.AvailableOutcomes()
}

// OutcomeRequirements returns the field requirements for an outcome.
func (s *Service) OutcomeRequirements(code Outcome) (*OutcomeRequirements, error) {
	req, ok := s.strategies.Requirements(code)
	if !ok {
		return nil, NewValidationError("unknown outcome code %q", code)
	}
	return req, nil
}

// ValidateForClosing reports whether the encounter could be closed right
// now, without attempting it.
func (s *Service) ValidateForClosing(ctx context.Context, encounterID uuid.UUID) error {
	enc, err := s.getEncounter(ctx, encounterID)
	if err != nil {
		return err
	}
	if !enc.IsActive() {
		return NewValidationError("encounter is already closed")
	}
	has, err := s.docs.HasDocuments(ctx, enc.ID)
	if err != nil {
		return NewCollaboratorError("check documents: %v", err)
	}
	if !has {
		return NewValidationError("at least one attached document is required to close the encounter")
	}
	return nil
}

// UndoLastOperation undoes the most recent command. "Nothing to undo" is
// an expected condition, reported as false.
func (s *Service) UndoLastOperation(ctx context.Context) bool {
	return s.invoker.UndoLast(ctx)
}

func (s *Service) CommandHistory() []CommandRecord {
	return s.invoker.History()
}

func (s *Service) LastCommand() *CommandRecord {
	return s.invoker.LastCommand()
}

// Details is the aggregate view returned by EncounterDetails.
type Details struct {
	Encounter       *Encounter       `json:"encounter"`
	EncounterNumber int              `json:"encounter_number"`
	IsActive        bool             `json:"is_active"`
	HasDocuments    bool             `json:"has_documents"`
	Appointment     *AppointmentInfo `json:"appointment,omitempty"`
}

// EncounterDetails assembles the encounter with its per-patient ordinal
// number, document presence and linked appointment.
func (s *Service) EncounterDetails(ctx context.Context, encounterID uuid.UUID) (*Details, error) {
	enc, err := s.getEncounter(ctx, encounterID)
	if err != nil {
		return nil, err
	}

	earlier, err := s.repo.CountEarlierForPatient(ctx, enc)
	if err != nil {
		return nil, fmt.Errorf("count earlier encounters: %w", err)
	}
	has, err := s.docs.HasDocuments(ctx, enc.ID)
	if err != nil {
		return nil, NewCollaboratorError("check documents: %v", err)
	}
	appt, err := s.appts.Get(ctx, enc.ID)
	if err != nil {
		s.log.Warn().Err(err).Str("encounter_id", enc.ID.String()).Msg("appointment lookup failed")
		appt = nil
	}

	return &Details{
		Encounter:       enc,
		EncounterNumber: earlier + 1,
		IsActive:        enc.IsActive(),
		HasDocuments:    has,
		Appointment:     appt,
	}, nil
}
