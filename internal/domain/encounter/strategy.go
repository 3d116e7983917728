package encounter

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// CloseParams are the caller-supplied parameters of a closing transition.
type CloseParams struct {
	Outcome              Outcome
	TransferDepartmentID *uuid.UUID
	Actor                Actor
}

// OutcomeStrategy encapsulates the rules for one terminal outcome.
// Validate returning a validation Error is a normal "not allowed"
// signal; callers check it before invoking Execute. Execute mutates the
// encounter in memory only — persistence and event publication belong to
// the command layer.
type OutcomeStrategy interface {
	Code() Outcome
	DisplayName() string
	Validate(ctx context.Context, enc *Encounter, p CloseParams) error
	Execute(ctx context.Context, enc *Encounter, p CloseParams) error
	RequiredFields() []string
	OptionalFields() []string
}

// closeDeps are the collaborators every closing strategy needs: the
// document guard, the linked appointment (for the end timestamp) and the
// clock.
type closeDeps struct {
	docs  DocumentStore
	appts AppointmentLink
	clock Clock
}

// endTime resolves the encounter's end: the linked appointment's end
// when present, else now.
func (d closeDeps) endTime(ctx context.Context, enc *Encounter) time.Time {
	if d.appts != nil {
		if appt, err := d.appts.Get(ctx, enc.ID); err == nil && appt != nil && appt.End != nil {
			return *appt.End
		}
	}
	return d.clock.Now()
}

func (d closeDeps) requireDocuments(ctx context.Context, enc *Encounter) error {
	has, err := d.docs.HasDocuments(ctx, enc.ID)
	if err != nil {
		return NewCollaboratorError("check documents: %v", err)
	}
	if !has {
		return NewValidationError("at least one attached document is required to close the encounter")
	}
	return nil
}

// ConsultationEndStrategy closes an encounter as a finished consultation.
type ConsultationEndStrategy struct {
	closeDeps
}

func NewConsultationEndStrategy(docs DocumentStore, appts AppointmentLink, clock Clock) *ConsultationEndStrategy {
	return &ConsultationEndStrategy{closeDeps{docs: docs, appts: appts, clock: clock}}
}

func (s *ConsultationEndStrategy) Code() Outcome       { return OutcomeConsultationEnd }
func (s *ConsultationEndStrategy) DisplayName() string { return "Consultation ended" }

func (s *ConsultationEndStrategy) Validate(ctx context.Context, enc *Encounter, _ CloseParams) error {
	return s.requireDocuments(ctx, enc)
}

func (s *ConsultationEndStrategy) Execute(ctx context.Context, enc *Encounter, p CloseParams) error {
	if err := s.Validate(ctx, enc, p); err != nil {
		return err
	}
	end := s.endTime(ctx, enc)
	enc.DateEnd = &end
	enc.Outcome = OutcomeConsultationEnd
	enc.TransferDepartmentID = nil
	return nil
}

func (s *ConsultationEndStrategy) RequiredFields() []string { return []string{"documents"} }
func (s *ConsultationEndStrategy) OptionalFields() []string { return nil }

// TransferStrategy closes an encounter by transferring the patient to a
// department.
type TransferStrategy struct {
	closeDeps
}

func NewTransferStrategy(docs DocumentStore, appts AppointmentLink, clock Clock) *TransferStrategy {
	return &TransferStrategy{closeDeps{docs: docs, appts: appts, clock: clock}}
}

func (s *TransferStrategy) Code() Outcome       { return OutcomeTransferred }
func (s *TransferStrategy) DisplayName() string { return "Transferred to department" }

func (s *TransferStrategy) Validate(ctx context.Context, enc *Encounter, p CloseParams) error {
	if err := s.requireDocuments(ctx, enc); err != nil {
		return err
	}
	if p.TransferDepartmentID == nil {
		return NewValidationError("a transfer department is required for outcome %q", OutcomeTransferred)
	}
	return nil
}

func (s *TransferStrategy) Execute(ctx context.Context, enc *Encounter, p CloseParams) error {
	if err := s.Validate(ctx, enc, p); err != nil {
		return err
	}
	end := s.endTime(ctx, enc)
	enc.DateEnd = &end
	enc.Outcome = OutcomeTransferred
	enc.TransferDepartmentID = copyUUIDPtr(p.TransferDepartmentID)
	return nil
}

func (s *TransferStrategy) RequiredFields() []string {
	return []string{"documents", "transfer_department"}
}
func (s *TransferStrategy) OptionalFields() []string { return nil }

// OutcomeRequirements describes what a given outcome needs, for UI and
// pre-validation.
type OutcomeRequirements struct {
	RequiredFields []string `json:"required_fields"`
	OptionalFields []string `json:"optional_fields"`
	DisplayName    string   `json:"display_name"`
}

// StrategyRegistry maps outcome codes to strategies. New outcomes are
// added by registering a strategy, never by editing existing ones.
type StrategyRegistry struct {
	mu         sync.RWMutex
	strategies map[Outcome]OutcomeStrategy
}

// NewStrategyRegistry builds a registry with the built-in strategies
// registered.
func NewStrategyRegistry(docs DocumentStore, appts AppointmentLink, clock Clock) *StrategyRegistry {
	r := &StrategyRegistry{strategies: make(map[Outcome]OutcomeStrategy)}
	r.Register(NewConsultationEndStrategy(docs, appts, clock))
	r.Register(NewTransferStrategy(docs, appts, clock))
	return r
}

func (r *StrategyRegistry) Register(s OutcomeStrategy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.strategies[s.Code()] = s
}

func (r *StrategyRegistry) Get(code Outcome) (OutcomeStrategy, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.strategies[code]
	return s, ok
}

// AvailableOutcomes returns the {code: display name} map of registered
// outcomes, sorted by code for stable output.
func (r *StrategyRegistry) AvailableOutcomes() map[Outcome]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[Outcome]string, len(r.strategies))
	for code, s := range r.strategies {
		out[code] = s.DisplayName()
	}
	return out
}

// Codes returns the registered outcome codes in sorted order.
func (r *StrategyRegistry) Codes() []Outcome {
	r.mu.RLock()
	defer r.mu.RUnlock()
	codes := make([]Outcome, 0, len(r.strategies))
	for code := range r.strategies {
		codes = append(codes, code)
	}
	sort.Slice(codes, func(i, j int) bool { return codes[i] < codes[j] })
	return codes
}

// Requirements returns the field requirements for an outcome code.
func (r *StrategyRegistry) Requirements(code Outcome) (*OutcomeRequirements, bool) {
	s, ok := r.Get(code)
	if !ok {
		return nil, false
	}
	return &OutcomeRequirements{
		RequiredFields: s.RequiredFields(),
		OptionalFields: s.OptionalFields(),
		DisplayName:    s.DisplayName(),
	}, true
}
