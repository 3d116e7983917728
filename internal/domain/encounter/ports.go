package encounter

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Collaborator interfaces. Documents, department transfers, appointments
// and notifications are owned by other modules; the coordinator only
// talks to them through these ports.

// DocumentStore answers whether an encounter has attached clinical
// documents. Closing requires at least one.
type DocumentStore interface {
	HasDocuments(ctx context.Context, encounterID uuid.UUID) (bool, error)
}

// DepartmentTransferStore manages the department-transfer records created
// as a side effect of closing an encounter with a transfer outcome.
type DepartmentTransferStore interface {
	// CreatePendingTransfer records a pending admission of the patient
	// into the department, attributed to the source encounter.
	CreatePendingTransfer(ctx context.Context, patientID, departmentID, sourceEncounterID uuid.UUID, admittedAt time.Time) error
	// CancelTransfer cancels the most recent matching transfer record.
	// A missing record is not an error; found reports whether one was
	// actually cancelled.
	CancelTransfer(ctx context.Context, patientID, departmentID, sourceEncounterID uuid.UUID) (found bool, err error)
	// ArchiveForEncounter and UnarchiveForEncounter cascade the
	// encounter's archival state onto its transfer records.
	ArchiveForEncounter(ctx context.Context, sourceEncounterID uuid.UUID) error
	UnarchiveForEncounter(ctx context.Context, sourceEncounterID uuid.UUID) error
}

// AppointmentStatus values understood by the appointment collaborator.
const (
	AppointmentScheduled = "scheduled"
	AppointmentCompleted = "completed"
)

// AppointmentInfo is the coordinator's view of a linked appointment.
type AppointmentInfo struct {
	ID     uuid.UUID
	End    *time.Time
	Status string
}

// AppointmentLink resolves and mutates the appointment linked to an
// encounter, if any.
type AppointmentLink interface {
	// Get returns the appointment linked to the encounter, or nil when
	// there is none.
	Get(ctx context.Context, encounterID uuid.UUID) (*AppointmentInfo, error)
	SetStatus(ctx context.Context, appointmentID uuid.UUID, status string) error
	// Detach archives the appointment link when the encounter is
	// archived; Restore reverses it.
	Detach(ctx context.Context, encounterID uuid.UUID) error
	Restore(ctx context.Context, encounterID uuid.UUID) error
}

// PatientDirectory resolves patient contact details for outbound
// notifications. An empty address means the patient is unreachable.
type PatientDirectory interface {
	EmailFor(ctx context.Context, patientID uuid.UUID) (string, error)
}

// OutboundNotification is a notification derived from an event by the
// notification observer.
type OutboundNotification struct {
	Type      string
	Recipient string
	Subject   string
	Body      string
}

// NotificationSender delivers outbound notifications. Delivery failures
// must never block or fail the triggering transition.
type NotificationSender interface {
	Send(ctx context.Context, n OutboundNotification) error
}

// Clock abstracts "now" so transitions are testable.
type Clock interface {
	Now() time.Time
}

// SystemClock is the production Clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }

// TxRunner provides the transactional boundary around a command's
// mutation, persistence and event publication.
type TxRunner interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// NopTxRunner executes fn without a transaction. Used by tests and by
// callers that already hold one.
type NopTxRunner struct{}

func (NopTxRunner) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}
