package encounter

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
)

// LoggingHandler writes a structured line per event.
type LoggingHandler struct {
	log zerolog.Logger
}

func NewLoggingHandler(log zerolog.Logger) *LoggingHandler {
	return &LoggingHandler{log: log}
}

func (h *LoggingHandler) Name() string { return "logging" }

func (h *LoggingHandler) Handle(_ context.Context, ev Event) error {
	evt := h.log.Info().
		Str("event_type", string(ev.Type)).
		Str("encounter_id", ev.EncounterID.String()).
		Time("timestamp", ev.Timestamp)
	if !ev.Actor.IsAnonymous() {
		evt = evt.Str("actor", ev.Actor.String())
	}
	evt.Msg(ev.Description())
	return nil
}

// DepartmentStatusHandler keeps department-transfer records in step with
// the encounter lifecycle: a close with a transfer outcome creates a
// pending record, a reopen cancels it. Cancelling with no matching
// record is a no-op, which makes the handler idempotent alongside the
// reopen command's own compensating call.
type DepartmentStatusHandler struct {
	transfers DepartmentTransferStore
	clock     Clock
	log       zerolog.Logger
}

func NewDepartmentStatusHandler(transfers DepartmentTransferStore, clock Clock, log zerolog.Logger) *DepartmentStatusHandler {
	return &DepartmentStatusHandler{transfers: transfers, clock: clock, log: log}
}

func (h *DepartmentStatusHandler) Name() string { return "department_status" }

func (h *DepartmentStatusHandler) Handle(ctx context.Context, ev Event) error {
	if ev.Outcome != OutcomeTransferred || ev.TransferDepartmentID == nil {
		return nil
	}
	switch ev.Type {
	case EventClosed:
		admittedAt := ev.Timestamp
		if ev.DateEnd != nil {
			admittedAt = *ev.DateEnd
		}
		if err := h.transfers.CreatePendingTransfer(ctx, ev.PatientID, *ev.TransferDepartmentID, ev.EncounterID, admittedAt); err != nil {
			return fmt.Errorf("create pending transfer: %w", err)
		}
	case EventReopened:
		found, err := h.transfers.CancelTransfer(ctx, ev.PatientID, *ev.TransferDepartmentID, ev.EncounterID)
		if err != nil {
			return fmt.Errorf("cancel transfer: %w", err)
		}
		if !found {
			h.log.Debug().
				Str("encounter_id", ev.EncounterID.String()).
				Msg("no matching transfer record to cancel")
		}
	}
	return nil
}

// AppointmentSyncHandler mirrors the encounter lifecycle onto the linked
// appointment: completed on close, scheduled again on reopen. An
// encounter without an appointment is left alone.
type AppointmentSyncHandler struct {
	appts AppointmentLink
	log   zerolog.Logger
}

func NewAppointmentSyncHandler(appts AppointmentLink, log zerolog.Logger) *AppointmentSyncHandler {
	return &AppointmentSyncHandler{appts: appts, log: log}
}

func (h *AppointmentSyncHandler) Name() string { return "appointment_sync" }

func (h *AppointmentSyncHandler) Handle(ctx context.Context, ev Event) error {
	if ev.Type != EventClosed && ev.Type != EventReopened {
		return nil
	}
	appt, err := h.appts.Get(ctx, ev.EncounterID)
	if err != nil {
		return fmt.Errorf("resolve appointment: %w", err)
	}
	if appt == nil {
		return nil
	}

	want := AppointmentCompleted
	if ev.Type == EventReopened {
		want = AppointmentScheduled
	}
	if appt.Status == want {
		return nil
	}
	if err := h.appts.SetStatus(ctx, appt.ID, want); err != nil {
		return fmt.Errorf("set appointment status: %w", err)
	}
	return nil
}
