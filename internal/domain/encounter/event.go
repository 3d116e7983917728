package encounter

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EventType tags a completed lifecycle transition.
type EventType string

const (
	EventClosed     EventType = "encounter_closed"
	EventReopened   EventType = "encounter_reopened"
	EventArchived   EventType = "encounter_archived"
	EventUnarchived EventType = "encounter_unarchived"
)

// Event is an immutable record of a completed transition. It carries a
// snapshot of the fields consumers need; it is never persisted by the
// coordinator itself.
//
// For reopened events, Outcome and TransferDepartmentID hold the outcome
// that was just cleared, so handlers can compensate the side effects of
// the original close.
type Event struct {
	Type                 EventType         `json:"type"`
	EncounterID          uuid.UUID         `json:"encounter_id"`
	PatientID            uuid.UUID         `json:"patient_id"`
	DateStart            time.Time         `json:"date_start"`
	DateEnd              *time.Time        `json:"date_end,omitempty"`
	Outcome              Outcome           `json:"outcome,omitempty"`
	TransferDepartmentID *uuid.UUID        `json:"transfer_department_id,omitempty"`
	Actor                Actor             `json:"actor"`
	Timestamp            time.Time         `json:"timestamp"`
	Metadata             map[string]string `json:"metadata,omitempty"`
}

// Description is a human-readable one-liner used by the logging handler
// and the audit observer.
func (e Event) Description() string {
	switch e.Type {
	case EventClosed:
		if e.TransferDepartmentID != nil {
			return fmt.Sprintf("encounter %s closed with outcome %q (transferred to department %s)",
				e.EncounterID, e.Outcome, *e.TransferDepartmentID)
		}
		return fmt.Sprintf("encounter %s closed with outcome %q", e.EncounterID, e.Outcome)
	case EventReopened:
		return fmt.Sprintf("encounter %s reopened", e.EncounterID)
	case EventArchived:
		return fmt.Sprintf("encounter %s archived", e.EncounterID)
	case EventUnarchived:
		return fmt.Sprintf("encounter %s unarchived", e.EncounterID)
	}
	return fmt.Sprintf("%s: encounter %s", e.Type, e.EncounterID)
}

func newEvent(t EventType, enc *Encounter, actor Actor, ts time.Time) Event {
	return Event{
		Type:        t,
		EncounterID: enc.ID,
		PatientID:   enc.PatientID,
		DateStart:   enc.DateStart,
		DateEnd:     copyTimePtr(enc.DateEnd),
		Actor:       actor,
		Timestamp:   ts,
	}
}

// NewClosedEvent records that enc was closed with the given outcome.
func NewClosedEvent(enc *Encounter, outcome Outcome, transferDepartmentID *uuid.UUID, actor Actor, ts time.Time) Event {
	ev := newEvent(EventClosed, enc, actor, ts)
	ev.Outcome = outcome
	ev.TransferDepartmentID = copyUUIDPtr(transferDepartmentID)
	return ev
}

// NewReopenedEvent records that enc was reopened. prevOutcome and
// prevDepartment describe the close that is being reverted.
func NewReopenedEvent(enc *Encounter, prevOutcome Outcome, prevDepartment *uuid.UUID, actor Actor, ts time.Time) Event {
	ev := newEvent(EventReopened, enc, actor, ts)
	ev.Outcome = prevOutcome
	ev.TransferDepartmentID = copyUUIDPtr(prevDepartment)
	return ev
}

func NewArchivedEvent(enc *Encounter, actor Actor, ts time.Time) Event {
	return newEvent(EventArchived, enc, actor, ts)
}

func NewUnarchivedEvent(enc *Encounter, actor Actor, ts time.Time) Event {
	return newEvent(EventUnarchived, enc, actor, ts)
}
