package encounter

import (
	"context"
	"fmt"
	"time"
)

// Command wraps one attempted lifecycle transition: it knows whether it
// may run, runs it under a transactional boundary, and can restore the
// exact pre-execution state.
type Command interface {
	Description() string
	// CanExecute returns nil when the guard passes, or a typed Error
	// with the reason.
	CanExecute(ctx context.Context) error
	Execute(ctx context.Context) error
	CanUndo() bool
	// Undo restores the pre-state snapshot. Only valid after a
	// successful execution that has not already been undone.
	Undo(ctx context.Context) error
	ExecutedAt() *time.Time
	Successful() bool
}

// commandDeps bundles the collaborators shared by all commands.
type commandDeps struct {
	repo       Repository
	tx         TxRunner
	bus        *EventBus
	strategies *StrategyRegistry
	docs       DocumentStore
	transfers  DepartmentTransferStore
	clock      Clock
}

type baseCommand struct {
	deps       commandDeps
	enc        *Encounter
	actor      Actor
	executedAt *time.Time
	successful bool
	undone     bool
}

func (c *baseCommand) ExecutedAt() *time.Time { return copyTimePtr(c.executedAt) }
func (c *baseCommand) Successful() bool       { return c.successful }

func (c *baseCommand) CanUndo() bool {
	return c.successful && c.executedAt != nil && !c.undone
}

func (c *baseCommand) markExecuted() {
	now := c.deps.clock.Now()
	c.executedAt = &now
	c.successful = true
}

// ---------------------------------------------------------------------------
// Close
// ---------------------------------------------------------------------------

// CloseEncounterCommand closes an active encounter with an outcome.
type CloseEncounterCommand struct {
	baseCommand
	params CloseParams
	prev   *Snapshot
}

func NewCloseEncounterCommand(deps commandDeps, enc *Encounter, params CloseParams) *CloseEncounterCommand {
	return &CloseEncounterCommand{
		baseCommand: baseCommand{deps: deps, enc: enc, actor: params.Actor},
		params:      params,
	}
}

func (c *CloseEncounterCommand) Description() string {
	return fmt.Sprintf("close encounter %s with outcome %q", c.enc.ID, c.params.Outcome)
}

func (c *CloseEncounterCommand) CanExecute(ctx context.Context) error {
	if !c.enc.IsActive() {
		return NewValidationError("encounter is already closed")
	}
	strategy, ok := c.deps.strategies.Get(c.params.Outcome)
	if !ok {
		return NewValidationError("unknown outcome code %q", c.params.Outcome)
	}
	return strategy.Validate(ctx, c.enc, c.params)
}

func (c *CloseEncounterCommand) Execute(ctx context.Context) error {
	if err := c.CanExecute(ctx); err != nil {
		return err
	}

	strategy, _ := c.deps.strategies.Get(c.params.Outcome)
	snap := c.enc.TakeSnapshot()

	err := c.deps.tx.RunInTx(ctx, func(ctx context.Context) error {
		if err := strategy.Execute(ctx, c.enc, c.params); err != nil {
			return err
		}
		if err := c.enc.Validate(); err != nil {
			return err
		}
		if err := c.deps.repo.Update(ctx, c.enc); err != nil {
			return fmt.Errorf("persist encounter: %w", err)
		}
		c.deps.bus.Publish(ctx, NewClosedEvent(c.enc, c.enc.Outcome, c.enc.TransferDepartmentID, c.actor, c.deps.clock.Now()))
		return nil
	})
	if err != nil {
		c.enc.RestoreSnapshot(snap)
		return err
	}

	c.prev = &snap
	c.markExecuted()
	return nil
}

// Undo restores the pre-close snapshot and publishes a reopened event:
// undoing a close is a reopen for downstream consumers, so the same
// compensations (pending transfer cancellation, appointment resync) run.
func (c *CloseEncounterCommand) Undo(ctx context.Context) error {
	if !c.CanUndo() || c.prev == nil {
		return NewConflictError("close command cannot be undone")
	}
	if c.enc.Version != c.prev.Version+1 {
		return NewConflictError("encounter was modified since the close; undo refused")
	}

	undoneOutcome := c.enc.Outcome
	undoneDepartment := copyUUIDPtr(c.enc.TransferDepartmentID)

	err := c.deps.tx.RunInTx(ctx, func(ctx context.Context) error {
		c.enc.RestoreSnapshot(*c.prev)
		if err := c.deps.repo.Update(ctx, c.enc); err != nil {
			return fmt.Errorf("persist encounter: %w", err)
		}
		c.deps.bus.Publish(ctx, NewReopenedEvent(c.enc, undoneOutcome, undoneDepartment, c.actor, c.deps.clock.Now()))
		return nil
	})
	if err != nil {
		return err
	}

	c.undone = true
	return nil
}

// ---------------------------------------------------------------------------
// Reopen
// ---------------------------------------------------------------------------

// ReopenEncounterCommand returns a closed encounter to the active state,
// compensating the side effects of its close.
type ReopenEncounterCommand struct {
	baseCommand
	prev *Snapshot
}

func NewReopenEncounterCommand(deps commandDeps, enc *Encounter, actor Actor) *ReopenEncounterCommand {
	return &ReopenEncounterCommand{
		baseCommand: baseCommand{deps: deps, enc: enc, actor: actor},
	}
}

func (c *ReopenEncounterCommand) Description() string {
	return fmt.Sprintf("reopen encounter %s", c.enc.ID)
}

func (c *ReopenEncounterCommand) CanExecute(_ context.Context) error {
	if c.enc.IsActive() {
		return NewValidationError("encounter is already active")
	}
	return nil
}

func (c *ReopenEncounterCommand) Execute(ctx context.Context) error {
	if err := c.CanExecute(ctx); err != nil {
		return err
	}

	snap := c.enc.TakeSnapshot()
	prevOutcome := c.enc.Outcome
	prevDepartment := copyUUIDPtr(c.enc.TransferDepartmentID)

	err := c.deps.tx.RunInTx(ctx, func(ctx context.Context) error {
		// Cancelling the pending department transfer is a required
		// compensating action, not optional cleanup.
		if prevOutcome == OutcomeTransferred && prevDepartment != nil {
			if _, err := c.deps.transfers.CancelTransfer(ctx, c.enc.PatientID, *prevDepartment, c.enc.ID); err != nil {
				return NewCollaboratorError("cancel department transfer: %v", err)
			}
		}

		c.enc.DateEnd = nil
		c.enc.Outcome = OutcomeNone
		c.enc.TransferDepartmentID = nil
		if err := c.enc.Validate(); err != nil {
			return err
		}
		if err := c.deps.repo.Update(ctx, c.enc); err != nil {
			return fmt.Errorf("persist encounter: %w", err)
		}
		c.deps.bus.Publish(ctx, NewReopenedEvent(c.enc, prevOutcome, prevDepartment, c.actor, c.deps.clock.Now()))
		return nil
	})
	if err != nil {
		c.enc.RestoreSnapshot(snap)
		return err
	}

	c.prev = &snap
	c.markExecuted()
	return nil
}

// Undo restores the closed state and publishes a closed event carrying
// the restored outcome and department.
func (c *ReopenEncounterCommand) Undo(ctx context.Context) error {
	if !c.CanUndo() || c.prev == nil {
		return NewConflictError("reopen command cannot be undone")
	}
	if c.enc.Version != c.prev.Version+1 {
		return NewConflictError("encounter was modified since the reopen; undo refused")
	}

	err := c.deps.tx.RunInTx(ctx, func(ctx context.Context) error {
		c.enc.RestoreSnapshot(*c.prev)
		if err := c.deps.repo.Update(ctx, c.enc); err != nil {
			return fmt.Errorf("persist encounter: %w", err)
		}
		c.deps.bus.Publish(ctx, NewClosedEvent(c.enc, c.enc.Outcome, c.enc.TransferDepartmentID, c.actor, c.deps.clock.Now()))
		return nil
	})
	if err != nil {
		return err
	}

	c.undone = true
	return nil
}
