package encounter

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type fakeCommand struct {
	desc       string
	guardErr   error
	execErr    error
	undoErr    error
	undoable   bool
	executedAt *time.Time
	successful bool
	undone     bool
	undos      int
}

func (c *fakeCommand) Description() string { return c.desc }

func (c *fakeCommand) CanExecute(context.Context) error { return c.guardErr }

func (c *fakeCommand) Execute(context.Context) error {
	if c.execErr != nil {
		return c.execErr
	}
	now := time.Now()
	c.executedAt = &now
	c.successful = true
	return nil
}

func (c *fakeCommand) CanUndo() bool { return c.undoable && c.successful && !c.undone }

func (c *fakeCommand) Undo(context.Context) error {
	if c.undoErr != nil {
		return c.undoErr
	}
	c.undone = true
	c.undos++
	return nil
}

func (c *fakeCommand) ExecutedAt() *time.Time { return c.executedAt }
func (c *fakeCommand) Successful() bool       { return c.successful }

func TestInvokerRefusesGuardedCommand(t *testing.T) {
	inv := NewCommandInvoker(10, zerolog.Nop())
	cmd := &fakeCommand{desc: "guarded", guardErr: NewValidationError("not allowed")}

	if err := inv.Execute(context.Background(), cmd); !IsValidation(err) {
		t.Fatalf("Execute = %v, want validation error", err)
	}
	if cmd.successful {
		t.Error("refused command was executed")
	}
	if len(inv.History()) != 0 {
		t.Error("refused command recorded in history")
	}
}

func TestInvokerFailedExecutionNotRecorded(t *testing.T) {
	inv := NewCommandInvoker(10, zerolog.Nop())
	cmd := &fakeCommand{desc: "failing", execErr: errNotFound}

	if err := inv.Execute(context.Background(), cmd); err == nil {
		t.Fatal("Execute succeeded, want error")
	}
	if len(inv.History()) != 0 {
		t.Error("failed command recorded in history")
	}
}

func TestInvokerHistoryEviction(t *testing.T) {
	inv := NewCommandInvoker(3, zerolog.Nop())
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		cmd := &fakeCommand{desc: fmt.Sprintf("cmd-%d", i), undoable: true}
		if err := inv.Execute(ctx, cmd); err != nil {
			t.Fatalf("Execute cmd-%d: %v", i, err)
		}
	}

	history := inv.History()
	if len(history) != 3 {
		t.Fatalf("len(history) = %d, want capacity 3", len(history))
	}
	if history[0].Description != "cmd-2" {
		t.Errorf("oldest record = %q, want cmd-2", history[0].Description)
	}
	if last := inv.LastCommand(); last == nil || last.Description != "cmd-4" {
		t.Errorf("LastCommand = %+v, want cmd-4", last)
	}
}

func TestInvokerDefaultCapacity(t *testing.T) {
	inv := NewCommandInvoker(0, zerolog.Nop())
	if inv.capacity != DefaultHistoryCapacity {
		t.Errorf("capacity = %d, want %d", inv.capacity, DefaultHistoryCapacity)
	}
}

func TestInvokerUndoLast(t *testing.T) {
	inv := NewCommandInvoker(10, zerolog.Nop())
	ctx := context.Background()

	first := &fakeCommand{desc: "first", undoable: true}
	second := &fakeCommand{desc: "second", undoable: true}
	for _, cmd := range []*fakeCommand{first, second} {
		if err := inv.Execute(ctx, cmd); err != nil {
			t.Fatalf("Execute %s: %v", cmd.desc, err)
		}
	}

	if !inv.UndoLast(ctx) {
		t.Fatal("UndoLast = false, want true")
	}
	if second.undos != 1 || first.undos != 0 {
		t.Errorf("undos = first:%d second:%d, want 0/1", first.undos, second.undos)
	}
	if last := inv.LastCommand(); last == nil || last.Description != "first" {
		t.Errorf("LastCommand = %+v, want first", last)
	}
}

func TestInvokerUndoLastEmptyHistory(t *testing.T) {
	inv := NewCommandInvoker(10, zerolog.Nop())
	if inv.UndoLast(context.Background()) {
		t.Fatal("UndoLast = true with empty history")
	}
}

func TestInvokerUndoLastNotUndoable(t *testing.T) {
	inv := NewCommandInvoker(10, zerolog.Nop())
	ctx := context.Background()

	cmd := &fakeCommand{desc: "one-way", undoable: false}
	if err := inv.Execute(ctx, cmd); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if inv.UndoLast(ctx) {
		t.Fatal("UndoLast = true for a command that cannot be undone")
	}
	// The command is popped either way.
	if len(inv.History()) != 0 {
		t.Error("non-undoable command left in history")
	}
}

func TestInvokerUndoLastFailure(t *testing.T) {
	inv := NewCommandInvoker(10, zerolog.Nop())
	ctx := context.Background()

	cmd := &fakeCommand{desc: "broken-undo", undoable: true, undoErr: errNotFound}
	if err := inv.Execute(ctx, cmd); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if inv.UndoLast(ctx) {
		t.Fatal("UndoLast = true despite undo failure")
	}
}

func TestInvokerClear(t *testing.T) {
	inv := NewCommandInvoker(10, zerolog.Nop())
	ctx := context.Background()

	if err := inv.Execute(ctx, &fakeCommand{desc: "cmd", undoable: true}); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	inv.Clear()
	if len(inv.History()) != 0 {
		t.Error("history not cleared")
	}
	if inv.LastCommand() != nil {
		t.Error("LastCommand != nil after clear")
	}
}

func TestInvokerRecordFields(t *testing.T) {
	inv := NewCommandInvoker(10, zerolog.Nop())
	ctx := context.Background()

	cmd := &fakeCommand{desc: "recorded", undoable: true}
	if err := inv.Execute(ctx, cmd); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	rec := inv.LastCommand()
	if rec.Description != "recorded" || !rec.Successful || !rec.CanUndo || rec.ExecutedAt == nil {
		t.Errorf("record = %+v, want executed undoable command", rec)
	}
}
