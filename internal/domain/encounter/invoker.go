package encounter

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// DefaultHistoryCapacity bounds the invoker's command history.
const DefaultHistoryCapacity = 100

// CommandRecord is the read-only introspection view of an executed
// command.
type CommandRecord struct {
	Description string     `json:"description"`
	ExecutedAt  *time.Time `json:"executed_at,omitempty"`
	Successful  bool       `json:"successful"`
	CanUndo     bool       `json:"can_undo"`
}

// CommandInvoker is the central execute/undo point with a bounded
// history stack. It models "undo my last action" and is scoped per
// service instance, not process-global; its own mutex makes the shared
// case safe.
type CommandInvoker struct {
	mu       sync.Mutex
	history  []Command
	capacity int
	log      zerolog.Logger
}

func NewCommandInvoker(capacity int, log zerolog.Logger) *CommandInvoker {
	if capacity <= 0 {
		capacity = DefaultHistoryCapacity
	}
	return &CommandInvoker{capacity: capacity, log: log}
}

// Execute refuses (without mutating anything) when the command's guard
// fails, otherwise runs it and pushes it onto the history, evicting the
// oldest entry past capacity.
func (i *CommandInvoker) Execute(ctx context.Context, cmd Command) error {
	if err := cmd.CanExecute(ctx); err != nil {
		i.log.Debug().Err(err).Str("command", cmd.Description()).Msg("command refused")
		return err
	}
	if err := cmd.Execute(ctx); err != nil {
		return err
	}

	i.mu.Lock()
	i.history = append(i.history, cmd)
	if len(i.history) > i.capacity {
		i.history = i.history[1:]
	}
	i.mu.Unlock()
	return nil
}

// UndoLast pops the most recent command and undoes it. A command that
// cannot be undone is not restored to the history; an empty history is
// an expected condition, reported as false rather than an error.
func (i *CommandInvoker) UndoLast(ctx context.Context) bool {
	i.mu.Lock()
	if len(i.history) == 0 {
		i.mu.Unlock()
		return false
	}
	last := i.history[len(i.history)-1]
	i.history = i.history[:len(i.history)-1]
	i.mu.Unlock()

	if !last.CanUndo() {
		i.log.Warn().Str("command", last.Description()).Msg("command cannot be undone")
		return false
	}
	if err := last.Undo(ctx); err != nil {
		i.log.Error().Err(err).Str("command", last.Description()).Msg("undo failed")
		return false
	}
	i.log.Info().Str("command", last.Description()).Msg("command undone")
	return true
}

// History returns introspection records for the executed commands,
// oldest first.
func (i *CommandInvoker) History() []CommandRecord {
	i.mu.Lock()
	defer i.mu.Unlock()
	records := make([]CommandRecord, 0, len(i.history))
	for _, cmd := range i.history {
		records = append(records, record(cmd))
	}
	return records
}

// LastCommand returns the most recent record, or nil when the history is
// empty.
func (i *CommandInvoker) LastCommand() *CommandRecord {
	i.mu.Lock()
	defer i.mu.Unlock()
	if len(i.history) == 0 {
		return nil
	}
	r := record(i.history[len(i.history)-1])
	return &r
}

// Clear empties the history.
func (i *CommandInvoker) Clear() {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.history = nil
}

func record(cmd Command) CommandRecord {
	return CommandRecord{
		Description: cmd.Description(),
		ExecutedAt:  cmd.ExecutedAt(),
		Successful:  cmd.Successful(),
		CanUndo:     cmd.CanUndo(),
	}
}
