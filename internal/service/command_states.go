package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/Tony33-a/GestionaleViCanto-sub001/internal/model"
	"github.com/Tony33-a/GestionaleViCanto-sub001/internal/repository"
)

// commandEdges lists, for each target status, the statuses it may be
// reached from. print_failed → pending is the only backward edge.
var commandEdges = map[string][]string{
	model.CommandSent:        {model.CommandPending},
	model.CommandPrinted:     {model.CommandSent},
	model.CommandPrintFailed: {model.CommandPending, model.CommandSent},
	model.CommandPending:     {model.CommandPrintFailed},
}

// commandStates applies command transitions for both the ledger and the
// print queue so the two never disagree on the state machine.
type commandStates struct {
	repo repository.CommandRepository
}

// move transitions the command to status `to`. Repeating a transition that
// already happened is a no-op.
func (c commandStates) move(ctx context.Context, tx *gorm.DB, id uuid.UUID, to string, now time.Time) error {
	from, ok := commandEdges[to]
	if !ok {
		return fmt.Errorf("%w: unknown command status %q", ErrInvalidTransition, to)
	}

	updates := map[string]interface{}{"status": to}
	switch to {
	case model.CommandSent:
		updates["sent_at"] = now
	case model.CommandPrinted:
		updates["print_status"] = model.PrintStatusPrinted
		updates["printed_at"] = now
	case model.CommandPrintFailed:
		updates["print_status"] = model.PrintStatusFailed
	case model.CommandPending:
		updates["print_status"] = model.PrintStatusPending
	}

	n, err := c.repo.Transition(ctx, tx, id, from, updates)
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}

	cmd, err := c.repo.FindByID(ctx, tx, id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%w: %s", ErrCommandNotFound, id)
	}
	if err != nil {
		return err
	}
	if cmd.Status == to {
		return nil
	}
	return fmt.Errorf("%w: command %d %s -> %s", ErrInvalidTransition, cmd.CommandNumber, cmd.Status, to)
}

// ackPath is the walk a successful print ack takes from each status. A
// ticket that comes out after its command was marked print_failed goes
// through the retry edge.
var ackPath = map[string][]string{
	model.CommandPending:     {model.CommandSent, model.CommandPrinted},
	model.CommandSent:        {model.CommandPrinted},
	model.CommandPrintFailed: {model.CommandPending, model.CommandSent, model.CommandPrinted},
}

// printed moves the command to printed along legal edges only.
func (c commandStates) printed(ctx context.Context, tx *gorm.DB, id uuid.UUID, now time.Time) error {
	cmd, err := c.repo.FindByID(ctx, tx, id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%w: %s", ErrCommandNotFound, id)
	}
	if err != nil {
		return err
	}
	if cmd.Status == model.CommandPrinted {
		return nil
	}
	path, ok := ackPath[cmd.Status]
	if !ok {
		return fmt.Errorf("%w: command %d is %s", ErrInvalidTransition, cmd.CommandNumber, cmd.Status)
	}
	for _, to := range path {
		if err := c.move(ctx, tx, id, to, now); err != nil {
			return err
		}
	}
	return nil
}
