package roaming

import (
	"context"
	"fmt"

	"wwcpsync/domain"
	"wwcpsync/queue"
)

// job is one kind's share of a flush snapshot.
type job interface {
	size() int
	push(ctx context.Context) (warnings []string, err error)
}

type dataJob[T domain.Entity, S, A domain.StatusValue] struct {
	ops     *Ops[T, S, A]
	pending queue.Pending[T]
	status  queue.StatusBatch[S, A]
}

func (j dataJob[T, S, A]) size() int { return j.pending.Len() + j.status.Len() }

// push sends data before status so a partner never sees status for an
// entity it has not been told about.
func (j dataJob[T, S, A]) push(ctx context.Context) ([]string, error) {
	var warnings []string
	var errs []error
	kind := j.ops.kind

	if !j.pending.Empty() && j.ops.pushData != nil {
		b, err := j.ops.pushData(ctx, j.pending)
		j.ops.confirm(j.pending, b, err)
		warnings = append(warnings, rejected(b, func(e T) string { return kind.String() + " " + e.EntityID() })...)
		if err != nil {
			errs = append(errs, fmt.Errorf("push %d %s records: %w", j.pending.Len(), kind, err))
		}
	}
	if !j.status.Empty() && j.ops.pushStatus != nil {
		b, err := j.ops.pushStatus(ctx, j.status)
		warnings = append(warnings, rejected(b, func(id string) string { return kind.String() + " " + id })...)
		if err != nil {
			errs = append(errs, fmt.Errorf("push %d %s status updates: %w", j.status.Len(), kind, err))
		}
	}
	return warnings, joinErrors(errs)
}
