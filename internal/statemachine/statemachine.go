// Package statemachine holds the order status transition rules. Every path
// that mutates an order status (admin updates, payment verification,
// webhooks, the reconciliation sweep) asks Evaluate before writing.
package statemachine

import (
	"fmt"

	"github.com/fosten-shop/fosten-orders-service/internal/errors"
	"github.com/fosten-shop/fosten-orders-service/internal/models"
)

// Decision is the outcome of evaluating a transition request.
type Decision int

const (
	// Apply means the target status must be written.
	Apply Decision = iota
	// NoOp means the order is already in the target status.
	NoOp
)

func (d Decision) String() string {
	if d == NoOp {
		return "noop"
	}
	return "apply"
}

// predecessor is the only status each forward step may be entered from.
var predecessor = map[models.OrderStatus]models.OrderStatus{
	models.OrderStatusProcessing: models.OrderStatusPending,
	models.OrderStatusShipped:    models.OrderStatusProcessing,
	models.OrderStatusCompleted:  models.OrderStatusShipped,
}

// Evaluate decides whether order may move to target.
//
// Completion without admin approval is rejected even when the order is
// already completed. Requests for the current status are no-ops. Terminal
// orders accept nothing else. Cancelled and failed are reachable from any
// other status; forward steps only from their predecessor.
func Evaluate(order *models.Order, target models.OrderStatus) (Decision, error) {
	if !target.Valid() {
		return Apply, errors.NewValidationError("status", fmt.Sprintf("unknown status %q", target))
	}

	if target == models.OrderStatusCompleted && !order.ApprovedByAdmin {
		return Apply, errors.NewPreconditionError("order must be approved by an admin before it can be completed")
	}

	if order.Status == target {
		return NoOp, nil
	}

	if order.Status.IsTerminal() {
		return Apply, errors.NewPreconditionError(fmt.Sprintf("order is %s and can no longer change status", order.Status))
	}

	switch target {
	case models.OrderStatusCancelled, models.OrderStatusFailed:
		return Apply, nil
	case models.OrderStatusPending:
		return Apply, errors.NewPreconditionError(fmt.Sprintf("cannot move order from %s back to pending", order.Status))
	}

	if from := predecessor[target]; from != order.Status {
		return Apply, errors.NewPreconditionError(fmt.Sprintf(
			"cannot move order from %s to %s; %s is only reachable from %s",
			order.Status, target, target, from,
		))
	}

	return Apply, nil
}

// CanApprove reports whether admin approval may be recorded for the order.
func CanApprove(order *models.Order) error {
	if order.Status == models.OrderStatusCancelled || order.Status == models.OrderStatusFailed {
		return errors.NewPreconditionError(fmt.Sprintf("cannot approve a %s order", order.Status))
	}
	return nil
}
