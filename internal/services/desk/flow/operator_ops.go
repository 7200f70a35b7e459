package flow

import (
	"context"
	"fmt"

	"github.com/louisbranch/bankdesk/internal/services/desk/domain"
	"github.com/louisbranch/bankdesk/internal/services/desk/storage"
)

// OnArtifactApproved confirms every pending artifact on the order's current
// stage and advances the stage once the step's photo quota is met.
func (e *Engine) OnArtifactApproved(ctx context.Context, orderID int64, operator string) (Progress, error) {
	return retryBusy(func() (Progress, error) {
		return e.artifactApproved(ctx, orderID, operator)
	})
}

func (e *Engine) artifactApproved(ctx context.Context, orderID int64, operator string) (Progress, error) {
	release := e.locks.acquire(orderID)
	defer release()

	order, err := e.loadOpenOrder(ctx, orderID)
	if err != nil {
		return Progress{}, err
	}
	steps, err := e.steps(ctx, order)
	if err != nil {
		return Progress{}, err
	}
	step := currentStep(steps, order.Stage)
	if step == nil {
		return Progress{}, ErrWrongStep
	}
	if !acceptsArtifacts(*step) {
		return Progress{}, ErrWrongStep
	}

	if err := e.store.SetPhotoConfirmation(ctx, orderID, order.Stage, storage.PhotoApproved); err != nil {
		return Progress{}, fmt.Errorf("approve artifacts for order %d: %w", orderID, err)
	}
	e.appendLog(ctx, orderID, operator, "artifact_approved",
		fmt.Sprintf(`{"stage":%d}`, order.Stage))

	count, err := e.store.CountActivePhotos(ctx, orderID, order.Stage)
	if err != nil {
		return Progress{}, fmt.Errorf("count artifacts for order %d: %w", orderID, err)
	}
	if count < step.EffectiveRequiredPhotos() {
		return Progress{Order: order, Step: step}, nil
	}
	return e.advance(ctx, order, steps, operator)
}

// OnArtifactRejected voids the stage's artifacts so the user must resubmit.
// The stage does not move.
func (e *Engine) OnArtifactRejected(ctx context.Context, orderID int64, operator, reason string) (Progress, error) {
	return retryBusy(func() (Progress, error) {
		return e.artifactRejected(ctx, orderID, operator, reason)
	})
}

func (e *Engine) artifactRejected(ctx context.Context, orderID int64, operator, reason string) (Progress, error) {
	release := e.locks.acquire(orderID)
	defer release()

	order, err := e.loadOpenOrder(ctx, orderID)
	if err != nil {
		return Progress{}, err
	}
	steps, err := e.steps(ctx, order)
	if err != nil {
		return Progress{}, err
	}
	step := currentStep(steps, order.Stage)
	if step == nil {
		return Progress{}, ErrWrongStep
	}

	if err := e.store.DeactivatePhotos(ctx, orderID, order.Stage, reason); err != nil {
		return Progress{}, fmt.Errorf("reject artifacts for order %d: %w", orderID, err)
	}
	e.appendLog(ctx, orderID, operator, "artifact_rejected",
		fmt.Sprintf(`{"stage":%d,"reason":%q}`, order.Stage, reason))

	return Progress{Order: order, Step: step}, nil
}

// OnOperatorDataDelivered marks the current data-delivery step done after
// the operator handed the stored phone or email to the user, and advances.
func (e *Engine) OnOperatorDataDelivered(ctx context.Context, orderID int64, operator string) (Progress, error) {
	return retryBusy(func() (Progress, error) {
		return e.operatorDataDelivered(ctx, orderID, operator)
	})
}

func (e *Engine) operatorDataDelivered(ctx context.Context, orderID int64, operator string) (Progress, error) {
	release := e.locks.acquire(orderID)
	defer release()

	order, err := e.loadOpenOrder(ctx, orderID)
	if err != nil {
		return Progress{}, err
	}
	steps, err := e.steps(ctx, order)
	if err != nil {
		return Progress{}, err
	}
	step := currentStep(steps, order.Stage)
	if step == nil {
		return Progress{}, ErrWrongStep
	}
	payload, ok := step.Payload.(domain.DataDeliveryPayload)
	if !ok {
		return Progress{}, ErrWrongStep
	}

	if payload.SendPhone {
		order.PhoneConfirmed = true
	}
	if payload.SendEmail {
		order.EmailConfirmed = true
	}
	e.appendLog(ctx, orderID, operator, "data_delivered",
		fmt.Sprintf(`{"stage":%d,"phone":%t,"email":%t}`, order.Stage, payload.SendPhone, payload.SendEmail))

	return e.advance(ctx, order, steps, operator)
}

// OnCodeRequested flags the order as waiting for a verification code from
// the operator side and counts the attempt.
func (e *Engine) OnCodeRequested(ctx context.Context, orderID int64, actor string) (Progress, error) {
	return retryBusy(func() (Progress, error) {
		return e.codeRequested(ctx, orderID, actor)
	})
}

func (e *Engine) codeRequested(ctx context.Context, orderID int64, actor string) (Progress, error) {
	release := e.locks.acquire(orderID)
	defer release()

	order, err := e.loadOpenOrder(ctx, orderID)
	if err != nil {
		return Progress{}, err
	}
	steps, err := e.steps(ctx, order)
	if err != nil {
		return Progress{}, err
	}

	if order.CodeStatus == storage.CodeStatusAwaiting {
		order.CodeResends++
	} else {
		order.CodeStatus = storage.CodeStatusAwaiting
		order.CodeAttempts++
	}
	order.UpdatedAt = e.clock()
	if err := e.store.UpdateOrder(ctx, order); err != nil {
		return Progress{}, fmt.Errorf("mark order %d awaiting code: %w", orderID, err)
	}
	e.appendLog(ctx, orderID, actor, "code_requested",
		fmt.Sprintf(`{"attempts":%d,"resends":%d}`, order.CodeAttempts, order.CodeResends))

	return Progress{Order: order, Step: currentStep(steps, order.Stage)}, nil
}

// OnCodeDelivered records that a verification code reached the waiting side.
// Bridge routing calls this when a short numeric message crosses the relay.
func (e *Engine) OnCodeDelivered(ctx context.Context, orderID int64, actor string) (Progress, error) {
	return retryBusy(func() (Progress, error) {
		return e.codeDelivered(ctx, orderID, actor)
	})
}

func (e *Engine) codeDelivered(ctx context.Context, orderID int64, actor string) (Progress, error) {
	release := e.locks.acquire(orderID)
	defer release()

	order, err := e.loadOpenOrder(ctx, orderID)
	if err != nil {
		return Progress{}, err
	}
	steps, err := e.steps(ctx, order)
	if err != nil {
		return Progress{}, err
	}

	order.CodeStatus = storage.CodeStatusDelivered
	order.UpdatedAt = e.clock()
	if err := e.store.UpdateOrder(ctx, order); err != nil {
		return Progress{}, fmt.Errorf("mark order %d code delivered: %w", orderID, err)
	}
	e.appendLog(ctx, orderID, actor, "code_delivered", "{}")

	return Progress{Order: order, Step: currentStep(steps, order.Stage)}, nil
}

// OnOrderFinished force-completes an order regardless of its stage. It
// serves the operator finish command for flows that end out of band.
func (e *Engine) OnOrderFinished(ctx context.Context, orderID int64, operator string) (Progress, error) {
	return retryBusy(func() (Progress, error) {
		return e.orderFinished(ctx, orderID, operator)
	})
}

func (e *Engine) orderFinished(ctx context.Context, orderID int64, operator string) (Progress, error) {
	release := e.locks.acquire(orderID)
	defer release()

	order, err := e.loadOpenOrder(ctx, orderID)
	if err != nil {
		return Progress{}, err
	}
	e.appendLog(ctx, orderID, operator, "order_finished", "{}")
	return e.complete(ctx, order, operator)
}

// OnGroupFreed releases a group's busy gate directly, for example after an
// operator abandons an order without completing it. A queued order may be
// bound in the same motion.
func (e *Engine) OnGroupFreed(ctx context.Context, groupID int64) (*Reassignment, error) {
	return retryBusy(func() (*Reassignment, error) {
		return e.groupFreed(ctx, groupID)
	})
}

func (e *Engine) groupFreed(ctx context.Context, groupID int64) (*Reassignment, error) {
	reassigned, assignment, err := e.allocator.Free(ctx, groupID)
	if err != nil {
		return nil, fmt.Errorf("free group %d: %w", groupID, err)
	}
	if reassigned == nil {
		return nil, nil
	}

	e.appendLog(ctx, reassigned.ID, actorSystem, "order_assigned",
		fmt.Sprintf(`{"group_id":%d}`, assignment.Group.ID))
	steps, err := e.steps(ctx, *reassigned)
	if err != nil {
		return nil, err
	}
	return &Reassignment{
		Order: *reassigned,
		Group: assignment.Group,
		Step:  currentStep(steps, reassigned.Stage),
	}, nil
}
