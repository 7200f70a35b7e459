package flow

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/louisbranch/bankdesk/internal/services/desk/domain"
	"github.com/louisbranch/bankdesk/internal/services/desk/storage"
)

const actorSystem = "system"

func actorUser(userID int64) string {
	return fmt.Sprintf("user:%d", userID)
}

// stepsFor resolves the ordered step list for a (bank, action) pair.
func (e *Engine) stepsFor(ctx context.Context, bankName string, action storage.Action) ([]domain.Step, error) {
	snapshot, err := e.cache.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("load instruction snapshot: %w", err)
	}
	return snapshot.Steps(bankName, action), nil
}

// advance moves the order one stage forward and persists it. Past the last
// configured step the order completes, which frees its group and may bind a
// queued order in the same motion.
func (e *Engine) advance(ctx context.Context, order storage.OrderRecord, steps []domain.Step, actor string) (Progress, error) {
	ctx, span := e.tracer().Start(ctx, "flow.advance")
	defer span.End()
	spanInt(span, "flow.order_id", int(order.ID))
	spanInt(span, "flow.stage", order.Stage)

	order.Stage++
	order.UpdatedAt = e.clock()
	if order.Stage >= len(steps) {
		return e.complete(ctx, order, actor)
	}

	if err := e.store.UpdateOrder(ctx, order); err != nil {
		return Progress{}, fmt.Errorf("advance order %d: %w", order.ID, err)
	}
	e.appendLog(ctx, order.ID, actor, "stage_advanced",
		fmt.Sprintf(`{"stage":%d}`, order.Stage))

	return Progress{Order: order, Step: currentStep(steps, order.Stage)}, nil
}

// complete terminates the order, generates its form, frees the group, and
// reports any queued order bound to the freed group.
func (e *Engine) complete(ctx context.Context, order storage.OrderRecord, actor string) (Progress, error) {
	now := e.clock()
	order.Status = storage.OrderStatusCompleted
	order.UpdatedAt = now
	order.CompletedAt = &now
	if err := e.store.UpdateOrder(ctx, order); err != nil {
		return Progress{}, fmt.Errorf("complete order %d: %w", order.ID, err)
	}
	e.appendLog(ctx, order.ID, actor, "order_completed", "{}")

	if err := e.generateForm(ctx, order); err != nil {
		// The form is derived state; completion itself must stand.
		logSwallowed(order.ID, "form_generated", err)
	}

	progress := Progress{Order: order, Completed: true}
	if order.GroupID == 0 {
		if err := e.allocator.DropQueued(ctx, order.ID); err != nil {
			logSwallowed(order.ID, "queue_release", err)
		}
		return progress, nil
	}

	if err := e.allocator.ReleaseOrder(ctx, order.GroupID, order.ID); err != nil {
		logSwallowed(order.ID, "group_release", err)
	}
	reassigned, assignment, err := e.allocator.Free(ctx, order.GroupID)
	if err != nil {
		return Progress{}, fmt.Errorf("free group %d: %w", order.GroupID, err)
	}
	if reassigned != nil {
		e.appendLog(ctx, reassigned.ID, actorSystem, "order_assigned",
			fmt.Sprintf(`{"group_id":%d}`, assignment.Group.ID))
		steps, err := e.steps(ctx, *reassigned)
		if err != nil {
			return Progress{}, err
		}
		progress.Reassigned = &Reassignment{
			Order: *reassigned,
			Group: assignment.Group,
			Step:  currentStep(steps, reassigned.Stage),
		}
	}
	return progress, nil
}

// generateForm writes the order's summary blob under a fresh opaque id.
func (e *Engine) generateForm(ctx context.Context, order storage.OrderRecord) error {
	formID, err := e.newFormID()
	if err != nil {
		return fmt.Errorf("generate form id: %w", err)
	}
	payload, err := json.Marshal(map[string]any{
		"order_id":     order.ID,
		"user_id":      order.UserID,
		"display_name": order.DisplayName,
		"bank":         order.BankName,
		"action":       order.Action,
		"phone":        order.Phone,
		"email":        order.Email,
		"completed_at": order.CompletedAt,
	})
	if err != nil {
		return fmt.Errorf("encode form payload: %w", err)
	}
	err = e.store.PutForm(ctx, storage.FormRecord{
		OrderID:     order.ID,
		FormID:      formID,
		PayloadJSON: string(payload),
		CreatedAt:   e.clock(),
	})
	if err != nil {
		return fmt.Errorf("store form: %w", err)
	}
	return nil
}

func logSwallowed(orderID int64, action string, err error) {
	log.Printf("desk flow: swallowed error order_id=%d action=%s err=%v", orderID, action, err)
}
