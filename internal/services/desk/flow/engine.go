// Package flow drives each order through its configured instruction steps.
// The engine decides what the next step is, what artifact or response moves
// it forward, and when the flow is complete. It never renders messages; it
// returns prompt data for the surrounding collaborator.
package flow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/louisbranch/bankdesk/internal/platform/id"
	"github.com/louisbranch/bankdesk/internal/services/desk/dispatch"
	"github.com/louisbranch/bankdesk/internal/services/desk/domain"
	"github.com/louisbranch/bankdesk/internal/services/desk/guard"
	"github.com/louisbranch/bankdesk/internal/services/desk/instructions"
	"github.com/louisbranch/bankdesk/internal/services/desk/storage"
)

var (
	// ErrBankUnavailable indicates the bank or action is not open for new orders.
	ErrBankUnavailable = errors.New("bank or action is unavailable")
	// ErrOrderCompleted indicates a progression call targeted a terminal order.
	ErrOrderCompleted = errors.New("order is already completed")
	// ErrWrongStep indicates the submitted response does not match the
	// current step kind.
	ErrWrongStep = errors.New("response does not match the current step")
	// ErrDuplicateArtifact indicates the identical artifact was already
	// attached to this stage.
	ErrDuplicateArtifact = errors.New("duplicate artifact for this stage")
	// ErrMissingField indicates a required data field was not supplied.
	ErrMissingField = errors.New("required field is missing")
	// ErrMissingRequisite indicates a required payout requisite was not supplied.
	ErrMissingRequisite = errors.New("required requisite is missing")
	// ErrReuseConfirmationPending indicates progression is gated on an
	// operator reuse decision.
	ErrReuseConfirmationPending = errors.New("data reuse confirmation is pending")
)

// Store is the persistence surface the engine mutates.
type Store interface {
	storage.OrderStore
	storage.PhotoStore
	storage.LogStore
	storage.FormStore
}

// Instructions is the cached configuration surface the engine reads.
type Instructions interface {
	Snapshot(ctx context.Context) (*instructions.Snapshot, error)
	MinimumAge(ctx context.Context, bankName string, action storage.Action) (int, bool, error)
}

// Engine is the stage progression state machine.
type Engine struct {
	store     Store
	cache     Instructions
	allocator *dispatch.Allocator
	guard     *guard.Guard
	clock     func() time.Time
	newFormID func() (string, error)
	locks     *orderLocks

	// pendingReuse keys orders gated on an operator reuse decision to the
	// values awaiting that decision. The per-order locks do not cover it,
	// so it carries its own mutex.
	pendingMu    sync.Mutex
	pendingReuse map[int64]pendingData
}

type pendingData struct {
	phone string
	email string
}

func (e *Engine) setPendingReuse(orderID int64, pending pendingData) {
	e.pendingMu.Lock()
	defer e.pendingMu.Unlock()
	e.pendingReuse[orderID] = pending
}

func (e *Engine) popPendingReuse(orderID int64) (pendingData, bool) {
	e.pendingMu.Lock()
	defer e.pendingMu.Unlock()
	pending, ok := e.pendingReuse[orderID]
	delete(e.pendingReuse, orderID)
	return pending, ok
}

// New creates an engine over its collaborators.
func New(store Store, cache Instructions, allocator *dispatch.Allocator, dataGuard *guard.Guard, clock func() time.Time) *Engine {
	if clock == nil {
		clock = time.Now
	}
	return &Engine{
		store:        store,
		cache:        cache,
		allocator:    allocator,
		guard:        dataGuard,
		clock:        clock,
		newFormID:    id.NewID,
		locks:        newOrderLocks(),
		pendingReuse: make(map[int64]pendingData),
	}
}

// Progress reports an order's position after one engine operation.
type Progress struct {
	Order storage.OrderRecord
	// Step is the step the user should work on next; nil once Completed.
	Step      *domain.Step
	Completed bool
	// Reassigned carries the queued order handed to the freed group when
	// this operation completed an order.
	Reassigned *Reassignment
}

// Reassignment describes a queued order bound to a newly freed group.
type Reassignment struct {
	Order storage.OrderRecord
	Group storage.GroupRecord
	Step  *domain.Step
}

// Selection is the age-gate data for a candidate (bank, action) choice.
type Selection struct {
	BankName string
	Action   storage.Action
	MinAge   int
	AgeGated bool
}

// Start reports the admission outcome of a freshly created order.
type Start struct {
	Progress
	Assigned bool
	Queued   bool
	Group    storage.GroupRecord
}

func (e *Engine) tracer() trace.Tracer {
	return otel.Tracer("bankdesk/flow")
}

// steps resolves the ordered step list for one order from the cache.
func (e *Engine) steps(ctx context.Context, order storage.OrderRecord) ([]domain.Step, error) {
	snapshot, err := e.cache.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("load instruction snapshot: %w", err)
	}
	return snapshot.Steps(order.BankName, order.Action), nil
}

// currentStep returns the step at the order's stage. Orders whose
// configuration shrank underneath them are treated as complete.
func currentStep(steps []domain.Step, stage int) *domain.Step {
	if stage < 0 || stage >= len(steps) {
		return nil
	}
	step := steps[stage]
	return &step
}

func (e *Engine) appendLog(ctx context.Context, orderID int64, actor, action, payload string) {
	err := e.store.AppendLog(ctx, storage.ActionLogRecord{
		OrderID:     orderID,
		Actor:       actor,
		Action:      action,
		PayloadJSON: payload,
		CreatedAt:   e.clock(),
	})
	if err != nil {
		// The audit trail must not block the primary mutation.
		logSwallowed(orderID, action, err)
	}
}

func (e *Engine) loadOpenOrder(ctx context.Context, orderID int64) (storage.OrderRecord, error) {
	order, err := e.store.GetOrder(ctx, orderID)
	if err != nil {
		return storage.OrderRecord{}, fmt.Errorf("load order %d: %w", orderID, err)
	}
	if order.Status == storage.OrderStatusCompleted {
		return storage.OrderRecord{}, ErrOrderCompleted
	}
	return order, nil
}

func spanInt(span trace.Span, key string, value int) {
	span.SetAttributes(attribute.Int(key, value))
}
